package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abhinav118/avatar-stream-vibe/internal/model/chat"
)

var (
	ErrVisitorRequired = errors.New("visitor id is required")
	ErrLogNotFound     = errors.New("chat log not found")
)

// Service keeps the append-only chat log of every visitor in memory.
type Service struct {
	mu   sync.RWMutex
	logs map[string][]chat.Message
}

// NewService bootstraps the in-memory chat log.
func NewService() *Service {
	return &Service{
		logs: make(map[string][]chat.Message),
	}
}

// Open creates an empty log for visitorID. Opening an existing log keeps it.
func (s *Service) Open(_ context.Context, visitorID string) error {
	if visitorID == "" {
		return ErrVisitorRequired
	}

	s.mu.Lock()
	if _, ok := s.logs[visitorID]; !ok {
		s.logs[visitorID] = make([]chat.Message, 0, 16)
	}
	s.mu.Unlock()
	return nil
}

// Append adds a message to the end of the visitor's log and returns the stored copy.
func (s *Service) Append(_ context.Context, visitorID, content string, isUser bool) (chat.Message, error) {
	if visitorID == "" {
		return chat.Message{}, ErrVisitorRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	messages, ok := s.logs[visitorID]
	if !ok {
		return chat.Message{}, ErrLogNotFound
	}

	message := chat.Message{
		ID:        uuid.NewString(),
		VisitorID: visitorID,
		Content:   content,
		IsUser:    isUser,
		Timestamp: time.Now().UTC(),
	}
	s.logs[visitorID] = append(messages, message)
	return message, nil
}

// Transcript returns a copy of the visitor's messages in insertion order.
func (s *Service) Transcript(_ context.Context, visitorID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.logs[visitorID]
	if !ok {
		return nil, ErrLogNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// Close drops the visitor's log.
func (s *Service) Close(_ context.Context, visitorID string) {
	s.mu.Lock()
	delete(s.logs, visitorID)
	s.mu.Unlock()
}
