package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
)

// ErrNoSession is returned by session calls made before CreateStartAvatar succeeded.
var ErrNoSession = errors.New("heygen: no active streaming session")

type newSessionRequest struct {
	Quality       avatarmodel.Quality `json:"quality"`
	AvatarName    string              `json:"avatar_name"`
	Language      string              `json:"language,omitempty"`
	KnowledgeBase string              `json:"knowledge_base,omitempty"`
	Version       string              `json:"version"`
	VideoEncoding string              `json:"video_encoding"`
}

type newSessionData struct {
	SessionID            string `json:"session_id"`
	AccessToken          string `json:"access_token"`
	URL                  string `json:"url"`
	SessionDurationLimit int    `json:"session_duration_limit"`
}

type sessionIDRequest struct {
	SessionID string `json:"session_id"`
}

type taskRequest struct {
	SessionID string               `json:"session_id"`
	Text      string               `json:"text"`
	TaskType  avatarmodel.TaskType `json:"task_type"`
}

type listeningRequest struct {
	SessionID       string `json:"session_id"`
	SilenceResponse bool   `json:"silence_response"`
}

// realtimeMessage is the envelope of messages on the realtime events socket.
type realtimeMessage struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
}

// Session drives one HeyGen streaming session. It implements avatarmodel.Client.
type Session struct {
	client *Client
	token  string

	mu       sync.Mutex
	handlers map[avatarmodel.EventType][]avatarmodel.Handler
	info     avatarmodel.SessionInfo
	conn     *websocket.Conn
	closing  bool
	done     chan struct{}
}

func newSession(client *Client, token string) *Session {
	return &Session{
		client:   client,
		token:    token,
		handlers: make(map[avatarmodel.EventType][]avatarmodel.Handler),
	}
}

// On registers handler for event. Handlers run on the events goroutine.
func (s *Session) On(event avatarmodel.EventType, handler avatarmodel.Handler) {
	if handler == nil {
		return
	}
	s.mu.Lock()
	s.handlers[event] = append(s.handlers[event], handler)
	s.mu.Unlock()
}

// CreateStartAvatar creates a streaming session, starts it and attaches the
// realtime events socket. stream_ready fires once the socket is connected.
func (s *Session) CreateStartAvatar(ctx context.Context, req avatarmodel.StartRequest) (avatarmodel.SessionInfo, error) {
	if strings.TrimSpace(req.AvatarName) == "" {
		return avatarmodel.SessionInfo{}, errors.New("heygen: avatar name is required")
	}
	quality := req.Quality
	if quality == "" {
		quality = avatarmodel.QualityHigh
	}

	var data newSessionData
	err := s.client.postJSON(ctx, s.token, "/v1/streaming.new", newSessionRequest{
		Quality:       quality,
		AvatarName:    req.AvatarName,
		Language:      req.Language,
		KnowledgeBase: req.KnowledgeBase,
		Version:       "v2",
		VideoEncoding: "H264",
	}, &data)
	if err != nil {
		return avatarmodel.SessionInfo{}, fmt.Errorf("heygen: new session: %w", err)
	}
	if data.SessionID == "" {
		return avatarmodel.SessionInfo{}, errors.New("heygen: new session: empty session id")
	}

	if err := s.client.postJSON(ctx, s.token, "/v1/streaming.start", sessionIDRequest{SessionID: data.SessionID}, nil); err != nil {
		return avatarmodel.SessionInfo{}, fmt.Errorf("heygen: start session: %w", err)
	}

	info := avatarmodel.SessionInfo{
		SessionID:     data.SessionID,
		AccessToken:   data.AccessToken,
		URL:           data.URL,
		DurationLimit: data.SessionDurationLimit,
		StartedAt:     time.Now().UTC(),
	}

	if err := s.connectEvents(ctx, data.SessionID, req.Language); err != nil {
		// The provider session is already running; stop it so it does not leak.
		_ = s.client.postJSON(context.WithoutCancel(ctx), s.token, "/v1/streaming.stop", sessionIDRequest{SessionID: data.SessionID}, nil)
		return avatarmodel.SessionInfo{}, fmt.Errorf("heygen: connect events: %w", err)
	}

	s.mu.Lock()
	s.info = info
	s.mu.Unlock()

	s.emit(avatarmodel.Event{Type: avatarmodel.EventStreamReady})
	return info, nil
}

// Speak sends a talk (default) or repeat task.
func (s *Session) Speak(ctx context.Context, req avatarmodel.SpeakRequest) error {
	sessionID, err := s.sessionID()
	if err != nil {
		return err
	}
	taskType := req.TaskType
	if taskType == "" {
		taskType = avatarmodel.TaskTalk
	}
	if err := s.client.postJSON(ctx, s.token, "/v1/streaming.task", taskRequest{
		SessionID: sessionID,
		Text:      req.Text,
		TaskType:  taskType,
	}, nil); err != nil {
		return fmt.Errorf("heygen: speak: %w", err)
	}
	return nil
}

// StartVoiceChat switches the avatar into continuous listening.
func (s *Session) StartVoiceChat(ctx context.Context, req avatarmodel.VoiceChatRequest) error {
	sessionID, err := s.sessionID()
	if err != nil {
		return err
	}
	if err := s.client.postJSON(ctx, s.token, "/v1/streaming.start_listening", listeningRequest{
		SessionID:       sessionID,
		SilenceResponse: req.UseSilencePrompt,
	}, nil); err != nil {
		return fmt.Errorf("heygen: start voice chat: %w", err)
	}
	return nil
}

// CloseVoiceChat stops continuous listening.
func (s *Session) CloseVoiceChat(ctx context.Context) error {
	sessionID, err := s.sessionID()
	if err != nil {
		return err
	}
	if err := s.client.postJSON(ctx, s.token, "/v1/streaming.stop_listening", sessionIDRequest{SessionID: sessionID}, nil); err != nil {
		return fmt.Errorf("heygen: close voice chat: %w", err)
	}
	return nil
}

// StopAvatar stops the streaming session and detaches the events socket.
// A locally initiated stop does not emit stream_disconnected.
func (s *Session) StopAvatar(ctx context.Context) error {
	sessionID, err := s.sessionID()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	stopErr := s.client.postJSON(ctx, s.token, "/v1/streaming.stop", sessionIDRequest{SessionID: sessionID}, nil)
	s.closeEvents()

	s.mu.Lock()
	s.info = avatarmodel.SessionInfo{}
	s.mu.Unlock()

	if stopErr != nil {
		return fmt.Errorf("heygen: stop avatar: %w", stopErr)
	}
	return nil
}

func (s *Session) sessionID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.info.SessionID == "" {
		return "", ErrNoSession
	}
	return s.info.SessionID, nil
}

func (s *Session) eventsURL(sessionID, language string) (string, error) {
	u, err := url.Parse(s.client.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/ws/streaming.chat"

	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("session_token", s.token)
	q.Set("silence_response", "false")
	if language != "" {
		q.Set("stt_language", language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (s *Session) connectEvents(ctx context.Context, sessionID, language string) error {
	target, err := s.eventsURL(sessionID, language)
	if err != nil {
		return err
	}

	conn, _, err := s.client.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	s.mu.Lock()
	s.conn = conn
	s.closing = false
	s.done = done
	s.mu.Unlock()

	go s.readEvents(conn, done)
	return nil
}

func (s *Session) readEvents(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if !closing {
				s.emit(avatarmodel.Event{Type: avatarmodel.EventStreamDisconnected})
			}
			return
		}

		var msg realtimeMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		eventType := msg.EventType
		if eventType == "" {
			eventType = msg.Type
		}

		switch t := avatarmodel.EventType(eventType); t {
		case avatarmodel.EventUserStart, avatarmodel.EventUserStop,
			avatarmodel.EventAvatarStartTalking, avatarmodel.EventAvatarStopTalking:
			s.emit(avatarmodel.Event{Type: t, Payload: json.RawMessage(data)})
		}
	}
}

func (s *Session) closeEvents() {
	s.mu.Lock()
	conn := s.conn
	done := s.done
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	_ = conn.Close()
	if done != nil {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
		}
	}
}

func (s *Session) emit(evt avatarmodel.Event) {
	s.mu.Lock()
	handlers := append([]avatarmodel.Handler(nil), s.handlers[evt.Type]...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}
