// Package session owns the per-visitor avatar session: it starts and stops
// the provider stream, flips between text and voice interaction, bridges
// transcribed speech into the avatar and keeps the chat log in step.
//
// Provider and transcription failures never escalate. They are logged, turned
// into a notification for the visitor and returned to the caller unchanged.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/logging"
	"github.com/abhinav118/avatar-stream-vibe/internal/metrics"
	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	chatmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/chat"
	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/credential"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
)

var (
	ErrRoleNotFound        = errors.New("role not found")
	ErrClosed              = errors.New("visitor session closed")
	ErrProviderUnavailable = errors.New("avatar provider is not configured")
	ErrMissingCredential   = errors.New("transcription api key is not set")
	ErrNoClient            = errors.New("avatar not connected")
	ErrNotConnected        = errors.New("avatar session not active")
	ErrNoSpeech            = errors.New("no speech detected")
)

// Provider issues tokens and builds token-scoped avatar clients.
type Provider interface {
	IssueToken(ctx context.Context) (string, error)
	NewClient(token string) avatarmodel.Client
}

// Transcriber turns recorded audio into text with the visitor's own key.
type Transcriber interface {
	Transcribe(ctx context.Context, apiKey string, audio io.Reader, filename string) (string, error)
}

// CredentialReader looks up visitor credentials.
type CredentialReader interface {
	Get(ctx context.Context, visitorID, key string) (string, error)
}

// ChatLog is the append-only conversation record.
type ChatLog interface {
	Append(ctx context.Context, visitorID, content string, isUser bool) (chatmodel.Message, error)
	Transcript(ctx context.Context, visitorID string) ([]chatmodel.Message, error)
}

// Responder generates assistant replies. Optional.
type Responder interface {
	Reply(ctx context.Context, r role.Role, history []chatmodel.Message, userText string) (string, error)
}

// Publisher delivers events to the visitor.
type Publisher interface {
	Publish(evt notify.Event) int
}

// Deps are the collaborators shared by every controller.
type Deps struct {
	Provider    Provider
	Transcriber Transcriber
	Credentials CredentialReader
	Chat        ChatLog
	Roles       role.Store
	Events      Publisher
	Responder   Responder
	Logger      zerolog.Logger
}

// Options tune a controller.
type Options struct {
	Quality         avatarmodel.Quality
	Language        string
	TextReplyDelay  time.Duration
	VoiceReplyDelay time.Duration
	ReplyTimeout    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Quality == "" {
		o.Quality = avatarmodel.QualityHigh
	}
	if o.Language == "" {
		o.Language = "en"
	}
	if o.ReplyTimeout <= 0 {
		o.ReplyTimeout = 20 * time.Second
	}
	return o
}

const (
	textReplyPlaceholder  = "Thank you for your message. I'm here to help you with any questions you may have."
	voiceReplyPlaceholder = "I understand what you're saying. Let me help you with that."
)

// Connection is the part of the provider session the browser needs to
// attach the media track.
type Connection struct {
	SessionID     string    `json:"sessionId"`
	URL           string    `json:"url,omitempty"`
	AccessToken   string    `json:"accessToken,omitempty"`
	DurationLimit int       `json:"durationLimit,omitempty"`
	StartedAt     time.Time `json:"startedAt"`
}

// State is a point-in-time view of a controller.
type State struct {
	VisitorID       string           `json:"visitorId"`
	Role            role.Role        `json:"role"`
	Connected       bool             `json:"connected"`
	StreamReady     bool             `json:"streamReady"`
	Loading         bool             `json:"loading"`
	Mode            avatarmodel.Mode `json:"mode"`
	VoiceChatActive bool             `json:"voiceChatActive"`
	Speaking        bool             `json:"speaking"`
	VoiceStatus     string           `json:"voiceStatus"`
	Recording       bool             `json:"recording"`
	RecordingStatus string           `json:"recordingStatus"`
	AITyping        bool             `json:"aiTyping"`
	Session         *Connection      `json:"session,omitempty"`
}

// Controller drives at most one avatar session for one visitor.
type Controller struct {
	id     string
	deps   Deps
	opts   Options
	logger zerolog.Logger

	mu              sync.Mutex
	role            role.Role
	client          avatarmodel.Client
	pending         avatarmodel.Client
	info            *avatarmodel.SessionInfo
	connected       bool
	streamReady     bool
	busy            bool
	mode            avatarmodel.Mode
	voiceChatActive bool
	speaking        bool
	voiceStatus     string
	recording       bool
	recordingStatus string
	typing          int
	timers          map[*time.Timer]struct{}
	closed          bool
}

// NewController builds an idle controller for visitorID with the default role selected.
func NewController(visitorID string, deps Deps, opts Options) *Controller {
	c := &Controller{
		id:     visitorID,
		deps:   deps,
		opts:   opts.withDefaults(),
		logger: logging.Component(deps.Logger, "session").With().Str("visitor", visitorID).Logger(),
		mode:   avatarmodel.ModeText,
		timers: make(map[*time.Timer]struct{}),
	}
	if deps.Roles != nil {
		c.role = deps.Roles.Default()
	}
	return c
}

// ID returns the visitor id.
func (c *Controller) ID() string {
	return c.id
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() State {
	state := State{
		VisitorID:       c.id,
		Role:            c.role,
		Connected:       c.connected,
		StreamReady:     c.streamReady,
		Loading:         c.busy,
		Mode:            c.mode,
		VoiceChatActive: c.voiceChatActive,
		Speaking:        c.speaking,
		VoiceStatus:     c.voiceStatus,
		Recording:       c.recording,
		RecordingStatus: c.recordingStatus,
		AITyping:        c.typing > 0,
	}
	if c.info != nil {
		state.Session = &Connection{
			SessionID:     c.info.SessionID,
			URL:           c.info.URL,
			AccessToken:   c.info.AccessToken,
			DurationLimit: c.info.DurationLimit,
			StartedAt:     c.info.StartedAt,
		}
	}
	return state
}

// SelectRole changes the role used by the next StartSession. An empty id
// selects the default role. A running session keeps its avatar.
func (c *Controller) SelectRole(id string) error {
	id = strings.TrimSpace(id)
	if c.deps.Roles == nil {
		return ErrRoleNotFound
	}

	var selected role.Role
	if id == "" {
		selected = c.deps.Roles.Default()
	} else {
		found, ok := c.deps.Roles.FindByID(id)
		if !ok {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, id)
		}
		selected = found
	}

	c.mu.Lock()
	changed := c.role.ID != selected.ID
	c.role = selected
	live := c.connected && c.client != nil
	c.mu.Unlock()

	if changed && live {
		c.notify("Role Changed", fmt.Sprintf("Switched to %s. Restart session to apply changes.", selected.Label), notify.VariantDefault)
	}
	c.publishState()
	return nil
}

// StartSession issues a token, creates the provider client and starts the
// avatar stream with the selected role. It is a no-op while a session is
// connected or a start/stop is in flight.
func (c *Controller) StartSession(ctx context.Context) error {
	if c.deps.Provider == nil {
		c.notify("Avatar Unavailable", "The avatar service is not configured on the server.", notify.VariantDestructive)
		return ErrProviderUnavailable
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.connected || c.busy {
		c.mu.Unlock()
		return nil
	}
	c.busy = true
	c.streamReady = false
	selected := c.role
	c.mu.Unlock()
	c.publishState()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.pending = nil
		c.mu.Unlock()
		c.publishState()
	}()

	if c.transcriptionKey(ctx) == "" {
		c.notify("OpenAI API Key Recommended",
			"Consider setting up your OpenAI API key below for enhanced text mode voice recording features.",
			notify.VariantDefault)
	}

	token, err := c.deps.Provider.IssueToken(ctx)
	metrics.TokensIssued.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		return c.failSession("start", "Failed to start avatar session.", err)
	}

	client := c.deps.Provider.NewClient(token)
	c.mu.Lock()
	c.pending = client
	c.mu.Unlock()
	c.subscribe(client)

	info, err := client.CreateStartAvatar(ctx, avatarmodel.StartRequest{
		Quality:       c.opts.Quality,
		AvatarName:    selected.AvatarName,
		Language:      c.opts.Language,
		KnowledgeBase: selected.Prompt,
	})
	if err != nil {
		return c.failSession("start", "Failed to start avatar session.", err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		// 启动期间访客已被移除，没有人再持有这个会话
		if stopErr := client.StopAvatar(context.WithoutCancel(ctx)); stopErr != nil {
			c.logger.Warn().Err(stopErr).Str("session_id", info.SessionID).Msg("stop avatar started after close")
		}
		metrics.SessionOperations.WithLabelValues("start", "aborted").Inc()
		return ErrClosed
	}
	c.client = client
	c.info = &info
	c.setConnectedLocked(true)
	c.mode = avatarmodel.ModeText
	c.voiceChatActive = false
	c.speaking = false
	c.voiceStatus = ""
	c.mu.Unlock()

	metrics.SessionOperations.WithLabelValues("start", "ok").Inc()
	c.logger.Info().Str("session_id", info.SessionID).Str("role", selected.ID).Str("avatar", selected.AvatarName).Msg("avatar session started")
	return nil
}

// EndSession closes voice chat if active, stops the avatar and clears the
// session. Without a session it does nothing.
func (c *Controller) EndSession(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil || c.info == nil || c.busy {
		c.mu.Unlock()
		return nil
	}
	client := c.client
	voiceActive := c.voiceChatActive
	c.busy = true
	c.mu.Unlock()
	c.publishState()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.mu.Unlock()
		c.publishState()
	}()

	if voiceActive {
		if err := client.CloseVoiceChat(ctx); err != nil {
			return c.failSession("end", "Failed to end avatar session.", err)
		}
		c.mu.Lock()
		c.voiceChatActive = false
		c.mu.Unlock()
	}

	if err := client.StopAvatar(ctx); err != nil {
		return c.failSession("end", "Failed to end avatar session.", err)
	}

	c.mu.Lock()
	c.client = nil
	c.info = nil
	c.setConnectedLocked(false)
	c.streamReady = false
	c.speaking = false
	c.mode = avatarmodel.ModeText
	c.voiceChatActive = false
	c.voiceStatus = ""
	c.mu.Unlock()

	metrics.SessionOperations.WithLabelValues("end", "ok").Inc()
	c.logger.Info().Msg("avatar session ended")
	return nil
}

// Close ends any active session and cancels pending replies.
func (c *Controller) Close(ctx context.Context) {
	if err := c.EndSession(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("end session on close")
	}

	c.mu.Lock()
	c.closed = true
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[*time.Timer]struct{})
	c.typing = 0
	if c.connected {
		c.setConnectedLocked(false)
	}
	c.mu.Unlock()
}

func (c *Controller) failSession(operation, description string, err error) error {
	metrics.SessionOperations.WithLabelValues(operation, "error").Inc()
	c.logger.Error().Err(err).Str("operation", operation).Msg("avatar session operation failed")
	c.notify("Session Error", description, notify.VariantDestructive)
	return err
}

// setConnectedLocked keeps the active session gauge in step with connected.
func (c *Controller) setConnectedLocked(connected bool) {
	if c.connected == connected {
		return
	}
	c.connected = connected
	if connected {
		metrics.ActiveSessions.Inc()
	} else {
		metrics.ActiveSessions.Dec()
	}
}

func (c *Controller) transcriptionKey(ctx context.Context) string {
	if c.deps.Credentials == nil {
		return ""
	}
	key, err := c.deps.Credentials.Get(ctx, c.id, credential.OpenAIKey)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read transcription credential")
		return ""
	}
	return strings.TrimSpace(key)
}

func (c *Controller) publish(eventType notify.EventType, data any) {
	if c.deps.Events == nil {
		return
	}
	c.deps.Events.Publish(notify.Event{
		Type:      eventType,
		VisitorID: c.id,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

func (c *Controller) publishState() {
	c.publish(notify.EventState, c.Snapshot())
}

func (c *Controller) notify(title, description string, variant notify.Variant) {
	c.publish(notify.EventNotification, notify.Notification{
		Title:       title,
		Description: description,
		Variant:     variant,
	})
}
