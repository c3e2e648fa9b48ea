package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	chatmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/chat"
	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
	chatservice "github.com/abhinav118/avatar-stream-vibe/internal/service/chat"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
)

var errBoom = errors.New("boom")

type fakeClient struct {
	mu       sync.Mutex
	calls    []string
	start    avatarmodel.StartRequest
	spoken   []string
	fail     map[string]error
	handlers map[avatarmodel.EventType][]avatarmodel.Handler
	entered  chan struct{}
	release  chan struct{}
}

func (f *fakeClient) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.fail[call]
}

func (f *fakeClient) CreateStartAvatar(_ context.Context, req avatarmodel.StartRequest) (avatarmodel.SessionInfo, error) {
	f.mu.Lock()
	f.start = req
	f.mu.Unlock()
	if err := f.record("CreateStartAvatar"); err != nil {
		return avatarmodel.SessionInfo{}, err
	}
	if f.release != nil {
		close(f.entered)
		<-f.release
	}
	f.emit(avatarmodel.EventStreamReady)
	return avatarmodel.SessionInfo{SessionID: "sess-1", AccessToken: "lk", URL: "wss://lk", StartedAt: time.Now()}, nil
}

func (f *fakeClient) Speak(_ context.Context, req avatarmodel.SpeakRequest) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, req.Text)
	f.mu.Unlock()
	return f.record("Speak")
}

func (f *fakeClient) StartVoiceChat(context.Context, avatarmodel.VoiceChatRequest) error {
	return f.record("StartVoiceChat")
}

func (f *fakeClient) CloseVoiceChat(context.Context) error {
	return f.record("CloseVoiceChat")
}

func (f *fakeClient) StopAvatar(context.Context) error {
	return f.record("StopAvatar")
}

func (f *fakeClient) On(event avatarmodel.EventType, handler avatarmodel.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = make(map[avatarmodel.EventType][]avatarmodel.Handler)
	}
	f.handlers[event] = append(f.handlers[event], handler)
}

func (f *fakeClient) emit(event avatarmodel.EventType) {
	f.mu.Lock()
	handlers := append([]avatarmodel.Handler(nil), f.handlers[event]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(avatarmodel.Event{Type: event})
	}
}

func (f *fakeClient) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeClient) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeProvider struct {
	mu       sync.Mutex
	tokenErr error
	fail     map[string]error
	tokens   int
	clients  []*fakeClient
	entered  chan struct{}
	release  chan struct{}
}

func (p *fakeProvider) IssueToken(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokens++
	if p.tokenErr != nil {
		return "", p.tokenErr
	}
	return "token", nil
}

func (p *fakeProvider) NewClient(string) avatarmodel.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	client := &fakeClient{fail: p.fail, entered: p.entered, release: p.release}
	p.clients = append(p.clients, client)
	return client
}

func (p *fakeProvider) last() *fakeClient {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.clients) == 0 {
		return nil
	}
	return p.clients[len(p.clients)-1]
}

func (p *fakeProvider) clientCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(evt notify.Event) int {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
	return 1
}

func (r *recorder) titles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, evt := range r.events {
		if n, ok := evt.Data.(notify.Notification); ok && evt.Type == notify.EventNotification {
			out = append(out, n.Title)
		}
	}
	return out
}

func (r *recorder) notification(title string) (notify.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, evt := range r.events {
		if n, ok := evt.Data.(notify.Notification); ok && n.Title == title {
			return n, true
		}
	}
	return notify.Notification{}, false
}

func (r *recorder) typing() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bool
	for _, evt := range r.events {
		if t, ok := evt.Data.(notify.Typing); ok {
			out = append(out, t.Active)
		}
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

type fakeCredentials struct {
	key string
}

func (f fakeCredentials) Get(context.Context, string, string) (string, error) {
	return f.key, nil
}

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	keys  []string
	bytes []string
}

func (f *fakeTranscriber) Transcribe(_ context.Context, apiKey string, audio io.Reader, _ string) (string, error) {
	data, _ := io.ReadAll(audio)
	f.mu.Lock()
	f.keys = append(f.keys, apiKey)
	f.bytes = append(f.bytes, string(data))
	f.mu.Unlock()
	return f.text, f.err
}

type fakeResponder struct {
	reply string
	err   error
}

func (f fakeResponder) Reply(context.Context, role.Role, []chatmodel.Message, string) (string, error) {
	return f.reply, f.err
}

type harness struct {
	controller  *Controller
	provider    *fakeProvider
	events      *recorder
	chat        *chatservice.Service
	transcriber *fakeTranscriber
}

type harnessOption func(*Deps)

func withKey(key string) harnessOption {
	return func(d *Deps) { d.Credentials = fakeCredentials{key: key} }
}

func withResponder(r Responder) harnessOption {
	return func(d *Deps) { d.Responder = r }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	h := &harness{
		provider:    &fakeProvider{},
		events:      &recorder{},
		chat:        chatservice.NewService(),
		transcriber: &fakeTranscriber{},
	}
	require.NoError(t, h.chat.Open(context.Background(), "visitor"))

	deps := Deps{
		Provider:    h.provider,
		Transcriber: h.transcriber,
		Credentials: fakeCredentials{key: "sk-visitor"},
		Chat:        h.chat,
		Roles:       role.NewMemoryStore(role.Seed()),
		Events:      h.events,
		Logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&deps)
	}

	h.controller = NewController("visitor", deps, Options{
		TextReplyDelay:  10 * time.Millisecond,
		VoiceReplyDelay: 5 * time.Millisecond,
	})
	t.Cleanup(func() { h.controller.Close(context.Background()) })
	return h
}

func (h *harness) start(t *testing.T) *fakeClient {
	t.Helper()
	require.NoError(t, h.controller.StartSession(context.Background()))
	require.True(t, h.controller.Snapshot().Connected)
	return h.provider.last()
}

func (h *harness) transcript(t *testing.T) []chatmodel.Message {
	t.Helper()
	messages, err := h.chat.Transcript(context.Background(), "visitor")
	require.NoError(t, err)
	return messages
}
