package avatar

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/secret"
)

// fakeHeyGen records REST calls and lets tests push realtime events.
type fakeHeyGen struct {
	t *testing.T

	mu       sync.Mutex
	calls    []string
	bodies   map[string]map[string]any
	apiKey   string
	auth     string
	wsQuery  map[string]string
	wsConn   *websocket.Conn
	wsReady  chan struct{}
	failPath string
}

func newFakeHeyGen(t *testing.T) (*fakeHeyGen, *httptest.Server) {
	f := &fakeHeyGen{t: t, bodies: map[string]map[string]any{}, wsReady: make(chan struct{})}
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/streaming.create_token", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.URL.Path)
		f.apiKey = r.Header.Get("x-api-key")
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"error":null,"data":{"token":"session-token"}}`)
	})

	rest := func(data string) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.mu.Lock()
			f.calls = append(f.calls, r.URL.Path)
			f.bodies[r.URL.Path] = body
			f.auth = r.Header.Get("Authorization")
			fail := f.failPath == r.URL.Path
			f.mu.Unlock()
			if fail {
				http.Error(w, "upstream broke", http.StatusBadGateway)
				return
			}
			_, _ = io.WriteString(w, `{"code":100,"message":"success","data":`+data+`}`)
		}
	}
	mux.HandleFunc("/v1/streaming.new", rest(`{"session_id":"sess-1","access_token":"lk-token","url":"wss://lk.example","session_duration_limit":600}`))
	mux.HandleFunc("/v1/streaming.start", rest(`null`))
	mux.HandleFunc("/v1/streaming.task", rest(`{"task_id":"t1"}`))
	mux.HandleFunc("/v1/streaming.start_listening", rest(`null`))
	mux.HandleFunc("/v1/streaming.stop_listening", rest(`null`))
	mux.HandleFunc("/v1/streaming.stop", rest(`null`))

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/v1/ws/streaming.chat", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.mu.Lock()
		f.wsConn = conn
		f.wsQuery = map[string]string{
			"session_id":    r.URL.Query().Get("session_id"),
			"session_token": r.URL.Query().Get("session_token"),
		}
		f.mu.Unlock()
		close(f.wsReady)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeHeyGen) push(payload string) {
	<-f.wsReady
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NoError(f.t, f.wsConn.WriteMessage(websocket.TextMessage, []byte(payload)))
}

func (f *fakeHeyGen) dropConnection() {
	<-f.wsReady
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.wsConn.Close()
}

func (f *fakeHeyGen) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	c, err := NewClient(secret.Static("server-secret"), WithBaseURL(baseURL), WithTimeout(5*time.Second))
	require.NoError(t, err)
	return c
}

func TestIssueTokenSendsAPIKeyHeader(t *testing.T) {
	fake, srv := newFakeHeyGen(t)
	client := newTestClient(t, srv.URL)

	token, err := client.IssueToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, "session-token", token)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, "server-secret", fake.apiKey)
}

func TestIssueTokenErrors(t *testing.T) {
	rejected := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":"invalid api key","data":null}`)
	}))
	defer rejected.Close()

	_, err := newTestClient(t, rejected.URL).IssueToken(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "invalid api key", apiErr.Message)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":null,"data":{"token":""}}`)
	}))
	defer empty.Close()

	_, err = newTestClient(t, empty.URL).IssueToken(context.Background())
	require.ErrorContains(t, err, "empty token")
}

func TestIssueTokenMissingSecret(t *testing.T) {
	client, err := NewClient(secret.Static(""))
	require.NoError(t, err)

	_, err = client.IssueToken(context.Background())
	require.ErrorIs(t, err, secret.ErrEmpty)
}

func TestIssueTokenHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).IssueToken(context.Background())
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestSessionLifecycle(t *testing.T) {
	fake, srv := newFakeHeyGen(t)
	client := newTestClient(t, srv.URL)
	session := client.NewSession("session-token")

	events := make(chan avatarmodel.EventType, 8)
	for _, et := range []avatarmodel.EventType{
		avatarmodel.EventStreamReady, avatarmodel.EventStreamDisconnected,
		avatarmodel.EventUserStart, avatarmodel.EventAvatarStartTalking,
	} {
		session.On(et, func(e avatarmodel.Event) { events <- e.Type })
	}

	info, err := session.CreateStartAvatar(context.Background(), avatarmodel.StartRequest{
		Quality:       avatarmodel.QualityHigh,
		AvatarName:    "Anastasia_Chair_Sitting_public",
		Language:      "en",
		KnowledgeBase: "You are a concierge.",
	})
	require.NoError(t, err)
	require.Equal(t, "sess-1", info.SessionID)
	require.Equal(t, "lk-token", info.AccessToken)
	require.Equal(t, 600, info.DurationLimit)
	require.Equal(t, avatarmodel.EventStreamReady, <-events)

	fake.mu.Lock()
	newBody := fake.bodies["/v1/streaming.new"]
	auth := fake.auth
	query := fake.wsQuery
	fake.mu.Unlock()
	require.Equal(t, "Anastasia_Chair_Sitting_public", newBody["avatar_name"])
	require.Equal(t, "high", newBody["quality"])
	require.Equal(t, "You are a concierge.", newBody["knowledge_base"])
	require.Equal(t, "Bearer session-token", auth)
	require.Equal(t, "sess-1", query["session_id"])
	require.Equal(t, "session-token", query["session_token"])

	require.NoError(t, session.Speak(context.Background(), avatarmodel.SpeakRequest{Text: "hello"}))
	require.NoError(t, session.StartVoiceChat(context.Background(), avatarmodel.VoiceChatRequest{}))
	require.NoError(t, session.CloseVoiceChat(context.Background()))

	fake.push(`{"event_type":"user_start"}`)
	fake.push(`{"event_type":"avatar_talking_message","message":"ignored"}`)
	fake.push(`{"event_type":"avatar_start_talking"}`)
	require.Equal(t, avatarmodel.EventUserStart, <-events)
	require.Equal(t, avatarmodel.EventAvatarStartTalking, <-events)

	require.NoError(t, session.StopAvatar(context.Background()))

	fake.mu.Lock()
	taskBody := fake.bodies["/v1/streaming.task"]
	fake.mu.Unlock()
	require.Equal(t, "hello", taskBody["text"])
	require.Equal(t, "talk", taskBody["task_type"])

	require.Equal(t, []string{
		"/v1/streaming.new",
		"/v1/streaming.start",
		"/v1/streaming.task",
		"/v1/streaming.start_listening",
		"/v1/streaming.stop_listening",
		"/v1/streaming.stop",
	}, fake.callList())

	select {
	case evt := <-events:
		t.Fatalf("local stop must not emit events, got %s", evt)
	case <-time.After(100 * time.Millisecond):
	}

	require.ErrorIs(t, session.Speak(context.Background(), avatarmodel.SpeakRequest{Text: "late"}), ErrNoSession)
}

func TestRemoteCloseEmitsStreamDisconnected(t *testing.T) {
	fake, srv := newFakeHeyGen(t)
	session := newTestClient(t, srv.URL).NewSession("session-token")

	disconnected := make(chan struct{}, 1)
	session.On(avatarmodel.EventStreamDisconnected, func(avatarmodel.Event) { disconnected <- struct{}{} })

	_, err := session.CreateStartAvatar(context.Background(), avatarmodel.StartRequest{AvatarName: "Katya_Chair_Sitting_public"})
	require.NoError(t, err)

	fake.dropConnection()

	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("expected stream_disconnected after remote close")
	}
}

func TestCreateStartAvatarFailure(t *testing.T) {
	fake, srv := newFakeHeyGen(t)
	fake.mu.Lock()
	fake.failPath = "/v1/streaming.start"
	fake.mu.Unlock()
	session := newTestClient(t, srv.URL).NewSession("session-token")

	_, err := session.CreateStartAvatar(context.Background(), avatarmodel.StartRequest{AvatarName: "Katya_Chair_Sitting_public"})
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)

	require.ErrorIs(t, session.StopAvatar(context.Background()), ErrNoSession)
}

func TestCreateStartAvatarRequiresAvatarName(t *testing.T) {
	_, srv := newFakeHeyGen(t)
	session := newTestClient(t, srv.URL).NewSession("session-token")

	_, err := session.CreateStartAvatar(context.Background(), avatarmodel.StartRequest{})
	require.Error(t, err)
}

func TestEnvelopeErr(t *testing.T) {
	require.NoError(t, envelope{Code: 100}.err())
	require.NoError(t, envelope{Error: json.RawMessage("null")}.err())
	require.Error(t, envelope{Code: 400112, Message: "unauthorized"}.err())
}
