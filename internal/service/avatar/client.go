// Package avatar talks to the HeyGen streaming avatar API: it issues
// short-lived session tokens with the server-held API key and drives
// individual streaming sessions through their REST and realtime endpoints.
package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/secret"
)

const defaultBaseURL = "https://api.heygen.com"

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("heygen: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// APIError is a 2xx response whose envelope reports a failure.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("heygen: api error code=%d: %s", e.Code, e.Message)
}

// envelope is the common HeyGen response wrapper. Token issuance reports
// failures through "error", streaming endpoints through "code"/"message".
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) err() error {
	if len(e.Error) > 0 && string(e.Error) != "null" {
		var msg string
		if json.Unmarshal(e.Error, &msg) != nil {
			msg = string(e.Error)
		}
		return &APIError{Code: e.Code, Message: msg}
	}
	// 100 is the streaming API's success code.
	if e.Code != 0 && e.Code != 100 {
		return &APIError{Code: e.Code, Message: e.Message}
	}
	return nil
}

// Client issues tokens and creates per-token sessions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	apiKey     secret.Source
}

// Option customises a Client.
type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(c *Client) {
		if dialer != nil {
			c.dialer = dialer
		}
	}
}

// NewClient builds a Client. The API key source is consulted on every token
// request; it never leaves the server.
func NewClient(apiKey secret.Source, opts ...Option) (*Client, error) {
	if apiKey == nil {
		return nil, errors.New("heygen: api key source must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dialer:     websocket.DefaultDialer,
		apiKey:     apiKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// IssueToken requests a short-lived streaming token with the server-held API key.
func (c *Client) IssueToken(ctx context.Context) (string, error) {
	key, err := c.apiKey.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("heygen: resolve api key: %w", err)
	}

	url := c.baseURL + "/v1/streaming.create_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return "", fmt.Errorf("heygen: create token request: %w", err)
	}
	req.Header.Set("x-api-key", key)

	var data struct {
		Token string `json:"token"`
	}
	if err := c.do(req, &data); err != nil {
		return "", fmt.Errorf("heygen: create token: %w", err)
	}
	if strings.TrimSpace(data.Token) == "" {
		return "", errors.New("heygen: create token: empty token in response")
	}
	return data.Token, nil
}

// NewSession returns a session client authorised by token.
func (c *Client) NewSession(token string) *Session {
	return newSession(c, token)
}

// NewClient satisfies the session controller's provider contract.
func (c *Client) NewClient(token string) avatarmodel.Client {
	return c.NewSession(token)
}

// postJSON sends body to path with the bearer token and decodes data into out.
func (c *Client) postJSON(ctx context.Context, token, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("heygen: marshal %s: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("heygen: create %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &HTTPStatusError{StatusCode: res.StatusCode, URL: req.URL.String(), Body: string(buf)}
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := env.err(); err != nil {
		return err
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}
