// Package transcription converts recorded audio into text through an
// OpenAI-compatible /audio/transcriptions endpoint.
package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.openai.com/v1"

// ErrMissingAPIKey is returned when no caller credential was supplied.
var ErrMissingAPIKey = errors.New("transcription: api key is required")

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("transcription: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Client is a focused client for the transcription endpoint. The API key is
// supplied per call because every visitor brings their own.
type Client struct {
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithModel(model string) Option {
	return func(c *Client) {
		if model = strings.TrimSpace(model); model != "" {
			c.model = model
		}
	}
}

// WithLanguage pins the spoken language (ISO-639-1). Empty lets the service detect it.
func WithLanguage(language string) Option {
	return func(c *Client) {
		c.language = strings.TrimSpace(language)
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		model:      "whisper-1",
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func transcriptionURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if strings.HasSuffix(base, "/v1") {
		return base + "/audio/transcriptions"
	}
	return base + "/v1/audio/transcriptions"
}

// Transcribe uploads audio and returns the recognised text. An empty string
// with a nil error means the service heard no speech.
func (c *Client) Transcribe(ctx context.Context, apiKey string, audio io.Reader, filename string) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if audio == nil {
		return "", errors.New("transcription: audio is required")
	}

	body, contentType, err := c.buildForm(audio, filename)
	if err != nil {
		return "", err
	}

	url := transcriptionURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return "", fmt.Errorf("transcription: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+apiKey)

	httpClient := c.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription: request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}

	var payload transcriptionResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&payload); err != nil {
		return "", fmt.Errorf("transcription: decode response: %w", err)
	}
	return payload.Text, nil
}

func (c *Client) buildForm(audio io.Reader, filename string) (*bytes.Buffer, string, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == "/" {
		filename = "recording.webm"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("transcription: create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, "", fmt.Errorf("transcription: copy audio: %w", err)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return nil, "", fmt.Errorf("transcription: write model field: %w", err)
	}
	if c.language != "" {
		if err := writer.WriteField("language", c.language); err != nil {
			return nil, "", fmt.Errorf("transcription: write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("transcription: close form: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
