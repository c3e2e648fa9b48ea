package secret

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrEmpty is returned when a secret resolves to an empty value.
var ErrEmpty = errors.New("secret is empty")

// Source resolves a server-held secret such as the avatar provider API key.
type Source interface {
	Resolve(ctx context.Context) (string, error)
}

// Static is a secret supplied directly through the environment.
type Static string

func (s Static) Resolve(context.Context) (string, error) {
	value := strings.TrimSpace(string(s))
	if value == "" {
		return "", ErrEmpty
	}
	return value, nil
}

// Parameter resolves a secret from a parameter store on first use. A
// successful value is cached for the lifetime of the process; failures are
// not, so the next call fetches again.
type Parameter struct {
	getter Getter
	name   string

	mu    sync.Mutex
	value string
}

// NewParameter returns a Source backed by the named parameter.
func NewParameter(getter Getter, name string) (*Parameter, error) {
	if getter == nil {
		return nil, errors.New("secret: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("secret: parameter name must not be empty")
	}
	return &Parameter{getter: getter, name: name}, nil
}

func (p *Parameter) Resolve(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.value != "" {
		return p.value, nil
	}

	value, err := p.fetch(ctx)
	if err != nil {
		return "", err
	}
	p.value = value
	return value, nil
}

func (p *Parameter) fetch(ctx context.Context) (string, error) {
	raw, err := p.getter.GetParameter(ctx, p.name)
	if err != nil {
		return "", fmt.Errorf("secret: fetch %s: %w", p.name, err)
	}
	value := parseValue(raw)
	if value == "" {
		return "", fmt.Errorf("secret: %s: %w", p.name, ErrEmpty)
	}
	return value, nil
}

// parseValue accepts either a bare value or a JSON document {"token": "..."}
// / {"apiKey": "..."}.
func parseValue(raw string) string {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw
	}

	var payload struct {
		Token  string `json:"token"`
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}
	if payload.APIKey != "" {
		return strings.TrimSpace(payload.APIKey)
	}
	return strings.TrimSpace(payload.Token)
}
