package avatar

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type issuerFunc func(ctx context.Context) (string, error)

func (f issuerFunc) IssueToken(ctx context.Context) (string, error) { return f(ctx) }

func serve(issuer TokenIssuer) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	New(issuer, zerolog.Nop()).RegisterRoutes(r)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/avatar/token", nil))
	return resp
}

func TestIssueToken(t *testing.T) {
	resp := serve(issuerFunc(func(context.Context) (string, error) { return "short-lived", nil }))

	require.Equal(t, http.StatusOK, resp.Code)
	require.JSONEq(t, `{"token":"short-lived"}`, resp.Body.String())
}

func TestIssueTokenUpstreamFailure(t *testing.T) {
	resp := serve(issuerFunc(func(context.Context) (string, error) { return "", errors.New("invalid api key") }))

	require.Equal(t, http.StatusBadGateway, resp.Code)
	require.NotContains(t, resp.Body.String(), "invalid api key")
}

func TestIssueTokenNotConfigured(t *testing.T) {
	require.Equal(t, http.StatusServiceUnavailable, serve(nil).Code)
}
