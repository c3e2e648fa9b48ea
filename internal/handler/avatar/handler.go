package avatar

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/logging"
	"github.com/abhinav118/avatar-stream-vibe/internal/metrics"
	"github.com/abhinav118/avatar-stream-vibe/pkg/utils"
)

// TokenIssuer 使用服务端保存的密钥签发短期访问令牌。
type TokenIssuer interface {
	IssueToken(ctx context.Context) (string, error)
}

// Handler 数字人令牌的HTTP处理器
type Handler struct {
	issuer TokenIssuer
	logger zerolog.Logger
}

// New 创建令牌处理器。issuer 为 nil 时接口返回 503。
func New(issuer TokenIssuer, logger zerolog.Logger) *Handler {
	return &Handler{
		issuer: issuer,
		logger: logging.Component(logger, "avatar_handler"),
	}
}

// RegisterRoutes 注册令牌路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/avatar/token", h.handleIssueToken)
}

// handleIssueToken 只返回短期令牌，密钥本身不会离开服务端
func (h *Handler) handleIssueToken(w http.ResponseWriter, r *http.Request) {
	if h.issuer == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "avatar provider not configured")
		return
	}

	token, err := h.issuer.IssueToken(r.Context())
	metrics.TokensIssued.WithLabelValues(metrics.Result(err)).Inc()
	if err != nil {
		h.logger.Error().Err(err).Msg("issue avatar token")
		utils.RespondError(w, http.StatusBadGateway, "failed to issue avatar token")
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]string{"token": token})
}
