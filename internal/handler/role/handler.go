package role

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
	"github.com/abhinav118/avatar-stream-vibe/pkg/utils"
)

// Handler 角色列表的HTTP处理器
type Handler struct {
	roles role.Store
}

// New 创建角色处理器
func New(roles role.Store) *Handler {
	return &Handler{
		roles: roles,
	}
}

// RegisterRoutes 注册角色相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/roles", h.handleListRoles)
}

// handleListRoles 列出所有可选角色，附带默认角色 ID
func (h *Handler) handleListRoles(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"roles":     h.roles.List(),
		"defaultId": h.roles.Default().ID,
	})
}
