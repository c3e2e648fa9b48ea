package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/handler/avatar"
	roleHandler "github.com/abhinav118/avatar-stream-vibe/internal/handler/role"
	"github.com/abhinav118/avatar-stream-vibe/internal/handler/visitor"
	middlewarePkg "github.com/abhinav118/avatar-stream-vibe/internal/middleware"
	"github.com/abhinav118/avatar-stream-vibe/internal/model/role"
	"github.com/abhinav118/avatar-stream-vibe/pkg/utils"
)

// Services 路由依赖的服务集合。Tokens 为 nil 时令牌接口返回 503。
type Services struct {
	Roles       role.Store
	Tokens      avatar.TokenIssuer
	Visitors    visitor.Visitors
	Credentials visitor.Credentials
	Transcripts visitor.Transcripts
	Events      visitor.Subscriber

	AllowedOrigins []string
	Logger         zerolog.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(svc.AllowedOrigins...))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		roleHandler.New(svc.Roles).RegisterRoutes(api)
		avatar.New(svc.Tokens, svc.Logger).RegisterRoutes(api)
		visitor.New(svc.Visitors, svc.Credentials, svc.Transcripts, svc.Events, svc.Logger).RegisterRoutes(api)
	})

	return r
}
