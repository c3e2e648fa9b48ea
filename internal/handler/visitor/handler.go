package visitor

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/logging"
	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/model/chat"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/credential"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/session"
	"github.com/abhinav118/avatar-stream-vibe/pkg/utils"
)

// 上传录音的大小上限，与转写服务的限制一致。
const maxAudioUpload = 25 << 20

// Visitors 访客注册表
type Visitors interface {
	Create(ctx context.Context, roleID string) (*session.Controller, error)
	Get(id string) (*session.Controller, error)
	Remove(ctx context.Context, id string) error
}

// Credentials 访客凭证存储
type Credentials interface {
	Get(ctx context.Context, visitorID, key string) (string, error)
	Set(ctx context.Context, visitorID, key, value string) error
	Delete(ctx context.Context, visitorID, key string) error
}

// Transcripts 聊天记录
type Transcripts interface {
	Transcript(ctx context.Context, visitorID string) ([]chat.Message, error)
}

// Subscriber 访客事件订阅
type Subscriber interface {
	Subscribe(visitorID string) (<-chan notify.Event, func())
}

// Handler 访客会话的HTTP处理器
type Handler struct {
	visitors    Visitors
	credentials Credentials
	transcripts Transcripts
	events      Subscriber
	logger      zerolog.Logger
	upgrader    websocket.Upgrader
}

// New 创建访客处理器
func New(visitors Visitors, credentials Credentials, transcripts Transcripts, events Subscriber, logger zerolog.Logger) *Handler {
	return &Handler{
		visitors:    visitors,
		credentials: credentials,
		transcripts: transcripts,
		events:      events,
		logger:      logging.Component(logger, "visitor_handler"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册访客相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/visitors", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Route("/{visitorID}", func(r chi.Router) {
			r.Get("/", h.withController(h.handleGet))
			r.Delete("/", h.handleRemove)
			r.Put("/role", h.withController(h.handleSelectRole))
			r.Post("/session", h.withController(h.handleStartSession))
			r.Delete("/session", h.withController(h.handleEndSession))
			r.Put("/mode", h.withController(h.handleSwitchMode))
			r.Post("/speak", h.withController(h.handleSpeak))
			r.Post("/recording", h.withController(h.handleStartRecording))
			r.Post("/transcribe", h.withController(h.handleTranscribe))
			r.Get("/messages", h.withController(h.handleMessages))
			r.Get("/credentials/openai", h.withController(h.handleGetCredential))
			r.Put("/credentials/openai", h.withController(h.handleSetCredential))
			r.Delete("/credentials/openai", h.withController(h.handleClearCredential))
			r.Get("/events", h.withController(h.handleEvents))
			r.Get("/ws", h.withController(h.handleWebSocket))
		})
	})
}

type controllerHandler func(w http.ResponseWriter, r *http.Request, c *session.Controller)

// withController 解析 URL 中的访客 ID，找不到时返回 404
func (h *Handler) withController(next controllerHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		controller, err := h.visitors.Get(chi.URLParam(r, "visitorID"))
		if err != nil {
			utils.RespondError(w, http.StatusNotFound, "visitor not found")
			return
		}
		next(w, r, controller)
	}
}

// handleCreate 创建访客
func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RoleID string `json:"roleId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	controller, err := h.visitors.Create(r.Context(), payload.RoleID)
	if err != nil {
		if errors.Is(err, session.ErrRoleNotFound) {
			utils.RespondError(w, http.StatusBadRequest, "role not found")
			return
		}
		h.logger.Error().Err(err).Msg("create visitor")
		utils.RespondError(w, http.StatusInternalServerError, "failed to create visitor")
		return
	}

	utils.RespondJSON(w, http.StatusCreated, controller.Snapshot())
}

func (h *Handler) handleGet(w http.ResponseWriter, _ *http.Request, c *session.Controller) {
	utils.RespondJSON(w, http.StatusOK, c.Snapshot())
}

// handleRemove 删除访客，结束其会话并清理凭证
func (h *Handler) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := h.visitors.Remove(context.WithoutCancel(r.Context()), chi.URLParam(r, "visitorID")); err != nil {
		if errors.Is(err, session.ErrVisitorNotFound) {
			utils.RespondError(w, http.StatusNotFound, "visitor not found")
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "failed to remove visitor")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSelectRole(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	var payload struct {
		RoleID string `json:"roleId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.respondOutcome(w, c, c.SelectRole(payload.RoleID))
}

// handleStartSession 启动数字人会话。服务端失败通过通知事件告知访客，接口本身仍返回当前状态。
func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	h.respondOutcome(w, c, c.StartSession(context.WithoutCancel(r.Context())))
}

func (h *Handler) handleEndSession(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	h.respondOutcome(w, c, c.EndSession(context.WithoutCancel(r.Context())))
}

func (h *Handler) handleSwitchMode(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	mode, err := avatarmodel.ParseMode(payload.Mode)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondOutcome(w, c, c.SwitchMode(context.WithoutCancel(r.Context()), mode))
}

func (h *Handler) handleSpeak(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.respondOutcome(w, c, c.Speak(context.WithoutCancel(r.Context()), payload.Text))
}

func (h *Handler) handleStartRecording(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	started := c.StartRecording(r.Context())
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"started": started,
		"state":   c.Snapshot(),
	})
}

// handleTranscribe 接收 multipart 录音（字段 audio），转写后交给数字人
func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)
	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	if r.MultipartForm != nil {
		defer func() { _ = r.MultipartForm.RemoveAll() }()
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	h.respondOutcome(w, c, c.Transcribe(context.WithoutCancel(r.Context()), file, header.Filename))
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	messages, err := h.transcripts.Transcript(r.Context(), c.ID())
	if err != nil {
		utils.RespondError(w, http.StatusNotFound, "chat log not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, messages)
}

// handleGetCredential 只告知是否已配置，不回显密钥
func (h *Handler) handleGetCredential(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	key, err := h.credentials.Get(r.Context(), c.ID(), credential.OpenAIKey)
	if err != nil {
		h.logger.Error().Err(err).Str("visitor", c.ID()).Msg("read credential")
		utils.RespondError(w, http.StatusInternalServerError, "failed to read credential")
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"configured": key != ""})
}

// handleSetCredential 保存访客的 OpenAI Key，空值等同于清除
func (h *Handler) handleSetCredential(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	var payload struct {
		APIKey string `json:"apiKey"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.credentials.Set(r.Context(), c.ID(), credential.OpenAIKey, strings.TrimSpace(payload.APIKey)); err != nil {
		h.logger.Error().Err(err).Str("visitor", c.ID()).Msg("store credential")
		utils.RespondError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleClearCredential(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	if err := h.credentials.Delete(r.Context(), c.ID(), credential.OpenAIKey); err != nil {
		h.logger.Error().Err(err).Str("visitor", c.ID()).Msg("clear credential")
		utils.RespondError(w, http.StatusInternalServerError, "failed to clear credential")
		return
	}
	c.CredentialCleared()
	w.WriteHeader(http.StatusNoContent)
}

// respondOutcome 输入错误返回 400，其余结果（包括服务端失败）都以当前状态返回。
func (h *Handler) respondOutcome(w http.ResponseWriter, c *session.Controller, err error) {
	switch {
	case errors.Is(err, avatarmodel.ErrInvalidMode), errors.Is(err, session.ErrRoleNotFound):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, session.ErrClosed):
		utils.RespondError(w, http.StatusNotFound, "visitor not found")
		return
	case err != nil:
		h.logger.Debug().Err(err).Str("visitor", c.ID()).Msg("operation reported failure")
	}
	utils.RespondJSON(w, http.StatusOK, c.Snapshot())
}
