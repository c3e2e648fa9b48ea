package visitor

import (
	"net/http"
	"time"

	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/session"
	"github.com/abhinav118/avatar-stream-vibe/pkg/utils"
)

const sseHeartbeat = 15 * time.Second

// handleEvents 以 SSE 推送访客事件，连接建立后先推送一次当前状态
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := h.events.Subscribe(c.ID())
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	logger := h.logger.With().Str("visitor", c.ID()).Logger()
	logger.Debug().Msg("sse stream opened")
	defer logger.Debug().Msg("sse stream closed")

	initial := notify.Event{Type: notify.EventState, VisitorID: c.ID(), Data: c.Snapshot(), Timestamp: time.Now().UTC()}
	if err := utils.SendSSEEvent(w, flusher, string(initial.Type), initial); err != nil {
		return
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, string(evt.Type), evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}
