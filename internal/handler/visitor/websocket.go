package visitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	avatarmodel "github.com/abhinav118/avatar-stream-vibe/internal/model/avatar"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/notify"
	"github.com/abhinav118/avatar-stream-vibe/internal/service/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 54 * time.Second
)

// wsReadTimeout 两条指令之间允许的最长空闲时间
var wsReadTimeout = 60 * time.Second

// inboundMessage 客户端发来的指令
type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type speakCommand struct {
	Text string `json:"text"`
}

type modeCommand struct {
	Mode string `json:"mode"`
}

type roleCommand struct {
	RoleID string `json:"roleId"`
}

type errorMessage struct {
	Type      string            `json:"type"`
	Data      map[string]string `json:"data"`
	Timestamp time.Time         `json:"timestamp"`
}

// wsConn 串行化对同一连接的写操作
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

// handleWebSocket 双向通道：下行推送访客事件，上行接收 speak/mode/start/end/role/recording 指令
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request, c *session.Controller) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer raw.Close()

	conn := &wsConn{conn: raw}
	logger := h.logger.With().Str("visitor", c.ID()).Logger()
	logger.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	events, unsubscribe := h.events.Subscribe(c.ID())
	defer unsubscribe()

	if err := conn.writeJSON(notify.Event{Type: notify.EventState, VisitorID: c.ID(), Data: c.Snapshot(), Timestamp: time.Now().UTC()}); err != nil {
		return
	}

	go h.pumpEvents(ctx, cancel, conn, events)

	_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		var msg inboundMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		h.handleCommand(ctx, conn, c, msg, logger)
		// 指令可能阻塞较久（如启动会话），执行完再续期
		_ = raw.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// pumpEvents 转发订阅事件并定期 ping，任一写失败即关闭连接
func (h *Handler) pumpEvents(ctx context.Context, cancel context.CancelFunc, conn *wsConn, events <-chan notify.Event) {
	defer cancel()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				_ = conn.conn.Close()
				return
			}
			if err := conn.writeJSON(evt); err != nil {
				_ = conn.conn.Close()
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				_ = conn.conn.Close()
				return
			}
		}
	}
}

func (h *Handler) handleCommand(ctx context.Context, conn *wsConn, c *session.Controller, msg inboundMessage, logger zerolog.Logger) {
	var err error
	switch msg.Type {
	case "start":
		err = c.StartSession(ctx)
	case "end":
		err = c.EndSession(ctx)
	case "recording":
		c.StartRecording(ctx)
	case "speak":
		var cmd speakCommand
		if decodeErr := json.Unmarshal(msg.Data, &cmd); decodeErr != nil {
			sendError(conn, "invalid speak payload")
			return
		}
		err = c.Speak(ctx, cmd.Text)
	case "mode":
		var cmd modeCommand
		if decodeErr := json.Unmarshal(msg.Data, &cmd); decodeErr != nil {
			sendError(conn, "invalid mode payload")
			return
		}
		mode, parseErr := avatarmodel.ParseMode(cmd.Mode)
		if parseErr != nil {
			sendError(conn, parseErr.Error())
			return
		}
		err = c.SwitchMode(ctx, mode)
	case "role":
		var cmd roleCommand
		if decodeErr := json.Unmarshal(msg.Data, &cmd); decodeErr != nil {
			sendError(conn, "invalid role payload")
			return
		}
		if roleErr := c.SelectRole(cmd.RoleID); roleErr != nil {
			sendError(conn, roleErr.Error())
			return
		}
	default:
		sendError(conn, "unsupported message type: "+msg.Type)
		return
	}

	// 服务端失败已经以通知事件下发，这里只记录
	if err != nil {
		logger.Debug().Err(err).Str("command", msg.Type).Msg("command reported failure")
	}
}

func sendError(conn *wsConn, message string) {
	_ = conn.writeJSON(errorMessage{
		Type:      "error",
		Data:      map[string]string{"message": message},
		Timestamp: time.Now().UTC(),
	})
}
