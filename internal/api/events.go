package api

import (
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/linedesk/internal/middleware"
	"github.com/lalith-99/linedesk/internal/notify"
	"go.uber.org/zap"
)

// EventHandler opens real-time streams. Each open stream is one handle in
// the registry; a user may hold any number of them.
type EventHandler struct {
	registry  *notify.Registry
	heartbeat time.Duration
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// NewEventHandler accepts websocket upgrades only from allowedOrigins.
func NewEventHandler(registry *notify.Registry, heartbeat time.Duration, allowedOrigins []string, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		registry:  registry,
		heartbeat: heartbeat,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if slices.Contains(allowedOrigins, origin) {
					return true
				}
				u, err := url.Parse(origin)
				return err == nil && u.Host == r.Host
			},
		},
	}
}

type connectedData struct {
	UserID string `json:"user_id"`
}

func (h *EventHandler) hello(c *gin.Context) notify.Event {
	ev, _ := notify.NewEvent(notify.EventConnected, connectedData{UserID: middleware.GetUserID(c).String()})
	return ev
}

// Stream handles GET /api/events as server-sent events.
func (h *EventHandler) Stream(c *gin.Context) {
	handle, err := notify.NewSSEHandle(c.Writer)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	userID := middleware.GetUserID(c)
	h.registry.Register(userID, handle)
	defer h.registry.Unregister(userID, handle)

	if err := handle.Serve(c.Request.Context(), h.heartbeat, h.hello(c)); err != nil {
		h.logger.Debug("sse stream ended", zap.String("user_id", userID.String()), zap.Error(err))
	}
}

// WebSocket handles GET /api/events/ws.
func (h *EventHandler) WebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	handle := notify.NewWSHandle(conn)
	userID := middleware.GetUserID(c)
	h.registry.Register(userID, handle)
	defer h.registry.Unregister(userID, handle)

	if err := handle.Serve(c.Request.Context(), h.heartbeat, h.hello(c)); err != nil {
		h.logger.Debug("websocket stream ended", zap.String("user_id", userID.String()), zap.Error(err))
	}
}
