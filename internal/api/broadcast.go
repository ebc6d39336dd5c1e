package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/broadcast"
	"github.com/lalith-99/linedesk/internal/middleware"
	"go.uber.org/zap"
)

type BroadcastHandler struct {
	svc    *broadcast.Service
	logger *zap.Logger
}

func NewBroadcastHandler(svc *broadcast.Service, logger *zap.Logger) *BroadcastHandler {
	return &BroadcastHandler{svc: svc, logger: logger}
}

// List handles GET /api/broadcasts?channel_id=
func (h *BroadcastHandler) List(c *gin.Context) {
	channelID, err := optionalUUIDQuery(c, "channel_id")
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	list, err := h.svc.List(c.Request.Context(), middleware.GetUserID(c), channelID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// Create handles POST /api/broadcasts.
func (h *BroadcastHandler) Create(c *gin.Context) {
	var req broadcast.Input
	if !bind(c, h.logger, &req) {
		return
	}
	b, err := h.svc.Create(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, b)
}

// Get handles GET /api/broadcasts/:id.
func (h *BroadcastHandler) Get(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	b, err := h.svc.Get(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// Update handles PUT /api/broadcasts/:id.
func (h *BroadcastHandler) Update(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	var req broadcast.Input
	if !bind(c, h.logger, &req) {
		return
	}
	b, err := h.svc.Update(c.Request.Context(), middleware.GetUserID(c), id, req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// Delete handles DELETE /api/broadcasts/:id.
func (h *BroadcastHandler) Delete(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}

// Send handles POST /api/broadcasts/:id/send. Delivery runs in the
// background; the response carries the broadcast in status sending.
func (h *BroadcastHandler) Send(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	b, err := h.svc.Send(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusAccepted, b)
}

// Cancel handles POST /api/broadcasts/:id/cancel.
func (h *BroadcastHandler) Cancel(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	b, err := h.svc.Cancel(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, b)
}

// Recipients handles GET /api/broadcasts/:id/recipients.
func (h *BroadcastHandler) Recipients(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	list, err := h.svc.Recipients(c.Request.Context(), middleware.GetUserID(c), id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, list)
}
