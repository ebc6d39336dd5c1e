package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/inbox"
	"github.com/lalith-99/linedesk/internal/middleware"
	"go.uber.org/zap"
)

// ConversationHandler exposes the inbox: conversations and their messages.
type ConversationHandler struct {
	inbox  *inbox.Service
	logger *zap.Logger
}

func NewConversationHandler(svc *inbox.Service, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{inbox: svc, logger: logger}
}

// List handles GET /api/conversations?channel_id=&status=&tag_id=&q=&limit=&before=
// where before is an RFC 3339 activity cursor.
func (h *ConversationHandler) List(c *gin.Context) {
	in := inbox.ListInput{
		Status: c.Query("status"),
		Search: c.Query("q"),
	}
	var err error
	if in.ChannelID, err = optionalUUIDQuery(c, "channel_id"); err != nil {
		fail(c, h.logger, err)
		return
	}
	if in.TagID, err = optionalUUIDQuery(c, "tag_id"); err != nil {
		fail(c, h.logger, err)
		return
	}
	if in.Limit, err = intQuery(c, "limit"); err != nil {
		fail(c, h.logger, err)
		return
	}
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			fail(c, h.logger, apperr.InvalidArg("invalid before"))
			return
		}
		in.Before = &t
	}

	list, err := h.inbox.List(c.Request.Context(), middleware.GetUserID(c), in)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// Get handles GET /api/conversations/:id.
func (h *ConversationHandler) Get(c *gin.Context) {
	conv, err := h.inbox.Get(c.Request.Context(), middleware.GetUserID(c), c.Param("id"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// Delete handles DELETE /api/conversations/:id.
func (h *ConversationHandler) Delete(c *gin.Context) {
	if err := h.inbox.Delete(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}

type conversationStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// SetStatus handles PUT /api/conversations/:id/status.
func (h *ConversationHandler) SetStatus(c *gin.Context) {
	var req conversationStatusRequest
	if !bind(c, h.logger, &req) {
		return
	}
	conv, err := h.inbox.SetStatus(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.Status)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

type conversationTagsRequest struct {
	TagIDs []uuid.UUID `json:"tag_ids"`
}

// SetTags handles PUT /api/conversations/:id/tags.
func (h *ConversationHandler) SetTags(c *gin.Context) {
	var req conversationTagsRequest
	if !bind(c, h.logger, &req) {
		return
	}
	conv, err := h.inbox.SetTags(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.TagIDs)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// assignRequest clears the assignment when user_id is null.
type assignRequest struct {
	UserID *uuid.UUID `json:"user_id"`
}

// Assign handles PUT /api/conversations/:id/assign.
func (h *ConversationHandler) Assign(c *gin.Context) {
	var req assignRequest
	if !bind(c, h.logger, &req) {
		return
	}
	conv, err := h.inbox.Assign(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req.UserID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, conv)
}

// MarkRead handles POST /api/conversations/:id/read.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	if err := h.inbox.MarkRead(c.Request.Context(), middleware.GetUserID(c), c.Param("id")); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}

// Messages handles GET /api/conversations/:id/messages?before=&limit=
// where before is a message id.
func (h *ConversationHandler) Messages(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	list, err := h.inbox.Messages(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), c.Query("before"), limit)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// Reply handles POST /api/conversations/:id/messages.
func (h *ConversationHandler) Reply(c *gin.Context) {
	var req inbox.ReplyInput
	if !bind(c, h.logger, &req) {
		return
	}
	msg, err := h.inbox.Reply(c.Request.Context(), middleware.GetUserID(c), c.Param("id"), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, msg)
}
