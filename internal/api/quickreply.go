package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/middleware"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.uber.org/zap"
)

// QuickReplyHandler manages canned responses. Like tags they belong to an
// owner; anyone who may reply for that owner may edit them.
type QuickReplyHandler struct {
	replies  repository.QuickReplyRepository
	resolver *access.Resolver
	logger   *zap.Logger
}

func NewQuickReplyHandler(replies repository.QuickReplyRepository, resolver *access.Resolver, logger *zap.Logger) *QuickReplyHandler {
	return &QuickReplyHandler{replies: replies, resolver: resolver, logger: logger}
}

type quickReplyRequest struct {
	OwnerID *uuid.UUID `json:"owner_id"`
	Title   string     `json:"title" binding:"required,max=100"`
	Content string     `json:"content" binding:"required,max=5000"`
}

// List handles GET /api/quick-replies.
func (h *QuickReplyHandler) List(c *gin.Context) {
	owners, err := h.resolver.AccessibleOwnerIDs(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	list, err := h.replies.ListByOwners(c.Request.Context(), owners)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// Create handles POST /api/quick-replies.
func (h *QuickReplyHandler) Create(c *gin.Context) {
	var req quickReplyRequest
	if !bind(c, h.logger, &req) {
		return
	}
	userID := middleware.GetUserID(c)
	ownerID := userID
	if req.OwnerID != nil {
		ownerID = *req.OwnerID
	}
	if _, err := h.resolver.AuthorizeOwner(c.Request.Context(), userID, ownerID, access.CapReply); err != nil {
		fail(c, h.logger, err)
		return
	}
	q, err := h.replies.Create(c.Request.Context(), &models.QuickReply{
		OwnerID: ownerID,
		Title:   strings.TrimSpace(req.Title),
		Content: req.Content,
	})
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, q)
}

func (h *QuickReplyHandler) owned(c *gin.Context) (*models.QuickReply, bool) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return nil, false
	}
	q, err := h.replies.GetByID(c.Request.Context(), id)
	if err != nil {
		fail(c, h.logger, err)
		return nil, false
	}
	if q == nil {
		fail(c, h.logger, apperr.ErrQuickReplyNotFound)
		return nil, false
	}
	if _, err := h.resolver.AuthorizeOwner(c.Request.Context(), middleware.GetUserID(c), q.OwnerID, access.CapReply); err != nil {
		fail(c, h.logger, err)
		return nil, false
	}
	return q, true
}

// Update handles PUT /api/quick-replies/:id.
func (h *QuickReplyHandler) Update(c *gin.Context) {
	var req quickReplyRequest
	if !bind(c, h.logger, &req) {
		return
	}
	q, found := h.owned(c)
	if !found {
		return
	}
	updated, err := h.replies.Update(c.Request.Context(), q.ID, strings.TrimSpace(req.Title), req.Content)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

// Delete handles DELETE /api/quick-replies/:id.
func (h *QuickReplyHandler) Delete(c *gin.Context) {
	q, found := h.owned(c)
	if !found {
		return
	}
	if err := h.replies.Delete(c.Request.Context(), q.ID); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}
