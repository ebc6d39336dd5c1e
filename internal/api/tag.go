package api

import (
	"net/http"
	"regexp"
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

const defaultTagColor = "#6B7280"

var hexColor = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// TagHandler manages owner-level tags. Tags belong to an owner, never to
// an admin: an admin with can_manage_tags edits the owner's tags.
type TagHandler struct {
	tags     repository.TagRepository
	resolver *access.Resolver
	logger   *zap.Logger
}

func NewTagHandler(tags repository.TagRepository, resolver *access.Resolver, logger *zap.Logger) *TagHandler {
	return &TagHandler{tags: tags, resolver: resolver, logger: logger}
}

type tagRequest struct {
	// OwnerID defaults to the caller.
	OwnerID *uuid.UUID `json:"owner_id"`
	Name    string     `json:"name" binding:"required,max=50"`
	Color   string     `json:"color"`
}

func tagColor(raw string) (string, error) {
	if raw == "" {
		return defaultTagColor, nil
	}
	if !hexColor.MatchString(raw) {
		return "", apperr.InvalidArg("color must look like #RRGGBB")
	}
	return raw, nil
}

// List handles GET /api/tags: the tags of every owner the caller works for.
func (h *TagHandler) List(c *gin.Context) {
	owners, err := h.resolver.AccessibleOwnerIDs(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	tags, err := h.tags.ListByOwners(c.Request.Context(), owners)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, tags)
}

// Create handles POST /api/tags.
func (h *TagHandler) Create(c *gin.Context) {
	var req tagRequest
	if !bind(c, h.logger, &req) {
		return
	}
	ctx := c.Request.Context()
	userID := middleware.GetUserID(c)
	ownerID := userID
	if req.OwnerID != nil {
		ownerID = *req.OwnerID
	}
	if _, err := h.resolver.AuthorizeOwner(ctx, userID, ownerID, access.CapManageTags); err != nil {
		fail(c, h.logger, err)
		return
	}
	color, err := tagColor(req.Color)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	name := strings.TrimSpace(req.Name)

	existing, err := h.tags.GetByName(ctx, ownerID, name)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if existing != nil {
		fail(c, h.logger, apperr.ErrTagNameTaken)
		return
	}
	tag, err := h.tags.Create(ctx, &models.Tag{OwnerID: ownerID, Name: name, Color: color})
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, tag)
}

// owned loads a tag and checks the caller may manage its owner's tags.
func (h *TagHandler) owned(c *gin.Context) (*models.Tag, bool) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return nil, false
	}
	ctx := c.Request.Context()
	tag, err := h.tags.GetByID(ctx, id)
	if err != nil {
		fail(c, h.logger, err)
		return nil, false
	}
	if tag == nil {
		fail(c, h.logger, apperr.ErrTagNotFound)
		return nil, false
	}
	if _, err := h.resolver.AuthorizeOwner(ctx, middleware.GetUserID(c), tag.OwnerID, access.CapManageTags); err != nil {
		fail(c, h.logger, err)
		return nil, false
	}
	return tag, true
}

// Update handles PUT /api/tags/:id.
func (h *TagHandler) Update(c *gin.Context) {
	var req tagRequest
	if !bind(c, h.logger, &req) {
		return
	}
	tag, found := h.owned(c)
	if !found {
		return
	}
	color := tag.Color
	if req.Color != "" {
		var err error
		if color, err = tagColor(req.Color); err != nil {
			fail(c, h.logger, err)
			return
		}
	}
	name := strings.TrimSpace(req.Name)

	ctx := c.Request.Context()
	if !strings.EqualFold(name, tag.Name) {
		existing, err := h.tags.GetByName(ctx, tag.OwnerID, name)
		if err != nil {
			fail(c, h.logger, err)
			return
		}
		if existing != nil && existing.ID != tag.ID {
			fail(c, h.logger, apperr.ErrTagNameTaken)
			return
		}
	}
	updated, err := h.tags.Update(ctx, tag.ID, name, color)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

// Delete handles DELETE /api/tags/:id.
func (h *TagHandler) Delete(c *gin.Context) {
	tag, found := h.owned(c)
	if !found {
		return
	}
	if err := h.tags.Delete(c.Request.Context(), tag.ID); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}
