package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/middleware"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.uber.org/zap"
)

// ChannelHandler manages connected messaging channels.
type ChannelHandler struct {
	users         repository.UserRepository
	channels      repository.ChannelRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	resolver      *access.Resolver
	logger        *zap.Logger
}

func NewChannelHandler(
	users repository.UserRepository,
	channels repository.ChannelRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	resolver *access.Resolver,
	logger *zap.Logger,
) *ChannelHandler {
	return &ChannelHandler{
		users:         users,
		channels:      channels,
		conversations: conversations,
		messages:      messages,
		resolver:      resolver,
		logger:        logger,
	}
}

type createChannelRequest struct {
	Name              string `json:"name" binding:"required"`
	PlatformChannelID string `json:"platform_channel_id" binding:"required"`
	ChannelSecret     string `json:"channel_secret" binding:"required"`
	AccessToken       string `json:"access_token" binding:"required"`
	PictureURL        string `json:"picture_url"`
}

// updateChannelRequest leaves credentials unchanged when they are empty.
type updateChannelRequest struct {
	Name              string `json:"name" binding:"required"`
	PlatformChannelID string `json:"platform_channel_id"`
	ChannelSecret     string `json:"channel_secret"`
	AccessToken       string `json:"access_token"`
	PictureURL        string `json:"picture_url"`
}

type channelStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active inactive"`
}

// List handles GET /api/channels: every channel the caller can see, with
// the capabilities they hold on it.
func (h *ChannelHandler) List(c *gin.Context) {
	list, err := h.resolver.AccessibleChannels(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// Create handles POST /api/channels. Only owner accounts connect channels.
func (h *ChannelHandler) Create(c *gin.Context) {
	var req createChannelRequest
	if !bind(c, h.logger, &req) {
		return
	}
	userID := middleware.GetUserID(c)
	user, err := h.users.GetByID(c.Request.Context(), userID)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if user == nil || user.Role != models.RoleOwner {
		fail(c, h.logger, apperr.ErrPermissionDenied)
		return
	}

	ch, err := h.channels.Create(c.Request.Context(), &models.Channel{
		OwnerID:           userID,
		Name:              strings.TrimSpace(req.Name),
		PlatformChannelID: req.PlatformChannelID,
		ChannelSecret:     req.ChannelSecret,
		AccessToken:       req.AccessToken,
		Status:            models.ChannelActive,
		PictureURL:        req.PictureURL,
	})
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, access.ChannelAccess{
		Channel:      *ch,
		Capabilities: models.AllCapabilities(),
		IsOwner:      true,
	})
}

// Get handles GET /api/channels/:id.
func (h *ChannelHandler) Get(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	g, err := h.resolver.Authorize(c.Request.Context(), middleware.GetUserID(c), id, access.CapView)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, access.ChannelAccess{
		Channel:      *g.Channel,
		Capabilities: g.Capabilities,
		IsOwner:      g.IsOwner,
	})
}

// Update handles PUT /api/channels/:id.
func (h *ChannelHandler) Update(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	var req updateChannelRequest
	if !bind(c, h.logger, &req) {
		return
	}
	g, err := h.resolver.Authorize(c.Request.Context(), middleware.GetUserID(c), id, access.CapManageChannel)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	ch := *g.Channel
	ch.Name = strings.TrimSpace(req.Name)
	ch.PictureURL = req.PictureURL
	if req.PlatformChannelID != "" {
		ch.PlatformChannelID = req.PlatformChannelID
	}
	if req.ChannelSecret != "" {
		ch.ChannelSecret = req.ChannelSecret
	}
	if req.AccessToken != "" {
		ch.AccessToken = req.AccessToken
	}
	updated, err := h.channels.Update(c.Request.Context(), &ch)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if updated == nil {
		fail(c, h.logger, apperr.ErrChannelNotFound)
		return
	}
	ok(c, http.StatusOK, updated)
}

// UpdateStatus handles PUT /api/channels/:id/status. Only the owner turns
// a channel on or off; an inactive channel refuses every write.
func (h *ChannelHandler) UpdateStatus(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	var req channelStatusRequest
	if !bind(c, h.logger, &req) {
		return
	}
	g, err := h.resolver.Authorize(c.Request.Context(), middleware.GetUserID(c), id, access.CapOwner)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if err := h.channels.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
		fail(c, h.logger, err)
		return
	}
	ch := *g.Channel
	ch.Status = req.Status
	ok(c, http.StatusOK, &ch)
}

// Delete handles DELETE /api/channels/:id. The channel's conversations
// and messages live in the document store and are removed here.
func (h *ChannelHandler) Delete(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.resolver.Authorize(ctx, middleware.GetUserID(c), id, access.CapOwner); err != nil {
		fail(c, h.logger, err)
		return
	}

	convs, err := h.conversations.ListByChannel(ctx, id)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	for _, conv := range convs {
		if err := h.messages.DeleteByConversation(ctx, conv.ID); err != nil {
			fail(c, h.logger, err)
			return
		}
		if err := h.conversations.Delete(ctx, conv.ID); err != nil {
			fail(c, h.logger, err)
			return
		}
	}
	if err := h.channels.Delete(ctx, id); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}
