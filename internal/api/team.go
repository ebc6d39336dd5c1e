package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/auth"
	"github.com/lalith-99/linedesk/internal/invite"
	"github.com/lalith-99/linedesk/internal/middleware"
	"go.uber.org/zap"
)

// TeamHandler serves an owner's team: the grants they gave out, and the
// grants the caller holds from other owners.
type TeamHandler struct {
	invites *invite.Service
	logger  *zap.Logger
}

func NewTeamHandler(invites *invite.Service, logger *zap.Logger) *TeamHandler {
	return &TeamHandler{invites: invites, logger: logger}
}

// Members handles GET /api/team/members.
func (h *TeamHandler) Members(c *gin.Context) {
	list, err := h.invites.ListMembers(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// Shared handles GET /api/team/shared: what others shared with the caller.
func (h *TeamHandler) Shared(c *gin.Context) {
	list, err := h.invites.ListMyGrants(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, list)
}

// Invite handles POST /api/team/invitations.
func (h *TeamHandler) Invite(c *gin.Context) {
	var req invite.CreateInput
	if !bind(c, h.logger, &req) {
		return
	}
	inv, err := h.invites.Create(c.Request.Context(), middleware.GetUserID(c), req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, inv)
}

// UpdateMember handles PUT /api/team/members/:id.
func (h *TeamHandler) UpdateMember(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	var req invite.UpdateInput
	if !bind(c, h.logger, &req) {
		return
	}
	g, err := h.invites.UpdateMember(c.Request.Context(), middleware.GetUserID(c), id, req)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, g)
}

// RemoveMember handles DELETE /api/team/members/:id.
func (h *TeamHandler) RemoveMember(c *gin.Context) {
	id, valid := uuidParam(c, h.logger, "id")
	if !valid {
		return
	}
	if err := h.invites.RemoveMember(c.Request.Context(), middleware.GetUserID(c), id); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}

// InvitationHandler serves the invite token routes. Preview and the
// claim flow are public; accept and cancel need a session.
type InvitationHandler struct {
	invites  *invite.Service
	sessions *sessions
	logger   *zap.Logger
}

func NewInvitationHandler(invites *invite.Service, issuer *auth.Issuer, cfg SessionConfig, logger *zap.Logger) *InvitationHandler {
	return &InvitationHandler{
		invites:  invites,
		sessions: &sessions{issuer: issuer, cfg: cfg},
		logger:   logger,
	}
}

// Preview handles GET /api/invitations/:token.
func (h *InvitationHandler) Preview(c *gin.Context) {
	p, err := h.invites.Preview(c.Request.Context(), c.Param("token"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// Accept handles POST /api/invitations/:token.
func (h *InvitationHandler) Accept(c *gin.Context) {
	g, err := h.invites.Accept(c.Request.Context(), middleware.GetUserID(c), c.Param("token"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, g)
}

type claimRequest struct {
	Name     string `json:"name" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Register handles POST /api/invitations/:token/register: the invitee
// sets a name and password and is logged in with the grant accepted.
func (h *InvitationHandler) Register(c *gin.Context) {
	var req claimRequest
	if !bind(c, h.logger, &req) {
		return
	}
	user, g, err := h.invites.Register(c.Request.Context(), c.Param("token"), req.Name, req.Password)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	token, err := h.sessions.start(c, user)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, gin.H{"user": user, "token": token, "invitation": g})
}

// Cancel handles DELETE /api/invitations/:token.
func (h *InvitationHandler) Cancel(c *gin.Context) {
	if err := h.invites.Cancel(c.Request.Context(), middleware.GetUserID(c), c.Param("token")); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}
