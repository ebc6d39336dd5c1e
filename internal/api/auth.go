package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/auth"
	"github.com/lalith-99/linedesk/internal/middleware"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.uber.org/zap"
)

// SessionConfig controls the session cookie.
type SessionConfig struct {
	CookieName string
	// Domain lets the cookie be shared across subdomains.
	Domain string
	Secure bool
}

// sessions issues tokens and writes them as HttpOnly cookies.
type sessions struct {
	issuer *auth.Issuer
	cfg    SessionConfig
}

func (s *sessions) start(c *gin.Context, u *models.User) (string, error) {
	token, err := s.issuer.GenerateToken(auth.Identity{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		Name:   u.Name,
	})
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.CookieName, token, int(s.issuer.TTL().Seconds()), "/", s.cfg.Domain, s.cfg.Secure, true)
	return token, nil
}

func (s *sessions) end(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.cfg.CookieName, "", -1, "/", s.cfg.Domain, s.cfg.Secure, true)
}

// AuthHandler handles registration, login and the current session.
type AuthHandler struct {
	users    repository.UserRepository
	sessions *sessions
	logger   *zap.Logger
}

func NewAuthHandler(users repository.UserRepository, issuer *auth.Issuer, cfg SessionConfig, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		users:    users,
		sessions: &sessions{issuer: issuer, cfg: cfg},
		logger:   logger,
	}
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	Name     string `json:"name" binding:"required"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// authResponse carries the token too, for clients that cannot use cookies.
type authResponse struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Register handles POST /api/auth/register. New accounts are owners.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bind(c, h.logger, &req) {
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		fail(c, h.logger, apperr.InvalidArg(err.Error()))
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	existing, err := h.users.GetByEmail(c.Request.Context(), email)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if existing != nil {
		fail(c, h.logger, apperr.ErrEmailTaken)
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	user, err := h.users.Create(c.Request.Context(), &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Role:         models.RoleOwner,
		Status:       models.UserActive,
	})
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	token, err := h.sessions.start(c, user)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusCreated, authResponse{User: user, Token: token})
}

// Login handles POST /api/auth/login.
//
// Unknown email and wrong password get the same answer. Accounts that
// were invited but never claimed have no hash and cannot log in.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bind(c, h.logger, &req) {
		return
	}

	user, err := h.users.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		fail(c, h.logger, apperr.ErrInvalidCredentials)
		return
	}
	if user.Status != models.UserActive {
		fail(c, h.logger, apperr.ErrAccountInactive)
		return
	}

	token, err := h.sessions.start(c, user)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, authResponse{User: user, Token: token})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	h.sessions.end(c)
	done(c)
}

// Me handles GET /api/auth/me.
func (h *AuthHandler) Me(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if user == nil {
		fail(c, h.logger, apperr.ErrUnauthorized)
		return
	}
	ok(c, http.StatusOK, user)
}
