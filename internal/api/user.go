package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/auth"
	"github.com/lalith-99/linedesk/internal/media"
	"github.com/lalith-99/linedesk/internal/middleware"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.uber.org/zap"
)

// UserHandler serves the caller's own account.
type UserHandler struct {
	users  repository.UserRepository
	media  *media.Store
	logger *zap.Logger
}

func NewUserHandler(users repository.UserRepository, store *media.Store, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, media: store, logger: logger}
}

func (h *UserHandler) current(c *gin.Context) (*models.User, bool) {
	user, err := h.users.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		fail(c, h.logger, err)
		return nil, false
	}
	if user == nil {
		fail(c, h.logger, apperr.ErrUnauthorized)
		return nil, false
	}
	return user, true
}

type updateProfileRequest struct {
	Name      string  `json:"name" binding:"required"`
	AvatarURL *string `json:"avatar_url"`
}

// UpdateProfile handles PUT /api/users/me.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if !bind(c, h.logger, &req) {
		return
	}
	user, found := h.current(c)
	if !found {
		return
	}
	avatar := user.AvatarURL
	if req.AvatarURL != nil {
		avatar = *req.AvatarURL
	}
	updated, err := h.users.UpdateProfile(c.Request.Context(), user.ID, strings.TrimSpace(req.Name), avatar)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, updated)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// ChangePassword handles PUT /api/users/me/password.
func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if !bind(c, h.logger, &req) {
		return
	}
	user, found := h.current(c)
	if !found {
		return
	}
	if !auth.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		fail(c, h.logger, apperr.InvalidArg("current password is incorrect"))
		return
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		fail(c, h.logger, apperr.InvalidArg(err.Error()))
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if err := h.users.UpdatePassword(c.Request.Context(), user.ID, hash); err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}

// GetSettings handles GET /api/users/me/settings.
func (h *UserHandler) GetSettings(c *gin.Context) {
	user, found := h.current(c)
	if !found {
		return
	}
	settings := user.Settings
	if len(settings) == 0 {
		settings = json.RawMessage(`{}`)
	}
	ok(c, http.StatusOK, settings)
}

// UpdateSettings handles PUT /api/users/me/settings. The body must be a
// JSON object; it replaces the stored settings.
func (h *UserHandler) UpdateSettings(c *gin.Context) {
	var settings map[string]any
	if !bind(c, h.logger, &settings) {
		return
	}
	if settings == nil {
		fail(c, h.logger, apperr.InvalidArg("settings must be an object"))
		return
	}
	raw, err := json.Marshal(settings)
	if err != nil {
		fail(c, h.logger, apperr.InvalidArg("settings must be an object"))
		return
	}
	if err := h.users.UpdateSettings(c.Request.Context(), middleware.GetUserID(c), raw); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, json.RawMessage(raw))
}

// UploadAvatar handles POST /api/users/me/avatar (multipart field "file").
func (h *UserHandler) UploadAvatar(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.media.MaxBytes()+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		fail(c, h.logger, apperr.InvalidArg("file is required"))
		return
	}
	user, found := h.current(c)
	if !found {
		return
	}

	f, err := header.Open()
	if err != nil {
		fail(c, h.logger, apperr.InvalidArg("cannot read upload"))
		return
	}
	defer f.Close()

	saved, err := h.media.SaveImage(user.ID, f)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	updated, err := h.users.UpdateProfile(c.Request.Context(), user.ID, user.Name, MediaURL(saved.Path))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, http.StatusOK, updated)
}
