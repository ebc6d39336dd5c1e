package api

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/media"
	"go.uber.org/zap"
)

const mediaPrefix = "/api/media/"

// MediaURL is the public URL of a stored file.
func MediaURL(rel string) string {
	return mediaPrefix + rel
}

type MediaHandler struct {
	store  *media.Store
	logger *zap.Logger
}

func NewMediaHandler(store *media.Store, logger *zap.Logger) *MediaHandler {
	return &MediaHandler{store: store, logger: logger}
}

// Serve handles GET /api/media/*path.
func (h *MediaHandler) Serve(c *gin.Context) {
	f, contentType, err := h.store.Open(c.Param("path"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	c.Header("Content-Type", contentType)
	c.Header("X-Content-Type-Options", "nosniff")
	c.Header("Cache-Control", "public, max-age=86400")
	http.ServeContent(c.Writer, c.Request, path.Base(f.Name()), info.ModTime(), f)
}
