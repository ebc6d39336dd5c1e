package api

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/inbox"
	"github.com/lalith-99/linedesk/internal/platform"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type WebhookHandler struct {
	inbox  *inbox.Service
	logger *zap.Logger
}

func NewWebhookHandler(svc *inbox.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{inbox: svc, logger: logger}
}

// Receive handles POST /api/webhook/:channelID. The raw body is needed
// for the signature check, so it is read before any decoding.
func (h *WebhookHandler) Receive(c *gin.Context) {
	channelID, valid := uuidParam(c, h.logger, "channelID")
	if !valid {
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		fail(c, h.logger, apperr.InvalidArg("cannot read body"))
		return
	}
	if len(body) > maxWebhookBody {
		fail(c, h.logger, apperr.InvalidArg("body too large"))
		return
	}

	err = h.inbox.HandleWebhook(c.Request.Context(), channelID, c.GetHeader(platform.SignatureHeader), body)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	done(c)
}
