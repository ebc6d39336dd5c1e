// Package api holds the gin handlers behind /api.
//
// Every response uses one envelope: {"success":true,"data":...} on success
// and {"success":false,"message":...} on failure. Handlers return domain
// errors from internal/apperr and fail() turns them into a status code.
package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/apperr"
	"go.uber.org/zap"
)

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func done(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// fail writes the error envelope. Internal errors are logged with their
// cause and reach the client only as a generic message.
func fail(c *gin.Context, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": apperr.PublicMessage(err)})
}

// bind decodes the JSON body. Binding errors are the client's fault.
func bind(c *gin.Context, logger *zap.Logger, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, logger, apperr.InvalidArg("invalid request body: "+err.Error()))
		return false
	}
	return true
}

func uuidParam(c *gin.Context, logger *zap.Logger, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		fail(c, logger, apperr.InvalidArg("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}

// optionalUUIDQuery parses a query parameter that may be absent.
func optionalUUIDQuery(c *gin.Context, name string) (*uuid.UUID, error) {
	raw := c.Query(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, apperr.InvalidArg("invalid " + name)
	}
	return &id, nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidArg("invalid " + name)
	}
	return n, nil
}
