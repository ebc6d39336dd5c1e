package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/auth"
)

// Context keys for storing claims in gin.Context.
const (
	ContextKeyUserID = "user_id"
	ContextKeyEmail  = "email"
	ContextKeyRole   = "role"
	ContextKeyName   = "name"
)

type ctxKey struct{}

// AuthMiddleware validates the session token.
//
// The token is read from the session cookie first and falls back to an
// "Authorization: Bearer" header for API clients. The user id is also put
// on the request context so plain net/http middleware (the rate limiter)
// can key on it.
func AuthMiddleware(issuer *auth.Issuer, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c, cookieName)
		if token == "" {
			unauthorized(c, "authentication required")
			return
		}

		claims, err := issuer.ParseToken(token)
		if err != nil {
			unauthorized(c, "invalid or expired session")
			return
		}

		c.Set(ContextKeyUserID, claims.UserID)
		c.Set(ContextKeyEmail, claims.Email)
		c.Set(ContextKeyRole, claims.Role)
		c.Set(ContextKeyName, claims.Name)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), ctxKey{}, claims.UserID))

		c.Next()
	}
}

func tokenFromRequest(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"message": msg,
	})
}

func GetUserID(c *gin.Context) uuid.UUID {
	val, exists := c.Get(ContextKeyUserID)
	if !exists {
		return uuid.Nil
	}
	id, ok := val.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}

func GetEmail(c *gin.Context) string {
	return c.GetString(ContextKeyEmail)
}

func GetRole(c *gin.Context) string {
	return c.GetString(ContextKeyRole)
}

func GetName(c *gin.Context) string {
	return c.GetString(ContextKeyName)
}

// UserIDFromContext returns the authenticated user id stored on a request
// context, or uuid.Nil.
func UserIDFromContext(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKey{}).(uuid.UUID)
	return id
}
