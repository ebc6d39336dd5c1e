package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/auth"
	"github.com/lalith-99/linedesk/internal/broadcast"
	"github.com/lalith-99/linedesk/internal/inbox"
	"github.com/lalith-99/linedesk/internal/invite"
	"github.com/lalith-99/linedesk/internal/media"
	"github.com/lalith-99/linedesk/internal/middleware"
	"github.com/lalith-99/linedesk/internal/notify"
	"github.com/lalith-99/linedesk/internal/repository"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthCheck reports whether a backing store is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router needs. main builds it once.
type Deps struct {
	Users         repository.UserRepository
	Channels      repository.ChannelRepository
	Conversations repository.ConversationRepository
	Messages      repository.MessageRepository
	Tags          repository.TagRepository
	QuickReplies  repository.QuickReplyRepository

	Resolver   *access.Resolver
	Inbox      *inbox.Service
	Broadcasts *broadcast.Service
	Invites    *invite.Service
	Registry   *notify.Registry
	Media      *media.Store
	Issuer     *auth.Issuer

	Session           SessionConfig
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	Heartbeat         time.Duration

	// Health checks run by GET /health, keyed by component name.
	Health map[string]HealthCheck
	Logger *zap.Logger
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(d.Logger), middleware.CORS(d.CORSOrigins))

	r.GET("/health", health(d.Health))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authH := NewAuthHandler(d.Users, d.Issuer, d.Session, d.Logger)
	userH := NewUserHandler(d.Users, d.Media, d.Logger)
	channelH := NewChannelHandler(d.Users, d.Channels, d.Conversations, d.Messages, d.Resolver, d.Logger)
	convH := NewConversationHandler(d.Inbox, d.Logger)
	tagH := NewTagHandler(d.Tags, d.Resolver, d.Logger)
	replyH := NewQuickReplyHandler(d.QuickReplies, d.Resolver, d.Logger)
	broadcastH := NewBroadcastHandler(d.Broadcasts, d.Logger)
	teamH := NewTeamHandler(d.Invites, d.Logger)
	inviteH := NewInvitationHandler(d.Invites, d.Issuer, d.Session, d.Logger)
	eventH := NewEventHandler(d.Registry, d.Heartbeat, d.CORSOrigins, d.Logger)
	mediaH := NewMediaHandler(d.Media, d.Logger)
	webhookH := NewWebhookHandler(d.Inbox, d.Logger)

	limit := middleware.RateLimit(d.RateLimitRequests, d.RateLimitWindow)

	// Public routes, limited per IP.
	public := r.Group("/api", limit)
	public.POST("/auth/register", authH.Register)
	public.POST("/auth/login", authH.Login)
	public.GET("/invitations/:token", inviteH.Preview)
	public.POST("/invitations/:token/register", inviteH.Register)
	public.GET("/media/*path", mediaH.Serve)
	// The platform retries deliveries, so webhooks are not rate limited.
	r.POST("/api/webhook/:channelID", webhookH.Receive)

	// Everything else needs a session and is limited per user.
	api := r.Group("/api", middleware.AuthMiddleware(d.Issuer, d.Session.CookieName), limit)

	api.POST("/auth/logout", authH.Logout)
	api.GET("/auth/me", authH.Me)

	api.PUT("/users/me", userH.UpdateProfile)
	api.PUT("/users/me/password", userH.ChangePassword)
	api.GET("/users/me/settings", userH.GetSettings)
	api.PUT("/users/me/settings", userH.UpdateSettings)
	api.POST("/users/me/avatar", userH.UploadAvatar)

	api.GET("/channels", channelH.List)
	api.POST("/channels", channelH.Create)
	api.GET("/channels/:id", channelH.Get)
	api.PUT("/channels/:id", channelH.Update)
	api.PUT("/channels/:id/status", channelH.UpdateStatus)
	api.DELETE("/channels/:id", channelH.Delete)

	api.GET("/conversations", convH.List)
	api.GET("/conversations/:id", convH.Get)
	api.DELETE("/conversations/:id", convH.Delete)
	api.PUT("/conversations/:id/status", convH.SetStatus)
	api.PUT("/conversations/:id/tags", convH.SetTags)
	api.PUT("/conversations/:id/assign", convH.Assign)
	api.POST("/conversations/:id/read", convH.MarkRead)
	api.GET("/conversations/:id/messages", convH.Messages)
	api.POST("/conversations/:id/messages", convH.Reply)

	api.GET("/tags", tagH.List)
	api.POST("/tags", tagH.Create)
	api.PUT("/tags/:id", tagH.Update)
	api.DELETE("/tags/:id", tagH.Delete)

	api.GET("/quick-replies", replyH.List)
	api.POST("/quick-replies", replyH.Create)
	api.PUT("/quick-replies/:id", replyH.Update)
	api.DELETE("/quick-replies/:id", replyH.Delete)

	api.GET("/broadcasts", broadcastH.List)
	api.POST("/broadcasts", broadcastH.Create)
	api.GET("/broadcasts/:id", broadcastH.Get)
	api.PUT("/broadcasts/:id", broadcastH.Update)
	api.DELETE("/broadcasts/:id", broadcastH.Delete)
	api.POST("/broadcasts/:id/send", broadcastH.Send)
	api.POST("/broadcasts/:id/cancel", broadcastH.Cancel)
	api.GET("/broadcasts/:id/recipients", broadcastH.Recipients)

	api.GET("/team/members", teamH.Members)
	api.GET("/team/shared", teamH.Shared)
	api.POST("/team/invitations", teamH.Invite)
	api.PUT("/team/members/:id", teamH.UpdateMember)
	api.DELETE("/team/members/:id", teamH.RemoveMember)

	api.POST("/invitations/:token", inviteH.Accept)
	api.DELETE("/invitations/:token", inviteH.Cancel)

	api.GET("/events", eventH.Stream)
	api.GET("/events/ws", eventH.WebSocket)

	return r
}

func health(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		components := make(gin.H, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				components[name] = err.Error()
				continue
			}
			components[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		c.JSON(status, gin.H{"status": state, "components": components})
	}
}
