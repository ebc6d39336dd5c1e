package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/api"
	"github.com/lalith-99/linedesk/internal/auth"
	"github.com/lalith-99/linedesk/internal/broadcast"
	"github.com/lalith-99/linedesk/internal/config"
	"github.com/lalith-99/linedesk/internal/db"
	"github.com/lalith-99/linedesk/internal/inbox"
	"github.com/lalith-99/linedesk/internal/invite"
	"github.com/lalith-99/linedesk/internal/mailer"
	"github.com/lalith-99/linedesk/internal/media"
	"github.com/lalith-99/linedesk/internal/notify"
	"github.com/lalith-99/linedesk/internal/observ"
	"github.com/lalith-99/linedesk/internal/platform"
	"github.com/lalith-99/linedesk/internal/repository"
	"github.com/lalith-99/linedesk/internal/repository/memory"
	mongorepo "github.com/lalith-99/linedesk/internal/repository/mongo"
	"github.com/lalith-99/linedesk/internal/repository/postgres"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// stores is the set of repositories for one data backend.
type stores struct {
	users         repository.UserRepository
	channels      repository.ChannelRepository
	permissions   repository.PermissionRepository
	tags          repository.TagRepository
	quickReplies  repository.QuickReplyRepository
	broadcasts    repository.BroadcastRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository

	health map[string]api.HealthCheck
	close  func()
}

func memoryStores() *stores {
	return &stores{
		users:         memory.NewUserStore(),
		channels:      memory.NewChannelStore(),
		permissions:   memory.NewPermissionStore(),
		tags:          memory.NewTagStore(),
		quickReplies:  memory.NewQuickReplyStore(),
		broadcasts:    memory.NewBroadcastStore(),
		conversations: memory.NewConversationStore(),
		messages:      memory.NewMessageStore(),
		health:        map[string]api.HealthCheck{},
		close:         func() {},
	}
}

// persistentStores connects Postgres for relational data and Mongo for
// conversations and messages, applying schema and indexes.
func persistentStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}

	docs, err := db.NewMongo(ctx, cfg.MongoURL, cfg.MongoDatabase, logger)
	if err != nil {
		database.Close()
		return nil, err
	}
	if err := docs.EnsureIndexes(ctx); err != nil {
		database.Close()
		docs.Close(ctx)
		return nil, err
	}

	pool := database.Pool()
	return &stores{
		users:         postgres.NewUserStore(pool),
		channels:      postgres.NewChannelStore(pool),
		permissions:   postgres.NewPermissionStore(pool),
		tags:          postgres.NewTagStore(pool),
		quickReplies:  postgres.NewQuickReplyStore(pool),
		broadcasts:    postgres.NewBroadcastStore(pool),
		conversations: mongorepo.NewConversationStore(docs.Database()),
		messages:      mongorepo.NewMessageStore(docs.Database()),
		health: map[string]api.HealthCheck{
			"postgres": database.Health,
			"mongo":    docs.Health,
		},
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			docs.Close(ctx)
			database.Close()
		},
	}, nil
}

func notificationBus(ctx context.Context, cfg *config.Config, logger *zap.Logger) (notify.Bus, error) {
	switch cfg.NotifyBackend {
	case config.BackendRedis:
		return notify.NewRedisBus(ctx, cfg.RedisURL, logger)
	case config.BackendNATS:
		return notify.NewNATSBus(cfg.NATSURL, logger)
	}
	return nil, nil
}

func run() error {
	// 1. Config and logger
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observ.SetupTracing(ctx, cfg.TracingEnabled, cfg.TracingEndpoint, cfg.Env, logger)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}

	// 2. Storage
	var st *stores
	if cfg.DataBackend == config.BackendMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		st = memoryStores()
	} else {
		st, err = persistentStores(ctx, cfg, logger)
		if err != nil {
			return err
		}
	}
	defer st.close()

	// 3. Notifications
	bus, err := notificationBus(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("connect notification bus: %w", err)
	}
	registry := notify.NewRegistry(bus, logger)

	// 4. Services
	resolver := access.NewResolver(st.channels, st.permissions)
	lineClient := platform.NewSDKClient(cfg.LineAPIBaseURL, cfg.LinePushesPerSecond, logger)
	mail := mailer.New(mailer.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	}, logger)

	inboxSvc := inbox.NewService(st.channels, st.conversations, st.messages, st.tags, st.permissions,
		resolver, lineClient, registry, logger)
	broadcastSvc := broadcast.NewService(st.broadcasts, st.channels, st.conversations,
		resolver, lineClient, registry, logger)
	inviteSvc := invite.NewService(st.users, st.channels, st.permissions, mail,
		invite.Config{BaseURL: cfg.AppBaseURL, TTL: cfg.InviteTTL}, logger)
	scheduler := broadcast.NewScheduler(broadcastSvc, cfg.BroadcastPollInterval, logger)

	uploads, err := media.NewStore(cfg.UploadDir, cfg.MaxUploadBytes)
	if err != nil {
		return err
	}

	// 5. HTTP server
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Users:         st.users,
		Channels:      st.channels,
		Conversations: st.conversations,
		Messages:      st.messages,
		Tags:          st.tags,
		QuickReplies:  st.quickReplies,
		Resolver:      resolver,
		Inbox:         inboxSvc,
		Broadcasts:    broadcastSvc,
		Invites:       inviteSvc,
		Registry:      registry,
		Media:         uploads,
		Issuer:        auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		Session: api.SessionConfig{
			CookieName: cfg.CookieName,
			Domain:     cfg.CookieDomain,
			Secure:     cfg.CookieSecure,
		},
		CORSOrigins:       cfg.CORSOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		Heartbeat:         cfg.SSEHeartbeat,
		Health:            st.health,
		Logger:            logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("starting server",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("data_backend", cfg.DataBackend),
		zap.String("notify_backend", cfg.NotifyBackend),
	)

	// 6. Run until a signal arrives or a component fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return registry.Run(gctx) })
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Open streams never finish on their own; close them first so
		// Shutdown does not wait on them.
		if err := registry.Close(); err != nil {
			logger.Warn("close registry", zap.Error(err))
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		if err := broadcastSvc.Wait(shutdownCtx); err != nil {
			logger.Warn("broadcasts still sending at shutdown", zap.Error(err))
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}
