package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisChannel is the Pub/Sub channel every instance listens on.
const RedisChannel = "inbox:events"

// RedisBus fans events out over Redis Pub/Sub.
type RedisBus struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBus connects and pings the server.
func NewRedisBus(ctx context.Context, url string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisBus{client: client, logger: logger}, nil
}

func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.client.Publish(ctx, RedisChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	sub := b.client.Subscribe(ctx, RedisChannel)
	defer sub.Close()

	// Wait for the subscription to be confirmed.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("dropping malformed event", zap.Error(err))
				continue
			}
			deliver(env)
		}
	}
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}

// NATSSubjectPrefix is followed by the user id.
const NATSSubjectPrefix = "inbox.events"

// NATSBus fans events out over core NATS, one subject per user.
type NATSBus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

func NewNATSBus(url string, logger *zap.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("linedesk"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSBus{conn: conn, logger: logger}, nil
}

func natsSubject(userID uuid.UUID) string {
	return NATSSubjectPrefix + "." + userID.String()
}

func userFromSubject(subject string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimPrefix(subject, NATSSubjectPrefix+"."))
}

func (b *NATSBus) Publish(_ context.Context, env Envelope) error {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.conn.Publish(natsSubject(env.UserID), payload); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

func (b *NATSBus) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	sub, err := b.conn.Subscribe(NATSSubjectPrefix+".*", func(msg *nats.Msg) {
		userID, err := userFromSubject(msg.Subject)
		if err != nil {
			b.logger.Warn("dropping event with bad subject", zap.String("subject", msg.Subject))
			return
		}
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			b.logger.Warn("dropping malformed event", zap.Error(err))
			return
		}
		deliver(Envelope{UserID: userID, Event: ev})
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	<-ctx.Done()
	return nil
}

func (b *NATSBus) Close() error {
	b.conn.Close()
	return nil
}
