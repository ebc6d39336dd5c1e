package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// Mongo holds the document-store client. Conversations and messages live
// here; everything relational stays in Postgres.
type Mongo struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

func NewMongo(ctx context.Context, uri, database string, logger *zap.Logger) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(50).
		SetServerSelectionTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	logger.Info("mongo connection established", zap.String("database", database))
	return &Mongo{
		client: client,
		db:     client.Database(database),
		logger: logger,
	}, nil
}

// EnsureIndexes creates the indexes the conversation and message queries
// rely on, including the (channel, line user) uniqueness of conversations.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	conversations := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "channel_id", Value: 1}, {Key: "line_user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "channel_id", Value: 1}, {Key: "last_message_at", Value: -1}}},
		{Keys: bson.D{{Key: "tag_ids", Value: 1}}},
	}
	if _, err := m.db.Collection("conversations").Indexes().CreateMany(ctx, conversations); err != nil {
		return fmt.Errorf("create conversation indexes: %w", err)
	}

	messages := []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "_id", Value: -1}}},
	}
	if _, err := m.db.Collection("messages").Indexes().CreateMany(ctx, messages); err != nil {
		return fmt.Errorf("create message indexes: %w", err)
	}
	return nil
}

func (m *Mongo) Database() *mongo.Database {
	return m.db
}

func (m *Mongo) Health(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) Close(ctx context.Context) {
	m.logger.Info("closing mongo client")
	if err := m.client.Disconnect(ctx); err != nil {
		m.logger.Warn("mongo disconnect failed", zap.Error(err))
	}
}
