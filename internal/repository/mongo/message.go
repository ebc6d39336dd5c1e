package mongo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type messageDoc struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	ConversationID    string             `bson:"conversation_id"`
	ChannelID         string             `bson:"channel_id"`
	Direction         string             `bson:"direction"`
	Type              string             `bson:"type"`
	Text              string             `bson:"text"`
	MediaURL          string             `bson:"media_url,omitempty"`
	PlatformMessageID string             `bson:"platform_message_id,omitempty"`
	SentBy            *string            `bson:"sent_by,omitempty"`
	IsRead            bool               `bson:"is_read"`
	ReadAt            *time.Time         `bson:"read_at,omitempty"`
	CreatedAt         time.Time          `bson:"created_at"`
}

func (d *messageDoc) toModel() models.Message {
	m := models.Message{
		ID:                d.ID.Hex(),
		ConversationID:    d.ConversationID,
		ChannelID:         parseUUID(d.ChannelID),
		Direction:         d.Direction,
		Type:              d.Type,
		Text:              d.Text,
		MediaURL:          d.MediaURL,
		PlatformMessageID: d.PlatformMessageID,
		IsRead:            d.IsRead,
		ReadAt:            d.ReadAt,
		CreatedAt:         d.CreatedAt,
	}
	if d.SentBy != nil {
		if id, err := uuid.Parse(*d.SentBy); err == nil {
			m.SentBy = &id
		}
	}
	return m
}

type MessageStore struct {
	coll *mongo.Collection
}

func NewMessageStore(db *mongo.Database) *MessageStore {
	return &MessageStore{coll: db.Collection("messages")}
}

func (s *MessageStore) Create(ctx context.Context, in *models.Message) (*models.Message, error) {
	doc := messageDoc{
		ConversationID:    in.ConversationID,
		ChannelID:         in.ChannelID.String(),
		Direction:         in.Direction,
		Type:              in.Type,
		Text:              in.Text,
		MediaURL:          in.MediaURL,
		PlatformMessageID: in.PlatformMessageID,
		IsRead:            in.IsRead,
		ReadAt:            in.ReadAt,
		CreatedAt:         in.CreatedAt,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if in.SentBy != nil {
		sentBy := in.SentBy.String()
		doc.SentBy = &sentBy
	}

	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	doc.ID = res.InsertedID.(primitive.ObjectID)
	m := doc.toModel()
	return &m, nil
}

// ListByConversation pages on the ObjectID, which grows with insert time.
func (s *MessageStore) ListByConversation(ctx context.Context, conversationID, before string, limit int) ([]models.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if before != "" {
		oid, err := primitive.ObjectIDFromHex(before)
		if err != nil {
			return nil, fmt.Errorf("invalid cursor %q", before)
		}
		filter["_id"] = bson.M{"$lt": oid}
	}

	cur, err := s.coll.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "_id", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer cur.Close(ctx)

	messages := make([]models.Message, 0)
	for cur.Next(ctx) {
		var doc messageDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
		messages = append(messages, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *MessageStore) MarkConversationRead(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "direction": models.DirectionInbound, "is_read": false},
		bson.M{"$set": bson.M{"is_read": true, "read_at": at}})
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

func (s *MessageStore) DeleteByConversation(ctx context.Context, conversationID string) error {
	if _, err := s.coll.DeleteMany(ctx, bson.M{"conversation_id": conversationID}); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	return nil
}
