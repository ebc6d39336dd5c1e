// Package mongo implements the document-store repositories: conversations
// and their messages.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// conversationDoc is the stored shape. UUIDs are kept as strings so the
// documents stay readable from the mongo shell.
type conversationDoc struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	ChannelID     string             `bson:"channel_id"`
	OwnerID       string             `bson:"owner_id"`
	LineUserID    string             `bson:"line_user_id"`
	DisplayName   string             `bson:"display_name"`
	PictureURL    string             `bson:"picture_url"`
	SourceType    string             `bson:"source_type"`
	ContactStatus string             `bson:"contact_status"`
	Status        string             `bson:"status"`
	UnreadCount   int                `bson:"unread_count"`
	LastMessage   string             `bson:"last_message"`
	LastMessageAt *time.Time         `bson:"last_message_at"`
	TagIDs        []string           `bson:"tag_ids"`
	AssignedTo    *string            `bson:"assigned_to"`
	CreatedAt     time.Time          `bson:"created_at"`
	UpdatedAt     time.Time          `bson:"updated_at"`
}

func (d *conversationDoc) toModel() models.Conversation {
	c := models.Conversation{
		ID:            d.ID.Hex(),
		ChannelID:     parseUUID(d.ChannelID),
		OwnerID:       parseUUID(d.OwnerID),
		LineUserID:    d.LineUserID,
		DisplayName:   d.DisplayName,
		PictureURL:    d.PictureURL,
		SourceType:    d.SourceType,
		ContactStatus: d.ContactStatus,
		Status:        d.Status,
		UnreadCount:   d.UnreadCount,
		LastMessage:   d.LastMessage,
		LastMessageAt: d.LastMessageAt,
		TagIDs:        make([]uuid.UUID, 0, len(d.TagIDs)),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	for _, t := range d.TagIDs {
		if id, err := uuid.Parse(t); err == nil {
			c.TagIDs = append(c.TagIDs, id)
		}
	}
	if d.AssignedTo != nil {
		if id, err := uuid.Parse(*d.AssignedTo); err == nil {
			c.AssignedTo = &id
		}
	}
	return c
}

func parseUUID(s string) uuid.UUID {
	id, _ := uuid.Parse(s)
	return id
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

type ConversationStore struct {
	coll *mongo.Collection
}

func NewConversationStore(db *mongo.Database) *ConversationStore {
	return &ConversationStore{coll: db.Collection("conversations")}
}

func (s *ConversationStore) GetOrCreate(ctx context.Context, channelID, ownerID uuid.UUID, contact repository.Contact) (*models.Conversation, bool, error) {
	now := time.Now().UTC()
	filter := bson.M{"channel_id": channelID.String(), "line_user_id": contact.LineUserID}
	update := bson.M{
		"$setOnInsert": bson.M{
			"owner_id":       ownerID.String(),
			"display_name":   contact.DisplayName,
			"picture_url":    contact.PictureURL,
			"source_type":    contact.SourceType,
			"contact_status": models.ContactFollowed,
			"status":         models.ConversationUnread,
			"unread_count":   0,
			"last_message":   "",
			"tag_ids":        []string{},
			"created_at":     now,
			"updated_at":     now,
		},
	}

	res, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return nil, false, fmt.Errorf("upsert conversation: %w", err)
	}

	var doc conversationDoc
	if err := s.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, false, fmt.Errorf("load conversation: %w", err)
	}
	conv := doc.toModel()
	return &conv, res.UpsertedCount > 0, nil
}

func (s *ConversationStore) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		// A malformed id cannot exist.
		return nil, nil
	}

	var doc conversationDoc
	err = s.coll.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	conv := doc.toModel()
	return &conv, nil
}

func (s *ConversationStore) List(ctx context.Context, f repository.ConversationFilter) ([]models.Conversation, error) {
	out := make([]models.Conversation, 0)
	if len(f.ChannelIDs) == 0 {
		return out, nil
	}

	filter := bson.M{"channel_id": bson.M{"$in": uuidStrings(f.ChannelIDs)}}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	if f.TagID != nil {
		filter["tag_ids"] = f.TagID.String()
	}
	if f.AssignedTo != nil {
		filter["assigned_to"] = f.AssignedTo.String()
	}
	if f.Search != "" {
		filter["display_name"] = primitive.Regex{Pattern: regexp.QuoteMeta(f.Search), Options: "i"}
	}
	if f.Before != nil {
		filter["updated_at"] = bson.M{"$lt": *f.Before}
	}

	limit := int64(f.Limit)
	if limit <= 0 {
		limit = 50
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(limit)

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc conversationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		out = append(out, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func (s *ConversationStore) updateByID(ctx context.Context, op, id string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%s: invalid id %q", op, id)
	}
	set["updated_at"] = time.Now().UTC()
	if _, err := s.coll.UpdateByID(ctx, oid, bson.M{"$set": set}); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *ConversationStore) UpdateStatus(ctx context.Context, id, status string) error {
	return s.updateByID(ctx, "update conversation status", id, bson.M{"status": status})
}

func (s *ConversationStore) SetTags(ctx context.Context, id string, tagIDs []uuid.UUID) error {
	return s.updateByID(ctx, "set conversation tags", id, bson.M{"tag_ids": uuidStrings(tagIDs)})
}

func (s *ConversationStore) Assign(ctx context.Context, id string, userID *uuid.UUID) error {
	var assigned any
	if userID != nil {
		assigned = userID.String()
	}
	return s.updateByID(ctx, "assign conversation", id, bson.M{"assigned_to": assigned})
}

func (s *ConversationStore) RecordMessage(ctx context.Context, id, preview string, at time.Time, inbound bool) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("record message: invalid id %q", id)
	}

	set := bson.M{
		"last_message":    preview,
		"last_message_at": at,
		"updated_at":      at,
	}
	update := bson.M{"$set": set}
	if inbound {
		set["status"] = models.ConversationUnread
		update["$inc"] = bson.M{"unread_count": 1}
	}
	if _, err := s.coll.UpdateByID(ctx, oid, update); err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	return nil
}

func (s *ConversationStore) MarkRead(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("mark read: invalid id %q", id)
	}
	// Only unread flips to read; processing/completed/spam are kept.
	_, err = s.coll.UpdateByID(ctx, oid, bson.A{
		bson.M{"$set": bson.M{
			"unread_count": 0,
			"status": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$status", models.ConversationUnread}},
				models.ConversationRead,
				"$status",
			}},
		}},
	})
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *ConversationStore) UpdateContactStatus(ctx context.Context, channelID uuid.UUID, lineUserID, status string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"channel_id": channelID.String(), "line_user_id": lineUserID},
		bson.M{"$set": bson.M{"contact_status": status, "updated_at": time.Now().UTC()}})
	if err != nil {
		return fmt.Errorf("update contact status: %w", err)
	}
	return nil
}

func (s *ConversationStore) UpdateContactProfile(ctx context.Context, id, displayName, pictureURL string) error {
	return s.updateByID(ctx, "update contact profile", id, bson.M{"display_name": displayName, "picture_url": pictureURL})
}

func (s *ConversationStore) ListByChannel(ctx context.Context, channelID uuid.UUID) ([]models.Conversation, error) {
	cur, err := s.coll.Find(ctx, bson.M{"channel_id": channelID.String()},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("list channel conversations: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]models.Conversation, 0)
	for cur.Next(ctx) {
		var doc conversationDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode conversation: %w", err)
		}
		out = append(out, doc.toModel())
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return out, nil
}

func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": oid}); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}
