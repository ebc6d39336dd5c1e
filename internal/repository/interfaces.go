package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
)

// Every method takes ctx first and does I/O.
//
// Lookups by id return nil, nil when the row does not exist; callers turn
// that into a NotFound. Errors are reserved for real failures.

// ErrDuplicate is matched (errors.Is) by unique-constraint violations from
// every store.
var ErrDuplicate = errors.New("duplicate key")

// UserRepository handles user accounts.
type UserRepository interface {
	Create(ctx context.Context, u *models.User) (*models.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	// GetByEmail matches case-insensitively.
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
	UpdateProfile(ctx context.Context, id uuid.UUID, name, avatarURL string) (*models.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdateSettings(ctx context.Context, id uuid.UUID, settings json.RawMessage) error
	// Activate sets name, password and status=active on a pending account.
	Activate(ctx context.Context, id uuid.UUID, name, passwordHash string) (*models.User, error)
}

// ChannelRepository handles connected messaging channels.
type ChannelRepository interface {
	Create(ctx context.Context, ch *models.Channel) (*models.Channel, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	// ListByOwners returns channels owned by any of ownerIDs, newest first.
	ListByOwners(ctx context.Context, ownerIDs []uuid.UUID) ([]models.Channel, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Channel, error)
	Update(ctx context.Context, ch *models.Channel) (*models.Channel, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// PermissionRepository persists grants (the admin_permissions table).
type PermissionRepository interface {
	CreatePending(ctx context.Context, g *models.PermissionGrant) (*models.PermissionGrant, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.PermissionGrant, error)
	// GetPendingByToken only matches rows still in pending status.
	GetPendingByToken(ctx context.Context, token string) (*models.PermissionGrant, error)
	// FindActive returns the active grant for exactly this scope, if any.
	FindActive(ctx context.Context, ownerID, adminID uuid.UUID, channelID *uuid.UUID) (*models.PermissionGrant, error)
	// FindPendingForEmail returns a pending grant for this email and scope.
	FindPendingForEmail(ctx context.Context, ownerID uuid.UUID, email string, channelID *uuid.UUID) (*models.PermissionGrant, error)
	// ListActiveForChannel returns active grants of adminID that cover the
	// channel: rows scoped to channelID, plus unscoped rows of ownerID.
	ListActiveForChannel(ctx context.Context, adminID, channelID, ownerID uuid.UUID) ([]models.PermissionGrant, error)
	// ListActiveForOwner returns every active grant from ownerID to adminID.
	ListActiveForOwner(ctx context.Context, adminID, ownerID uuid.UUID) ([]models.PermissionGrant, error)
	ListActiveByAdmin(ctx context.Context, adminID uuid.UUID) ([]models.PermissionGrant, error)
	// ListActiveAdminsForChannel returns admin ids holding an active grant
	// that covers the channel.
	ListActiveAdminsForChannel(ctx context.Context, channelID, ownerID uuid.UUID) ([]uuid.UUID, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PermissionGrant, error)
	// Activate binds adminID and flips pending → active. Returns false when
	// the row was no longer pending.
	Activate(ctx context.Context, id, adminID uuid.UUID, acceptedAt time.Time) (bool, error)
	Update(ctx context.Context, id uuid.UUID, status string, perms models.Capabilities) (*models.PermissionGrant, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// TagRepository handles owner-level labels.
type TagRepository interface {
	Create(ctx context.Context, t *models.Tag) (*models.Tag, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tag, error)
	GetByName(ctx context.Context, ownerID uuid.UUID, name string) (*models.Tag, error)
	ListByOwners(ctx context.Context, ownerIDs []uuid.UUID) ([]models.Tag, error)
	Update(ctx context.Context, id uuid.UUID, name, color string) (*models.Tag, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// QuickReplyRepository handles canned responses.
type QuickReplyRepository interface {
	Create(ctx context.Context, q *models.QuickReply) (*models.QuickReply, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.QuickReply, error)
	ListByOwners(ctx context.Context, ownerIDs []uuid.UUID) ([]models.QuickReply, error)
	Update(ctx context.Context, id uuid.UUID, title, content string) (*models.QuickReply, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// BroadcastResult is the tally written when a dispatch finishes.
type BroadcastResult struct {
	Status      string
	TargetCount int
	SentCount   int
	FailedCount int
	CompletedAt time.Time
}

// BroadcastRepository handles bulk send jobs and their recipients.
type BroadcastRepository interface {
	Create(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error)
	ListByChannels(ctx context.Context, channelIDs []uuid.UUID) ([]models.Broadcast, error)
	// Update rewrites content fields; it only touches draft/scheduled rows
	// and returns nil, nil otherwise.
	Update(ctx context.Context, b *models.Broadcast) (*models.Broadcast, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// MarkSending is the single conditional write draft|scheduled → sending.
	// It returns false if the row was not in a dispatchable state.
	MarkSending(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error)
	// Cancel is the conditional write draft|scheduled → cancelled.
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	Finish(ctx context.Context, id uuid.UUID, res BroadcastResult) error
	ListDue(ctx context.Context, now time.Time) ([]models.Broadcast, error)
	InsertRecipients(ctx context.Context, recipients []models.BroadcastRecipient) ([]models.BroadcastRecipient, error)
	UpdateRecipient(ctx context.Context, id uuid.UUID, status, errText string, sentAt *time.Time) error
	ListRecipients(ctx context.Context, broadcastID uuid.UUID) ([]models.BroadcastRecipient, error)
}

// ConversationFilter narrows ListConversations. Zero values mean "any".
type ConversationFilter struct {
	ChannelIDs []uuid.UUID
	Status     string
	TagID      *uuid.UUID
	AssignedTo *uuid.UUID
	Search     string
	// Before is an activity cursor: only conversations last updated
	// strictly before it are returned. Results are newest first.
	Before *time.Time
	Limit  int
}

// Contact identifies the platform end user a conversation is with.
type Contact struct {
	LineUserID  string
	DisplayName string
	PictureURL  string
	SourceType  string
}

// ConversationRepository lives in the document store.
type ConversationRepository interface {
	// GetOrCreate returns the conversation for (channel, contact), creating
	// it on first contact. created reports whether a new one was inserted.
	GetOrCreate(ctx context.Context, channelID, ownerID uuid.UUID, contact Contact) (conv *models.Conversation, created bool, err error)
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	List(ctx context.Context, f ConversationFilter) ([]models.Conversation, error)
	UpdateStatus(ctx context.Context, id, status string) error
	SetTags(ctx context.Context, id string, tagIDs []uuid.UUID) error
	Assign(ctx context.Context, id string, userID *uuid.UUID) error
	// RecordMessage updates preview fields; inbound messages bump the
	// unread counter and reset status to unread.
	RecordMessage(ctx context.Context, id, preview string, at time.Time, inbound bool) error
	MarkRead(ctx context.Context, id string) error
	UpdateContactStatus(ctx context.Context, channelID uuid.UUID, lineUserID, status string) error
	// UpdateContactProfile refreshes the contact's display name and picture.
	UpdateContactProfile(ctx context.Context, id, displayName, pictureURL string) error
	// ListByChannel returns every conversation of a channel.
	ListByChannel(ctx context.Context, channelID uuid.UUID) ([]models.Conversation, error)
	Delete(ctx context.Context, id string) error
}

// MessageRepository lives in the document store.
type MessageRepository interface {
	Create(ctx context.Context, m *models.Message) (*models.Message, error)
	// ListByConversation returns messages newest first, older than before
	// when before is non-empty.
	ListByConversation(ctx context.Context, conversationID, before string, limit int) ([]models.Message, error)
	MarkConversationRead(ctx context.Context, conversationID string, at time.Time) error
	DeleteByConversation(ctx context.Context, conversationID string) error
}
