package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User roles. An owner can connect channels; an admin only acts through
// grants another owner gave them.
const (
	RoleOwner = "owner"
	RoleAdmin = "admin"
)

// User account status.
const (
	UserPending   = "pending"
	UserActive    = "active"
	UserSuspended = "suspended"
)

// User is an account. Users are never hard-deleted.
//
// PasswordHash is empty for accounts created by an invitation that has not
// been claimed yet; such accounts cannot log in.
type User struct {
	ID           uuid.UUID       `json:"id"`
	Email        string          `json:"email"`
	PasswordHash string          `json:"-"`
	Name         string          `json:"name"`
	Role         string          `json:"role"`
	Status       string          `json:"status"`
	AvatarURL    string          `json:"avatar_url"`
	Settings     json.RawMessage `json:"settings,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Channel status.
const (
	ChannelActive   = "active"
	ChannelInactive = "inactive"
)

// Channel is a connected messaging-platform account owned by exactly one user.
// Nothing may be written through a channel whose status is not active.
type Channel struct {
	ID                uuid.UUID `json:"id"`
	OwnerID           uuid.UUID `json:"owner_id"`
	Name              string    `json:"name"`
	PlatformChannelID string    `json:"platform_channel_id"`
	ChannelSecret     string    `json:"-"`
	AccessToken       string    `json:"-"`
	Status            string    `json:"status"`
	PictureURL        string    `json:"picture_url"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsActive reports whether writes may go through the channel.
func (c *Channel) IsActive() bool {
	return c.Status == ChannelActive
}

// Capabilities is the set of flags a grant carries. Stored as JSONB.
type Capabilities struct {
	CanReply         bool `json:"can_reply"`
	CanViewAll       bool `json:"can_view_all"`
	CanBroadcast     bool `json:"can_broadcast"`
	CanManageTags    bool `json:"can_manage_tags"`
	CanManageChannel bool `json:"can_manage_channel"`
}

// Union returns the flags set in either c or o.
func (c Capabilities) Union(o Capabilities) Capabilities {
	return Capabilities{
		CanReply:         c.CanReply || o.CanReply,
		CanViewAll:       c.CanViewAll || o.CanViewAll,
		CanBroadcast:     c.CanBroadcast || o.CanBroadcast,
		CanManageTags:    c.CanManageTags || o.CanManageTags,
		CanManageChannel: c.CanManageChannel || o.CanManageChannel,
	}
}

// AllCapabilities is what an owner implicitly holds on their own channels.
func AllCapabilities() Capabilities {
	return Capabilities{
		CanReply:         true,
		CanViewAll:       true,
		CanBroadcast:     true,
		CanManageTags:    true,
		CanManageChannel: true,
	}
}

// Grant status.
const (
	GrantPending = "pending"
	GrantActive  = "active"
	GrantRevoked = "revoked"
)

// PermissionGrant delegates some of an owner's capabilities to an admin.
//
// ChannelID nil means the grant covers every channel of the owner.
// AdminID is nil until the invitation is accepted, unless the invitee
// already had an account when the invite was created.
type PermissionGrant struct {
	ID              uuid.UUID    `json:"id"`
	OwnerID         uuid.UUID    `json:"owner_id"`
	AdminID         *uuid.UUID   `json:"admin_id"`
	ChannelID       *uuid.UUID   `json:"channel_id"`
	Permissions     Capabilities `json:"permissions"`
	Status          string       `json:"status"`
	InviteEmail     string       `json:"invite_email"`
	InviteToken     string       `json:"-"`
	InviteExpiresAt *time.Time   `json:"invite_expires_at,omitempty"`
	InvitedAt       time.Time    `json:"invited_at"`
	AcceptedAt      *time.Time   `json:"accepted_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// SameScope reports whether the grant applies to exactly the given scope.
func (g *PermissionGrant) SameScope(channelID *uuid.UUID) bool {
	if g.ChannelID == nil || channelID == nil {
		return g.ChannelID == nil && channelID == nil
	}
	return *g.ChannelID == *channelID
}

// Conversation status.
const (
	ConversationUnread     = "unread"
	ConversationRead       = "read"
	ConversationProcessing = "processing"
	ConversationCompleted  = "completed"
	ConversationSpam       = "spam"
)

// ValidConversationStatus reports whether s is a known conversation status.
func ValidConversationStatus(s string) bool {
	switch s {
	case ConversationUnread, ConversationRead, ConversationProcessing, ConversationCompleted, ConversationSpam:
		return true
	}
	return false
}

// Contact source types and follow states, as reported by the platform.
const (
	SourceUser  = "user"
	SourceGroup = "group"
	SourceRoom  = "room"

	ContactFollowed   = "followed"
	ContactUnfollowed = "unfollowed"
	ContactBlocked    = "blocked"
)

// Conversation is the thread between a channel and one platform contact.
// It lives in the document store; ID is an ObjectID hex string.
type Conversation struct {
	ID            string      `json:"id"`
	ChannelID     uuid.UUID   `json:"channel_id"`
	OwnerID       uuid.UUID   `json:"owner_id"`
	LineUserID    string      `json:"line_user_id"`
	DisplayName   string      `json:"display_name"`
	PictureURL    string      `json:"picture_url"`
	SourceType    string      `json:"source_type"`
	ContactStatus string      `json:"contact_status"`
	Status        string      `json:"status"`
	UnreadCount   int         `json:"unread_count"`
	LastMessage   string      `json:"last_message"`
	LastMessageAt *time.Time  `json:"last_message_at"`
	TagIDs        []uuid.UUID `json:"tag_ids"`
	AssignedTo    *uuid.UUID  `json:"assigned_to"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// HasAnyTag reports whether the conversation carries at least one of ids.
func (c *Conversation) HasAnyTag(ids []uuid.UUID) bool {
	for _, want := range ids {
		for _, have := range c.TagIDs {
			if want == have {
				return true
			}
		}
	}
	return false
}

// Message direction and content types.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"

	MessageText    = "text"
	MessageImage   = "image"
	MessageSticker = "sticker"
	MessageFile    = "file"
)

// Message is one unit inside a conversation. Only the read-state fields
// ever change after creation.
type Message struct {
	ID                string     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	ChannelID         uuid.UUID  `json:"channel_id"`
	Direction         string     `json:"direction"`
	Type              string     `json:"type"`
	Text              string     `json:"text"`
	MediaURL          string     `json:"media_url,omitempty"`
	PlatformMessageID string     `json:"platform_message_id,omitempty"`
	SentBy            *uuid.UUID `json:"sent_by,omitempty"`
	IsRead            bool       `json:"is_read"`
	ReadAt            *time.Time `json:"read_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Tag is a label owned by an owner (never by an admin).
type Tag struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// QuickReply is a canned response owned by an owner.
type QuickReply struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Broadcast status.
const (
	BroadcastDraft     = "draft"
	BroadcastScheduled = "scheduled"
	BroadcastSending   = "sending"
	BroadcastCompleted = "completed"
	BroadcastFailed    = "failed"
	BroadcastCancelled = "cancelled"
)

// Broadcast target types.
const (
	TargetAll  = "all"
	TargetTags = "tags"
)

type BroadcastContent struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url,omitempty"`
}

type BroadcastTarget struct {
	Type   string      `json:"type"`
	TagIDs []uuid.UUID `json:"tag_ids,omitempty"`
}

// Broadcast is a bulk send job scoped to one channel.
type Broadcast struct {
	ID          uuid.UUID        `json:"id"`
	ChannelID   uuid.UUID        `json:"channel_id"`
	CreatedBy   uuid.UUID        `json:"created_by"`
	Name        string           `json:"name"`
	Content     BroadcastContent `json:"content"`
	Target      BroadcastTarget  `json:"target"`
	Status      string           `json:"status"`
	ScheduledAt *time.Time       `json:"scheduled_at,omitempty"`
	TargetCount int              `json:"target_count"`
	SentCount   int              `json:"sent_count"`
	FailedCount int              `json:"failed_count"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Editable reports whether the broadcast has not been dispatched yet.
func (b *Broadcast) Editable() bool {
	return b.Status == BroadcastDraft || b.Status == BroadcastScheduled
}

// Recipient status.
const (
	RecipientPending = "pending"
	RecipientSent    = "sent"
	RecipientFailed  = "failed"
)

// BroadcastRecipient tracks the outcome of one targeted contact.
type BroadcastRecipient struct {
	ID             uuid.UUID  `json:"id"`
	BroadcastID    uuid.UUID  `json:"broadcast_id"`
	ConversationID string     `json:"conversation_id"`
	LineUserID     string     `json:"line_user_id"`
	Status         string     `json:"status"`
	Error          string     `json:"error,omitempty"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
}
