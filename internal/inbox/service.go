// Package inbox turns platform webhooks into conversations and messages,
// and carries the agent-side actions on a conversation: reply, read,
// status, tags, assignment and deletion.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/notify"
	"github.com/lalith-99/linedesk/internal/platform"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
	maxReplyLength  = 5000
)

type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, ev notify.Event)
}

type Service struct {
	channels      repository.ChannelRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	tags          repository.TagRepository
	grants        repository.PermissionRepository
	resolver      *access.Resolver
	platform      platform.Client
	notifier      Notifier
	logger        *zap.Logger
	now           func() time.Time
}

func NewService(
	channels repository.ChannelRepository,
	conversations repository.ConversationRepository,
	messages repository.MessageRepository,
	tags repository.TagRepository,
	grants repository.PermissionRepository,
	resolver *access.Resolver,
	client platform.Client,
	notifier Notifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		channels:      channels,
		conversations: conversations,
		messages:      messages,
		tags:          tags,
		grants:        grants,
		resolver:      resolver,
		platform:      client,
		notifier:      notifier,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// conversation loads a conversation and checks c on its channel. Callers
// with no grant on the channel get NotFound. can_view_all only narrows
// List; any covering grant with c reaches a conversation by id.
func (s *Service) conversation(ctx context.Context, userID uuid.UUID, id string, c access.Capability, write bool) (*models.Conversation, *access.Grant, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, nil, apperr.ErrConversationNotFound
	}

	authorize := s.resolver.Authorize
	if write {
		authorize = s.resolver.AuthorizeWrite
	}
	g, err := authorize(ctx, userID, conv.ChannelID, c)
	if err != nil {
		if errors.Is(err, apperr.ErrChannelNotFound) {
			return nil, nil, apperr.ErrConversationNotFound
		}
		return nil, nil, err
	}
	return conv, g, nil
}

func (s *Service) Get(ctx context.Context, userID uuid.UUID, id string) (*models.Conversation, error) {
	conv, _, err := s.conversation(ctx, userID, id, access.CapView, false)
	return conv, err
}

type ListInput struct {
	ChannelID *uuid.UUID
	Status    string
	TagID     *uuid.UUID
	Search    string
	Before    *time.Time
	Limit     int
}

// List returns conversations across every channel the caller can see,
// newest activity first. On channels where the caller lacks can_view_all
// only conversations assigned to them are included.
func (s *Service) List(ctx context.Context, userID uuid.UUID, in ListInput) ([]models.Conversation, error) {
	if in.Status != "" && !models.ValidConversationStatus(in.Status) {
		return nil, apperr.InvalidArg("unknown conversation status")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	channels, err := s.resolver.AccessibleChannels(ctx, userID)
	if err != nil {
		return nil, err
	}
	var all, assigned []uuid.UUID
	for _, a := range channels {
		if in.ChannelID != nil && a.Channel.ID != *in.ChannelID {
			continue
		}
		if a.IsOwner || a.Capabilities.CanViewAll {
			all = append(all, a.Channel.ID)
		} else {
			assigned = append(assigned, a.Channel.ID)
		}
	}
	if in.ChannelID != nil && len(all)+len(assigned) == 0 {
		return nil, apperr.ErrChannelNotFound
	}

	base := repository.ConversationFilter{
		Status: in.Status,
		TagID:  in.TagID,
		Search: strings.TrimSpace(in.Search),
		Before: in.Before,
		Limit:  limit,
	}
	out := make([]models.Conversation, 0)
	if len(all) > 0 {
		f := base
		f.ChannelIDs = all
		list, err := s.conversations.List(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		out = append(out, list...)
	}
	if len(assigned) > 0 {
		f := base
		f.ChannelIDs = assigned
		f.AssignedTo = &userID
		list, err := s.conversations.List(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("list assigned conversations: %w", err)
		}
		out = append(out, list...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Messages pages a conversation's messages, newest first.
func (s *Service) Messages(ctx context.Context, userID uuid.UUID, id, before string, limit int) ([]models.Message, error) {
	if _, _, err := s.conversation(ctx, userID, id, access.CapView, false); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	out, err := s.messages.ListByConversation(ctx, id, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

type ReplyInput struct {
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

// Reply pushes a message to the contact and records it. The channel must
// be active and the caller must hold can_reply.
func (s *Service) Reply(ctx context.Context, userID uuid.UUID, id string, in ReplyInput) (*models.Message, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" && in.ImageURL == "" {
		return nil, apperr.InvalidArg("message text is required")
	}
	if len([]rune(in.Text)) > maxReplyLength {
		return nil, apperr.InvalidArg("message is too long")
	}

	conv, g, err := s.conversation(ctx, userID, id, access.CapReply, true)
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		ConversationID: conv.ID,
		ChannelID:      conv.ChannelID,
		Direction:      models.DirectionOutbound,
		Type:           models.MessageText,
		Text:           in.Text,
		SentBy:         &userID,
		IsRead:         true,
	}
	var push platform.Message
	if in.ImageURL != "" {
		msg.Type = models.MessageImage
		msg.MediaURL = in.ImageURL
		push = platform.ImageMessage(in.ImageURL)
	} else {
		push = platform.TextMessage(in.Text)
	}

	if err := s.platform.Push(ctx, g.Channel.AccessToken, conv.LineUserID, push); err != nil {
		return nil, fmt.Errorf("push reply: %w", err)
	}

	now := s.now()
	msg.CreatedAt = now
	saved, err := s.messages.Create(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("store reply: %w", err)
	}
	if err := s.conversations.RecordMessage(ctx, conv.ID, preview(saved), now, false); err != nil {
		return nil, fmt.Errorf("record reply: %w", err)
	}

	s.publish(ctx, g.Channel, conv, notify.EventConversationUpdated, messageEvent{
		ConversationID: conv.ID,
		ChannelID:      conv.ChannelID,
		Message:        saved,
	})
	return saved, nil
}

func (s *Service) MarkRead(ctx context.Context, userID uuid.UUID, id string) error {
	conv, g, err := s.conversation(ctx, userID, id, access.CapView, false)
	if err != nil {
		return err
	}
	if err := s.messages.MarkConversationRead(ctx, conv.ID, s.now()); err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	if err := s.conversations.MarkRead(ctx, conv.ID); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	s.publishUpdated(ctx, g.Channel, conv.ID)
	return nil
}

// SetStatus changes the workflow status. It needs can_reply.
func (s *Service) SetStatus(ctx context.Context, userID uuid.UUID, id, status string) (*models.Conversation, error) {
	if !models.ValidConversationStatus(status) {
		return nil, apperr.InvalidArg("unknown conversation status")
	}
	conv, g, err := s.conversation(ctx, userID, id, access.CapReply, false)
	if err != nil {
		return nil, err
	}
	if err := s.conversations.UpdateStatus(ctx, conv.ID, status); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	return s.publishUpdated(ctx, g.Channel, conv.ID)
}

// SetTags replaces the conversation's tags. Every tag must belong to the
// channel's owner.
func (s *Service) SetTags(ctx context.Context, userID uuid.UUID, id string, tagIDs []uuid.UUID) (*models.Conversation, error) {
	conv, g, err := s.conversation(ctx, userID, id, access.CapManageTags, false)
	if err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]bool, len(tagIDs))
	ids := make([]uuid.UUID, 0, len(tagIDs))
	for _, tid := range tagIDs {
		if seen[tid] {
			continue
		}
		seen[tid] = true
		t, err := s.tags.GetByID(ctx, tid)
		if err != nil {
			return nil, fmt.Errorf("get tag: %w", err)
		}
		if t == nil || t.OwnerID != g.Channel.OwnerID {
			return nil, apperr.ErrTagNotFound
		}
		ids = append(ids, tid)
	}
	if err := s.conversations.SetTags(ctx, conv.ID, ids); err != nil {
		return nil, fmt.Errorf("set tags: %w", err)
	}
	return s.publishUpdated(ctx, g.Channel, conv.ID)
}

// Assign hands the conversation to assignee, or clears it when nil. The
// assignee must be able to see the channel.
func (s *Service) Assign(ctx context.Context, userID uuid.UUID, id string, assignee *uuid.UUID) (*models.Conversation, error) {
	conv, g, err := s.conversation(ctx, userID, id, access.CapManageChannel, false)
	if err != nil {
		return nil, err
	}
	if assignee != nil {
		if _, err := s.resolver.Authorize(ctx, *assignee, conv.ChannelID, access.CapView); err != nil {
			if errors.Is(err, apperr.ErrChannelNotFound) {
				return nil, apperr.InvalidArg("assignee has no access to this channel")
			}
			return nil, err
		}
	}
	if err := s.conversations.Assign(ctx, conv.ID, assignee); err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}
	return s.publishUpdated(ctx, g.Channel, conv.ID)
}

// Delete removes a conversation and its messages. Owner only.
func (s *Service) Delete(ctx context.Context, userID uuid.UUID, id string) error {
	conv, _, err := s.conversation(ctx, userID, id, access.CapOwner, false)
	if err != nil {
		return err
	}
	if err := s.messages.DeleteByConversation(ctx, conv.ID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if err := s.conversations.Delete(ctx, conv.ID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

type messageEvent struct {
	ConversationID string          `json:"conversation_id"`
	ChannelID      uuid.UUID       `json:"channel_id"`
	Message        *models.Message `json:"message,omitempty"`
}

type conversationEvent struct {
	Conversation *models.Conversation `json:"conversation"`
}

func (s *Service) publishUpdated(ctx context.Context, ch *models.Channel, id string) (*models.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload conversation: %w", err)
	}
	if conv == nil {
		return nil, apperr.ErrConversationNotFound
	}
	s.publish(ctx, ch, conv, notify.EventConversationUpdated, conversationEvent{Conversation: conv})
	return conv, nil
}

// publish sends an event to everyone who can see the conversation: the
// channel owner, admins with can_view_all, and the assignee.
func (s *Service) publish(ctx context.Context, ch *models.Channel, conv *models.Conversation, typ string, data any) {
	ev, err := notify.NewEvent(typ, data)
	if err != nil {
		s.logger.Error("encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	for _, id := range s.audience(ctx, ch, conv) {
		s.notifier.Publish(ctx, id, ev)
	}
}

func (s *Service) audience(ctx context.Context, ch *models.Channel, conv *models.Conversation) []uuid.UUID {
	out := []uuid.UUID{ch.OwnerID}
	admins, err := s.grants.ListActiveAdminsForChannel(ctx, ch.ID, ch.OwnerID)
	if err != nil {
		s.logger.Warn("list channel admins", zap.String("channel_id", ch.ID.String()), zap.Error(err))
		return out
	}
	for _, id := range admins {
		if id == ch.OwnerID {
			continue
		}
		if conv.AssignedTo != nil && *conv.AssignedTo == id {
			out = append(out, id)
			continue
		}
		g, err := s.resolver.Authorize(ctx, id, ch.ID, access.CapViewAll)
		if err == nil && g.CanViewAll() {
			out = append(out, id)
		}
	}
	return out
}

func preview(m *models.Message) string {
	switch m.Type {
	case models.MessageImage:
		return "[image]"
	case models.MessageSticker:
		return "[sticker]"
	case models.MessageFile:
		return "[file]"
	}
	const max = 100
	r := []rune(m.Text)
	if len(r) > max {
		return string(r[:max])
	}
	return m.Text
}
