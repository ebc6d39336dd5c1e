package inbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/notify"
	"github.com/lalith-99/linedesk/internal/observ"
	"github.com/lalith-99/linedesk/internal/platform"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.uber.org/zap"
)

// HandleWebhook verifies and applies one webhook delivery for a channel.
//
// A bad signature is Unauthorized. An inactive channel refuses the
// delivery. Individual events that fail are logged and skipped so one bad
// event does not make the platform redeliver the whole batch.
func (s *Service) HandleWebhook(ctx context.Context, channelID uuid.UUID, signature string, body []byte) error {
	ch, err := s.channels.GetByID(ctx, channelID)
	if err != nil {
		return fmt.Errorf("get channel: %w", err)
	}
	if ch == nil {
		return apperr.ErrChannelNotFound
	}
	if !platform.VerifySignature(ch.ChannelSecret, signature, body) {
		return apperr.ErrInvalidSignature
	}
	if !ch.IsActive() {
		return apperr.ErrChannelDisabled
	}

	payload, err := platform.ParseWebhook(body)
	if err != nil {
		return apperr.InvalidArg("malformed webhook body")
	}

	log := s.logger.With(zap.String("channel_id", ch.ID.String()))
	for i := range payload.Events {
		ev := &payload.Events[i]
		observ.WebhookEventsTotal.WithLabelValues(ev.Type).Inc()

		var err error
		switch ev.Type {
		case platform.EventMessage:
			err = s.handleMessage(ctx, ch, ev)
		case platform.EventFollow:
			err = s.handleFollow(ctx, ch, ev)
		case platform.EventUnfollow:
			err = s.conversations.UpdateContactStatus(ctx, ch.ID, contactID(ev.Source), models.ContactUnfollowed)
		default:
			log.Debug("ignoring webhook event", zap.String("type", ev.Type))
		}
		if err != nil {
			log.Error("webhook event failed", zap.String("type", ev.Type), zap.Error(err))
		}
	}
	return nil
}

// contactID is the id a conversation is keyed by: the group or room for
// group chats, otherwise the user.
func contactID(src platform.Source) string {
	switch src.Type {
	case models.SourceGroup:
		return src.GroupID
	case models.SourceRoom:
		return src.RoomID
	}
	return src.UserID
}

// contact finds or creates the conversation for the event's source. On
// first contact with a user the profile is fetched so the inbox can show
// a name and picture.
func (s *Service) contact(ctx context.Context, ch *models.Channel, src platform.Source) (*models.Conversation, error) {
	id := contactID(src)
	if id == "" {
		return nil, fmt.Errorf("event without source id")
	}
	sourceType := src.Type
	if sourceType == "" {
		sourceType = models.SourceUser
	}
	conv, created, err := s.conversations.GetOrCreate(ctx, ch.ID, ch.OwnerID, repository.Contact{
		LineUserID: id,
		SourceType: sourceType,
	})
	if err != nil {
		return nil, fmt.Errorf("get or create conversation: %w", err)
	}
	if !created || sourceType != models.SourceUser {
		return conv, nil
	}

	profile, err := s.platform.GetProfile(ctx, ch.AccessToken, id)
	if err != nil {
		// The conversation is still usable without a name.
		s.logger.Warn("fetch contact profile", zap.String("line_user_id", id), zap.Error(err))
		return conv, nil
	}
	if err := s.conversations.UpdateContactProfile(ctx, conv.ID, profile.DisplayName, profile.PictureURL); err != nil {
		return nil, fmt.Errorf("store contact profile: %w", err)
	}
	conv.DisplayName = profile.DisplayName
	conv.PictureURL = profile.PictureURL
	return conv, nil
}

func (s *Service) handleFollow(ctx context.Context, ch *models.Channel, ev *platform.Event) error {
	if _, err := s.contact(ctx, ch, ev.Source); err != nil {
		return err
	}
	return s.conversations.UpdateContactStatus(ctx, ch.ID, contactID(ev.Source), models.ContactFollowed)
}

func inboundMessage(body *platform.EventMessageBody) (msgType, text string) {
	switch body.Type {
	case "text":
		return models.MessageText, body.Text
	case "image":
		return models.MessageImage, ""
	case "sticker":
		return models.MessageSticker, ""
	case "file":
		return models.MessageFile, body.FileName
	}
	return models.MessageText, "[" + body.Type + "]"
}

func (s *Service) handleMessage(ctx context.Context, ch *models.Channel, ev *platform.Event) error {
	if ev.Message == nil {
		return fmt.Errorf("message event without message")
	}
	conv, err := s.contact(ctx, ch, ev.Source)
	if err != nil {
		return err
	}

	msgType, text := inboundMessage(ev.Message)
	at := ev.Time()
	saved, err := s.messages.Create(ctx, &models.Message{
		ConversationID:    conv.ID,
		ChannelID:         ch.ID,
		Direction:         models.DirectionInbound,
		Type:              msgType,
		Text:              text,
		PlatformMessageID: ev.Message.ID,
		CreatedAt:         at,
	})
	if err != nil {
		return fmt.Errorf("store message: %w", err)
	}
	if err := s.conversations.RecordMessage(ctx, conv.ID, preview(saved), at, true); err != nil {
		return fmt.Errorf("record message: %w", err)
	}

	s.publish(ctx, ch, conv, notify.EventNewMessage, messageEvent{
		ConversationID: conv.ID,
		ChannelID:      ch.ID,
		Message:        saved,
	})
	return nil
}
