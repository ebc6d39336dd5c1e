package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/notify"
	"github.com/lalith-99/linedesk/internal/observ"
	"github.com/lalith-99/linedesk/internal/platform"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Send dispatches a broadcast on behalf of userID.
//
// The channel must be active and the caller must hold can_broadcast. The
// draft|scheduled → sending write happens before any delivery work; if it
// does not apply, someone else already dispatched the broadcast and
// ErrBroadcastBusy is returned. Delivery continues in the background after
// the request returns.
func (s *Service) Send(ctx context.Context, userID, id uuid.UUID) (*models.Broadcast, error) {
	ctx, span := s.tracer.Start(ctx, "broadcast.Send", trace.WithAttributes(
		attribute.String("broadcast.id", id.String()),
		attribute.String("user.id", userID.String()),
	))
	defer span.End()

	b, err := s.broadcasts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get broadcast: %w", err)
	}
	if b == nil {
		return nil, apperr.ErrBroadcastNotFound
	}
	g, err := s.resolver.AuthorizeWrite(ctx, userID, b.ChannelID, access.CapBroadcast)
	if err != nil {
		if errors.Is(err, apperr.ErrChannelNotFound) {
			return nil, apperr.ErrBroadcastNotFound
		}
		return nil, err
	}
	return s.begin(ctx, b, g.Channel)
}

// begin performs the conditional write and starts delivery.
func (s *Service) begin(ctx context.Context, b *models.Broadcast, ch *models.Channel) (*models.Broadcast, error) {
	startedAt := s.now()
	ok, err := s.broadcasts.MarkSending(ctx, b.ID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("mark broadcast sending: %w", err)
	}
	if !ok {
		return nil, apperr.ErrBroadcastBusy
	}
	b.Status = models.BroadcastSending
	b.StartedAt = &startedAt

	s.logger.Info("broadcast dispatch started",
		zap.String("broadcast_id", b.ID.String()),
		zap.String("channel_id", ch.ID.String()),
	)

	job := *b
	channel := *ch
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.deliver(context.WithoutCancel(ctx), &job, &channel)
	}()
	return b, nil
}

// Eligible reports whether a conversation may receive a broadcast.
func Eligible(c *models.Conversation, b *models.Broadcast) bool {
	if c.ChannelID != b.ChannelID || c.SourceType != models.SourceUser {
		return false
	}
	if c.ContactStatus == models.ContactUnfollowed || c.ContactStatus == models.ContactBlocked {
		return false
	}
	if c.Status == models.ConversationSpam || !platform.ValidUserID(c.LineUserID) {
		return false
	}
	if b.Target.Type == models.TargetTags && !c.HasAnyTag(b.Target.TagIDs) {
		return false
	}
	return true
}

func messagesFor(content models.BroadcastContent) []platform.Message {
	msgs := make([]platform.Message, 0, 2)
	if strings.TrimSpace(content.Text) != "" {
		msgs = append(msgs, platform.TextMessage(content.Text))
	}
	if content.ImageURL != "" {
		msgs = append(msgs, platform.ImageMessage(content.ImageURL))
	}
	return msgs
}

type completedEvent struct {
	BroadcastID uuid.UUID `json:"broadcast_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	TargetCount int       `json:"target_count"`
	SentCount   int       `json:"sent_count"`
	FailedCount int       `json:"failed_count"`
}

// deliver attempts every eligible recipient once, in order, and records
// the final tally.
func (s *Service) deliver(ctx context.Context, b *models.Broadcast, ch *models.Channel) {
	ctx, span := s.tracer.Start(ctx, "broadcast.deliver", trace.WithAttributes(
		attribute.String("broadcast.id", b.ID.String()),
	))
	defer span.End()

	log := s.logger.With(zap.String("broadcast_id", b.ID.String()))
	res := repository.BroadcastResult{Status: models.BroadcastFailed}

	recipients, err := s.recipients(ctx, b)
	if err != nil {
		log.Error("resolve broadcast recipients", zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		s.finish(ctx, b, res)
		return
	}
	res.TargetCount = len(recipients)

	msgs := messagesFor(b.Content)
	for _, r := range recipients {
		pushErr := s.platform.Push(ctx, ch.AccessToken, r.LineUserID, msgs...)
		if pushErr != nil {
			res.FailedCount++
			observ.BroadcastRecipientsTotal.WithLabelValues("failed").Inc()
			if err := s.broadcasts.UpdateRecipient(ctx, r.ID, models.RecipientFailed, pushErr.Error(), nil); err != nil {
				log.Warn("record failed recipient", zap.Error(err))
			}
			continue
		}
		res.SentCount++
		observ.BroadcastRecipientsTotal.WithLabelValues("sent").Inc()
		sentAt := s.now()
		if err := s.broadcasts.UpdateRecipient(ctx, r.ID, models.RecipientSent, "", &sentAt); err != nil {
			log.Warn("record sent recipient", zap.Error(err))
		}
	}

	if res.TargetCount == 0 || res.SentCount > 0 {
		res.Status = models.BroadcastCompleted
	}
	s.finish(ctx, b, res)
	log.Info("broadcast dispatch finished",
		zap.String("status", res.Status),
		zap.Int("target", res.TargetCount),
		zap.Int("sent", res.SentCount),
		zap.Int("failed", res.FailedCount),
	)
}

func (s *Service) recipients(ctx context.Context, b *models.Broadcast) ([]models.BroadcastRecipient, error) {
	convs, err := s.conversations.ListByChannel(ctx, b.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	pending := make([]models.BroadcastRecipient, 0, len(convs))
	seen := make(map[string]bool, len(convs))
	for i := range convs {
		c := &convs[i]
		if !Eligible(c, b) || seen[c.LineUserID] {
			continue
		}
		seen[c.LineUserID] = true
		pending = append(pending, models.BroadcastRecipient{
			BroadcastID:    b.ID,
			ConversationID: c.ID,
			LineUserID:     c.LineUserID,
			Status:         models.RecipientPending,
		})
	}
	if len(pending) == 0 {
		return pending, nil
	}
	stored, err := s.broadcasts.InsertRecipients(ctx, pending)
	if err != nil {
		return nil, fmt.Errorf("insert recipients: %w", err)
	}
	return stored, nil
}

func (s *Service) finish(ctx context.Context, b *models.Broadcast, res repository.BroadcastResult) {
	res.CompletedAt = s.now()
	if err := s.broadcasts.Finish(ctx, b.ID, res); err != nil {
		s.logger.Error("finish broadcast", zap.String("broadcast_id", b.ID.String()), zap.Error(err))
	}
	ev, err := notify.NewEvent(notify.EventBroadcastCompleted, completedEvent{
		BroadcastID: b.ID,
		Name:        b.Name,
		Status:      res.Status,
		TargetCount: res.TargetCount,
		SentCount:   res.SentCount,
		FailedCount: res.FailedCount,
	})
	if err == nil {
		s.notifier.Publish(ctx, b.CreatedBy, ev)
	}
}

// dispatchDue starts one scheduled broadcast. A disabled or missing
// channel fails the broadcast instead of leaving it to be picked up again.
func (s *Service) dispatchDue(ctx context.Context, b *models.Broadcast) error {
	ch, err := s.channels.GetByID(ctx, b.ChannelID)
	if err != nil {
		return fmt.Errorf("get channel: %w", err)
	}
	if ch != nil && ch.IsActive() {
		_, err := s.begin(ctx, b, ch)
		return err
	}

	ok, err := s.broadcasts.MarkSending(ctx, b.ID, s.now())
	if err != nil || !ok {
		return err
	}
	s.logger.Warn("scheduled broadcast on disabled channel",
		zap.String("broadcast_id", b.ID.String()),
		zap.String("channel_id", b.ChannelID.String()),
	)
	s.finish(ctx, b, repository.BroadcastResult{Status: models.BroadcastFailed})
	return nil
}

// Scheduler starts scheduled broadcasts once they are due.
type Scheduler struct {
	svc      *Service
	interval time.Duration
	logger   *zap.Logger
}

func NewScheduler(svc *Service, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{svc: svc, interval: interval, logger: logger}
}

// Run polls until ctx ends.
func (sc *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sc.Tick(ctx)
		}
	}
}

// Tick dispatches everything due now. Overlapping ticks on several
// instances are harmless: only one wins each conditional write.
func (sc *Scheduler) Tick(ctx context.Context) {
	due, err := sc.svc.broadcasts.ListDue(ctx, sc.svc.now())
	if err != nil {
		sc.logger.Error("list due broadcasts", zap.Error(err))
		return
	}
	for i := range due {
		b := due[i]
		if err := sc.svc.dispatchDue(ctx, &b); err != nil && !errors.Is(err, apperr.ErrBroadcastBusy) {
			sc.logger.Error("dispatch scheduled broadcast",
				zap.String("broadcast_id", b.ID.String()), zap.Error(err))
		}
	}
}
