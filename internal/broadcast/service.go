// Package broadcast manages bulk send jobs on a channel.
//
// A broadcast is created as a draft (or scheduled), dispatched exactly once
// and ends completed or failed with per-recipient outcomes. Dispatch begins
// with a single conditional status write, so two concurrent sends of the
// same broadcast cannot both run.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/access"
	"github.com/lalith-99/linedesk/internal/apperr"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/notify"
	"github.com/lalith-99/linedesk/internal/platform"
	"github.com/lalith-99/linedesk/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Notifier is the slice of the notification registry used here.
type Notifier interface {
	Publish(ctx context.Context, userID uuid.UUID, ev notify.Event)
}

type Service struct {
	broadcasts    repository.BroadcastRepository
	channels      repository.ChannelRepository
	conversations repository.ConversationRepository
	resolver      *access.Resolver
	platform      platform.Client
	notifier      Notifier
	logger        *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time

	inflight sync.WaitGroup
}

func NewService(
	broadcasts repository.BroadcastRepository,
	channels repository.ChannelRepository,
	conversations repository.ConversationRepository,
	resolver *access.Resolver,
	client platform.Client,
	notifier Notifier,
	logger *zap.Logger,
) *Service {
	return &Service{
		broadcasts:    broadcasts,
		channels:      channels,
		conversations: conversations,
		resolver:      resolver,
		platform:      client,
		notifier:      notifier,
		logger:        logger,
		tracer:        otel.Tracer("linedesk/broadcast"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type Input struct {
	ChannelID   uuid.UUID               `json:"channel_id"`
	Name        string                  `json:"name"`
	Content     models.BroadcastContent `json:"content"`
	Target      models.BroadcastTarget  `json:"target"`
	ScheduledAt *time.Time              `json:"scheduled_at"`
}

func (s *Service) validate(in *Input) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.InvalidArg("name is required")
	}
	if strings.TrimSpace(in.Content.Text) == "" && in.Content.ImageURL == "" {
		return apperr.InvalidArg("content needs text or an image")
	}
	switch in.Target.Type {
	case "", models.TargetAll:
		in.Target = models.BroadcastTarget{Type: models.TargetAll}
	case models.TargetTags:
		if len(in.Target.TagIDs) == 0 {
			return apperr.InvalidArg("target tags are required")
		}
	default:
		return apperr.InvalidArg("target type must be all or tags")
	}
	if in.ScheduledAt != nil && !in.ScheduledAt.After(s.now()) {
		return apperr.InvalidArg("scheduled_at must be in the future")
	}
	return nil
}

func statusFor(in *Input) string {
	if in.ScheduledAt != nil {
		return models.BroadcastScheduled
	}
	return models.BroadcastDraft
}

// authorize resolves the broadcast and checks the caller may broadcast on
// its channel. Callers without any access see NotFound.
func (s *Service) authorize(ctx context.Context, userID, id uuid.UUID) (*models.Broadcast, *access.Grant, error) {
	b, err := s.broadcasts.GetByID(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get broadcast: %w", err)
	}
	if b == nil {
		return nil, nil, apperr.ErrBroadcastNotFound
	}
	g, err := s.resolver.Authorize(ctx, userID, b.ChannelID, access.CapBroadcast)
	if err != nil {
		if errors.Is(err, apperr.ErrChannelNotFound) {
			return nil, nil, apperr.ErrBroadcastNotFound
		}
		return nil, nil, err
	}
	return b, g, nil
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, in Input) (*models.Broadcast, error) {
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	if _, err := s.resolver.Authorize(ctx, userID, in.ChannelID, access.CapBroadcast); err != nil {
		return nil, err
	}
	b, err := s.broadcasts.Create(ctx, &models.Broadcast{
		ChannelID:   in.ChannelID,
		CreatedBy:   userID,
		Name:        in.Name,
		Content:     in.Content,
		Target:      in.Target,
		Status:      statusFor(&in),
		ScheduledAt: in.ScheduledAt,
	})
	if err != nil {
		return nil, fmt.Errorf("create broadcast: %w", err)
	}
	return b, nil
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*models.Broadcast, error) {
	b, _, err := s.authorize(ctx, userID, id)
	return b, err
}

// List returns broadcasts of one channel, or of every channel where the
// caller may broadcast when channelID is nil.
func (s *Service) List(ctx context.Context, userID uuid.UUID, channelID *uuid.UUID) ([]models.Broadcast, error) {
	var ids []uuid.UUID
	if channelID != nil {
		if _, err := s.resolver.Authorize(ctx, userID, *channelID, access.CapBroadcast); err != nil {
			return nil, err
		}
		ids = []uuid.UUID{*channelID}
	} else {
		list, err := s.resolver.AccessibleChannels(ctx, userID)
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			if a.IsOwner || a.Capabilities.CanBroadcast {
				ids = append(ids, a.Channel.ID)
			}
		}
	}
	if len(ids) == 0 {
		return []models.Broadcast{}, nil
	}
	out, err := s.broadcasts.ListByChannels(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, userID, id uuid.UUID, in Input) (*models.Broadcast, error) {
	b, _, err := s.authorize(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	in.ChannelID = b.ChannelID
	if err := s.validate(&in); err != nil {
		return nil, err
	}
	if !b.Editable() {
		return nil, apperr.ErrBroadcastLock
	}
	b.Name = in.Name
	b.Content = in.Content
	b.Target = in.Target
	b.ScheduledAt = in.ScheduledAt
	b.Status = statusFor(&in)

	updated, err := s.broadcasts.Update(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("update broadcast: %w", err)
	}
	if updated == nil {
		// Dispatched between the read and the write.
		return nil, apperr.ErrBroadcastLock
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	b, _, err := s.authorize(ctx, userID, id)
	if err != nil {
		return err
	}
	if b.Status == models.BroadcastSending {
		return apperr.ErrBroadcastLock
	}
	if err := s.broadcasts.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete broadcast: %w", err)
	}
	return nil
}

func (s *Service) Recipients(ctx context.Context, userID, id uuid.UUID) ([]models.BroadcastRecipient, error) {
	if _, _, err := s.authorize(ctx, userID, id); err != nil {
		return nil, err
	}
	out, err := s.broadcasts.ListRecipients(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return out, nil
}

// Cancel moves a draft or scheduled broadcast to cancelled.
func (s *Service) Cancel(ctx context.Context, userID, id uuid.UUID) (*models.Broadcast, error) {
	if _, _, err := s.authorize(ctx, userID, id); err != nil {
		return nil, err
	}
	ok, err := s.broadcasts.Cancel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cancel broadcast: %w", err)
	}
	if !ok {
		return nil, apperr.ErrBroadcastLock
	}
	return s.broadcasts.GetByID(ctx, id)
}

// Wait blocks until every dispatch started by this service has finished
// or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
