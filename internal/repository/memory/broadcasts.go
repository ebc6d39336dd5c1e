package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
	"github.com/lalith-99/linedesk/internal/repository"
)

type BroadcastStore struct {
	mu         sync.RWMutex
	broadcasts map[uuid.UUID]models.Broadcast
	recipients map[uuid.UUID]models.BroadcastRecipient
}

func NewBroadcastStore() *BroadcastStore {
	return &BroadcastStore{
		broadcasts: make(map[uuid.UUID]models.Broadcast),
		recipients: make(map[uuid.UUID]models.BroadcastRecipient),
	}
}

func (s *BroadcastStore) Create(_ context.Context, in *models.Broadcast) (*models.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	b := *in
	b.ID = uuid.New()
	b.CreatedAt = now
	b.UpdatedAt = now
	s.broadcasts[b.ID] = b
	return &b, nil
}

func (s *BroadcastStore) GetByID(_ context.Context, id uuid.UUID) (*models.Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (s *BroadcastStore) ListByChannels(_ context.Context, channelIDs []uuid.UUID) ([]models.Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(channelIDs))
	for _, id := range channelIDs {
		want[id] = true
	}
	out := make([]models.Broadcast, 0)
	for _, b := range s.broadcasts {
		if want[b.ChannelID] {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *BroadcastStore) Update(_ context.Context, in *models.Broadcast) (*models.Broadcast, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[in.ID]
	if !ok || !b.Editable() {
		return nil, nil
	}
	b.Name = in.Name
	b.Content = in.Content
	b.Target = in.Target
	b.Status = in.Status
	b.ScheduledAt = in.ScheduledAt
	b.UpdatedAt = time.Now().UTC()
	s.broadcasts[b.ID] = b
	return &b, nil
}

func (s *BroadcastStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.broadcasts, id)
	for rid, r := range s.recipients {
		if r.BroadcastID == id {
			delete(s.recipients, rid)
		}
	}
	return nil
}

func (s *BroadcastStore) transition(id uuid.UUID, to string, apply func(b *models.Broadcast)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok || !b.Editable() {
		return false
	}
	b.Status = to
	if apply != nil {
		apply(&b)
	}
	b.UpdatedAt = time.Now().UTC()
	s.broadcasts[id] = b
	return true
}

func (s *BroadcastStore) MarkSending(_ context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	return s.transition(id, models.BroadcastSending, func(b *models.Broadcast) {
		at := startedAt
		b.StartedAt = &at
	}), nil
}

func (s *BroadcastStore) Cancel(_ context.Context, id uuid.UUID) (bool, error) {
	return s.transition(id, models.BroadcastCancelled, nil), nil
}

func (s *BroadcastStore) Finish(_ context.Context, id uuid.UUID, res repository.BroadcastResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.broadcasts[id]
	if !ok {
		return nil
	}
	b.Status = res.Status
	b.TargetCount = res.TargetCount
	b.SentCount = res.SentCount
	b.FailedCount = res.FailedCount
	at := res.CompletedAt
	b.CompletedAt = &at
	b.UpdatedAt = time.Now().UTC()
	s.broadcasts[id] = b
	return nil
}

func (s *BroadcastStore) ListDue(_ context.Context, now time.Time) ([]models.Broadcast, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Broadcast, 0)
	for _, b := range s.broadcasts {
		if b.Status == models.BroadcastScheduled && b.ScheduledAt != nil && !b.ScheduledAt.After(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(*out[j].ScheduledAt) })
	return out, nil
}

func (s *BroadcastStore) InsertRecipients(_ context.Context, recipients []models.BroadcastRecipient) ([]models.BroadcastRecipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BroadcastRecipient, 0, len(recipients))
	for _, r := range recipients {
		r.ID = uuid.New()
		s.recipients[r.ID] = r
		out = append(out, r)
	}
	return out, nil
}

func (s *BroadcastStore) UpdateRecipient(_ context.Context, id uuid.UUID, status, errText string, sentAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.recipients[id]; ok {
		r.Status = status
		r.Error = errText
		r.SentAt = sentAt
		s.recipients[id] = r
	}
	return nil
}

func (s *BroadcastStore) ListRecipients(_ context.Context, broadcastID uuid.UUID) ([]models.BroadcastRecipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.BroadcastRecipient, 0)
	for _, r := range s.recipients {
		if r.BroadcastID == broadcastID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LineUserID < out[j].LineUserID })
	return out, nil
}
