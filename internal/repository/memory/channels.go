package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
)

type ChannelStore struct {
	mu       sync.RWMutex
	channels map[uuid.UUID]models.Channel
}

func NewChannelStore() *ChannelStore {
	return &ChannelStore{channels: make(map[uuid.UUID]models.Channel)}
}

func (s *ChannelStore) Create(_ context.Context, in *models.Channel) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	ch := *in
	ch.ID = uuid.New()
	if ch.Status == "" {
		ch.Status = models.ChannelActive
	}
	ch.CreatedAt = now
	ch.UpdatedAt = now
	s.channels[ch.ID] = ch
	return &ch, nil
}

func (s *ChannelStore) GetByID(_ context.Context, id uuid.UUID) (*models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.channels[id]
	if !ok {
		return nil, nil
	}
	return &ch, nil
}

func newestChannelsFirst(out []models.Channel) {
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
}

func (s *ChannelStore) ListByOwners(_ context.Context, ownerIDs []uuid.UUID) ([]models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make(map[uuid.UUID]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = true
	}
	out := make([]models.Channel, 0)
	for _, ch := range s.channels {
		if owners[ch.OwnerID] {
			out = append(out, ch)
		}
	}
	newestChannelsFirst(out)
	return out, nil
}

func (s *ChannelStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]models.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Channel, 0, len(ids))
	for _, id := range ids {
		if ch, ok := s.channels[id]; ok {
			out = append(out, ch)
		}
	}
	newestChannelsFirst(out)
	return out, nil
}

func (s *ChannelStore) Update(_ context.Context, in *models.Channel) (*models.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[in.ID]
	if !ok {
		return nil, nil
	}
	ch.Name = in.Name
	ch.PlatformChannelID = in.PlatformChannelID
	ch.ChannelSecret = in.ChannelSecret
	ch.AccessToken = in.AccessToken
	ch.PictureURL = in.PictureURL
	ch.UpdatedAt = time.Now().UTC()
	s.channels[ch.ID] = ch
	return &ch, nil
}

func (s *ChannelStore) UpdateStatus(_ context.Context, id uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.channels[id]; ok {
		ch.Status = status
		ch.UpdatedAt = time.Now().UTC()
		s.channels[id] = ch
	}
	return nil
}

func (s *ChannelStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.channels, id)
	return nil
}
