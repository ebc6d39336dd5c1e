package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
)

type TagStore struct {
	mu   sync.RWMutex
	tags map[uuid.UUID]models.Tag
}

func NewTagStore() *TagStore {
	return &TagStore{tags: make(map[uuid.UUID]models.Tag)}
}

func (s *TagStore) Create(_ context.Context, in *models.Tag) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tags {
		if t.OwnerID == in.OwnerID && strings.EqualFold(t.Name, in.Name) {
			return nil, errDuplicate("uq_tags_owner_name")
		}
	}
	t := *in
	t.ID = uuid.New()
	t.CreatedAt = time.Now().UTC()
	s.tags[t.ID] = t
	return &t, nil
}

func (s *TagStore) GetByID(_ context.Context, id uuid.UUID) (*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tags[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *TagStore) GetByName(_ context.Context, ownerID uuid.UUID, name string) (*models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tags {
		if t.OwnerID == ownerID && strings.EqualFold(t.Name, name) {
			t := t
			return &t, nil
		}
	}
	return nil, nil
}

func (s *TagStore) ListByOwners(_ context.Context, ownerIDs []uuid.UUID) ([]models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make(map[uuid.UUID]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = true
	}
	out := make([]models.Tag, 0)
	for _, t := range s.tags {
		if owners[t.OwnerID] {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *TagStore) Update(_ context.Context, id uuid.UUID, name, color string) (*models.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[id]
	if !ok {
		return nil, nil
	}
	t.Name = name
	t.Color = color
	s.tags[id] = t
	return &t, nil
}

func (s *TagStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, id)
	return nil
}

type QuickReplyStore struct {
	mu      sync.RWMutex
	replies map[uuid.UUID]models.QuickReply
}

func NewQuickReplyStore() *QuickReplyStore {
	return &QuickReplyStore{replies: make(map[uuid.UUID]models.QuickReply)}
}

func (s *QuickReplyStore) Create(_ context.Context, in *models.QuickReply) (*models.QuickReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	q := *in
	q.ID = uuid.New()
	q.CreatedAt = now
	q.UpdatedAt = now
	s.replies[q.ID] = q
	return &q, nil
}

func (s *QuickReplyStore) GetByID(_ context.Context, id uuid.UUID) (*models.QuickReply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.replies[id]
	if !ok {
		return nil, nil
	}
	return &q, nil
}

func (s *QuickReplyStore) ListByOwners(_ context.Context, ownerIDs []uuid.UUID) ([]models.QuickReply, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owners := make(map[uuid.UUID]bool, len(ownerIDs))
	for _, id := range ownerIDs {
		owners[id] = true
	}
	out := make([]models.QuickReply, 0)
	for _, q := range s.replies {
		if owners[q.OwnerID] {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}

func (s *QuickReplyStore) Update(_ context.Context, id uuid.UUID, title, content string) (*models.QuickReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.replies[id]
	if !ok {
		return nil, nil
	}
	q.Title = title
	q.Content = content
	q.UpdatedAt = time.Now().UTC()
	s.replies[id] = q
	return &q, nil
}

func (s *QuickReplyStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.replies, id)
	return nil
}
