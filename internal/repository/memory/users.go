// Package memory implements every repository interface in process memory.
//
// It backs DATA_BACKEND=memory for local runs without Postgres or Mongo and
// is what the service and handler tests run against. Conditional writes
// (grant activation, broadcast status changes) hold the store mutex for the
// whole check-and-set, matching the guarded UPDATEs of the SQL stores.
package memory

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/linedesk/internal/models"
)

type UserStore struct {
	mu    sync.RWMutex
	users map[uuid.UUID]models.User
}

func NewUserStore() *UserStore {
	return &UserStore{users: make(map[uuid.UUID]models.User)}
}

func (s *UserStore) Create(_ context.Context, in *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(in.Email)
	for _, u := range s.users {
		if u.Email == email {
			return nil, errDuplicate("users.email")
		}
	}
	now := time.Now().UTC()
	u := *in
	u.ID = uuid.New()
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now
	s.users[u.ID] = u
	return &u, nil
}

func (s *UserStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range s.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (s *UserStore) GetByIDs(_ context.Context, ids []uuid.UUID) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *UserStore) UpdateProfile(_ context.Context, id uuid.UUID, name, avatarURL string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	u.Name = name
	u.AvatarURL = avatarURL
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return &u, nil
}

func (s *UserStore) UpdatePassword(_ context.Context, id uuid.UUID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.PasswordHash = passwordHash
		u.UpdatedAt = time.Now().UTC()
		s.users[id] = u
	}
	return nil
}

func (s *UserStore) UpdateSettings(_ context.Context, id uuid.UUID, settings json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		u.Settings = append(json.RawMessage(nil), settings...)
		u.UpdatedAt = time.Now().UTC()
		s.users[id] = u
	}
	return nil
}

func (s *UserStore) Activate(_ context.Context, id uuid.UUID, name, passwordHash string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Status != models.UserPending {
		return nil, nil
	}
	u.Name = name
	u.PasswordHash = passwordHash
	u.Status = models.UserActive
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return &u, nil
}
