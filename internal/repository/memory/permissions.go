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

type PermissionStore struct {
	mu     sync.RWMutex
	grants map[uuid.UUID]models.PermissionGrant
}

func NewPermissionStore() *PermissionStore {
	return &PermissionStore{grants: make(map[uuid.UUID]models.PermissionGrant)}
}

func sameAdmin(g *models.PermissionGrant, adminID uuid.UUID) bool {
	return g.AdminID != nil && *g.AdminID == adminID
}

// hasActiveDuplicate must be called with s.mu held.
func (s *PermissionStore) hasActiveDuplicate(ownerID, adminID uuid.UUID, channelID *uuid.UUID, except uuid.UUID) bool {
	for _, g := range s.grants {
		if g.ID != except && g.Status == models.GrantActive && g.OwnerID == ownerID &&
			sameAdmin(&g, adminID) && g.SameScope(channelID) {
			return true
		}
	}
	return false
}

// Insert stores a grant as-is. Tests use it to seed active rows.
func (s *PermissionStore) Insert(g models.PermissionGrant) models.PermissionGrant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	now := time.Now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
		g.InvitedAt = now
	}
	g.UpdatedAt = now
	s.grants[g.ID] = g
	return g
}

func (s *PermissionStore) CreatePending(_ context.Context, in *models.PermissionGrant) (*models.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if in.InviteToken != "" {
		for _, g := range s.grants {
			if g.InviteToken == in.InviteToken {
				return nil, errDuplicate("admin_permissions.invite_token")
			}
		}
	}
	now := time.Now().UTC()
	g := *in
	g.ID = uuid.New()
	g.Status = models.GrantPending
	g.InviteEmail = strings.ToLower(g.InviteEmail)
	g.InvitedAt = now
	g.CreatedAt = now
	g.UpdatedAt = now
	s.grants[g.ID] = g
	return &g, nil
}

func (s *PermissionStore) GetByID(_ context.Context, id uuid.UUID) (*models.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, nil
	}
	return &g, nil
}

func (s *PermissionStore) GetPendingByToken(_ context.Context, token string) (*models.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" {
		return nil, nil
	}
	for _, g := range s.grants {
		if g.InviteToken == token && g.Status == models.GrantPending {
			g := g
			return &g, nil
		}
	}
	return nil, nil
}

func (s *PermissionStore) FindActive(_ context.Context, ownerID, adminID uuid.UUID, channelID *uuid.UUID) (*models.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.grants {
		if g.Status == models.GrantActive && g.OwnerID == ownerID && sameAdmin(&g, adminID) && g.SameScope(channelID) {
			g := g
			return &g, nil
		}
	}
	return nil, nil
}

func (s *PermissionStore) FindPendingForEmail(_ context.Context, ownerID uuid.UUID, email string, channelID *uuid.UUID) (*models.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email = strings.ToLower(email)
	for _, g := range s.grants {
		if g.Status == models.GrantPending && g.OwnerID == ownerID && g.InviteEmail == email && g.SameScope(channelID) {
			g := g
			return &g, nil
		}
	}
	return nil, nil
}

func (s *PermissionStore) filter(keep func(g *models.PermissionGrant) bool) []models.PermissionGrant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PermissionGrant, 0)
	for _, g := range s.grants {
		if keep(&g) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *PermissionStore) ListActiveForChannel(_ context.Context, adminID, channelID, ownerID uuid.UUID) ([]models.PermissionGrant, error) {
	return s.filter(func(g *models.PermissionGrant) bool {
		if g.Status != models.GrantActive || !sameAdmin(g, adminID) {
			return false
		}
		if g.ChannelID != nil {
			return *g.ChannelID == channelID
		}
		return g.OwnerID == ownerID
	}), nil
}

func (s *PermissionStore) ListActiveForOwner(_ context.Context, adminID, ownerID uuid.UUID) ([]models.PermissionGrant, error) {
	return s.filter(func(g *models.PermissionGrant) bool {
		return g.Status == models.GrantActive && sameAdmin(g, adminID) && g.OwnerID == ownerID
	}), nil
}

func (s *PermissionStore) ListActiveByAdmin(_ context.Context, adminID uuid.UUID) ([]models.PermissionGrant, error) {
	return s.filter(func(g *models.PermissionGrant) bool {
		return g.Status == models.GrantActive && sameAdmin(g, adminID)
	}), nil
}

func (s *PermissionStore) ListActiveAdminsForChannel(_ context.Context, channelID, ownerID uuid.UUID) ([]uuid.UUID, error) {
	grants := s.filter(func(g *models.PermissionGrant) bool {
		if g.Status != models.GrantActive || g.AdminID == nil {
			return false
		}
		if g.ChannelID != nil {
			return *g.ChannelID == channelID
		}
		return g.OwnerID == ownerID
	})
	seen := make(map[uuid.UUID]bool)
	ids := make([]uuid.UUID, 0, len(grants))
	for _, g := range grants {
		if !seen[*g.AdminID] {
			seen[*g.AdminID] = true
			ids = append(ids, *g.AdminID)
		}
	}
	return ids, nil
}

func (s *PermissionStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]models.PermissionGrant, error) {
	out := s.filter(func(g *models.PermissionGrant) bool { return g.OwnerID == ownerID })
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *PermissionStore) Activate(_ context.Context, id, adminID uuid.UUID, acceptedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok || g.Status != models.GrantPending {
		return false, nil
	}
	if s.hasActiveDuplicate(g.OwnerID, adminID, g.ChannelID, g.ID) {
		return false, errDuplicate("uq_admin_permissions_active")
	}
	g.AdminID = &adminID
	g.Status = models.GrantActive
	g.InviteToken = ""
	at := acceptedAt
	g.AcceptedAt = &at
	g.UpdatedAt = time.Now().UTC()
	s.grants[id] = g
	return true, nil
}

func (s *PermissionStore) Update(_ context.Context, id uuid.UUID, status string, perms models.Capabilities) (*models.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.grants[id]
	if !ok {
		return nil, nil
	}
	if status == models.GrantActive && g.Status != models.GrantActive && g.AdminID != nil &&
		s.hasActiveDuplicate(g.OwnerID, *g.AdminID, g.ChannelID, g.ID) {
		return nil, errDuplicate("uq_admin_permissions_active")
	}
	g.Status = status
	g.Permissions = perms
	g.UpdatedAt = time.Now().UTC()
	s.grants[id] = g
	return &g, nil
}

func (s *PermissionStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, id)
	return nil
}
