package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/linedesk/internal/models"
)

const grantColumns = `id, owner_id, admin_id, channel_id, permissions, status, invite_email,
	coalesce(invite_token, ''), invite_expires_at, invited_at, accepted_at, created_at, updated_at`

// PermissionStore is the admin_permissions table.
type PermissionStore struct {
	pool *pgxpool.Pool
}

func NewPermissionStore(pool *pgxpool.Pool) *PermissionStore {
	return &PermissionStore{pool: pool}
}

func scanGrant(row pgx.Row) (*models.PermissionGrant, error) {
	var g models.PermissionGrant
	err := row.Scan(
		&g.ID,
		&g.OwnerID,
		&g.AdminID,
		&g.ChannelID,
		&g.Permissions,
		&g.Status,
		&g.InviteEmail,
		&g.InviteToken,
		&g.InviteExpiresAt,
		&g.InvitedAt,
		&g.AcceptedAt,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func collectGrants(rows pgx.Rows) ([]models.PermissionGrant, error) {
	defer rows.Close()

	grants := make([]models.PermissionGrant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, *g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}

func (s *PermissionStore) queryOne(ctx context.Context, op, query string, args ...any) (*models.PermissionGrant, error) {
	g, err := scanGrant(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrap(op, err)
	}
	return g, nil
}

func (s *PermissionStore) CreatePending(ctx context.Context, in *models.PermissionGrant) (*models.PermissionGrant, error) {
	query := `
		INSERT INTO admin_permissions
			(owner_id, admin_id, channel_id, permissions, status, invite_email, invite_token, invite_expires_at, invited_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', lower($5), $6, $7, now(), now(), now())
		RETURNING ` + grantColumns

	g, err := scanGrant(s.pool.QueryRow(ctx, query,
		in.OwnerID, in.AdminID, in.ChannelID, in.Permissions, in.InviteEmail, in.InviteToken, in.InviteExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("insert grant: %w", err)
	}
	return g, nil
}

func (s *PermissionStore) GetByID(ctx context.Context, id uuid.UUID) (*models.PermissionGrant, error) {
	return s.queryOne(ctx, "get grant",
		`SELECT `+grantColumns+` FROM admin_permissions WHERE id = $1`, id)
}

func (s *PermissionStore) GetPendingByToken(ctx context.Context, token string) (*models.PermissionGrant, error) {
	return s.queryOne(ctx, "get grant by token",
		`SELECT `+grantColumns+` FROM admin_permissions WHERE invite_token = $1 AND status = 'pending'`, token)
}

func (s *PermissionStore) FindActive(ctx context.Context, ownerID, adminID uuid.UUID, channelID *uuid.UUID) (*models.PermissionGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM admin_permissions
		WHERE owner_id = $1 AND admin_id = $2
		  AND channel_id IS NOT DISTINCT FROM $3
		  AND status = 'active'
		LIMIT 1`
	return s.queryOne(ctx, "find active grant", query, ownerID, adminID, channelID)
}

func (s *PermissionStore) FindPendingForEmail(ctx context.Context, ownerID uuid.UUID, email string, channelID *uuid.UUID) (*models.PermissionGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM admin_permissions
		WHERE owner_id = $1 AND invite_email = lower($2)
		  AND channel_id IS NOT DISTINCT FROM $3
		  AND status = 'pending'
		LIMIT 1`
	return s.queryOne(ctx, "find pending grant", query, ownerID, email, channelID)
}

func (s *PermissionStore) ListActiveForChannel(ctx context.Context, adminID, channelID, ownerID uuid.UUID) ([]models.PermissionGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM admin_permissions
		WHERE admin_id = $1
		  AND status = 'active'
		  AND (channel_id = $2 OR (channel_id IS NULL AND owner_id = $3))`

	rows, err := s.pool.Query(ctx, query, adminID, channelID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list channel grants: %w", err)
	}
	return collectGrants(rows)
}

func (s *PermissionStore) ListActiveForOwner(ctx context.Context, adminID, ownerID uuid.UUID) ([]models.PermissionGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM admin_permissions
		WHERE admin_id = $1 AND owner_id = $2 AND status = 'active'`

	rows, err := s.pool.Query(ctx, query, adminID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list owner grants: %w", err)
	}
	return collectGrants(rows)
}

func (s *PermissionStore) ListActiveByAdmin(ctx context.Context, adminID uuid.UUID) ([]models.PermissionGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM admin_permissions
		WHERE admin_id = $1 AND status = 'active'
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, adminID)
	if err != nil {
		return nil, fmt.Errorf("list admin grants: %w", err)
	}
	return collectGrants(rows)
}

func (s *PermissionStore) ListActiveAdminsForChannel(ctx context.Context, channelID, ownerID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT admin_id
		FROM admin_permissions
		WHERE status = 'active' AND admin_id IS NOT NULL
		  AND (channel_id = $1 OR (channel_id IS NULL AND owner_id = $2))`

	rows, err := s.pool.Query(ctx, query, channelID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list channel admins: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan admin id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin ids: %w", err)
	}
	return ids, nil
}

func (s *PermissionStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.PermissionGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM admin_permissions
		WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list owner team: %w", err)
	}
	return collectGrants(rows)
}

// Activate is guarded on status so two concurrent accepts of the same token
// cannot both succeed.
func (s *PermissionStore) Activate(ctx context.Context, id, adminID uuid.UUID, acceptedAt time.Time) (bool, error) {
	query := `
		UPDATE admin_permissions
		SET admin_id = $2, status = 'active', invite_token = NULL, accepted_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`

	tag, err := s.pool.Exec(ctx, query, id, adminID, acceptedAt)
	if err != nil {
		return false, wrap("activate grant", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PermissionStore) Update(ctx context.Context, id uuid.UUID, status string, perms models.Capabilities) (*models.PermissionGrant, error) {
	query := `
		UPDATE admin_permissions
		SET status = $2, permissions = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + grantColumns
	return s.queryOne(ctx, "update grant", query, id, status, perms)
}

func (s *PermissionStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM admin_permissions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete grant: %w", err)
	}
	return nil
}
