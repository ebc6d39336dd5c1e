package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/linedesk/internal/models"
)

const userColumns = `id, email, password_hash, name, role, status, avatar_url, settings, created_at, updated_at`

type UserStore struct {
	pool *pgxpool.Pool
}

func NewUserStore(pool *pgxpool.Pool) *UserStore {
	return &UserStore{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	var settings []byte
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.Status,
		&u.AvatarURL,
		&settings,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		u.Settings = json.RawMessage(settings)
	}
	return &u, nil
}

// Create inserts a new user row. Postgres generates the UUID and timestamps.
func (s *UserStore) Create(ctx context.Context, in *models.User) (*models.User, error) {
	query := `
		INSERT INTO users (email, password_hash, name, role, status, avatar_url, created_at, updated_at)
		VALUES (lower($1), $2, $3, $4, $5, $6, now(), now())
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, query,
		in.Email, in.PasswordHash, in.Name, in.Role, in.Status, in.AvatarURL))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	u, err := scanUser(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// GetByEmail looks up a user by email. Used for login and invitations.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = lower($1)`

	u, err := scanUser(s.pool.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	users := make([]models.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1)`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (s *UserStore) UpdateProfile(ctx context.Context, id uuid.UUID, name, avatarURL string) (*models.User, error) {
	query := `
		UPDATE users SET name = $2, avatar_url = $3, updated_at = now()
		WHERE id = $1
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, query, id, name, avatarURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

func (s *UserStore) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`,
		id, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *UserStore) UpdateSettings(ctx context.Context, id uuid.UUID, settings json.RawMessage) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET settings = $2::jsonb, updated_at = now() WHERE id = $1`,
		id, string(settings))
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func (s *UserStore) Activate(ctx context.Context, id uuid.UUID, name, passwordHash string) (*models.User, error) {
	query := `
		UPDATE users SET name = $2, password_hash = $3, status = 'active', updated_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + userColumns

	u, err := scanUser(s.pool.QueryRow(ctx, query, id, name, passwordHash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("activate user: %w", err)
	}
	return u, nil
}
