package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/linedesk/internal/models"
)

type TagStore struct {
	pool *pgxpool.Pool
}

func NewTagStore(pool *pgxpool.Pool) *TagStore {
	return &TagStore{pool: pool}
}

func scanTag(row pgx.Row) (*models.Tag, error) {
	var t models.Tag
	if err := row.Scan(&t.ID, &t.OwnerID, &t.Name, &t.Color, &t.CreatedAt); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *TagStore) Create(ctx context.Context, in *models.Tag) (*models.Tag, error) {
	query := `
		INSERT INTO tags (owner_id, name, color, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING id, owner_id, name, color, created_at`

	t, err := scanTag(s.pool.QueryRow(ctx, query, in.OwnerID, in.Name, in.Color))
	if err != nil {
		return nil, fmt.Errorf("insert tag: %w", err)
	}
	return t, nil
}

func (s *TagStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Tag, error) {
	t, err := scanTag(s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, color, created_at FROM tags WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tag: %w", err)
	}
	return t, nil
}

func (s *TagStore) GetByName(ctx context.Context, ownerID uuid.UUID, name string) (*models.Tag, error) {
	t, err := scanTag(s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, color, created_at FROM tags WHERE owner_id = $1 AND lower(name) = lower($2)`,
		ownerID, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tag by name: %w", err)
	}
	return t, nil
}

func (s *TagStore) ListByOwners(ctx context.Context, ownerIDs []uuid.UUID) ([]models.Tag, error) {
	tags := make([]models.Tag, 0)
	if len(ownerIDs) == 0 {
		return tags, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_id, name, color, created_at
		FROM tags
		WHERE owner_id = ANY($1)
		ORDER BY name`, ownerIDs)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return tags, nil
}

func (s *TagStore) Update(ctx context.Context, id uuid.UUID, name, color string) (*models.Tag, error) {
	t, err := scanTag(s.pool.QueryRow(ctx, `
		UPDATE tags SET name = $2, color = $3
		WHERE id = $1
		RETURNING id, owner_id, name, color, created_at`, id, name, color))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update tag: %w", err)
	}
	return t, nil
}

func (s *TagStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM tags WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}
