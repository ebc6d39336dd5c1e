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

const quickReplyColumns = `id, owner_id, title, content, created_at, updated_at`

type QuickReplyStore struct {
	pool *pgxpool.Pool
}

func NewQuickReplyStore(pool *pgxpool.Pool) *QuickReplyStore {
	return &QuickReplyStore{pool: pool}
}

func scanQuickReply(row pgx.Row) (*models.QuickReply, error) {
	var q models.QuickReply
	if err := row.Scan(&q.ID, &q.OwnerID, &q.Title, &q.Content, &q.CreatedAt, &q.UpdatedAt); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *QuickReplyStore) Create(ctx context.Context, in *models.QuickReply) (*models.QuickReply, error) {
	q, err := scanQuickReply(s.pool.QueryRow(ctx, `
		INSERT INTO quick_replies (owner_id, title, content, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		RETURNING `+quickReplyColumns, in.OwnerID, in.Title, in.Content))
	if err != nil {
		return nil, fmt.Errorf("insert quick reply: %w", err)
	}
	return q, nil
}

func (s *QuickReplyStore) GetByID(ctx context.Context, id uuid.UUID) (*models.QuickReply, error) {
	q, err := scanQuickReply(s.pool.QueryRow(ctx,
		`SELECT `+quickReplyColumns+` FROM quick_replies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get quick reply: %w", err)
	}
	return q, nil
}

func (s *QuickReplyStore) ListByOwners(ctx context.Context, ownerIDs []uuid.UUID) ([]models.QuickReply, error) {
	replies := make([]models.QuickReply, 0)
	if len(ownerIDs) == 0 {
		return replies, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+quickReplyColumns+`
		FROM quick_replies
		WHERE owner_id = ANY($1)
		ORDER BY title`, ownerIDs)
	if err != nil {
		return nil, fmt.Errorf("list quick replies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		q, err := scanQuickReply(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quick reply: %w", err)
		}
		replies = append(replies, *q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quick replies: %w", err)
	}
	return replies, nil
}

func (s *QuickReplyStore) Update(ctx context.Context, id uuid.UUID, title, content string) (*models.QuickReply, error) {
	q, err := scanQuickReply(s.pool.QueryRow(ctx, `
		UPDATE quick_replies SET title = $2, content = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+quickReplyColumns, id, title, content))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update quick reply: %w", err)
	}
	return q, nil
}

func (s *QuickReplyStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM quick_replies WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete quick reply: %w", err)
	}
	return nil
}
