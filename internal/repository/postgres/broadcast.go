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
	"github.com/lalith-99/linedesk/internal/repository"
)

const broadcastColumns = `id, channel_id, created_by, name, content, target, status, scheduled_at,
	target_count, sent_count, failed_count, started_at, completed_at, created_at, updated_at`

type BroadcastStore struct {
	pool *pgxpool.Pool
}

func NewBroadcastStore(pool *pgxpool.Pool) *BroadcastStore {
	return &BroadcastStore{pool: pool}
}

func scanBroadcast(row pgx.Row) (*models.Broadcast, error) {
	var b models.Broadcast
	err := row.Scan(
		&b.ID,
		&b.ChannelID,
		&b.CreatedBy,
		&b.Name,
		&b.Content,
		&b.Target,
		&b.Status,
		&b.ScheduledAt,
		&b.TargetCount,
		&b.SentCount,
		&b.FailedCount,
		&b.StartedAt,
		&b.CompletedAt,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func collectBroadcasts(rows pgx.Rows) ([]models.Broadcast, error) {
	defer rows.Close()

	out := make([]models.Broadcast, 0)
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate broadcasts: %w", err)
	}
	return out, nil
}

func (s *BroadcastStore) Create(ctx context.Context, in *models.Broadcast) (*models.Broadcast, error) {
	query := `
		INSERT INTO broadcasts (channel_id, created_by, name, content, target, status, scheduled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING ` + broadcastColumns

	b, err := scanBroadcast(s.pool.QueryRow(ctx, query,
		in.ChannelID, in.CreatedBy, in.Name, in.Content, in.Target, in.Status, in.ScheduledAt))
	if err != nil {
		return nil, fmt.Errorf("insert broadcast: %w", err)
	}
	return b, nil
}

func (s *BroadcastStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Broadcast, error) {
	b, err := scanBroadcast(s.pool.QueryRow(ctx,
		`SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get broadcast: %w", err)
	}
	return b, nil
}

func (s *BroadcastStore) ListByChannels(ctx context.Context, channelIDs []uuid.UUID) ([]models.Broadcast, error) {
	if len(channelIDs) == 0 {
		return make([]models.Broadcast, 0), nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+broadcastColumns+`
		FROM broadcasts
		WHERE channel_id = ANY($1)
		ORDER BY created_at DESC`, channelIDs)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	return collectBroadcasts(rows)
}

func (s *BroadcastStore) Update(ctx context.Context, in *models.Broadcast) (*models.Broadcast, error) {
	query := `
		UPDATE broadcasts
		SET name = $2, content = $3, target = $4, status = $5, scheduled_at = $6, updated_at = now()
		WHERE id = $1 AND status IN ('draft', 'scheduled')
		RETURNING ` + broadcastColumns

	b, err := scanBroadcast(s.pool.QueryRow(ctx, query,
		in.ID, in.Name, in.Content, in.Target, in.Status, in.ScheduledAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update broadcast: %w", err)
	}
	return b, nil
}

func (s *BroadcastStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM broadcasts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete broadcast: %w", err)
	}
	return nil
}

// MarkSending is a compare-and-swap on status. Of two concurrent callers
// only one sees RowsAffected == 1.
func (s *BroadcastStore) MarkSending(ctx context.Context, id uuid.UUID, startedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE broadcasts
		SET status = 'sending', started_at = $2, updated_at = now()
		WHERE id = $1 AND status IN ('draft', 'scheduled')`, id, startedAt)
	if err != nil {
		return false, fmt.Errorf("mark broadcast sending: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *BroadcastStore) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE broadcasts
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('draft', 'scheduled')`, id)
	if err != nil {
		return false, fmt.Errorf("cancel broadcast: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *BroadcastStore) Finish(ctx context.Context, id uuid.UUID, res repository.BroadcastResult) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE broadcasts
		SET status = $2, target_count = $3, sent_count = $4, failed_count = $5, completed_at = $6, updated_at = now()
		WHERE id = $1`,
		id, res.Status, res.TargetCount, res.SentCount, res.FailedCount, res.CompletedAt)
	if err != nil {
		return fmt.Errorf("finish broadcast: %w", err)
	}
	return nil
}

func (s *BroadcastStore) ListDue(ctx context.Context, now time.Time) ([]models.Broadcast, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+broadcastColumns+`
		FROM broadcasts
		WHERE status = 'scheduled' AND scheduled_at <= $1
		ORDER BY scheduled_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list due broadcasts: %w", err)
	}
	return collectBroadcasts(rows)
}

// InsertRecipients queues one INSERT per recipient in a single batch.
func (s *BroadcastStore) InsertRecipients(ctx context.Context, recipients []models.BroadcastRecipient) ([]models.BroadcastRecipient, error) {
	out := make([]models.BroadcastRecipient, 0, len(recipients))
	if len(recipients) == 0 {
		return out, nil
	}

	batch := &pgx.Batch{}
	for _, r := range recipients {
		batch.Queue(`
			INSERT INTO broadcast_recipients (broadcast_id, conversation_id, line_user_id, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, r.BroadcastID, r.ConversationID, r.LineUserID, r.Status)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, r := range recipients {
		if err := results.QueryRow().Scan(&r.ID); err != nil {
			return nil, fmt.Errorf("insert recipient: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *BroadcastStore) UpdateRecipient(ctx context.Context, id uuid.UUID, status, errText string, sentAt *time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE broadcast_recipients SET status = $2, error = $3, sent_at = $4
		WHERE id = $1`, id, status, errText, sentAt)
	if err != nil {
		return fmt.Errorf("update recipient: %w", err)
	}
	return nil
}

func (s *BroadcastStore) ListRecipients(ctx context.Context, broadcastID uuid.UUID) ([]models.BroadcastRecipient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, broadcast_id, conversation_id, line_user_id, status, error, sent_at
		FROM broadcast_recipients
		WHERE broadcast_id = $1
		ORDER BY line_user_id`, broadcastID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	out := make([]models.BroadcastRecipient, 0)
	for rows.Next() {
		var r models.BroadcastRecipient
		if err := rows.Scan(&r.ID, &r.BroadcastID, &r.ConversationID, &r.LineUserID, &r.Status, &r.Error, &r.SentAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return out, nil
}
