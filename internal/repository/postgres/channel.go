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

const channelColumns = `id, owner_id, name, platform_channel_id, channel_secret, access_token, status, picture_url, created_at, updated_at`

type ChannelStore struct {
	pool *pgxpool.Pool
}

func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{pool: pool}
}

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var ch models.Channel
	err := row.Scan(
		&ch.ID,
		&ch.OwnerID,
		&ch.Name,
		&ch.PlatformChannelID,
		&ch.ChannelSecret,
		&ch.AccessToken,
		&ch.Status,
		&ch.PictureURL,
		&ch.CreatedAt,
		&ch.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func collectChannels(rows pgx.Rows) ([]models.Channel, error) {
	defer rows.Close()

	channels := make([]models.Channel, 0)
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, *ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return channels, nil
}

func (s *ChannelStore) Create(ctx context.Context, in *models.Channel) (*models.Channel, error) {
	query := `
		INSERT INTO channels (owner_id, name, platform_channel_id, channel_secret, access_token, status, picture_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())
		RETURNING ` + channelColumns

	ch, err := scanChannel(s.pool.QueryRow(ctx, query,
		in.OwnerID, in.Name, in.PlatformChannelID, in.ChannelSecret, in.AccessToken, in.Status, in.PictureURL))
	if err != nil {
		return nil, fmt.Errorf("insert channel: %w", err)
	}
	return ch, nil
}

func (s *ChannelStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels WHERE id = $1`

	ch, err := scanChannel(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return ch, nil
}

func (s *ChannelStore) ListByOwners(ctx context.Context, ownerIDs []uuid.UUID) ([]models.Channel, error) {
	if len(ownerIDs) == 0 {
		return make([]models.Channel, 0), nil
	}
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE owner_id = ANY($1)
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, ownerIDs)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return collectChannels(rows)
}

func (s *ChannelStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Channel, error) {
	if len(ids) == 0 {
		return make([]models.Channel, 0), nil
	}
	query := `
		SELECT ` + channelColumns + `
		FROM channels
		WHERE id = ANY($1)
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get channels: %w", err)
	}
	return collectChannels(rows)
}

func (s *ChannelStore) Update(ctx context.Context, in *models.Channel) (*models.Channel, error) {
	query := `
		UPDATE channels
		SET name = $2, platform_channel_id = $3, channel_secret = $4, access_token = $5, picture_url = $6, updated_at = now()
		WHERE id = $1
		RETURNING ` + channelColumns

	ch, err := scanChannel(s.pool.QueryRow(ctx, query,
		in.ID, in.Name, in.PlatformChannelID, in.ChannelSecret, in.AccessToken, in.PictureURL))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("update channel: %w", err)
	}
	return ch, nil
}

func (s *ChannelStore) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE channels SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update channel status: %w", err)
	}
	return nil
}

// Delete removes the channel. Grants scoped to it and its broadcasts go
// with it through ON DELETE CASCADE.
func (s *ChannelStore) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	return nil
}
