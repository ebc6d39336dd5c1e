package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lalith-99/linedesk/internal/repository"
)

const uniqueViolation = "23505"

// wrap prefixes err with op and marks unique violations as
// repository.ErrDuplicate.
func wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w: %w", op, repository.ErrDuplicate, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
