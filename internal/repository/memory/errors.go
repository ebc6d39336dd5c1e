package memory

import (
	"fmt"

	"github.com/lalith-99/linedesk/internal/repository"
)

// DuplicateError mirrors a unique-constraint violation.
type DuplicateError struct {
	Constraint string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate key violates unique constraint %q", e.Constraint)
}

func (e *DuplicateError) Is(target error) bool {
	return target == repository.ErrDuplicate
}

func errDuplicate(constraint string) error {
	return &DuplicateError{Constraint: constraint}
}
