package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a job does not exist, is soft-deleted,
	// or belongs to a different user. Ownership failures are never
	// distinguished from absence.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned on uniqueness violations (user email).
	ErrConflict = errors.New("conflict")

	// ErrConcurrency is returned when a transaction lost a serialization
	// conflict and can be retried.
	ErrConcurrency = errors.New("transaction conflict")
)

// ValidationError rejects invalid input on a named field. The API layer
// surfaces it verbatim; it is never retried.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Invalid builds a ValidationError for a field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
