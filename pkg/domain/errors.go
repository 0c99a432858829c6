package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced entity does not exist or is
	// soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a state conflict, e.g. a signing token that was
	// already used or expired, or a duplicate relation.
	ErrConflict = errors.New("conflict")
)

// ValidationError reports malformed caller input. It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
