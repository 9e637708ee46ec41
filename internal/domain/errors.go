package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation references an unknown
// subscription, attempt or dead-letter id. Match with errors.Is.
var ErrNotFound = errors.New("not found")

// ValidationError describes malformed management input (bad URL, empty event
// set, unknown event type). It is surfaced synchronously and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for field.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
