package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a task or result lookup misses.
var ErrNotFound = errors.New("entity not found")

// ValidationError rejects a write with the offending field named, so the
// API layer can hand the caller something actionable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
