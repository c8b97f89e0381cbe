package schedule

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTimezone   = errors.New("invalid timezone")
	ErrRevisionNotFound  = errors.New("revision not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ValidationError reports input that must be rejected before anything is persisted.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

// Invalidf builds a ValidationError for field.
func Invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
