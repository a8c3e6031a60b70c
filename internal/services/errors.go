package services

import (
	"errors"
	"fmt"
)

var (
	// ErrInvariantViolation reports a broken calling contract such as a nil
	// subscription or payload. It is a programming defect, not a delivery failure.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrInvalidEnvelope marks a queue message that can never be processed.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// ConfigurationError reports missing or malformed signing material.
// Delivery cannot start while one is outstanding.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

func invalidEnvelope(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEnvelope, fmt.Sprintf(format, args...))
}
