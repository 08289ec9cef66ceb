// Package fault defines the error taxonomy shared by the order and payment
// managers. Callers classify failures with errors.Is against the sentinels;
// the wrapped message carries the detail.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed or missing required input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks an idempotency, uniqueness, or illegal-transition violation.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a referenced entity that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks an unreachable store or bus.
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrMalformedEvent marks a bus payload that failed schema expectations.
	// Consumers drop and acknowledge such messages instead of requeueing them.
	ErrMalformedEvent = errors.New("malformed event")
)

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Unavailablef wraps ErrUnavailable with a formatted message.
func Unavailablef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// Malformedf wraps ErrMalformedEvent with a formatted message.
func Malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedEvent, fmt.Sprintf(format, args...))
}
