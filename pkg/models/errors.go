package models

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks data that violates a model invariant. It is never cached.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned by fetch sources that hold nothing for an instrument.
	ErrNotFound = errors.New("no data")
	// ErrTimeout marks a fetch whose deadline expired.
	ErrTimeout = errors.New("timeout")
)

// ValidationError describes which invariant a value broke.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FetchError wraps a failed upstream request after retries were exhausted.
type FetchError struct {
	Op         string
	Instrument string
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s failed after %d attempt(s): %v", e.Op, e.Instrument, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Timeout reports whether the fetch gave up because its deadline expired.
func (e *FetchError) Timeout() bool { return errors.Is(e.Err, ErrTimeout) }
