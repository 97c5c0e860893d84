package domain

import (
	"errors"
	"fmt"
)

// ErrNoData is returned by store queries when the trailing window is empty.
var ErrNoData = errors.New("no telemetry in window")

// ErrValveLocked is returned when a valve-open command arrives while the
// occupancy mode is absent.
var ErrValveLocked = errors.New("valve open not permitted in absent mode")

// ValidationError marks malformed or out-of-range caller input. It is
// terminal per request and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validationf builds a ValidationError from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
