package raster

import (
	"errors"
	"fmt"
)

// Error classes. Callers classify failures with errors.Is.
var (
	// ErrInput marks a fatal configuration or input problem: a missing
	// band, an empty or single-class training set, a schema mismatch or a
	// region outside any source coverage. Never retried.
	ErrInput = errors.New("input error")

	// ErrResourceLimit marks a pixel or area budget overrun. Fatal for the
	// region/period that hit it, never for its siblings.
	ErrResourceLimit = errors.New("resource limit exceeded")

	// ErrExternalService marks an unavailable or timed-out raster service.
	// Idempotent reads are retried by the caller with bounded backoff.
	ErrExternalService = errors.New("external service error")
)

// Inputf returns an error wrapping ErrInput.
func Inputf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}

// ResourceLimitf returns an error wrapping ErrResourceLimit.
func ResourceLimitf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrResourceLimit, fmt.Sprintf(format, args...))
}

// ExternalServicef returns an error wrapping ErrExternalService.
func ExternalServicef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrExternalService, fmt.Sprintf(format, args...))
}
