package pipeline

import (
	"errors"
	"fmt"
)

// The pipeline sorts failures into four classes with different handling:
// invalid input fails the job immediately, security blocks quarantine the
// document, transient failures are retried with backoff, and everything
// else fails the stage outright. Non-critical degradation (OCR, preview,
// indexing) never surfaces as an error at all; those stages record it in
// their metadata and let the job continue.

// ErrInvalidInput marks uploads rejected by validation. Never retried.
var ErrInvalidInput = errors.New("invalid upload")

// ErrSecurityBlocked marks documents stopped by the virus scan. The content
// has been quarantined and is not servable.
var ErrSecurityBlocked = errors.New("document blocked by security scan")

// ErrUnavailable marks retrieval of content that exists but may not be
// served, such as quarantined documents.
var ErrUnavailable = errors.New("document unavailable")

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err to mark it retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// Transientf is Transient with formatting.
func Transientf(format string, args ...any) error {
	return &transientError{err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is marked retryable.
func IsTransient(err error) bool {
	var t *transientError
	return errors.As(err, &t)
}
