// Package errors defines the closed error taxonomy shared by all gvm
// components. Callers discriminate with errors.Is on the sentinels below,
// never on message strings.
package errors

import (
	"errors"
	"fmt"
)

// Common error types.
var (
	// Input errors. Reported to the user, never retried.
	ErrVersionNotFound     = fmt.Errorf("version not found")
	ErrUnsupportedPlatform = fmt.Errorf("unsupported platform")
	ErrVersionNotInstalled = fmt.Errorf("version is not installed")
	ErrAlreadyInstalled    = fmt.Errorf("version is already installed")
	ErrActiveVersion       = fmt.Errorf("version is currently active")

	// Transport errors. The downloader retries ErrNetwork and the retryable
	// statuses (5xx, 408, 429) within its retry budget and surfaces them only
	// after exhaustion; other statuses and manifest fetch failures surface
	// immediately.
	ErrNetwork       = fmt.Errorf("network error")
	ErrHTTPStatus    = fmt.Errorf("unexpected HTTP status")
	ErrManifestParse = fmt.Errorf("malformed release manifest")

	// Integrity errors. Never retried; any cached archive involved is
	// invalidated before the error surfaces.
	ErrChecksumMismatch        = fmt.Errorf("checksum mismatch")
	ErrArchiveCorrupt          = fmt.Errorf("archive corrupt")
	ErrPathTraversal           = fmt.Errorf("archive entry escapes extraction directory")
	ErrUnexpectedArchiveLayout = fmt.Errorf("unexpected archive layout")

	// Concurrency errors.
	ErrLockHeld = fmt.Errorf("another gvm process holds the root lock")

	// Validation errors.
	ErrInvalidPath      = fmt.Errorf("invalid path")
	ErrInvalidVersion   = fmt.Errorf("invalid version string")
	ErrConfigValidation = fmt.Errorf("invalid configuration")
)

// HTTPStatusError carries the status code of a failed HTTP request. It
// matches ErrHTTPStatus under errors.Is so callers can discriminate on the
// kind without losing the code.
type HTTPStatusError struct {
	Code int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.Code)
}

// Is reports whether target is the ErrHTTPStatus sentinel.
func (e *HTTPStatusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// NewHTTPStatusError creates an HTTPStatusError for the given status code.
func NewHTTPStatusError(code int) *HTTPStatusError {
	return &HTTPStatusError{Code: code}
}

// HTTPStatusCode extracts the status code from an error chain, or 0 when the
// chain contains no HTTPStatusError.
func HTTPStatusCode(err error) int {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}

// Wrap wraps an error with additional context.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with additional formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
