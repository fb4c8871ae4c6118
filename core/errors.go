package core

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrNotFound is a sentinel error for "not found" cases
var ErrNotFound = errors.New("not found")

// IsNotFoundError checks if an error is a "not found" error
// This function handles both the new ErrNotFound sentinel error and legacy string-based errors
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	// Check for the new sentinel error
	if errors.Is(err, ErrNotFound) {
		return true
	}
	// Check for legacy string-based errors for backward compatibility
	return containsNotFound(err.Error())
}

// containsNotFound checks if an error message contains "not found"
func containsNotFound(errMsg string) bool {
	// Use case-insensitive matching for various "not found" formats
	return len(errMsg) > 0 && (regexp.MustCompile(`(?i)not found`).MatchString(errMsg))
}

// BackendErrorKind classifies a completion backend or chat platform failure
// into the retry policy it deserves
type BackendErrorKind string

const (
	BackendErrorRateLimited    BackendErrorKind = "RATE_LIMITED"
	BackendErrorUnavailable    BackendErrorKind = "UNAVAILABLE"
	BackendErrorTimeout        BackendErrorKind = "TIMEOUT"
	BackendErrorInvalidRequest BackendErrorKind = "INVALID_REQUEST"
	BackendErrorQuotaExhausted BackendErrorKind = "QUOTA_EXHAUSTED"
	BackendErrorAuthFailed     BackendErrorKind = "AUTH_FAILED"
	BackendErrorConflict       BackendErrorKind = "CONFLICT"
)

// BackendError carries the classified kind of a remote API failure alongside
// the underlying cause. RetryAfter is populated from rate limit responses
// when the server told us how long to wait, zero otherwise.
type BackendError struct {
	Kind       BackendErrorKind
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same request could plausibly
// succeed. Rate limits clear, outages recover, timeouts may have been a
// blip. Invalid requests, exhausted quotas and bad credentials will fail
// the same way every time.
func (e *BackendError) Transient() bool {
	switch e.Kind {
	case BackendErrorRateLimited, BackendErrorUnavailable, BackendErrorTimeout:
		return true
	default:
		return false
	}
}

// NewBackendError creates a BackendError with the given kind and message
func NewBackendError(kind BackendErrorKind, message string) *BackendError {
	return &BackendError{Kind: kind, Message: message}
}

// WrapBackendError creates a BackendError wrapping an underlying cause
func WrapBackendError(kind BackendErrorKind, message string, err error) *BackendError {
	return &BackendError{Kind: kind, Message: message, Err: err}
}

// AsBackendError extracts a BackendError from an error chain.
// Returns nil and false when the chain carries no classification.
func AsBackendError(err error) (*BackendError, bool) {
	var backendErr *BackendError
	if errors.As(err, &backendErr) {
		return backendErr, true
	}
	return nil, false
}

// IsTransientError reports whether the error chain carries a transient
// backend classification. Unclassified errors are treated as permanent.
func IsTransientError(err error) bool {
	if backendErr, ok := AsBackendError(err); ok {
		return backendErr.Transient()
	}
	return false
}

// RetryAfterOf returns the server-requested retry delay from the error
// chain, or zero when none was provided
func RetryAfterOf(err error) time.Duration {
	if backendErr, ok := AsBackendError(err); ok {
		return backendErr.RetryAfter
	}
	return 0
}
