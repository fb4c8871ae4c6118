package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendError_Transient(t *testing.T) {
	testCases := []struct {
		name      string
		kind      BackendErrorKind
		transient bool
	}{
		{
			name:      "rate limited is transient",
			kind:      BackendErrorRateLimited,
			transient: true,
		},
		{
			name:      "unavailable is transient",
			kind:      BackendErrorUnavailable,
			transient: true,
		},
		{
			name:      "timeout is transient",
			kind:      BackendErrorTimeout,
			transient: true,
		},
		{
			name:      "invalid request is permanent",
			kind:      BackendErrorInvalidRequest,
			transient: false,
		},
		{
			name:      "quota exhausted is permanent",
			kind:      BackendErrorQuotaExhausted,
			transient: false,
		},
		{
			name:      "auth failure is permanent",
			kind:      BackendErrorAuthFailed,
			transient: false,
		},
		{
			name:      "conflict is permanent",
			kind:      BackendErrorConflict,
			transient: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := NewBackendError(tc.kind, "boom")
			assert.Equal(t, tc.transient, err.Transient())
			assert.Equal(t, tc.transient, IsTransientError(err))
		})
	}
}

func TestBackendError_UnwrapsThroughChain(t *testing.T) {
	cause := errors.New("connection reset")
	backendErr := WrapBackendError(BackendErrorUnavailable, "backend request failed", cause)
	wrapped := fmt.Errorf("failed to get completion: %w", backendErr)

	extracted, ok := AsBackendError(wrapped)
	require.True(t, ok, "Should find BackendError through fmt.Errorf wrapping")
	assert.Equal(t, BackendErrorUnavailable, extracted.Kind)
	assert.True(t, errors.Is(wrapped, cause), "Original cause should survive unwrapping")
	assert.True(t, IsTransientError(wrapped))
}

func TestAsBackendError_UnclassifiedError(t *testing.T) {
	plain := errors.New("something broke")

	_, ok := AsBackendError(plain)
	assert.False(t, ok)
	assert.False(t, IsTransientError(plain), "Unclassified errors should be treated as permanent")
	assert.False(t, IsTransientError(nil))
}

func TestRetryAfterOf(t *testing.T) {
	err := &BackendError{
		Kind:       BackendErrorRateLimited,
		Message:    "too many requests",
		RetryAfter: 7 * time.Second,
	}
	wrapped := fmt.Errorf("attempt 1 failed: %w", err)

	assert.Equal(t, 7*time.Second, RetryAfterOf(wrapped))
	assert.Equal(t, time.Duration(0), RetryAfterOf(errors.New("no classification")))
}

func TestBackendError_Message(t *testing.T) {
	withCause := WrapBackendError(BackendErrorInvalidRequest, "model rejected prompt", errors.New("400 bad request"))
	assert.Contains(t, withCause.Error(), "INVALID_REQUEST")
	assert.Contains(t, withCause.Error(), "model rejected prompt")
	assert.Contains(t, withCause.Error(), "400 bad request")

	withoutCause := NewBackendError(BackendErrorTimeout, "deadline hit")
	assert.Contains(t, withoutCause.Error(), "TIMEOUT")
	assert.Contains(t, withoutCause.Error(), "deadline hit")
}

func TestIsNotFoundError(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "sentinel error",
			err:      ErrNotFound,
			expected: true,
		},
		{
			name:     "wrapped sentinel",
			err:      fmt.Errorf("failed to get processed event: %w", ErrNotFound),
			expected: true,
		},
		{
			name:     "legacy string match",
			err:      errors.New("processed event Not Found in store"),
			expected: true,
		},
		{
			name:     "unrelated error",
			err:      errors.New("connection refused"),
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, IsNotFoundError(tc.err))
		})
	}
}
