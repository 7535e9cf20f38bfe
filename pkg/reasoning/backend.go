package reasoning

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Request is one completion request to the reasoning backend
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Backend is the reasoning collaborator contract. Implementations return
// the raw completion text; interpreting it is the caller's job.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// BackendUnavailableError is returned when the reasoning backend cannot be
// reached or refuses the call
type BackendUnavailableError struct {
	Provider string
	Err      error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("reasoning backend %s unavailable: %v", e.Provider, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	errMsg := err.Error()

	// Network errors
	if strings.Contains(errMsg, "ECONNRESET") || strings.Contains(errMsg, "ETIMEDOUT") ||
		strings.Contains(errMsg, "connection refused") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	if strings.Contains(errMsg, "500") || strings.Contains(errMsg, "502") ||
		strings.Contains(errMsg, "503") || strings.Contains(errMsg, "504") {
		return true
	}

	return false
}

// RetryBackend wraps a backend with exponential backoff on retryable
// failures. The decision engine never retries internally; this wrapper is
// the caller's retry policy.
type RetryBackend struct {
	inner      Backend
	maxRetries int
}

// NewRetryBackend wraps backend with up to maxRetries additional attempts
func NewRetryBackend(backend Backend, maxRetries int) *RetryBackend {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryBackend{inner: backend, maxRetries: maxRetries}
}

func (b *RetryBackend) Name() string {
	return b.inner.Name()
}

func (b *RetryBackend) Complete(ctx context.Context, req Request) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1000*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		out, err := b.inner.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return "", err
		}
	}

	return "", lastErr
}
