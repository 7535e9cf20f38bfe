package reasoning

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedBackend struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedBackend) Name() string {
	return "scripted"
}

func (s *scriptedBackend) Complete(ctx context.Context, req Request) (string, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], s.errs[i]
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("429 too many requests"), true},
		{"server error", errors.New("upstream returned 503"), true},
		{"connection reset", errors.New("read: ECONNRESET"), true},
		{"bad request", errors.New("400 invalid request"), false},
		{"auth failure", errors.New("401 unauthorized"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRetryBackend_RecoversFromRetryableError(t *testing.T) {
	inner := &scriptedBackend{
		responses: []string{"", "answer"},
		errs:      []error{errors.New("503 service unavailable"), nil},
	}

	backend := NewRetryBackend(inner, 2)

	out, err := backend.Complete(context.Background(), Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "answer", out)
	assert.Equal(t, 2, inner.calls)
}

func TestRetryBackend_StopsOnNonRetryableError(t *testing.T) {
	inner := &scriptedBackend{
		responses: []string{""},
		errs:      []error{errors.New("401 unauthorized")},
	}

	backend := NewRetryBackend(inner, 3)

	_, err := backend.Complete(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryBackend_ExhaustsRetries(t *testing.T) {
	inner := &scriptedBackend{
		responses: []string{""},
		errs:      []error{fmt.Errorf("rate limit exceeded")},
	}

	backend := NewRetryBackend(inner, 2)

	_, err := backend.Complete(context.Background(), Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryBackend_HonorsContextDuringBackoff(t *testing.T) {
	inner := &scriptedBackend{
		responses: []string{""},
		errs:      []error{errors.New("503 service unavailable")},
	}

	backend := NewRetryBackend(inner, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := backend.Complete(ctx, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestBackendUnavailableError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &BackendUnavailableError{Provider: "anthropic", Err: cause}

	assert.Contains(t, err.Error(), "anthropic")
	assert.ErrorIs(t, err, cause)
}
