package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plaidtext/beansync/internal/service"
)

func fastOpts() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetrySucceedsAfterTransientFailure(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastOpts())

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	wrapped := &RetryableError{Err: ErrReauthRequired, Retryable: false}
	err := WithRetry(context.Background(), func() error {
		attempts++
		return wrapped
	}, fastOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrReauthRequired)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return errors.New("always fails")
	}, fastOpts())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryHonorsRateLimitDelay(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return &RateLimitError{RetryAfter: 20 * time.Millisecond}
		}
		return nil
	}, fastOpts())

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	// The server-provided delay overrides the 1ms computed backoff.
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error {
		return errors.New("failing")
	}, fastOpts())

	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "rate limit sentinel", err: ErrRateLimit, want: true},
		{name: "rate limit error type", err: &RateLimitError{RetryAfter: time.Second}, want: true},
		{name: "retryable wrapper", err: &RetryableError{Err: errors.New("x"), Retryable: true}, want: true},
		{name: "non-retryable wrapper", err: &RetryableError{Err: errors.New("x"), Retryable: false}, want: false},
		{name: "plain error", err: errors.New("x"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestRateLimitErrorUnwrapsToSentinel(t *testing.T) {
	err := &RateLimitError{RetryAfter: time.Minute}
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.Contains(t, err.Error(), "1m")
}

func TestUserError(t *testing.T) {
	err := NewUserError("could not reach Plaid", errors.New("dial tcp: timeout"))
	assert.Contains(t, err.Error(), "could not reach Plaid")
	var userErr *UserError
	require.ErrorAs(t, err, &userErr)
	assert.Equal(t, "could not reach Plaid", userErr.UserMessage)
}
