package utils

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestRetryWithResult(t *testing.T) {
	ctx := context.Background()

	t.Run("single attempt returns error unwrapped", func(t *testing.T) {
		calls := 0
		_, err := RetryWithResult(ctx, LinearRetryConfig("read", 1, time.Millisecond), func() (int, error) {
			calls++
			return 0, errTransient
		})

		assert.Equal(t, 1, calls)
		assert.Same(t, errTransient, err)
	})

	t.Run("succeeds after retry", func(t *testing.T) {
		calls := 0
		got, err := RetryWithResult(ctx, LinearRetryConfig("read", 3, time.Millisecond), func() (string, error) {
			calls++
			if calls < 3 {
				return "", errTransient
			}
			return "ok", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 3, calls)
	})

	t.Run("wraps last error after exhausting attempts", func(t *testing.T) {
		err := Retry(ctx, LinearRetryConfig("read", 2, time.Millisecond), func() error {
			return errTransient
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, errTransient)
		assert.Contains(t, err.Error(), "max retries exceeded (2 attempts)")
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		cfg := LinearRetryConfig("read", 5, time.Millisecond)
		cfg.RetryableErrors = []error{errTransient}
		permanent := errors.New("permanent")

		calls := 0
		err := Retry(ctx, cfg, func() error {
			calls++
			return permanent
		})

		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, permanent)
	})

	t.Run("permanent errors abort immediately", func(t *testing.T) {
		notFound := errors.New("not found")
		cfg := LinearRetryConfig("read", 3, time.Millisecond)
		cfg.PermanentErrors = []error{notFound}

		calls := 0
		err := Retry(ctx, cfg, func() error {
			calls++
			return fmt.Errorf("student: %w", notFound)
		})

		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, notFound)
	})

	t.Run("honours context cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := Retry(cctx, LinearRetryConfig("read", 3, time.Second), func() error {
			return errTransient
		})

		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCalculateDelay(t *testing.T) {
	t.Run("linear", func(t *testing.T) {
		cfg := LinearRetryConfig("read", 3, 100*time.Millisecond)
		assert.Equal(t, 100*time.Millisecond, calculateDelay(1, cfg))
		assert.Equal(t, 200*time.Millisecond, calculateDelay(2, cfg))
	})

	t.Run("exponential capped at max", func(t *testing.T) {
		cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
		assert.Equal(t, time.Second, calculateDelay(1, cfg))
		assert.Equal(t, 2*time.Second, calculateDelay(2, cfg))
		assert.Equal(t, 3*time.Second, calculateDelay(3, cfg))
	})
}
