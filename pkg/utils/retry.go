// Package utils provides retry logic with exponential or linear backoff for
// transient failures, with context-aware cancellation. The portal uses it for
// startup connections to PostgreSQL and Redis and for idempotent backend
// reads; writes and session operations are never retried.
package utils

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig holds configuration for retry behavior.
type RetryConfig struct {
	MaxAttempts     int           // Maximum number of attempts (including first try)
	InitialDelay    time.Duration // Delay before the first retry
	MaxDelay        time.Duration // Maximum delay between retries
	Multiplier      float64       // Exponential backoff multiplier (ignored when Linear)
	Linear          bool          // delay = InitialDelay * attempt
	Jitter          bool          // Add ±25% random jitter to delays
	RetryableErrors []error       // Errors that should trigger retry (nil = retry all)
	PermanentErrors []error       // Errors that never trigger retry, checked first
	Operation       string        // Name used in log lines
}

// DatabaseRetryConfig returns a retry configuration for database connections.
// Database containers are often still starting when the process boots.
//
// Configuration:
//   - Max attempts: 5
//   - Initial delay: 100ms
//   - Max delay: 3s
//   - Multiplier: 2.0
//   - Jitter: enabled
func DatabaseRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// LinearRetryConfig returns a small fixed-count retry policy with linear
// backoff, used for idempotent backend reads.
//
// With attempts=3 and delay=500ms the waits are 500ms then 1s.
// attempts<=1 disables retrying.
func LinearRetryConfig(operation string, attempts int, delay time.Duration) RetryConfig {
	if attempts < 1 {
		attempts = 1
	}
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     delay * time.Duration(attempts),
		Linear:       true,
		Operation:    operation,
	}
}

// Retry executes a function until it succeeds, max attempts is reached,
// or the context is cancelled.
//
// Example:
//
//	err := utils.Retry(ctx, utils.DatabaseRetryConfig(), func() error {
//	    return db.PingContext(ctx)
//	})
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	_, err := RetryWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// RetryWithResult executes a function with retry logic and returns its result.
// The last error is wrapped so errors.Is still matches the underlying cause.
//
// Example:
//
//	profile, err := utils.RetryWithResult(ctx, cfg, func() (*models.StudentProfile, error) {
//	    return store.GetStudentByID(ctx, id)
//	})
func RetryWithResult[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	maxAttempts := config.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("operation", config.Operation).
					Int("attempt", attempt).
					Int("max_attempts", maxAttempts).
					Msg("Operation succeeded after retry")
			}
			return res, nil
		}

		lastErr = err

		if maxAttempts == 1 {
			return zero, err
		}

		if !isRetryable(err, config.RetryableErrors, config.PermanentErrors) {
			log.Debug().
				Err(err).
				Str("operation", config.Operation).
				Int("attempt", attempt).
				Msg("Error is not retryable, aborting")
			return zero, fmt.Errorf("non-retryable error: %w", err)
		}

		if attempt >= maxAttempts {
			log.Warn().
				Err(err).
				Str("operation", config.Operation).
				Int("attempts", attempt).
				Msg("Max retry attempts reached")
			break
		}

		delay := calculateDelay(attempt, config)

		log.Debug().
			Err(err).
			Str("operation", config.Operation).
			Int("attempt", attempt).
			Int("max_attempts", maxAttempts).
			Dur("delay", delay).
			Msg("Operation failed, retrying after delay")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return zero, fmt.Errorf("max retries exceeded (%d attempts): %w", maxAttempts, lastErr)
}

// calculateDelay returns the wait before the next attempt, capped at MaxDelay.
func calculateDelay(attempt int, config RetryConfig) time.Duration {
	var delay float64
	if config.Linear {
		delay = float64(config.InitialDelay) * float64(attempt)
	} else {
		delay = float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	}

	if config.MaxDelay > 0 && delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.25
		delay += (rand.Float64() * 2 * jitterRange) - jitterRange
	}

	return time.Duration(delay)
}

// isRetryable checks if an error should trigger a retry.
// If no specific retryable errors are configured, all errors except the
// permanent ones are retryable.
func isRetryable(err error, retryableErrors, permanentErrors []error) bool {
	for _, permanent := range permanentErrors {
		if errors.Is(err, permanent) {
			return false
		}
	}
	if len(retryableErrors) == 0 {
		return true
	}
	for _, retryableErr := range retryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}
	return false
}
