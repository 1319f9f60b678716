package portal

import (
	"context"
	"time"

	"github.com/ieraasyl/StudentPortal/internal/database"
	"github.com/ieraasyl/StudentPortal/internal/metrics"
	"github.com/ieraasyl/StudentPortal/pkg/config"
	"github.com/ieraasyl/StudentPortal/pkg/utils"
)

// caller runs backend calls under the configured timeout. Reads go through
// the linear retry policy; writes and session operations run exactly once.
type caller struct {
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

func newCaller(cfg *config.PortalConfig) caller {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return caller{
		timeout:  timeout,
		attempts: cfg.ReadAttempts,
		backoff:  cfg.ReadBackoff,
	}
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// once runs fn a single time.
func (c caller) once(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	metrics.RecordBackendCall(operation, callStatus(err), time.Since(start))
	return err
}

// read runs an idempotent fn with retries. Not-found is final.
func read[T any](ctx context.Context, c caller, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	policy := utils.LinearRetryConfig(operation, c.attempts, c.backoff)
	policy.PermanentErrors = []error{database.ErrNotFound}

	start := time.Now()
	res, err := utils.RetryWithResult(ctx, policy, func() (T, error) {
		return fn(ctx)
	})
	metrics.RecordBackendCall(operation, callStatus(err), time.Since(start))
	return res, err
}
