package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/leapstack-labs/leapmesh/pkg/core"
)

// Default retry bounds for transient storage failures.
const (
	DefaultAttempts       = 3
	DefaultInitialBackoff = time.Second
)

// RetryPolicy bounds how often a transient storage error is retried.
type RetryPolicy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// InitialBackoff is the first delay; each later delay doubles.
	InitialBackoff time.Duration
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff from 1s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: DefaultAttempts, InitialBackoff: DefaultInitialBackoff}
}

func (p RetryPolicy) backoff() retry.Backoff {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = DefaultInitialBackoff
	}
	return retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(initial))
}

// withRetry runs op, retrying only errors marked retryable. The last error
// is returned unchanged once the attempts are spent.
func withRetry(ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(context.Context) error) error {
	attempt := 0
	return retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if core.IsRetryable(err) {
			logger.Warn("transient storage error",
				slog.String("op", op),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()))
			return retry.RetryableError(err)
		}
		return err
	})
}
