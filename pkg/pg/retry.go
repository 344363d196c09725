package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/number-market/pkg/logger"
)

const (
	DefaultRetries   = 3
	DefaultBaseDelay = 2 * time.Millisecond
)

// WithRetry runs fn until it succeeds, fails with a non-transient error or
// the budget runs out. Backoff doubles from baseDelay: 2ms, 4ms, 8ms.
func WithRetry(ctx context.Context, operation string, maxRetries int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			logger.Warn("retrying transient store error", "operation", operation, "attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%w: %s failed after %d attempts: %v", ErrRetriesExhausted, operation, maxRetries+1, lastErr)
}
