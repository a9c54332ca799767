package browser

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig controls the exponential backoff of the readiness probe.
type RetryConfig struct {
	MaxRetries int           // max retry attempts (default 10, 0 = no retry)
	BaseDelay  time.Duration // initial backoff delay (default 200ms)
	MaxDelay   time.Duration // maximum backoff delay (default 2s)
}

// DefaultRetryConfig returns sensible defaults for a local Chrome startup.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 10,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   2 * time.Second,
	}
}

// executeWithRetry runs fn until it succeeds, retries are exhausted or ctx
// is done. It returns the last error and the number of attempts made.
func executeWithRetry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (result T, attempts int, err error) {
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, attempt + 1, nil
		}
		if attempt == cfg.MaxRetries {
			break
		}

		t := time.NewTimer(backoffWithJitter(cfg.BaseDelay, cfg.MaxDelay, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			var zero T
			return zero, attempt + 1, ctx.Err()
		case <-t.C:
		}
	}
	var zero T
	return zero, cfg.MaxRetries + 1, err
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max || delay <= 0 {
		delay = max
	}
	if quarter := delay / 4; quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return delay
}
