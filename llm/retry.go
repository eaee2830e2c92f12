// ABOUTME: Retry policy with exponential backoff and full jitter for provider calls.
// ABOUTME: Server-provided retry-after hints override the computed delay.

package llm

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how failed provider calls are retried.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// DefaultRetryPolicy returns the stock policy: 3 retries, 500ms base,
// exponential doubling capped at 30s, full jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Delay computes the backoff before retry attempt (0-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter {
		d = rand.Float64() * d
	}
	return time.Duration(d)
}

// Retry runs fn until it succeeds, exhausts the retry budget, or hits a
// non-retryable error. The context cancels waits between attempts.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := policy.Delay(attempt - 1)
			if hint, ok := RetryAfterHint(lastErr); ok && hint > delay {
				delay = hint
			}
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}
