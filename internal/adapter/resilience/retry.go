package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supplyintel/internal/infra/config"
)

// ErrRetriesExhausted is wrapped by Retry when every attempt failed transiently.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Retryer runs a call up to MaxAttempts times, backing off base×2^attempt
// between attempts. Only transient errors are retried.
type Retryer struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, err error, delay time.Duration)

	sleep func(ctx context.Context, d time.Duration) error // for testing
}

// NewRetryer creates a Retryer. Zero config values fall back to 3 attempts
// with a 1s base delay capped at 10s.
func NewRetryer(cfg config.RetryConfig) *Retryer {
	r := &Retryer{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		sleep:       sleepCtx,
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = 3
	}
	if r.baseDelay <= 0 {
		r.baseDelay = time.Second
	}
	if r.maxDelay <= 0 {
		r.maxDelay = 10 * time.Second
	}
	return r
}

// Delay returns the backoff before the attempt following attempt (0-based).
func (r *Retryer) Delay(attempt int) time.Duration {
	d := r.baseDelay << uint(attempt)
	if d <= 0 || d > r.maxDelay {
		return r.maxDelay
	}
	return d
}

// Attempts returns the configured attempt ceiling.
func (r *Retryer) Attempts() int { return r.maxAttempts }

// Retry runs fn until it succeeds, returns a non-transient error, the
// attempts run out, or ctx is done.
func Retry[T any](ctx context.Context, r *Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Classify(err).Retryable() {
			return zero, err
		}
		if attempt == r.maxAttempts-1 {
			break
		}

		delay := r.Delay(attempt)
		if r.OnRetry != nil {
			r.OnRetry(attempt+1, err, delay)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return zero, fmt.Errorf("retry cancelled: %w", lastErr)
		}
	}

	return zero, fmt.Errorf("%w: max attempts (%d) exceeded: %w", ErrRetriesExhausted, r.maxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
