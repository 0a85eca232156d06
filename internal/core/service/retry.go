package service

import (
	"context"
	"time"
)

// RetryPolicy governs how Retry re-attempts a failing operation: up to
// Attempts tries total, waiting InitialBackoff before the second try and
// multiplying the wait by Multiplier each time after, capped at MaxBackoff.
type RetryPolicy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64

	// Retryable reports whether err justifies another attempt. Nil means
	// every error is retried — appropriate for dial-time failures where
	// the distinction between transient and permanent isn't worth
	// inspecting, but a caller facing e.g. a user-callback error should
	// supply one rather than retrying a deterministic failure.
	Retryable func(err error) bool
}

// DefaultRetryPolicy preserves current behavior (single attempt, no backoff).
var DefaultRetryPolicy = RetryPolicy{
	Attempts:       1,
	InitialBackoff: 0,
	MaxBackoff:     0,
	Multiplier:     1,
}

// Retry calls fn until it succeeds, policy.Attempts is exhausted, ctx is
// canceled during a backoff wait, or fn returns an error policy.Retryable
// rejects. It returns nil on success, ctx.Err() when canceled during a
// backoff wait, and otherwise the last error fn returned. ctx is not
// checked between attempts when there is no backoff.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = 1
	}

	backoff := policy.InitialBackoff
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == policy.Attempts || (policy.Retryable != nil && !policy.Retryable(err)) {
			return err
		}
		if backoff <= 0 {
			continue
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = nextBackoff(backoff, policy.Multiplier, policy.MaxBackoff)
	}
	return nil
}

func nextBackoff(current time.Duration, multiplier float64, max time.Duration) time.Duration {
	next := time.Duration(float64(current) * multiplier)
	if max > 0 && next > max {
		return max
	}
	return next
}
