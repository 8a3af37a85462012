// Package retry provides a backoff harness for transient failures and the
// run-loop retry budget.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy defines how to retry an operation.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// NetworkPolicy is the policy for order-book and balance fetches.
var NetworkPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     4 * time.Second,
}

// IsTransientFunc reports whether an error is transient and worth retrying.
type IsTransientFunc func(error) bool

// Do executes fn with retries according to the policy. Non-transient errors
// propagate immediately; the last error is returned once attempts run out.
func Do(ctx context.Context, policy Policy, isTransient IsTransientFunc, fn func() error) error {
	var err error
	backoff := policy.InitialBackoff

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			return err
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}

		// Jittered backoff: backoff + random(0, 50% of backoff)
		jitter := time.Duration(rand.Int63n(int64(backoff / 2)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff + jitter):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
