// Package retry provides the exponential-backoff retry engine and the bounded
// polling primitive shared by the bootstrap and deployment state machines.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	apperrors "github.com/sandboxhq/scenario-deployer/internal/errors"
)

// Policy is an immutable retry configuration.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultPolicy is sized so a full retry cycle fits well inside the Lambda
// invocation deadline.
var DefaultPolicy = Policy{
	MaxAttempts:  3,
	BaseDelay:    time.Second,
	MaxDelay:     30 * time.Second,
	JitterFactor: 0.2,
}

// Do executes op up to policy.MaxAttempts times, sleeping between attempts
// with exponential backoff and uniform jitter. isRetryable decides whether a
// failure is worth another attempt; pass nil to use the default predicate,
// which retries only errors explicitly marked retryable. After exhausting
// attempts the original error propagates unwrapped.
func Do[T any](ctx context.Context, policy Policy, op func(ctx context.Context) (T, error), isRetryable func(error) bool) (T, error) {
	if isRetryable == nil {
		isRetryable = apperrors.IsRetryable
	}

	var zero T
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, delayFor(policy, attempt)); err != nil {
				return zero, err
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}
	}
	return zero, lastErr
}

// delayFor computes the backoff before attempt k (1-indexed here):
// min(base * 2^(k-1), max), perturbed by uniform jitter in
// [-JitterFactor, +JitterFactor] of the delay.
func delayFor(policy Policy, attempt int) time.Duration {
	delay := float64(policy.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(policy.MaxDelay); delay > max {
		delay = max
	}
	if policy.JitterFactor > 0 {
		jitter := (rand.Float64()*2 - 1) * policy.JitterFactor * delay
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
