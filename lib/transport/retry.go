package transport

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/gravitational/trace"
	"golang.org/x/time/rate"
)

// RetryPolicy controls exponential backoff for transient transport
// failures (dial errors, handshake timeouts).
type RetryPolicy struct {
	MaxRetries       int
	InitialBackoff   time.Duration
	BackoffMultiplier float64
	MaxBackoff       time.Duration
}

// DefaultTransportRetryPolicy matches the reference implementation: up
// to 3 retries, starting at 100ms, doubling, capped at 1s.
func DefaultTransportRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond, BackoffMultiplier: 2.0, MaxBackoff: time.Second}
}

// BackoffDuration returns the delay before the given attempt (0-indexed).
func (p RetryPolicy) BackoffDuration(attempt int) time.Duration {
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if d > float64(p.MaxBackoff) {
		d = float64(p.MaxBackoff)
	}
	return time.Duration(d)
}

// RetryExecutor runs an operation with RetryPolicy backoff and tracks
// aggregate counters for telemetry.
type RetryExecutor struct {
	policy   RetryPolicy
	limiter  *rate.Limiter
	attempts uint64
	successes uint64
	failures uint64
}

// NewRetryExecutor constructs an executor. limiter, if non-nil, caps how
// often retries may fire across all callers (backoff jitter ceiling),
// independent of any single operation's own backoff schedule.
func NewRetryExecutor(policy RetryPolicy, limiter *rate.Limiter) *RetryExecutor {
	return &RetryExecutor{policy: policy, limiter: limiter}
}

// Execute runs fn, retrying on error up to policy.MaxRetries times with
// exponential backoff, honoring ctx cancellation between attempts.
func (e *RetryExecutor) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= e.policy.MaxRetries; attempt++ {
		atomic.AddUint64(&e.attempts, 1)
		if attempt > 0 {
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return trace.Wrap(err)
				}
			}
			select {
			case <-ctx.Done():
				return trace.Wrap(ctx.Err())
			case <-time.After(e.policy.BackoffDuration(attempt - 1)):
			}
		}
		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		atomic.AddUint64(&e.successes, 1)
		return nil
	}
	atomic.AddUint64(&e.failures, 1)
	return trace.Wrap(lastErr, "operation failed after %d attempts", e.policy.MaxRetries+1)
}

// Counters returns (attempts, successes, failures) observed so far.
func (e *RetryExecutor) Counters() (uint64, uint64, uint64) {
	return atomic.LoadUint64(&e.attempts), atomic.LoadUint64(&e.successes), atomic.LoadUint64(&e.failures)
}
