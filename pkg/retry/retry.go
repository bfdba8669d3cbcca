// Package retry wraps an event handler so that a transient ResourceNotReady
// failure is retried with full-jitter exponential backoff up to a deadline,
// instead of propagating immediately.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"k8s.io/klog/v2"

	"github.com/kuryr/kuryr-controller/pkg/kerrors"
)

// Handler processes one event. It returns a *kerrors.ResourceNotReady to
// request a retry; any other error is not retried.
type Handler func(ctx context.Context, event any) error

// Options configures the backoff schedule.
type Options struct {
	// Timeout bounds the total time spent retrying a single event.
	Timeout time.Duration
	// Interval is the base unit multiplied by the jittered exponential
	// factor at each attempt.
	Interval time.Duration
	// Retryable reports whether err should trigger another attempt.
	// Defaults to "is a *kerrors.ResourceNotReady" when nil.
	Retryable func(err error) bool
	// Sleep is the clock used to wait between attempts; overridable in
	// tests. Defaults to time.Sleep's semantics via context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration)
	// Rand supplies the jitter; overridable in tests for determinism.
	Rand *rand.Rand
}

func defaultRetryable(err error) bool {
	var notReady *kerrors.ResourceNotReady
	return errors.As(err, &notReady)
}

func defaultSleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// Wrap returns a Handler that retries h according to opts whenever it
// returns a retryable error, sleeping for
// random_int(1, 2^attempt-1) * Interval (capped by the remaining time to
// the deadline) between attempts.
func Wrap(h Handler, opts Options) Handler {
	retryable := opts.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = defaultSleep
	}
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return func(ctx context.Context, event any) error {
		deadline := time.Now().Add(opts.Timeout)

		for attempt := 1; ; attempt++ {
			err := h(ctx, event)
			if err == nil {
				return nil
			}
			if !retryable(err) {
				return err
			}

			remaining := time.Until(deadline)
			if remaining <= 0 {
				return err
			}

			sleepTarget := jitteredBackoff(rng, attempt, opts.Interval)
			wait := sleepTarget
			if wait > remaining {
				wait = remaining
			}

			klog.V(2).InfoS("retrying after resource-not-ready", "attempt", attempt, "wait", wait, "err", err)
			sleep(ctx, wait)

			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

// jitteredBackoff computes random_int(1, 2^attempt-1) * interval, the
// full-jitter exponential backoff used by the retry wrapper. At attempt 1
// the range collapses to exactly interval.
func jitteredBackoff(rng *rand.Rand, attempt int, interval time.Duration) time.Duration {
	maxFactor := (int64(1) << uint(attempt)) - 1
	if maxFactor < 1 {
		maxFactor = 1
	}
	factor := int64(1)
	if maxFactor > 1 {
		factor = 1 + rng.Int63n(maxFactor)
	}
	return time.Duration(factor) * interval
}
