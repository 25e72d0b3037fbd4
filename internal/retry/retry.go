// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// MaxJitter caps the random fraction added to each computed delay.
const MaxJitter = 0.1

// Policy configures Do. The zero value is not useful; start from Default.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	// Jitter is the upper bound of the random fraction added to a delay,
	// clamped to [0, MaxJitter].
	Jitter float64
	// AttemptTimeout bounds a single call; zero means no per-attempt limit.
	AttemptTimeout time.Duration

	// OnRetry is called after a failed, non-final attempt.
	OnRetry func(attempt int, err error, delay time.Duration)

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2,
		Jitter:      MaxJitter,
	}
}

// Do invokes op until it succeeds or MaxAttempts is reached. The error of
// the final attempt is returned as is.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	random := p.rand
	if random == nil {
		random = rand.Float64
	}

	delay := p.BaseDelay
	for attempt := 1; ; attempt++ {
		v, err := call(ctx, p.AttemptTimeout, op)
		if err == nil {
			return v, nil
		}
		if attempt >= attempts {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		wait := withJitter(delay, p.Jitter, random())
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return zero, serr
		}

		if p.Multiplier > 0 {
			delay = time.Duration(float64(delay) * p.Multiplier)
		}
	}
}

func call[T any](ctx context.Context, timeout time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(attemptCtx)
}

func withJitter(d time.Duration, jitter, r float64) time.Duration {
	if jitter < 0 {
		jitter = 0
	}
	if jitter > MaxJitter {
		jitter = MaxJitter
	}
	return time.Duration(float64(d) * (1 + r*jitter))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
