package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(attempts int) (Policy, *[]time.Duration) {
	var slept []time.Duration
	p := Policy{
		MaxAttempts: attempts,
		BaseDelay:   100 * time.Millisecond,
		Multiplier:  2,
		Jitter:      MaxJitter,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
		rand: func() float64 { return 0.5 },
	}
	return p, &slept
}

func TestDoSucceedsAfterTwoFailures(t *testing.T) {
	p, slept := fastPolicy(3)
	calls := 0

	got, err := Do(context.Background(), p, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("fail")
		}
		return "success", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "success", got)
	assert.Equal(t, 3, calls)
	assert.Len(t, *slept, 2)
}

func TestDoReturnsOriginalErrorAfterLastAttempt(t *testing.T) {
	p, _ := fastPolicy(3)
	boom := errors.New("upstream down")
	calls := 0

	_, err := Do(context.Background(), p, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})

	require.Error(t, err)
	assert.Same(t, boom, err)
	assert.Equal(t, 3, calls)
}

func TestDoBackoffGrowsWithBoundedJitter(t *testing.T) {
	p, slept := fastPolicy(4)

	_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})

	// base 100ms doubled each retry, plus 0.5 * 10% jitter
	assert.Equal(t, []time.Duration{
		105 * time.Millisecond,
		210 * time.Millisecond,
		420 * time.Millisecond,
	}, *slept)
}

func TestWithJitterIsClamped(t *testing.T) {
	assert.Equal(t, 110*time.Millisecond, withJitter(100*time.Millisecond, 5, 1))
	assert.Equal(t, 100*time.Millisecond, withJitter(100*time.Millisecond, -1, 1))
}

func TestDoTreatsAttemptTimeoutAsRetryable(t *testing.T) {
	p, _ := fastPolicy(2)
	p.AttemptTimeout = 10 * time.Millisecond
	calls := 0

	got, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 7, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, 2, calls)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Default()
	p.BaseDelay = time.Hour
	calls := 0

	_, err := Do(ctx, p, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("fail")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDoCallsOnRetry(t *testing.T) {
	p, _ := fastPolicy(3)
	var attempts []int
	p.OnRetry = func(attempt int, _ error, _ time.Duration) {
		attempts = append(attempts, attempt)
	}

	_, _ = Do(context.Background(), p, func(context.Context) (int, error) {
		return 0, errors.New("fail")
	})

	assert.Equal(t, []int{1, 2}, attempts)
}
