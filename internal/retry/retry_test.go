package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_SuccessOnRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_AllAttemptsExhausted(t *testing.T) {
	sentinel := errors.New("receiver down")
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStops(t *testing.T) {
	sentinel := errors.New("410 gone")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	var pe *PermanentError
	assert.False(t, errors.As(err, &pe), "permanent wrapper is stripped")
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	assert.NoError(t, Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestPolicy_PassesContextAndCapsDelay(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "scan-7")
	p := Policy{Attempts: 4, BaseDelay: 5 * time.Millisecond, MaxDelay: 10 * time.Millisecond}

	var stamps []time.Time
	err := p.Do(ctx, func(ctx context.Context) error {
		assert.Equal(t, "scan-7", ctx.Value(key{}))
		stamps = append(stamps, time.Now())
		return errors.New("fail")
	})
	assert.Error(t, err)
	assert.Len(t, stamps, 4)
	for i := 1; i < len(stamps); i++ {
		assert.Less(t, stamps[i].Sub(stamps[i-1]), 500*time.Millisecond)
	}
}

func TestJitter(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := jitter(100 * time.Millisecond)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), jitter(0))
}
