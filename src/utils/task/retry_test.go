package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryExhaustsAttempts(t *testing.T) {
	boom := errors.New("ledger unreachable")

	var calls int
	err := NewRetry().
		WithContext(context.Background()).
		WithMaxAttempts(3).
		WithDelay(time.Millisecond).
		Run(func() error {
			calls++
			return boom
		})

	assert.Equal(t, 3, calls)
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "3 attempts")
}

func TestRetrySucceedsMidway(t *testing.T) {
	var calls int
	err := NewRetry().
		WithContext(context.Background()).
		WithMaxAttempts(3).
		WithDelay(time.Millisecond).
		Run(func() error {
			calls++
			if calls < 2 {
				return errors.New("transient")
			}
			return nil
		})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("malformed account")

	var calls int
	err := NewRetry().
		WithContext(context.Background()).
		WithMaxAttempts(3).
		WithDelay(time.Millisecond).
		WithIsRetryable(func(err error) bool { return false }).
		Run(func() error {
			calls++
			return fatal
		})

	assert.Equal(t, 1, calls)
	// Not wrapped with an attempt count, the operation wasn't retried
	assert.Equal(t, fatal, err)
}

func TestRetryReportsEveryFailure(t *testing.T) {
	var notified int
	_ = NewRetry().
		WithContext(context.Background()).
		WithMaxAttempts(3).
		WithDelay(time.Millisecond).
		WithOnError(func(err error) { notified++ }).
		Run(func() error {
			return errors.New("transient")
		})

	// The last failure isn't notified, there's no retry following it
	assert.Equal(t, 2, notified)
}

func TestRetryHonoursContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	errs := make(chan error, 1)
	go func() {
		errs <- NewRetry().
			WithContext(ctx).
			WithMaxAttempts(100).
			WithDelay(time.Hour).
			Run(func() error {
				calls++
				return errors.New("transient")
			})
	}()

	// Let the first attempt run, then give up waiting
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.Error(t, err)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("retry ignored context cancellation")
	}
}
