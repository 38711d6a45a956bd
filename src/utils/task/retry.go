package task

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Implement operation retrying.
// The delay between attempts is flat by default, exponential growth is opt-in.
type Retry struct {
	ctx         context.Context
	maxAttempts uint64
	delay       time.Duration
	exponential bool
	maxInterval time.Duration
	isRetryable func(error) bool
	onError     func(error)
}

func NewRetry() *Retry {
	return new(Retry)
}

func (self *Retry) WithContext(ctx context.Context) *Retry {
	self.ctx = ctx
	return self
}

// Total number of attempts, including the first one
func (self *Retry) WithMaxAttempts(maxAttempts uint64) *Retry {
	self.maxAttempts = maxAttempts
	return self
}

func (self *Retry) WithDelay(delay time.Duration) *Retry {
	self.delay = delay
	return self
}

func (self *Retry) WithExponentialGrowth(maxInterval time.Duration) *Retry {
	self.exponential = true
	self.maxInterval = maxInterval
	return self
}

// Errors that aren't retryable stop the loop right away
func (self *Retry) WithIsRetryable(f func(error) bool) *Retry {
	self.isRetryable = f
	return self
}

func (self *Retry) WithOnError(f func(error)) *Retry {
	self.onError = f
	return self
}

func (self *Retry) onNotify(err error, duration time.Duration) {
	if self.onError != nil {
		self.onError(err)
	}
}

func (self *Retry) newBackOff() backoff.BackOff {
	var b backoff.BackOff
	if self.exponential {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = self.delay
		eb.MaxInterval = self.maxInterval
		eb.MaxElapsedTime = 0
		b = eb
	} else {
		b = backoff.NewConstantBackOff(self.delay)
	}

	if self.maxAttempts > 0 {
		b = backoff.WithMaxRetries(b, self.maxAttempts-1)
	}

	if self.ctx != nil {
		b = backoff.WithContext(b, self.ctx)
	}

	return b
}

// Run calls f until it succeeds, isn't worth retrying or attempts run out.
// Exhaustion wraps the last error with the number of attempts made.
func (self *Retry) Run(f func() error) error {
	var attempts uint64

	err := backoff.RetryNotify(func() error {
		attempts++
		err := f()
		if err == nil {
			return nil
		}
		if self.isRetryable != nil && !self.isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, self.newBackOff(), self.onNotify)
	if err == nil {
		return nil
	}

	if self.isRetryable != nil && !self.isRetryable(err) {
		// Not retried, report as-is
		return err
	}

	return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
}
