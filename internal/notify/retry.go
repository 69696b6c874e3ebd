package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff is a bounded exponential retry policy: Base doubling per retry,
// capped at Max, for at most Attempts runs.
type Backoff struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func (b Backoff) exponential() *backoff.ExponentialBackOff {
	e := backoff.NewExponentialBackOff()
	e.InitialInterval = b.Base
	e.Multiplier = 2
	e.RandomizationFactor = 0
	if b.Max > 0 {
		e.MaxInterval = b.Max
	}
	e.Reset()
	return e
}

// Task is one unit of work retried under a Backoff until it succeeds, the
// attempts run out or ctx is cancelled. OnRetry, when set, sees each failure
// that will be retried and the wait before the next run.
type Task struct {
	Name    string
	Run     func(ctx context.Context) error
	OnRetry func(err error, wait time.Duration)
}

// Do runs t and returns the number of attempts made with the last error.
func (b Backoff) Do(ctx context.Context, t Task) (int, error) {
	attempts := b.Attempts
	if attempts < 1 {
		attempts = 1
	}

	n := 0
	opts := []backoff.RetryOption{
		backoff.WithBackOff(b.exponential()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if t.OnRetry != nil {
		opts = append(opts, backoff.WithNotify(t.OnRetry))
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		n++
		return struct{}{}, t.Run(ctx)
	}, opts...)
	return n, err
}
