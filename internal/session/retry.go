package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Default retry policy for store writes.
const (
	DefaultMaxTries        uint = 4
	DefaultInitialInterval      = 100 * time.Millisecond
	DefaultMaxInterval          = 2 * time.Second
)

// RetryPolicy bounds how hard a failed store write is retried.
type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        DefaultMaxTries,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
	}
}

// Do runs fn until it succeeds, the tries are exhausted or ctx is done.
// op names the write in logs.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	tries := p.MaxTries
	if tries == 0 {
		tries = 1
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, fn()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("RetryPolicy.Do: write failed, retrying", "op", op, "error", err, "next_in", next)
		}),
	)
	return err
}
