// Package retry runs an operation with bounded retries and exponential
// backoff. Backoff and sleep are injectable so callers can test delays
// without waiting on the wall clock.
package retry

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxRetries is the number of retries after the initial attempt.
const DefaultMaxRetries = 3

// Policy controls how an operation is retried.
type Policy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// Backoff returns the delay before retry attempt n (1-based).
	Backoff func(attempt int) time.Duration
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each retry with the error that triggered it.
	OnRetry func(attempt int, err error)
}

// NewPolicy returns a policy with 2^attempt second backoff.
func NewPolicy(maxRetries int) Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return Policy{
		MaxRetries: maxRetries,
		Backoff:    Exponential(time.Second),
		Sleep:      SleepContext,
	}
}

// Exponential returns a backoff of base * 2^attempt.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt < 0 {
			attempt = 0
		}
		if attempt > 20 {
			attempt = 20
		}
		return base * time.Duration(1<<uint(attempt))
	}
}

// SleepContext blocks for d or until ctx is cancelled.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do calls fn until it succeeds, returns a permanent error, the context is
// cancelled, or MaxRetries retries have been used. It returns the number of
// retries performed and the last error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	backoff := p.Backoff
	if backoff == nil {
		backoff = Exponential(time.Second)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr)
			}
			if err := sleep(ctx, backoff(attempt)); err != nil {
				return attempt - 1, lastErr
			}
		}
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, lastErr
			}
			return 0, err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return attempt, nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return attempt, perm.err
		}
		if attempt >= p.MaxRetries {
			return attempt, lastErr
		}
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}
