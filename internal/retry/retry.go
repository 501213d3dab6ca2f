// Package retry runs operations with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultMaxRetries is the number of attempts used when a Policy leaves it unset.
	DefaultMaxRetries = 3

	// DefaultMaxWait caps a single wait when a Policy leaves MaxWait unset.
	DefaultMaxWait = time.Minute
)

// Policy controls how many attempts an operation gets and how long to wait between them.
// The wait after failed attempt n (starting at 0) is Base * 2^n, capped at MaxWait.
type Policy struct {
	// MaxRetries is the total number of attempts. Values below 1 mean DefaultMaxRetries.
	MaxRetries int

	// Base is the unit of backoff (default: 1s).
	Base time.Duration

	// MaxWait caps each wait (default: DefaultMaxWait).
	MaxWait time.Duration

	// Retryable decides whether an error is worth another attempt.
	// When nil, every error that is not wrapped by Permanent is retried.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Tests replace it to avoid real waits.
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each wait with the failed attempt number and its error.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Permanent marks err as not retryable regardless of the policy's classifier.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

func (p Policy) exponential() *backoff.ExponentialBackOff {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	maxWait := p.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     base,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max(maxWait, base),
	}
	b.Reset()
	return b
}

// Backoff returns the wait after the given zero-based attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	b := p.exponential()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (p Policy) attempts() int {
	if p.MaxRetries < 1 {
		return DefaultMaxRetries
	}
	return p.MaxRetries
}

func (p Policy) retryable(err error) bool {
	if IsPermanent(err) || errors.Is(err, context.Canceled) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// schedule hands backoff.Retry the exponential waits. With an injected sleep
// the wait is performed by the notify hook and the timer gets zero.
type schedule struct {
	exp      *backoff.ExponentialBackOff
	injected bool
	last     time.Duration
	sleepErr error
}

func (s *schedule) NextBackOff() time.Duration {
	s.last = s.exp.NextBackOff()
	if s.injected {
		return 0
	}
	return s.last
}

func (s *schedule) Reset() { s.exp.Reset() }

// Do calls fn until it succeeds, returns a non-retryable error, or the attempts run out.
// Non-retryable errors are returned as-is. Exhaustion returns an *ExhaustedError.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.attempts()
	sched := &schedule{exp: p.exponential(), injected: p.Sleep != nil}

	var (
		calls   int
		lastErr error
		stopErr error
	)
	v, err := backoff.Retry(ctx, func() (T, error) {
		if sched.sleepErr != nil {
			stopErr = sched.sleepErr
			return zero, backoff.Permanent(stopErr)
		}
		calls++
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !p.retryable(err) {
			stopErr = err
			return zero, backoff.Permanent(err)
		}
		return zero, err
	},
		backoff.WithBackOff(sched),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, _ time.Duration) {
			if p.OnRetry != nil {
				p.OnRetry(calls-1, err, sched.last)
			}
			if p.Sleep != nil {
				sched.sleepErr = p.Sleep(ctx, sched.last)
			}
		}),
	)
	switch {
	case err == nil:
		return v, nil
	case stopErr != nil:
		return zero, stopErr
	case calls < attempts:
		// cancelled while waiting
		return zero, err
	default:
		return zero, &ExhaustedError{Op: op, Attempts: attempts, Err: lastErr}
	}
}
