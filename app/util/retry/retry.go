// Package retry implements the bounded exponential backoff shared by every
// remote model and embedding call.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
)

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Decision tells the policy what to do with a failed attempt.
type Decision int

const (
	// Fail stops immediately and returns the error as is.
	Fail Decision = iota
	// Retry waits and tries again while attempts remain.
	Retry
	// Abort stops immediately; used for quota errors that must not burn the
	// attempt budget.
	Abort
)

// Policy is a bounded exponential backoff: wait = BaseDelay * 2^(attempt-1).
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Classify    func(error) Decision
	Sleep       func(ctx context.Context, d time.Duration) error
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Classify == nil {
		p.Classify = func(error) Decision { return Fail }
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// Delay returns the wait before the attempt following the given one (1-based).
func (p Policy) Delay(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	return p.BaseDelay * time.Duration(1<<(attempt-1))
}

// Do runs fn until it succeeds, the classifier refuses a retry, or attempts
// run out.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, err := Value(ctx, p, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Value is Do for calls that produce a result.
func Value[T any](ctx context.Context, p Policy, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch p.Classify(err) {
		case Fail, Abort:
			return zero, err
		case Retry:
		}

		if attempt == p.MaxAttempts {
			break
		}

		wait := p.Delay(attempt)
		slog.Warn("Retriable error, backing off",
			"call", name,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)

		if err = p.Sleep(ctx, wait); err != nil {
			return zero, oops.Wrapf(err, "%s: interrupted while backing off", name)
		}
	}

	return zero, oops.
		With("call", name, "attempts", p.MaxAttempts).
		Wrapf(errors.Join(ErrExhausted, lastErr), "%s failed", name)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// NoSleep is a Sleep implementation for tests.
func NoSleep(context.Context, time.Duration) error {
	return nil
}
