// Package backoff retries remote calls made while authenticating, with
// exponential delay and jitter.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// StopError marks an error that must not be retried.
type StopError struct {
	Err error
}

func (e *StopError) Error() string { return e.Err.Error() }

func (e *StopError) Unwrap() error { return e.Err }

// Stop wraps err so Retry returns it immediately.
func Stop(err error) error {
	if err == nil {
		return nil
	}
	return &StopError{Err: err}
}

// Policy configures Retry.
type Policy struct {
	Initial  time.Duration
	Max      time.Duration
	Attempts int
}

// TokenFetch is the policy used for auth endpoint calls: a handful of quick
// attempts so a slow endpoint does not hold up rendering for long.
func TokenFetch() Policy {
	return Policy{
		Initial:  200 * time.Millisecond,
		Max:      2 * time.Second,
		Attempts: 3,
	}
}

func (p Policy) normalized() Policy {
	def := TokenFetch()
	if p.Initial <= 0 {
		p.Initial = def.Initial
	}
	if p.Max <= 0 {
		p.Max = def.Max
	}
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	return p
}

// Retry runs fn until it succeeds, returns a StopError, the attempt budget is
// spent, or ctx ends.
func Retry(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	p = p.normalized()
	delay := p.Initial

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Debug("Retry succeeded", "operation", op, "attempt", attempt)
			}
			return nil
		}

		var stop *StopError
		if errors.As(err, &stop) {
			return stop.Err
		}
		if attempt >= p.Attempts {
			return fmt.Errorf("%s: gave up after %d attempts: %w", op, attempt, err)
		}

		wait := delay + time.Duration(rand.Int63n(int64(delay)/2+1))
		slog.Debug("Retrying", "operation", op, "attempt", attempt, "delay", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}

		delay *= 2
		if delay > p.Max {
			delay = p.Max
		}
	}
}
