// Package retry holds the bounded retry policy shared by the relay
// reconnect loop and the ICE restart path.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/mossy-p/roulette-signaling/internal/clock"
)

// ErrExhausted is returned by Do when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how many times to try and how long to wait between
// tries. A zero Initial means no delay at all.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Multiplier  float64
	Max         time.Duration
}

// Transport reconnects to the relay with exponential backoff capped at 30s.
var Transport = Policy{
	MaxAttempts: 6,
	Initial:     time.Second,
	Multiplier:  2,
	Max:         30 * time.Second,
}

// ICERestart restarts ICE in place up to three times without delay.
var ICERestart = Policy{MaxAttempts: 3}

// Delay returns the wait before the given attempt. Attempt 0 is the
// first try and never waits.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 || p.Initial <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.Initial)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if p.Max > 0 && delay >= float64(p.Max) {
			return p.Max
		}
	}
	if p.Max > 0 && time.Duration(delay) > p.Max {
		return p.Max
	}
	return time.Duration(delay)
}

// Allows reports whether attempt (zero-based) is within the budget.
func (p Policy) Allows(attempt int) bool {
	return p.MaxAttempts <= 0 || attempt < p.MaxAttempts
}

// Do calls fn until it succeeds, the attempts run out or ctx is done.
// onRetry, when non-nil, sees every failure before the next wait.
func (p Policy) Do(ctx context.Context, c clock.Clock, fn func(attempt int) error, onRetry func(attempt int, err error)) error {
	var lastErr error
	for attempt := 0; p.Allows(attempt); attempt++ {
		if delay := p.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-c.After(delay):
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return errors.Join(ErrExhausted, lastErr)
}

// Permanent wraps err so Do returns it at once instead of retrying.
func Permanent(err error) error {
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
