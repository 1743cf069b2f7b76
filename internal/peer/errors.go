package peer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not allowed from
	// the current signaling state, or another negotiation step is still
	// in flight.
	ErrInvalidState = errors.New("invalid signaling state")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("peer connection closed")

	// ErrNoSender is returned by ReplaceTrack for a kind that was never added.
	ErrNoSender = errors.New("no sender for track kind")

	// ErrReconnectExhausted is passed to OnFailed once restarts and
	// recreations have used up their budget.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// Error records the operation that failed and, for state errors, the
// state it was attempted from.
type Error struct {
	Op    string
	State SignalingState
	Err   error
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrInvalidState) {
		return fmt.Sprintf("%s: %v (state %s)", e.Op, e.Err, e.State)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func stateError(op string, state SignalingState) *Error {
	return &Error{Op: op, State: state, Err: ErrInvalidState}
}
