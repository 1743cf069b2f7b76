// Package clock abstracts time so timers in the reaper, the peer
// lifecycle and the call orchestrator can be driven deterministically
// in tests.
package clock

import "time"

// Clock is the subset of the time package the signaling code uses.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f after d. The returned Timer can cancel it.
	AfterFunc(d time.Duration, f func()) Timer

	// After returns a channel that fires once after d.
	After(d time.Duration) <-chan time.Time
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop reports whether the call was cancelled before it fired.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
