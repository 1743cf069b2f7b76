package matchmaking

import (
	"context"
	"log/slog"
	"time"

	"github.com/mossy-p/roulette-signaling/internal/clock"
)

const (
	// DefaultReapInterval is how often the reaper sweeps.
	DefaultReapInterval = 60 * time.Second

	// DefaultIdleTimeout is how long a connection may stay silent.
	DefaultIdleTimeout = 5 * time.Minute
)

// Reaper evicts connections that stopped sending anything without
// closing their socket. It goes through State like any other writer.
type Reaper struct {
	state     *State
	interval  time.Duration
	threshold time.Duration
	clock     clock.Clock
	logger    *slog.Logger
}

// NewReaper creates a reaper for state. Non-positive durations fall back
// to the defaults.
func NewReaper(state *State, interval, threshold time.Duration, c clock.Clock, logger *slog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	if threshold <= 0 {
		threshold = DefaultIdleTimeout
	}
	if c == nil {
		c = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		state:     state,
		interval:  interval,
		threshold: threshold,
		clock:     c,
		logger:    logger,
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.clock.After(r.interval):
			r.Sweep()
		}
	}
}

// Sweep evicts everything idle for longer than the threshold and
// returns the evicted connection ids.
func (r *Reaper) Sweep() []string {
	evicted := r.state.EvictIdle(r.clock.Now().Add(-r.threshold))
	if len(evicted) > 0 {
		r.logger.Info("evicted idle connections", "count", len(evicted), "threshold", r.threshold)
	}
	return evicted
}
