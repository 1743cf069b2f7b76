package matchmaking

import (
	"context"
	"testing"
	"time"

	"github.com/mossy-p/roulette-signaling/internal/logging"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

func TestReaper_SweepEvictsSilentPairedConnection(t *testing.T) {
	f := newFixture(t)
	reaper := NewReaper(f.state, time.Minute, 5*time.Minute, f.clock, logging.Discard())

	f.connect(t, "A")
	sinkB := f.connect(t, "B")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)

	// B keeps pinging, A goes silent.
	for i := 0; i < 6; i++ {
		f.clock.Advance(time.Minute)
		f.state.Ping("B")
	}

	evicted := reaper.Sweep()
	if len(evicted) != 1 || evicted[0] != "A" {
		t.Fatalf("evicted = %v, want [A]", evicted)
	}
	if got := sinkB.ofType(models.SignalTypePartnerDisconnected); len(got) != 1 {
		t.Fatalf("B received %d partner-disconnected, want 1", len(got))
	}
	if got := sinkB.ofType(models.SignalTypePong); len(got) != 6 {
		t.Errorf("B received %d pongs, want 6", len(got))
	}
	if stats := f.state.Stats(); stats.Connections != 1 || stats.Pairs != 0 || stats.Queued != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestReaper_SweepKeepsActiveConnections(t *testing.T) {
	f := newFixture(t)
	reaper := NewReaper(f.state, 0, 0, f.clock, logging.Discard())
	f.connect(t, "A")

	f.clock.Advance(DefaultIdleTimeout - time.Second)
	if evicted := reaper.Sweep(); len(evicted) != 0 {
		t.Fatalf("evicted = %v before the threshold", evicted)
	}
}

func TestReaper_RunSweepsOnInterval(t *testing.T) {
	f := newFixture(t)
	reaper := NewReaper(f.state, time.Minute, 5*time.Minute, f.clock, logging.Discard())
	sinkA := f.connect(t, "A")
	f.state.Search("A", FilterAny)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reaper.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		// Keep advancing until the reaper's pending After fires past
		// the idle threshold.
		f.clock.Advance(time.Minute)
		if _, ok := f.state.Connection("A"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reaper never evicted the idle connection")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	f.clock.Advance(time.Minute)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if q := f.state.Queue(); len(q) != 0 {
		t.Errorf("queue = %v, want empty", q)
	}
	sinkA.mu.Lock()
	closed := sinkA.closed
	sinkA.mu.Unlock()
	if !closed {
		t.Error("evicted sink not closed")
	}
}
