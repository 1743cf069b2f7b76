package matchmaking

import (
	"sync"
	"testing"
	"time"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/logging"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

// recordingSink is an in-memory Sink that keeps everything it is sent.
type recordingSink struct {
	mu       sync.Mutex
	messages []models.SignalMessage
	closed   bool
}

func (s *recordingSink) Send(msg models.SignalMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.messages = append(s.messages, msg)
	return true
}

func (s *recordingSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *recordingSink) ofType(t models.SignalType) []models.SignalMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SignalMessage
	for _, m := range s.messages {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

type fixture struct {
	state *State
	clock *clock.Fake
	sinks map[string]*recordingSink
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return &fixture{
		state: NewState(Options{Clock: c, Logger: logging.Discard()}),
		clock: c,
		sinks: make(map[string]*recordingSink),
	}
}

func (f *fixture) connect(t *testing.T, id string) *recordingSink {
	t.Helper()
	return f.connectAs(t, Connection{ID: id, UserID: "user-" + id})
}

func (f *fixture) connectAs(t *testing.T, conn Connection) *recordingSink {
	t.Helper()
	sink := &recordingSink{}
	if err := f.state.Register(conn, sink); err != nil {
		t.Fatalf("Register(%s): %v", conn.ID, err)
	}
	f.sinks[conn.ID] = sink
	return sink
}

func (f *fixture) assertQueueUnique(t *testing.T) {
	t.Helper()
	seen := make(map[string]bool)
	for _, id := range f.state.Queue() {
		if seen[id] {
			t.Fatalf("queue contains %s twice: %v", id, f.state.Queue())
		}
		seen[id] = true
		if _, paired := f.state.PartnerOf(id); paired {
			t.Fatalf("%s is both queued and paired", id)
		}
	}
}

func (f *fixture) assertPairsSymmetric(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		partner, ok := f.state.PartnerOf(id)
		if !ok {
			continue
		}
		back, ok := f.state.PartnerOf(partner)
		if !ok || back != id {
			t.Fatalf("pair not symmetric: %s -> %s -> %q", id, partner, back)
		}
	}
}

func decodeMatched(t *testing.T, msg models.SignalMessage) models.MatchedPayload {
	t.Helper()
	var p models.MatchedPayload
	if err := msg.Decode(&p); err != nil {
		t.Fatalf("decode matched: %v", err)
	}
	return p
}
