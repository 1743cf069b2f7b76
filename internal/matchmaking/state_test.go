package matchmaking

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/mossy-p/roulette-signaling/internal/models"
)

func TestSearch_PairsWithQueuedConnection(t *testing.T) {
	f := newFixture(t)
	sinkA := f.connect(t, "A")
	sinkB := f.connect(t, "B")

	if f.state.Search("A", FilterAny) {
		t.Fatal("first search should queue, not match")
	}
	if q := f.state.Queue(); len(q) != 1 || q[0] != "A" {
		t.Fatalf("queue = %v, want [A]", q)
	}

	if !f.state.Search("B", FilterAny) {
		t.Fatal("second search should match")
	}

	matchedA := sinkA.ofType(models.SignalTypeMatched)
	matchedB := sinkB.ofType(models.SignalTypeMatched)
	if len(matchedA) != 1 || len(matchedB) != 1 {
		t.Fatalf("matched counts A=%d B=%d, want 1 each", len(matchedA), len(matchedB))
	}
	pa, pb := decodeMatched(t, matchedA[0]), decodeMatched(t, matchedB[0])
	if pa.PartnerID != "B" || pb.PartnerID != "A" {
		t.Errorf("partner ids A->%s B->%s", pa.PartnerID, pb.PartnerID)
	}
	if pa.Initiator || !pb.Initiator {
		t.Errorf("initiator flags A=%v B=%v, want the newcomer B to offer", pa.Initiator, pb.Initiator)
	}
	if pb.PartnerUserID != "user-A" {
		t.Errorf("partner user id = %q", pb.PartnerUserID)
	}

	if q := f.state.Queue(); len(q) != 0 {
		t.Errorf("queue = %v, want empty", q)
	}
	f.assertPairsSymmetric(t, "A", "B")
}

func TestSearch_StalePartnerIsDiscarded(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	sinkB := f.connect(t, "B")

	f.state.Search("A", FilterAny)
	f.state.Unregister("A")

	if f.state.Search("B", FilterAny) {
		t.Fatal("B matched a disconnected connection")
	}
	if q := f.state.Queue(); len(q) != 1 || q[0] != "B" {
		t.Fatalf("queue = %v, want [B]", q)
	}
	if got := sinkB.ofType(models.SignalTypeMatched); len(got) != 0 {
		t.Errorf("B received %d matched messages", len(got))
	}
}

func TestSearch_PrunesEntriesWithoutRegistryRecord(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "B")

	// Simulate a queue entry whose owner vanished without Unregister.
	f.state.mu.Lock()
	f.state.queue = append(f.state.queue, "ghost")
	f.state.mu.Unlock()

	if f.state.Search("B", FilterAny) {
		t.Fatal("B matched a ghost")
	}
	if q := f.state.Queue(); len(q) != 1 || q[0] != "B" {
		t.Fatalf("queue = %v, want [B]", q)
	}
}

func TestSearch_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")

	f.state.Search("A", FilterAny)
	f.state.Search("A", FilterAny)

	if q := f.state.Queue(); len(q) != 1 {
		t.Fatalf("queue = %v, want exactly one entry", q)
	}
}

func TestSearch_PairedConnectionIsNoOp(t *testing.T) {
	f := newFixture(t)
	sinkA := f.connect(t, "A")
	f.connect(t, "B")
	f.connect(t, "C")

	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)
	f.state.Search("C", FilterAny)

	if f.state.Search("A", FilterAny) {
		t.Fatal("paired connection matched again")
	}
	if got := sinkA.ofType(models.SignalTypeMatched); len(got) != 1 {
		t.Errorf("A matched %d times, want 1", len(got))
	}
	if q := f.state.Queue(); len(q) != 1 || q[0] != "C" {
		t.Errorf("queue = %v, want [C]", q)
	}
}

func TestSearch_UnknownConnection(t *testing.T) {
	f := newFixture(t)
	if f.state.Search("nobody", FilterAny) {
		t.Fatal("unknown connection matched")
	}
	if q := f.state.Queue(); len(q) != 0 {
		t.Errorf("queue = %v, want empty", q)
	}
}

func TestSearch_FIFOOrder(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"A", "B", "C", "D"} {
		f.connect(t, id)
	}
	// A waits, B pairs with A, C waits, D pairs with C.
	for _, id := range []string{"A", "B", "C", "D"} {
		f.state.Search(id, FilterAny)
	}
	if p, _ := f.state.PartnerOf("B"); p != "A" {
		t.Errorf("B paired with %s, want A", p)
	}
	if p, _ := f.state.PartnerOf("D"); p != "C" {
		t.Errorf("D paired with %s, want C", p)
	}
}

func TestSearch_PremiumGenderFilter(t *testing.T) {
	f := newFixture(t)
	f.connectAs(t, Connection{ID: "m", Gender: GenderMale})
	f.connectAs(t, Connection{ID: "w", Gender: GenderFemale})
	f.connectAs(t, Connection{ID: "p", Premium: true, Gender: GenderMale})

	f.state.Search("m", FilterAny)
	f.state.Search("w", FilterAny)
	// m and w are now paired; queue is empty.
	f.connectAs(t, Connection{ID: "m2", Gender: GenderMale})
	f.state.Search("m2", FilterAny)

	if f.state.Search("p", FilterFemale) {
		t.Fatal("premium female-only filter matched a male")
	}
	if q := f.state.Queue(); len(q) != 2 || q[0] != "m2" || q[1] != "p" {
		t.Fatalf("queue = %v, want [m2 p]", q)
	}

	f.connectAs(t, Connection{ID: "w2", Gender: GenderFemale})
	if !f.state.Search("w2", FilterAny) {
		t.Fatal("w2 should match the head m2")
	}
	if p, _ := f.state.PartnerOf("w2"); p != "m2" {
		t.Errorf("w2 paired with %s, want m2 (FIFO head)", p)
	}

	f.connectAs(t, Connection{ID: "w3", Gender: GenderFemale})
	if !f.state.Search("w3", FilterAny) {
		t.Fatal("w3 should match the waiting premium searcher")
	}
	if p, _ := f.state.PartnerOf("w3"); p != "p" {
		t.Errorf("w3 paired with %s, want p", p)
	}
}

func TestSearch_NonPremiumFilterIgnored(t *testing.T) {
	f := newFixture(t)
	f.connectAs(t, Connection{ID: "a", Gender: GenderMale})
	f.connectAs(t, Connection{ID: "b", Gender: GenderMale})

	f.state.Search("a", FilterFemale)
	if !f.state.Search("b", FilterAny) {
		t.Fatal("non-premium filter should be ignored")
	}
	if conn, _ := f.state.Connection("a"); conn.GenderFilter != FilterAny {
		t.Errorf("stored filter = %q, want any", conn.GenderFilter)
	}
}

func TestCancelSearch_RemovesQueueEntry(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	f.connect(t, "B")

	f.state.Search("A", FilterAny)
	f.state.CancelSearch("A")
	if f.state.Search("B", FilterAny) {
		t.Fatal("B matched a cancelled searcher")
	}
}

func TestSkip_NotifiesPartnerOnce(t *testing.T) {
	f := newFixture(t)
	sinkA := f.connect(t, "A")
	sinkB := f.connect(t, "B")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)

	f.state.Skip("A")

	if _, ok := f.state.PartnerOf("A"); ok {
		t.Error("A still paired")
	}
	if _, ok := f.state.PartnerOf("B"); ok {
		t.Error("B still paired")
	}
	skipped := sinkB.ofType(models.SignalTypeSkipped)
	if len(skipped) != 1 {
		t.Fatalf("B received %d skipped, want 1", len(skipped))
	}
	if skipped[0].From != "A" {
		t.Errorf("skipped.From = %q, want A", skipped[0].From)
	}
	if got := sinkA.ofType(models.SignalTypeSkipped); len(got) != 0 {
		t.Errorf("initiator received %d skipped", len(got))
	}

	// A second skip has nothing to end.
	f.state.Skip("A")
	if got := sinkB.ofType(models.SignalTypeSkipped); len(got) != 1 {
		t.Errorf("B received %d skipped after a repeat skip, want 1", len(got))
	}

	// A may search again straight away.
	f.state.Search("A", FilterAny)
	if q := f.state.Queue(); len(q) != 1 || q[0] != "A" {
		t.Errorf("queue = %v, want [A]", q)
	}
}

func TestUnregister_NotifiesPartner(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	sinkB := f.connect(t, "B")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)

	f.state.Unregister("A")
	f.state.Unregister("A")

	if got := sinkB.ofType(models.SignalTypePartnerDisconnected); len(got) != 1 {
		t.Fatalf("B received %d partner-disconnected, want 1", len(got))
	}
	if _, ok := f.state.PartnerOf("B"); ok {
		t.Error("B still paired")
	}
	if stats := f.state.Stats(); stats.Connections != 1 || stats.Pairs != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRegister_RejectsDuplicate(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	err := f.state.Register(Connection{ID: "A"}, &recordingSink{})
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("err = %v, want ErrDuplicateConnection", err)
	}
}

func TestRelay_ForwardsVerbatim(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	sinkB := f.connect(t, "B")

	payload := json.RawMessage(`{"type":"offer","sdp":"v=0\r\n"}`)
	if !f.state.Relay(models.SignalTypeOffer, payload, "A", "B") {
		t.Fatal("relay to a live target failed")
	}
	got := sinkB.ofType(models.SignalTypeOffer)
	if len(got) != 1 {
		t.Fatalf("B received %d offers", len(got))
	}
	if got[0].From != "A" || string(got[0].Payload) != string(payload) {
		t.Errorf("relayed message = %+v", got[0])
	}
}

func TestRelay_DefaultsToPartner(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	sinkB := f.connect(t, "B")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)

	if !f.state.Relay(models.SignalTypeCandidate, json.RawMessage(`{}`), "A", "") {
		t.Fatal("relay to implicit partner failed")
	}
	if got := sinkB.ofType(models.SignalTypeCandidate); len(got) != 1 {
		t.Errorf("B received %d candidates", len(got))
	}
}

func TestRelay_DropsMissingTarget(t *testing.T) {
	f := newFixture(t)
	sinkA := f.connect(t, "A")
	f.state.Search("A", FilterAny)
	before, _ := f.state.Connection("A")

	f.clock.Advance(10)
	if f.state.Relay(models.SignalTypeAnswer, json.RawMessage(`{}`), "A", "gone") {
		t.Fatal("relay to a missing target reported success")
	}

	after, _ := f.state.Connection("A")
	if after.ID != before.ID || after.GenderFilter != before.GenderFilter {
		t.Errorf("sender state changed: %+v -> %+v", before, after)
	}
	if q := f.state.Queue(); len(q) != 1 || q[0] != "A" {
		t.Errorf("queue = %v, want [A]", q)
	}
	if sinkA.count() != 0 {
		t.Errorf("sender received %d messages", sinkA.count())
	}
}

func TestRelay_RefreshesSenderActivity(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	f.connect(t, "B")
	before, _ := f.state.Connection("A")

	f.clock.Advance(90_000_000_000)
	f.state.Relay(models.SignalTypeOffer, nil, "A", "B")

	after, _ := f.state.Connection("A")
	if !after.LastActivityAt.After(before.LastActivityAt) {
		t.Errorf("LastActivityAt not refreshed: %v -> %v", before.LastActivityAt, after.LastActivityAt)
	}
}

func chatText(t *testing.T, text string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(text)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestChat_DeliversWithinLimit(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	sinkB := f.connect(t, "B")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)

	text := strings.Repeat("é", DefaultMaxChatLength)
	if !f.state.Chat("A", models.ChatPayload{Text: chatText(t, text), MessageID: "m1", IsSecret: true}) {
		t.Fatal("chat at the limit was dropped")
	}
	got := sinkB.ofType(models.SignalTypeReceiveMessage)
	if len(got) != 1 {
		t.Fatalf("B received %d messages", len(got))
	}
	var delivered models.ChatDelivery
	if err := got[0].Decode(&delivered); err != nil {
		t.Fatal(err)
	}
	if delivered.Text != text || delivered.MessageID != "m1" || !delivered.IsSecret {
		t.Errorf("delivery = %+v", delivered)
	}
}

func TestChat_DropsOversizedText(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	sinkB := f.connect(t, "B")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)

	if f.state.Chat("A", models.ChatPayload{Text: chatText(t, strings.Repeat("x", 1001)), TargetID: "B"}) {
		t.Fatal("1001-character message was relayed")
	}
	if sinkB.count() != 1 { // only the matched message
		t.Errorf("B received %d messages, want only matched", sinkB.count())
	}
}

func TestChat_DropsNonString(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "A")
	sinkB := f.connect(t, "B")

	for _, raw := range []string{`42`, `{"a":1}`, `null`, `""`} {
		if f.state.Chat("A", models.ChatPayload{Text: json.RawMessage(raw), TargetID: "B"}) {
			t.Errorf("chat text %s was relayed", raw)
		}
	}
	if sinkB.count() != 0 {
		t.Errorf("B received %d messages", sinkB.count())
	}
}

func TestEvictIdle_NotifiesPartnerAndClosesSink(t *testing.T) {
	f := newFixture(t)
	sinkA := f.connect(t, "A")
	sinkB := f.connect(t, "B")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)

	f.clock.Advance(DefaultIdleTimeout)
	f.state.Touch("B")
	f.clock.Advance(1)

	evicted := f.state.EvictIdle(f.clock.Now().Add(-DefaultIdleTimeout))
	if len(evicted) != 1 || evicted[0] != "A" {
		t.Fatalf("evicted = %v, want [A]", evicted)
	}
	if !sinkA.closed {
		t.Error("idle sink not closed")
	}
	if got := sinkB.ofType(models.SignalTypePartnerDisconnected); len(got) != 1 {
		t.Errorf("B received %d partner-disconnected, want 1", len(got))
	}
	if _, ok := f.state.PartnerOf("B"); ok {
		t.Error("B still paired with an evicted connection")
	}
	if _, ok := f.state.Connection("A"); ok {
		t.Error("A still registered")
	}
}

func TestInvariants_RandomOperations(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(7))

	ids := make([]string, 12)
	live := make(map[string]bool)
	for i := range ids {
		ids[i] = fmt.Sprintf("c%d", i)
	}

	for step := 0; step < 2000; step++ {
		id := ids[rng.Intn(len(ids))]
		switch rng.Intn(6) {
		case 0:
			if !live[id] {
				f.connect(t, id)
				live[id] = true
			}
		case 1, 2:
			matchedBefore := f.state.Search(id, FilterAny)
			if matchedBefore {
				partner, _ := f.state.PartnerOf(id)
				for _, q := range f.state.Queue() {
					if q == id || q == partner {
						t.Fatalf("step %d: matched %s/%s still queued", step, id, partner)
					}
				}
			}
		case 3:
			f.state.Skip(id)
		case 4:
			f.state.CancelSearch(id)
		case 5:
			f.state.Unregister(id)
			delete(live, id)
		}
		f.assertQueueUnique(t)
		f.assertPairsSymmetric(t, ids...)
	}
}

func TestCloseAll(t *testing.T) {
	f := newFixture(t)
	sinkA := f.connect(t, "A")
	f.connect(t, "B")
	f.connect(t, "C")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)
	f.state.Search("C", FilterAny)

	if closed := f.state.CloseAll(); len(closed) != 3 {
		t.Fatalf("closed = %v", closed)
	}
	if stats := f.state.Stats(); stats != (Stats{}) {
		t.Errorf("stats after CloseAll = %+v", stats)
	}
	if !sinkA.closed {
		t.Error("sink not closed")
	}
}

// lockCheckingSink notes every delivery made after the state lock was
// released.
type lockCheckingSink struct {
	recordingSink
	state    *State
	unlocked []models.SignalType
}

func (s *lockCheckingSink) Send(msg models.SignalMessage) bool {
	if s.state.mu.TryLock() {
		s.state.mu.Unlock()
		s.unlocked = append(s.unlocked, msg.Type)
	}
	return s.recordingSink.Send(msg)
}

func TestDeliveries_HappenUnderLock(t *testing.T) {
	f := newFixture(t)
	sinks := make(map[string]*lockCheckingSink)
	for _, id := range []string{"A", "B", "C", "D"} {
		sink := &lockCheckingSink{state: f.state}
		if err := f.state.Register(Connection{ID: id, UserID: "user-" + id}, sink); err != nil {
			t.Fatal(err)
		}
		sinks[id] = sink
	}

	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)
	f.state.Relay(models.SignalTypeOffer, json.RawMessage(`{"sdp":"v=0"}`), "B", "")
	f.state.Chat("A", models.ChatPayload{Text: chatText(t, "hi"), MessageID: "m1"})
	f.state.Skip("A")
	f.state.Search("C", FilterAny)
	f.state.Search("D", FilterAny)
	f.state.Unregister("C")
	f.state.Search("A", FilterAny)
	f.state.Search("B", FilterAny)
	f.clock.Advance(time.Hour)
	f.state.EvictIdle(f.clock.Now().Add(-time.Minute))

	total := 0
	for id, sink := range sinks {
		total += sink.count()
		if len(sink.unlocked) != 0 {
			t.Errorf("%s received %v after the lock was released", id, sink.unlocked)
		}
	}
	if total == 0 {
		t.Fatal("no deliveries recorded")
	}
}
