package call

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/logging"
	"github.com/mossy-p/roulette-signaling/internal/models"
	"github.com/mossy-p/roulette-signaling/internal/peer"
)

// fakeRelay records outgoing messages. Tests feed incoming ones through
// HandleMessage or the in channel.
type fakeRelay struct {
	id string
	in chan models.SignalMessage

	mu     sync.Mutex
	sent   []models.SignalMessage
	closed bool
}

func newFakeRelay(id string) *fakeRelay {
	return &fakeRelay{id: id, in: make(chan models.SignalMessage, 16)}
}

func (r *fakeRelay) ID() string                            { return r.id }
func (r *fakeRelay) Incoming() <-chan models.SignalMessage { return r.in }

func (r *fakeRelay) Send(msg models.SignalMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *fakeRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRelay) ofType(t models.SignalType) []models.SignalMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SignalMessage
	for _, msg := range r.sent {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}

// fakeConn is a peer.Conn that accepts every step and lets tests fire
// its callbacks.
type fakeConn struct {
	id int

	mu         sync.Mutex
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     int
	closed     bool

	onCandidate func(webrtc.ICECandidateInit)
	onConn      func(webrtc.PeerConnectionState)
	onTrack     func(peer.RemoteTrack)
}

func (c *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d", c.id)}, nil
}

func (c *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", c.id)}, nil
}

func (c *fakeConn) SetLocalDescription(webrtc.SessionDescription) error { return nil }

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remote = append(c.remote, desc)
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) AddTrack(webrtc.TrackLocal) (peer.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracks++
	return nopSender{}, nil
}

func (c *fakeConn) OnICECandidate(f func(webrtc.ICECandidateInit))             { c.onCandidate = f }
func (c *fakeConn) OnICEConnectionStateChange(func(webrtc.ICEConnectionState)) {}
func (c *fakeConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) { c.onConn = f }
func (c *fakeConn) OnTrack(f func(peer.RemoteTrack))                           { c.onTrack = f }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) remoteDescriptions() []webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), c.remote...)
}

type nopSender struct{}

func (nopSender) ReplaceTrack(webrtc.TrackLocal) error { return nil }

type remoteTrack struct{ kind webrtc.RTPCodecType }

func (t remoteTrack) ID() string                { return "remote-" + t.kind.String() }
func (t remoteTrack) Kind() webrtc.RTPCodecType { return t.kind }

type connFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (f *connFactory) New() (peer.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeConn{id: len(f.conns)}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *connFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func (f *connFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// events records hook calls.
type events struct {
	mu        sync.Mutex
	matched   []Session
	connected []Session
	ended     []Reason
	noMatches int
	chats     []ChatMessage
	friends   []models.Friendship
}

func (e *events) hooks() Hooks {
	return Hooks{
		OnMatched:   func(s Session) { e.mu.Lock(); e.matched = append(e.matched, s); e.mu.Unlock() },
		OnConnected: func(s Session) { e.mu.Lock(); e.connected = append(e.connected, s); e.mu.Unlock() },
		OnEnded:     func(_ Session, r Reason) { e.mu.Lock(); e.ended = append(e.ended, r); e.mu.Unlock() },
		OnNoMatches: func() { e.mu.Lock(); e.noMatches++; e.mu.Unlock() },
		OnChat:      func(m ChatMessage) { e.mu.Lock(); e.chats = append(e.chats, m); e.mu.Unlock() },
		OnFriend:    func(f models.Friendship) { e.mu.Lock(); e.friends = append(e.friends, f); e.mu.Unlock() },
	}
}

func (e *events) endReasons() []Reason {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Reason(nil), e.ended...)
}

type harness struct {
	o       *Orchestrator
	relay   *fakeRelay
	factory *connFactory
	clock   *clock.Fake
	events  *events
}

func newHarness(t *testing.T, id string, configure ...func(*Options)) *harness {
	t.Helper()
	h := &harness{
		relay:   newFakeRelay(id),
		factory: &connFactory{},
		clock:   clock.NewFake(time.Unix(1_700_000_000, 0)),
		events:  &events{},
	}
	opts := Options{
		Relay:       h.relay,
		PeerFactory: h.factory.New,
		UserID:      "user-" + id,
		Hooks:       h.events.hooks(),
		Clock:       h.clock,
		Logger:      logging.Discard(),
	}
	for _, fn := range configure {
		fn(&opts)
	}
	o, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.o = o
	return h
}

func message(t *testing.T, typ models.SignalType, from string, payload any) models.SignalMessage {
	t.Helper()
	msg, err := models.NewSignalMessage(typ, "", payload)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	msg.From = from
	return msg
}

// match drives the harness from idle to matched with partner.
func (h *harness) match(t *testing.T, partner string, initiator bool) {
	t.Helper()
	if err := h.o.StartSearch(); err != nil {
		t.Fatalf("StartSearch: %v", err)
	}
	h.o.HandleMessage(message(t, models.SignalTypeMatched, "", models.MatchedPayload{
		PartnerID:     partner,
		PartnerUserID: "user-" + partner,
		PartnerName:   "Partner " + partner,
		Initiator:     initiator,
	}))
	if got := h.o.State(); got != StateMatched {
		t.Fatalf("state after matched = %s, want matched", got)
	}
}

// connect drives the harness to connected by delivering a remote track.
func (h *harness) connect(t *testing.T, partner string, initiator bool) {
	t.Helper()
	h.match(t, partner, initiator)
	h.factory.last().onTrack(remoteTrack{kind: webrtc.RTPCodecTypeVideo})
	if got := h.o.State(); got != StateConnected {
		t.Fatalf("state after track = %s, want connected", got)
	}
}

func decodeSDP(t *testing.T, msg models.SignalMessage) models.SDPPayload {
	t.Helper()
	var p models.SDPPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		t.Fatalf("decode sdp: %v", err)
	}
	return p
}
