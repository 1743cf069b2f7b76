package peer

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/logging"
)

// fakeConn records what the Manager does to it and lets tests fire its
// callbacks.
type fakeConn struct {
	id int

	mu           sync.Mutex
	offers       []*webrtc.OfferOptions
	local        []webrtc.SessionDescription
	remote       []webrtc.SessionDescription
	candidates   []webrtc.ICECandidateInit
	tracks       []webrtc.TrackLocal
	senders      []*fakeSender
	closed       bool
	offerErr     error
	remoteErr    error
	blockOffer   chan struct{}
	offerStarted chan struct{}

	onCandidate func(webrtc.ICECandidateInit)
	onICE       func(webrtc.ICEConnectionState)
	onConn      func(webrtc.PeerConnectionState)
	onTrack     func(RemoteTrack)
}

func (c *fakeConn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	c.mu.Lock()
	block, started := c.blockOffer, c.offerStarted
	c.offers = append(c.offers, options)
	err := c.offerErr
	n := len(c.offers)
	c.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%d-%d", c.id, n)}, nil
}

func (c *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-%d", c.id)}, nil
}

func (c *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = append(c.local, desc)
	return nil
}

func (c *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.remote = append(c.remote, desc)
	return nil
}

func (c *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.remote) == 0 {
		return errors.New("candidate before remote description")
	}
	c.candidates = append(c.candidates, candidate)
	return nil
}

func (c *fakeConn) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSender{track: track}
	c.tracks = append(c.tracks, track)
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) OnICECandidate(f func(webrtc.ICECandidateInit))               { c.onCandidate = f }
func (c *fakeConn) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) { c.onICE = f }
func (c *fakeConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState))   { c.onConn = f }
func (c *fakeConn) OnTrack(f func(RemoteTrack))                                  { c.onTrack = f }

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

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *fakeSender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = track
	return nil
}

func (s *fakeSender) current() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakeFactory struct {
	mu    sync.Mutex
	conns []*fakeConn
	err   error
}

func (f *fakeFactory) New() (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	c := &fakeConn{id: len(f.conns)}
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeFactory) last() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

// hookRecorder collects hook invocations.
type hookRecorder struct {
	mu            sync.Mutex
	candidates    int
	connected     int
	restartOffers []webrtc.SessionDescription
	recreated     int
	failed        []error
}

func (r *hookRecorder) hooks() Hooks {
	return Hooks{
		OnCandidate: func(webrtc.ICECandidateInit) { r.mu.Lock(); r.candidates++; r.mu.Unlock() },
		OnConnected: func() { r.mu.Lock(); r.connected++; r.mu.Unlock() },
		OnRestartOffer: func(o webrtc.SessionDescription) {
			r.mu.Lock()
			r.restartOffers = append(r.restartOffers, o)
			r.mu.Unlock()
		},
		OnRecreated: func() { r.mu.Lock(); r.recreated++; r.mu.Unlock() },
		OnFailed:    func(err error) { r.mu.Lock(); r.failed = append(r.failed, err); r.mu.Unlock() },
	}
}

func newTestManager(t *testing.T, restarts bool) (*Manager, *fakeFactory, *hookRecorder, *clock.Fake) {
	t.Helper()
	factory := &fakeFactory{}
	rec := &hookRecorder{}
	clk := clock.NewFake(time.Unix(0, 0))
	m, err := New(Options{
		Factory:  factory.New,
		Hooks:    rec.hooks(),
		Restarts: restarts,
		Clock:    clk,
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m, factory, rec, clk
}

// testTrack is a minimal TrackLocal.
type testTrack struct {
	id   string
	kind webrtc.RTPCodecType
}

func (t *testTrack) Bind(webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	return webrtc.RTPCodecParameters{}, nil
}
func (t *testTrack) Unbind(webrtc.TrackLocalContext) error { return nil }
func (t *testTrack) ID() string                            { return t.id }
func (t *testTrack) RID() string                           { return "" }
func (t *testTrack) StreamID() string                      { return "test" }
func (t *testTrack) Kind() webrtc.RTPCodecType             { return t.kind }
