// Package peer owns one side of a call's peer connection: the
// offer/answer state machine, local track senders, candidate buffering
// and recovery from ICE and connection failures.
//
// All Manager methods are safe for concurrent use. A negotiation step
// that arrives while another is still running is rejected with
// ErrInvalidState rather than queued.
package peer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/retry"
)

// DefaultRecreateDelay is the wait between a failed peer connection and
// its replacement.
const DefaultRecreateDelay = time.Second

// Hooks receive events from the Manager. Every hook is optional and is
// called without the Manager's lock held.
type Hooks struct {
	// OnCandidate receives local candidates to trickle to the partner.
	OnCandidate func(webrtc.ICECandidateInit)

	// OnTrack receives every inbound media track.
	OnTrack func(RemoteTrack)

	// OnConnected fires when media connectivity is (re)established.
	OnConnected func()

	// OnRestartOffer receives the offer produced by an ICE restart. It
	// must be sent to the partner like any other offer.
	OnRestartOffer func(webrtc.SessionDescription)

	// OnRecreated fires after a failed connection was replaced with a
	// new one. The offering side must start a fresh negotiation.
	OnRecreated func()

	// OnFailed fires once recovery has given up.
	OnFailed func(error)
}

// Options configures a Manager
type Options struct {
	Factory Factory
	Hooks   Hooks

	// Policy bounds ICE restarts and recreations. Defaults to retry.ICERestart.
	Policy retry.Policy

	// RecreateDelay defaults to DefaultRecreateDelay.
	RecreateDelay time.Duration

	// Restarts marks the side that performs ICE restarts. The other side
	// waits for the restart offer.
	Restarts bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Manager drives a Conn through offer/answer and keeps it alive.
type Manager struct {
	opts   Options
	hooks  Hooks
	clock  clock.Clock
	logger *slog.Logger

	mu         sync.Mutex
	conn       Conn
	generation int
	state      SignalingState
	inFlight   bool
	remoteSet  bool
	pending    []webrtc.ICECandidateInit
	senders    map[TrackKind]Sender
	tracks     map[TrackKind]webrtc.TrackLocal
	camera     webrtc.TrackLocal
	sharing    bool
	connected  bool
	attempts   int
	recreating clock.Timer
	closed     bool
}

// New creates a Manager with a fresh Conn from opts.Factory.
func New(opts Options) (*Manager, error) {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.ICERestart
	}
	if opts.RecreateDelay <= 0 {
		opts.RecreateDelay = DefaultRecreateDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	conn, err := opts.Factory()
	if err != nil {
		return nil, newError("create peer connection", err)
	}

	m := &Manager{
		opts:    opts,
		hooks:   opts.Hooks,
		clock:   opts.Clock,
		logger:  opts.Logger,
		conn:    conn,
		senders: make(map[TrackKind]Sender),
		tracks:  make(map[TrackKind]webrtc.TrackLocal),
	}
	m.install(conn, 0)
	return m, nil
}

// State returns the current signaling state.
func (m *Manager) State() SignalingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns how many restarts or recreations have been made
// since the connection last came up.
func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

// CreateOffer creates an offer and sets it as the local description.
// Valid from stable and have-local-offer.
func (m *Manager) CreateOffer() (webrtc.SessionDescription, error) {
	return m.offer("create offer", nil)
}

func (m *Manager) offer(op string, options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	conn, gen, err := m.begin(op, StateStable, StateHaveLocalOffer)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := conn.CreateOffer(options)
	if err == nil {
		err = conn.SetLocalDescription(offer)
	}
	if err := m.finish(op, gen, err, StateHaveLocalOffer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

// CreateAnswer applies a remote offer and answers it. Valid from stable
// and have-remote-offer.
func (m *Manager) CreateAnswer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	const op = "create answer"
	conn, gen, err := m.begin(op, StateStable, StateHaveRemoteOffer)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := conn.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, m.finish(op, gen, err, StateStable)
	}
	m.applyPending(conn, m.remoteApplied(gen, StateHaveRemoteOffer))

	answer, err := conn.CreateAnswer(nil)
	if err == nil {
		err = conn.SetLocalDescription(answer)
	}
	if err := m.finish(op, gen, err, StateStable); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

// SetRemoteAnswer applies the partner's answer. Valid only from
// have-local-offer.
func (m *Manager) SetRemoteAnswer(answer webrtc.SessionDescription) error {
	const op = "set remote answer"
	conn, gen, err := m.begin(op, StateHaveLocalOffer)
	if err != nil {
		return err
	}

	if err := conn.SetRemoteDescription(answer); err != nil {
		return m.finish(op, gen, err, StateStable)
	}
	m.applyPending(conn, m.remoteApplied(gen, StateStable))
	return m.finish(op, gen, nil, StateStable)
}

// AddRemoteCandidate applies a partner candidate, or holds it until a
// remote description has been set.
func (m *Manager) AddRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError("add candidate", ErrClosed)
	}
	if !m.remoteSet {
		m.pending = append(m.pending, candidate)
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.AddICECandidate(candidate); err != nil {
		return newError("add candidate", err)
	}
	return nil
}

// AddTrack attaches a local track in the given slot. Call it before the
// first offer or answer so the track is negotiated.
func (m *Manager) AddTrack(kind TrackKind, track webrtc.TrackLocal) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError("add track", ErrClosed)
	}
	conn, gen := m.conn, m.generation
	m.mu.Unlock()

	sender, err := conn.AddTrack(track)
	if err != nil {
		return newError("add track", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.tracks[kind] = track
	if gen == m.generation {
		m.senders[kind] = sender
	}
	return nil
}

// ReplaceTrack swaps the track on an existing sender in place.
func (m *Manager) ReplaceTrack(kind TrackKind, track webrtc.TrackLocal) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return newError("replace track", ErrClosed)
	}
	sender, ok := m.senders[kind]
	if !ok {
		m.mu.Unlock()
		return newError("replace track", ErrNoSender)
	}
	m.tracks[kind] = track
	m.mu.Unlock()

	if err := sender.ReplaceTrack(track); err != nil {
		return newError("replace track", err)
	}
	return nil
}

// StartScreenShare puts screen on the video sender and returns the
// renegotiation offer to send as negotiation-needed.
func (m *Manager) StartScreenShare(screen webrtc.TrackLocal) (webrtc.SessionDescription, error) {
	m.mu.Lock()
	if m.sharing {
		m.mu.Unlock()
		return webrtc.SessionDescription{}, newError("start screen share", ErrInvalidState)
	}
	camera := m.tracks[KindVideo]
	m.mu.Unlock()

	if err := m.ReplaceTrack(KindVideo, screen); err != nil {
		return webrtc.SessionDescription{}, err
	}

	m.mu.Lock()
	m.camera = camera
	m.sharing = true
	m.mu.Unlock()

	return m.offer("renegotiate", nil)
}

// StopScreenShare restores the camera track and returns the
// renegotiation offer.
func (m *Manager) StopScreenShare() (webrtc.SessionDescription, error) {
	m.mu.Lock()
	if !m.sharing {
		m.mu.Unlock()
		return webrtc.SessionDescription{}, newError("stop screen share", ErrInvalidState)
	}
	camera := m.camera
	m.mu.Unlock()

	if err := m.ReplaceTrack(KindVideo, camera); err != nil {
		return webrtc.SessionDescription{}, err
	}

	m.mu.Lock()
	m.camera = nil
	m.sharing = false
	m.mu.Unlock()

	return m.offer("renegotiate", nil)
}

// Sharing reports whether the video sender carries a screen track.
func (m *Manager) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing
}

// Close tears the connection down. Later calls return ErrClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.state = StateClosed
	if m.recreating != nil {
		m.recreating.Stop()
		m.recreating = nil
	}
	conn := m.conn
	m.mu.Unlock()

	return conn.Close()
}

// begin claims the negotiation slot if the state allows op.
func (m *Manager) begin(op string, allowed ...SignalingState) (Conn, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, 0, newError(op, ErrClosed)
	}
	if m.inFlight {
		m.logger.Warn("negotiation already in flight", "op", op, "state", m.state)
		return nil, 0, stateError(op, m.state)
	}
	for _, s := range allowed {
		if m.state == s {
			m.inFlight = true
			return m.conn, m.generation, nil
		}
	}
	m.logger.Warn("invalid signaling transition", "op", op, "state", m.state)
	return nil, 0, stateError(op, m.state)
}

// finish releases the negotiation slot and moves to next on success.
func (m *Manager) finish(op string, gen int, err error, next SignalingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return newError(op, ErrClosed)
	}
	if gen != m.generation {
		// The connection was replaced underneath the step.
		return newError(op, ErrInvalidState)
	}
	m.inFlight = false
	if err != nil {
		m.logger.Warn("negotiation step failed", "op", op, "state", m.state, "error", err)
		return newError(op, err)
	}
	m.state = next
	return nil
}

// remoteApplied records that a remote description is in place and hands
// back the candidates that were waiting for it.
func (m *Manager) remoteApplied(gen int, state SignalingState) []webrtc.ICECandidateInit {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.closed {
		return nil
	}
	m.state = state
	m.remoteSet = true
	pending := m.pending
	m.pending = nil
	return pending
}

func (m *Manager) applyPending(conn Conn, pending []webrtc.ICECandidateInit) {
	for _, candidate := range pending {
		if err := conn.AddICECandidate(candidate); err != nil {
			m.logger.Warn("buffered candidate rejected", "error", err)
		}
	}
}

// install wires conn's callbacks. Events from a connection that has
// since been replaced are ignored.
func (m *Manager) install(conn Conn, gen int) {
	conn.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		if m.current(gen) && m.hooks.OnCandidate != nil {
			m.hooks.OnCandidate(candidate)
		}
	})
	conn.OnTrack(func(track RemoteTrack) {
		if m.current(gen) && m.hooks.OnTrack != nil {
			m.hooks.OnTrack(track)
		}
	})
	conn.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
			m.markConnected(gen)
		case webrtc.ICEConnectionStateFailed:
			m.restartICE(gen)
		}
	})
	conn.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			m.markConnected(gen)
		case webrtc.PeerConnectionStateFailed:
			m.scheduleRecreate(gen)
		}
	})
}

func (m *Manager) current(gen int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed && gen == m.generation
}

func (m *Manager) markConnected(gen int) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.attempts = 0
	already := m.connected
	m.connected = true
	m.mu.Unlock()

	if !already {
		m.logger.Info("peer connected")
		if m.hooks.OnConnected != nil {
			m.hooks.OnConnected()
		}
	}
}

// claimAttempt spends one unit of the recovery budget. It reports false
// when the budget is gone.
func (m *Manager) claimAttempt() bool {
	if !m.opts.Policy.Allows(m.attempts) {
		return false
	}
	m.attempts++
	return true
}

func (m *Manager) fail(err error) {
	m.logger.Error("peer connection recovery gave up", "error", err)
	if m.hooks.OnFailed != nil {
		m.hooks.OnFailed(err)
	}
}

func (m *Manager) restartICE(gen int) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.connected = false
	if !m.opts.Restarts {
		m.mu.Unlock()
		m.logger.Info("ice failed, waiting for partner restart")
		return
	}
	if !m.claimAttempt() {
		m.mu.Unlock()
		m.fail(ErrReconnectExhausted)
		return
	}
	attempt := m.attempts
	m.mu.Unlock()

	m.logger.Info("restarting ice", "attempt", attempt)
	offer, err := m.offer("ice restart", &webrtc.OfferOptions{ICERestart: true})
	if err != nil {
		m.logger.Warn("ice restart failed, recreating connection", "error", err)
		m.recreate(gen, false)
		return
	}
	if m.hooks.OnRestartOffer != nil {
		m.hooks.OnRestartOffer(offer)
	}
}

func (m *Manager) scheduleRecreate(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.generation || m.recreating != nil {
		return
	}
	m.connected = false
	m.logger.Info("peer connection failed, recreating", "delay", m.opts.RecreateDelay)
	m.recreating = m.clock.AfterFunc(m.opts.RecreateDelay, func() {
		m.recreate(gen, true)
	})
}

// recreate replaces the connection for generation gen with a fresh one
// and re-attaches the local tracks. claim is false when the caller
// already spent an attempt on this failure.
func (m *Manager) recreate(gen int, claim bool) {
	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.recreating = nil
	if claim && !m.claimAttempt() {
		m.mu.Unlock()
		m.fail(ErrReconnectExhausted)
		return
	}
	old := m.conn
	m.mu.Unlock()

	old.Close()

	conn, err := m.opts.Factory()
	if err != nil {
		m.fail(newError("recreate peer connection", err))
		return
	}

	m.mu.Lock()
	if m.closed || gen != m.generation {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.generation++
	newGen := m.generation
	m.conn = conn
	m.state = StateStable
	m.inFlight = false
	m.remoteSet = false
	m.pending = nil
	m.connected = false
	m.senders = make(map[TrackKind]Sender)
	tracks := make(map[TrackKind]webrtc.TrackLocal, len(m.tracks))
	for kind, track := range m.tracks {
		tracks[kind] = track
	}
	m.install(conn, newGen)
	m.mu.Unlock()

	for kind, track := range tracks {
		if track == nil {
			continue
		}
		sender, err := conn.AddTrack(track)
		if err != nil {
			m.logger.Warn("re-adding track failed", "kind", kind, "error", err)
			continue
		}
		m.mu.Lock()
		if newGen == m.generation {
			m.senders[kind] = sender
		}
		m.mu.Unlock()
	}

	m.logger.Info("peer connection recreated", "generation", newGen)
	if m.hooks.OnRecreated != nil {
		m.hooks.OnRecreated()
	}
}
