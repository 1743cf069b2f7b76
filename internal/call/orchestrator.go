// Package call runs one user's side of the random-call flow: searching,
// negotiating the peer connection once matched, the stay-connected vote
// and every way a call can end.
//
// The Orchestrator is driven by messages from a Relay (Run or
// HandleMessage) and by the user's actions (StartSearch, Skip, VoteStay,
// SendChat). Hooks are always called without the Orchestrator's lock
// held.
package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/friends"
	"github.com/mossy-p/roulette-signaling/internal/models"
	"github.com/mossy-p/roulette-signaling/internal/peer"
)

const (
	DefaultSearchTimeout = 30 * time.Second
	DefaultVoteTimeout   = 20 * time.Second

	// DefaultSignalTimeout bounds how long a match may wait for media.
	DefaultSignalTimeout = 45 * time.Second
	friendTimeout        = 10 * time.Second

	// MaxChatLength matches the server's limit, in characters.
	MaxChatLength = 1000
)

var (
	ErrRelayLost   = errors.New("signaling relay closed")
	ErrChatTooLong = errors.New("chat message too long")
	ErrEmptyChat   = errors.New("chat message is empty")
)

// Relay carries signaling messages to and from the server.
// signaling.Client implements it, as does the offline simulator.
type Relay interface {
	ID() string
	Send(msg models.SignalMessage) error
	Incoming() <-chan models.SignalMessage
	Close() error
}

// ChatMessage is a chat line from the partner
type ChatMessage struct {
	MessageID string
	Text      string
	Secret    bool
}

// Hooks receive call events. All are optional.
type Hooks struct {
	OnStateChange func(from, to State)
	OnMatched     func(Session)
	OnConnected   func(Session)
	OnTrack       func(peer.RemoteTrack)
	OnEnded       func(Session, Reason)
	OnNoMatches   func()
	OnChat        func(ChatMessage)
	OnVote        func(StayVote)
	OnFriend      func(models.Friendship)
}

// Options configures an Orchestrator
type Options struct {
	Relay       Relay
	PeerFactory peer.Factory

	// Friends records friendships after a successful stay-connected
	// vote. Nil skips recording; the call still continues as a friend call.
	Friends friends.Store
	UserID  string

	// Tracks are attached to every new peer connection.
	Tracks       map[peer.TrackKind]webrtc.TrackLocal
	GenderFilter string

	SearchTimeout time.Duration
	VoteTimeout   time.Duration
	SignalTimeout time.Duration

	// Simulated marks sessions as coming from the offline simulator.
	Simulated bool

	Hooks  Hooks
	Clock  clock.Clock
	Logger *slog.Logger
}

// active is the bookkeeping for the call in progress.
type active struct {
	session     Session
	peer        *peer.Manager
	vote        StayVote
	voteTimer   clock.Timer
	signalTimer clock.Timer
}

// Orchestrator owns the local call state machine.
type Orchestrator struct {
	opts   Options
	relay  Relay
	hooks  Hooks
	clock  clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	call        *active
	last        Session
	searchTimer clock.Timer
	searchGen   int
	effects     []func()
}

// New creates an idle Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Relay == nil {
		return nil, errors.New("call: relay is required")
	}
	if opts.PeerFactory == nil {
		return nil, errors.New("call: peer factory is required")
	}
	if opts.SearchTimeout <= 0 {
		opts.SearchTimeout = DefaultSearchTimeout
	}
	if opts.VoteTimeout <= 0 {
		opts.VoteTimeout = DefaultVoteTimeout
	}
	if opts.SignalTimeout <= 0 {
		opts.SignalTimeout = DefaultSignalTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Orchestrator{
		opts:   opts,
		relay:  opts.Relay,
		hooks:  opts.Hooks,
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "call"),
	}, nil
}

// State returns the current call state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Session returns the call in progress, or the last one with false when
// no call is active.
func (o *Orchestrator) Session() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil {
		return o.last, false
	}
	return o.call.session, true
}

// Vote returns the stay-connected exchange of the active call.
func (o *Orchestrator) Vote() StayVote {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil {
		return StayVote{}
	}
	return o.call.vote
}

// Run feeds relay messages into the Orchestrator until ctx is done or
// the relay closes. A closed relay ends any active call and returns
// ErrRelayLost.
func (o *Orchestrator) Run(ctx context.Context) error {
	incoming := o.relay.Incoming()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-incoming:
			if !ok {
				o.relayLost()
				return ErrRelayLost
			}
			o.HandleMessage(msg)
		}
	}
}

// StartSearch asks the server for a partner. It is valid from idle and
// after a call has ended.
func (o *Orchestrator) StartSearch() error {
	o.mu.Lock()
	defer o.unlock()

	if err := o.moveLocked(StateSearching); err != nil {
		return err
	}
	o.call = nil
	o.searchGen++
	gen := o.searchGen
	o.sendLocked(models.SignalTypeFindMatch, "", models.FindMatchPayload{GenderFilter: o.opts.GenderFilter})
	o.searchTimer = o.clock.AfterFunc(o.opts.SearchTimeout, func() {
		o.searchExpired(gen)
	})
	o.logger.Info("searching for a partner", "timeout", o.opts.SearchTimeout)
	return nil
}

// CancelSearch leaves the queue and returns to idle.
func (o *Orchestrator) CancelSearch() error {
	o.mu.Lock()
	defer o.unlock()

	if o.state != StateSearching {
		return fmt.Errorf("cancel search from %s: %w", o.state, ErrInvalidTransition)
	}
	o.leaveSearchLocked(true)
	return o.moveLocked(StateIdle)
}

// Skip ends the active call. The partner is told skipped.
func (o *Orchestrator) Skip() error {
	o.mu.Lock()
	defer o.unlock()

	if o.call == nil {
		return fmt.Errorf("skip from %s: %w", o.state, ErrInvalidTransition)
	}
	return o.endLocked(ReasonSkipped)
}

// Next skips the active call, if any, and searches again.
func (o *Orchestrator) Next() error {
	o.mu.Lock()
	if o.call != nil {
		if err := o.endLocked(ReasonSkipped); err != nil {
			o.unlock()
			return err
		}
	}
	o.unlock()
	return o.StartSearch()
}

// VoteStay records the local answer to "stay connected?" and sends it to
// the partner. Only valid while connected, once per call.
func (o *Orchestrator) VoteStay(want bool) error {
	o.mu.Lock()
	defer o.unlock()

	if o.state != StateConnected || o.call == nil {
		return fmt.Errorf("vote from %s: %w", o.state, ErrInvalidTransition)
	}
	call := o.call
	if call.vote.Mine != VoteNone {
		return fmt.Errorf("vote already cast: %w", ErrInvalidTransition)
	}
	call.vote.Mine = voteOf(want)
	o.sendLocked(models.SignalTypeStayConnected, call.session.PartnerID, models.StayConnectedPayload{
		WantToStay: want,
		TargetID:   call.session.PartnerID,
	})
	o.evaluateVoteLocked(call)
	return nil
}

// SendChat sends a chat line to the partner and returns its message id.
func (o *Orchestrator) SendChat(text string, secret bool) (string, error) {
	if text == "" {
		return "", ErrEmptyChat
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return "", ErrChatTooLong
	}

	o.mu.Lock()
	defer o.unlock()

	if o.call == nil {
		return "", fmt.Errorf("chat from %s: %w", o.state, ErrInvalidTransition)
	}
	raw, err := json.Marshal(text)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	o.sendLocked(models.SignalTypeSendMessage, "", models.ChatPayload{
		Text:      raw,
		TargetID:  o.call.session.PartnerID,
		IsSecret:  secret,
		MessageID: id,
	})
	return id, nil
}

// StartScreenShare puts screen on the video sender and renegotiates.
func (o *Orchestrator) StartScreenShare(screen webrtc.TrackLocal) error {
	return o.renegotiate(func(m *peer.Manager) (webrtc.SessionDescription, error) {
		return m.StartScreenShare(screen)
	})
}

// StopScreenShare restores the camera and renegotiates.
func (o *Orchestrator) StopScreenShare() error {
	return o.renegotiate(func(m *peer.Manager) (webrtc.SessionDescription, error) {
		return m.StopScreenShare()
	})
}

func (o *Orchestrator) renegotiate(fn func(*peer.Manager) (webrtc.SessionDescription, error)) error {
	o.mu.Lock()
	if o.state != StateConnected || o.call == nil {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("renegotiate from %s: %w", state, ErrInvalidTransition)
	}
	call := o.call
	o.mu.Unlock()

	offer, err := fn(call.peer)
	if err != nil {
		return err
	}
	o.sendTo(call, models.SignalTypeNegotiationNeeded, sdpPayload(offer))
	return nil
}

// Close ends any active call or search and closes the relay.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	switch {
	case o.call != nil:
		_ = o.endLocked(ReasonClosed)
	case o.state == StateSearching:
		o.leaveSearchLocked(true)
		_ = o.moveLocked(StateIdle)
	}
	o.unlock()
	return o.relay.Close()
}

// HandleMessage applies one message from the relay.
func (o *Orchestrator) HandleMessage(msg models.SignalMessage) {
	switch msg.Type {
	case models.SignalTypeMatched:
		o.handleMatched(msg)
	case models.SignalTypeOffer:
		o.handleOffer(msg, models.SignalTypeAnswer)
	case models.SignalTypeNegotiationNeeded:
		o.handleOffer(msg, models.SignalTypeNegotiationDone)
	case models.SignalTypeAnswer, models.SignalTypeNegotiationDone:
		o.handleAnswer(msg)
	case models.SignalTypeCandidate:
		o.handleCandidate(msg)
	case models.SignalTypeStayConnected:
		o.handleVote(msg)
	case models.SignalTypeReceiveMessage:
		o.handleChat(msg)
	case models.SignalTypeSkipped:
		o.partnerLeft(ReasonPartnerSkipped)
	case models.SignalTypePartnerDisconnected:
		o.partnerLeft(ReasonPartnerDisconnected)
	case models.SignalTypeError:
		o.logger.Warn("server error", "error", msg.Error)
	case models.SignalTypeWelcome, models.SignalTypePong:
	default:
		o.logger.Debug("ignoring message", "type", msg.Type)
	}
}

func (o *Orchestrator) handleMatched(msg models.SignalMessage) {
	var p models.MatchedPayload
	if err := msg.Decode(&p); err != nil || p.PartnerID == "" {
		o.logger.Warn("malformed matched message", "error", err)
		return
	}

	o.mu.Lock()
	defer o.unlock()

	if o.state != StateSearching {
		o.logger.Warn("matched while not searching", "state", o.state, "partner", p.PartnerID)
		if o.call == nil {
			// The server paired us after we stopped searching. Release
			// the pair so neither side is stuck in it.
			o.sendLocked(models.SignalTypeSkip, "", nil)
		}
		return
	}
	o.leaveSearchLocked(false)

	call := &active{session: Session{
		PartnerID:     p.PartnerID,
		PartnerUserID: p.PartnerUserID,
		PartnerName:   p.PartnerName,
		StartedAt:     o.clock.Now(),
		Initiator:     p.Initiator,
		Simulated:     o.opts.Simulated,
	}}
	m, err := peer.New(peer.Options{
		Factory:  o.opts.PeerFactory,
		Hooks:    o.peerHooks(call),
		Restarts: p.Initiator,
		Clock:    o.clock,
		Logger:   o.logger.With("partner", p.PartnerID),
	})
	if err != nil {
		o.logger.Error("could not create peer connection", "error", err)
		// Release the partner so they are not left waiting on us.
		o.sendLocked(models.SignalTypeSkip, "", nil)
		_ = o.moveLocked(StateIdle)
		return
	}
	call.peer = m
	o.call = call
	_ = o.moveLocked(StateMatched)
	call.signalTimer = o.clock.AfterFunc(o.opts.SignalTimeout, func() {
		o.signalExpired(call)
	})

	session := call.session
	o.effects = append(o.effects, func() {
		o.attachTracks(m)
		if o.hooks.OnMatched != nil {
			o.hooks.OnMatched(session)
		}
		if session.Initiator {
			o.offer(call)
		}
	})
	o.logger.Info("matched", "partner", p.PartnerID, "initiator", p.Initiator)
}

func (o *Orchestrator) attachTracks(m *peer.Manager) {
	for _, kind := range []peer.TrackKind{peer.KindAudio, peer.KindVideo} {
		track, ok := o.opts.Tracks[kind]
		if !ok {
			continue
		}
		if err := m.AddTrack(kind, track); err != nil {
			o.logger.Warn("could not attach local track", "kind", kind, "error", err)
		}
	}
}

// offer starts a negotiation from the initiating side.
func (o *Orchestrator) offer(call *active) {
	offer, err := call.peer.CreateOffer()
	if err != nil {
		o.logger.Warn("create offer failed", "error", err)
		return
	}
	o.sendTo(call, models.SignalTypeOffer, sdpPayload(offer))
}

// peerHooks binds peer events to call, ignoring them once call is over.
func (o *Orchestrator) peerHooks(call *active) peer.Hooks {
	return peer.Hooks{
		OnCandidate: func(c webrtc.ICECandidateInit) {
			o.sendTo(call, models.SignalTypeCandidate, models.CandidatePayload{
				Candidate:        c.Candidate,
				SDPMid:           c.SDPMid,
				SDPMLineIndex:    c.SDPMLineIndex,
				UsernameFragment: c.UsernameFragment,
			})
		},
		OnTrack: func(track peer.RemoteTrack) {
			o.trackArrived(call, track)
		},
		OnRestartOffer: func(offer webrtc.SessionDescription) {
			o.sendTo(call, models.SignalTypeOffer, sdpPayload(offer))
		},
		OnRecreated: func() {
			if call.session.Initiator && o.isCurrent(call) {
				o.offer(call)
			}
		},
		OnFailed: func(err error) {
			o.mu.Lock()
			defer o.unlock()
			if o.call != call {
				return
			}
			o.logger.Warn("peer connection lost", "error", err)
			_ = o.endLocked(ReasonConnectionFailed)
		},
	}
}

func (o *Orchestrator) trackArrived(call *active, track peer.RemoteTrack) {
	o.mu.Lock()
	defer o.unlock()

	if o.call != call {
		return
	}
	if o.hooks.OnTrack != nil {
		o.effects = append(o.effects, func() { o.hooks.OnTrack(track) })
	}
	if o.state != StateMatched {
		return
	}
	stopTimer(&call.signalTimer)
	_ = o.moveLocked(StateConnected)
	o.logger.Info("call connected", "partner", call.session.PartnerID, "track", track.Kind().String())
	if o.hooks.OnConnected != nil {
		session := call.session
		o.effects = append(o.effects, func() { o.hooks.OnConnected(session) })
	}
}

// partnerMessage returns the active call if msg came from its partner.
func (o *Orchestrator) partnerMessage(msg models.SignalMessage) *active {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.call == nil || msg.From != o.call.session.PartnerID {
		o.logger.Debug("dropping message from stale partner", "type", msg.Type, "from", msg.From)
		return nil
	}
	return o.call
}

func (o *Orchestrator) isCurrent(call *active) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.call == call
}

func (o *Orchestrator) handleOffer(msg models.SignalMessage, reply models.SignalType) {
	call := o.partnerMessage(msg)
	if call == nil {
		return
	}
	var p models.SDPPayload
	if err := msg.Decode(&p); err != nil {
		o.logger.Warn("malformed offer", "error", err)
		return
	}
	answer, err := call.peer.CreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: p.SDP})
	if err != nil {
		o.logger.Warn("answer failed", "type", msg.Type, "error", err)
		return
	}
	o.sendTo(call, reply, sdpPayload(answer))
}

func (o *Orchestrator) handleAnswer(msg models.SignalMessage) {
	call := o.partnerMessage(msg)
	if call == nil {
		return
	}
	var p models.SDPPayload
	if err := msg.Decode(&p); err != nil {
		o.logger.Warn("malformed answer", "error", err)
		return
	}
	if err := call.peer.SetRemoteAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}); err != nil {
		o.logger.Warn("apply answer failed", "type", msg.Type, "error", err)
	}
}

func (o *Orchestrator) handleCandidate(msg models.SignalMessage) {
	call := o.partnerMessage(msg)
	if call == nil {
		return
	}
	var p models.CandidatePayload
	if err := msg.Decode(&p); err != nil {
		o.logger.Warn("malformed candidate", "error", err)
		return
	}
	err := call.peer.AddRemoteCandidate(webrtc.ICECandidateInit{
		Candidate:        p.Candidate,
		SDPMid:           p.SDPMid,
		SDPMLineIndex:    p.SDPMLineIndex,
		UsernameFragment: p.UsernameFragment,
	})
	if err != nil {
		o.logger.Warn("remote candidate rejected", "error", err)
	}
}

func (o *Orchestrator) handleVote(msg models.SignalMessage) {
	var p models.StayConnectedPayload
	if err := msg.Decode(&p); err != nil {
		o.logger.Warn("malformed stay-connected vote", "error", err)
		return
	}

	o.mu.Lock()
	defer o.unlock()

	call := o.call
	if call == nil || msg.From != call.session.PartnerID {
		return
	}
	if call.vote.Partner != VoteNone {
		return
	}
	call.vote.Partner = voteOf(p.WantToStay)
	o.evaluateVoteLocked(call)
}

// evaluateVoteLocked is the same decision on both sides: wait until both
// votes are in, then either become friends or end the call.
func (o *Orchestrator) evaluateVoteLocked(call *active) {
	vote := call.vote
	if o.hooks.OnVote != nil {
		o.effects = append(o.effects, func() { o.hooks.OnVote(vote) })
	}

	if !vote.Decided() {
		if call.voteTimer == nil {
			call.voteTimer = o.clock.AfterFunc(o.opts.VoteTimeout, func() {
				o.voteExpired(call)
			})
		}
		return
	}
	stopTimer(&call.voteTimer)

	if !vote.Agreed() {
		_ = o.endLocked(ReasonStayDeclined)
		return
	}
	if vote.FriendshipCreated {
		return
	}
	call.vote.FriendshipCreated = true
	partnerUserID := call.session.PartnerUserID
	o.effects = append(o.effects, func() {
		o.createFriendship(call, partnerUserID)
	})
}

func (o *Orchestrator) createFriendship(call *active, partnerUserID string) {
	var (
		f   models.Friendship
		err error
	)
	if o.opts.Friends != nil {
		ctx, cancel := context.WithTimeout(context.Background(), friendTimeout)
		f, err = o.opts.Friends.AddFriend(ctx, o.opts.UserID, partnerUserID)
		cancel()
	}

	o.mu.Lock()
	defer o.unlock()

	if o.call != call {
		return
	}
	switch {
	case err == nil, errors.Is(err, friends.ErrAlreadyFriends):
		call.session.IsFriendCall = true
		o.logger.Info("call continues as friend call", "partner", partnerUserID)
		if o.hooks.OnFriend != nil {
			o.effects = append(o.effects, func() { o.hooks.OnFriend(f) })
		}
	case errors.Is(err, friends.ErrFriendLimit):
		o.logger.Info("friend limit reached", "partner", partnerUserID)
		_ = o.endLocked(ReasonFriendLimit)
	default:
		o.logger.Error("could not record friendship", "partner", partnerUserID, "error", err)
		_ = o.endLocked(ReasonFriendFailed)
	}
}

// signalExpired ends a match that never produced media.
func (o *Orchestrator) signalExpired(call *active) {
	o.mu.Lock()
	defer o.unlock()

	if o.call != call || o.state != StateMatched {
		return
	}
	call.signalTimer = nil
	o.logger.Warn("no media from partner", "partner", call.session.PartnerID, "timeout", o.opts.SignalTimeout)
	_ = o.endLocked(ReasonSignalTimeout)
}

func (o *Orchestrator) voteExpired(call *active) {
	o.mu.Lock()
	defer o.unlock()

	if o.call != call || call.vote.Decided() {
		return
	}
	call.voteTimer = nil
	o.logger.Info("stay-connected vote timed out")
	_ = o.endLocked(ReasonVoteTimeout)
}

func (o *Orchestrator) handleChat(msg models.SignalMessage) {
	if o.partnerMessage(msg) == nil {
		return
	}
	var p models.ChatDelivery
	if err := msg.Decode(&p); err != nil {
		o.logger.Warn("malformed chat message", "error", err)
		return
	}
	if o.hooks.OnChat != nil {
		o.hooks.OnChat(ChatMessage{MessageID: p.MessageID, Text: p.Text, Secret: p.IsSecret})
	}
}

func (o *Orchestrator) partnerLeft(reason Reason) {
	o.mu.Lock()
	defer o.unlock()
	if o.call == nil {
		return
	}
	_ = o.endLocked(reason)
}

func (o *Orchestrator) relayLost() {
	o.mu.Lock()
	defer o.unlock()
	switch {
	case o.call != nil:
		_ = o.endLocked(ReasonRelayLost)
	case o.state == StateSearching:
		o.leaveSearchLocked(false)
		_ = o.moveLocked(StateIdle)
	}
}

func (o *Orchestrator) searchExpired(gen int) {
	o.mu.Lock()
	defer o.unlock()

	if o.state != StateSearching || gen != o.searchGen {
		return
	}
	o.searchTimer = nil
	o.leaveSearchLocked(true)
	_ = o.moveLocked(StateIdle)
	o.logger.Info("no matches")
	if o.hooks.OnNoMatches != nil {
		o.effects = append(o.effects, o.hooks.OnNoMatches)
	}
}

// leaveSearchLocked stops the search timer. cancel also takes the
// connection out of the server queue.
func (o *Orchestrator) leaveSearchLocked(cancel bool) {
	o.searchGen++
	if o.searchTimer != nil {
		o.searchTimer.Stop()
		o.searchTimer = nil
	}
	if cancel {
		o.sendLocked(models.SignalTypeCancelSearch, "", nil)
	}
}

// endLocked moves the active call to ended and tears it down. A call
// ended from this side sends skip so the server dissolves the pair.
func (o *Orchestrator) endLocked(reason Reason) error {
	call := o.call
	if err := o.moveLocked(StateEnded); err != nil {
		return err
	}
	o.call = nil
	stopTimer(&call.voteTimer)
	stopTimer(&call.signalTimer)
	o.last = call.session
	if reason.Local() {
		o.sendLocked(models.SignalTypeSkip, "", nil)
	}

	session := call.session
	o.logger.Info("call ended", "partner", session.PartnerID, "reason", reason,
		"duration", o.clock.Now().Sub(session.StartedAt))
	o.effects = append(o.effects, func() {
		if err := call.peer.Close(); err != nil {
			o.logger.Debug("peer close", "error", err)
		}
		if o.hooks.OnEnded != nil {
			o.hooks.OnEnded(session, reason)
		}
	})
	return nil
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

// moveLocked is the single place state changes.
func (o *Orchestrator) moveLocked(to State) error {
	from := o.state
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
	}
	o.state = to
	if o.hooks.OnStateChange != nil {
		o.effects = append(o.effects, func() { o.hooks.OnStateChange(from, to) })
	}
	return nil
}

func (o *Orchestrator) sendLocked(t models.SignalType, to string, payload any) {
	msg, err := models.NewSignalMessage(t, to, payload)
	if err != nil {
		o.logger.Error("encode message", "type", t, "error", err)
		return
	}
	o.effects = append(o.effects, func() {
		if err := o.relay.Send(msg); err != nil {
			o.logger.Warn("send failed", "type", t, "error", err)
		}
	})
}

// sendTo sends directly to call's partner if call is still active.
func (o *Orchestrator) sendTo(call *active, t models.SignalType, payload any) {
	o.mu.Lock()
	defer o.unlock()
	if o.call != call {
		return
	}
	o.sendLocked(t, call.session.PartnerID, payload)
}

// unlock releases the lock and then runs the side effects collected
// while it was held, in order.
func (o *Orchestrator) unlock() {
	effects := o.effects
	o.effects = nil
	o.mu.Unlock()
	for _, effect := range effects {
		effect()
	}
}

func sdpPayload(desc webrtc.SessionDescription) models.SDPPayload {
	return models.SDPPayload{Type: desc.Type.String(), SDP: desc.SDP}
}
