// Package fallback simulates a partner when the signaling server cannot
// be reached. Relay stands in for the server connection and Conn for the
// peer connection, so a call runs through the same states, events and
// teardown as a real one.
package fallback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

const (
	DefaultMatchDelay  = 1500 * time.Millisecond
	DefaultReplyDelay  = time.Second
	DefaultPartnerName = "Simulated partner"

	incomingBuffer = 64
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("fallback relay closed")

var chatReplies = []string{
	"hey! the connection is a bit quiet here",
	"nice to meet you",
	"I'm only a simulation, but I'm listening",
}

// RelayOptions configures the simulated server
type RelayOptions struct {
	MatchDelay  time.Duration
	ReplyDelay  time.Duration
	PartnerName string

	// PartnerStays is the simulated partner's stay-connected vote.
	PartnerStays bool

	// CallDuration, when set, makes the partner hang up after that long.
	CallDuration time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Relay answers signaling messages locally on behalf of a fabricated
// partner. It implements the same contract as signaling.Client.
type Relay struct {
	opts   RelayOptions
	id     string
	clock  clock.Clock
	logger *slog.Logger
	in     chan models.SignalMessage

	mu        sync.Mutex
	closed    bool
	partner   string
	searching clock.Timer
	timers    []clock.Timer
	replies   int
}

// NewRelay returns a Relay that has already "welcomed" the client.
func NewRelay(opts RelayOptions) *Relay {
	if opts.MatchDelay <= 0 {
		opts.MatchDelay = DefaultMatchDelay
	}
	if opts.ReplyDelay <= 0 {
		opts.ReplyDelay = DefaultReplyDelay
	}
	if opts.PartnerName == "" {
		opts.PartnerName = DefaultPartnerName
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := &Relay{
		opts:   opts,
		id:     "local-" + uuid.NewString(),
		clock:  opts.Clock,
		logger: opts.Logger.With("component", "fallback"),
		in:     make(chan models.SignalMessage, incomingBuffer),
	}
	welcome, _ := models.NewSignalMessage(models.SignalTypeWelcome, r.id, models.WelcomePayload{ConnectionID: r.id})
	r.in <- welcome
	return r
}

func (r *Relay) ID() string { return r.id }

func (r *Relay) Incoming() <-chan models.SignalMessage { return r.in }

// Send plays the server's and the partner's part for msg.
func (r *Relay) Send(msg models.SignalMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	switch msg.Type {
	case models.SignalTypeFindMatch:
		if r.partner == "" && r.searching == nil {
			r.searching = r.clock.AfterFunc(r.opts.MatchDelay, r.match)
		}
	case models.SignalTypeCancelSearch, models.SignalTypeSkip:
		r.resetLocked()
	case models.SignalTypeOffer:
		r.answerLocked(models.SignalTypeAnswer)
	case models.SignalTypeNegotiationNeeded:
		r.answerLocked(models.SignalTypeNegotiationDone)
	case models.SignalTypeStayConnected:
		stays := r.opts.PartnerStays
		r.afterLocked(r.opts.ReplyDelay, func() {
			r.fromPartner(models.SignalTypeStayConnected, models.StayConnectedPayload{WantToStay: stays})
		})
	case models.SignalTypeSendMessage:
		text := chatReplies[r.replies%len(chatReplies)]
		r.replies++
		r.afterLocked(r.opts.ReplyDelay, func() {
			r.fromPartner(models.SignalTypeReceiveMessage, models.ChatDelivery{Text: text, MessageID: uuid.NewString()})
		})
	case models.SignalTypePing:
		r.pushLocked(models.SignalMessage{Type: models.SignalTypePong})
	}
	return nil
}

// Close stops every pending reply and closes Incoming.
func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.resetLocked()
	r.closed = true
	close(r.in)
	return nil
}

func (r *Relay) match() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.searching == nil {
		return
	}
	r.searching = nil
	r.partner = "sim-" + uuid.NewString()
	r.logger.Info("simulated partner joined", "partner", r.partner)

	// The local side always offers.
	msg, _ := models.NewSignalMessage(models.SignalTypeMatched, r.id, models.MatchedPayload{
		PartnerID:     r.partner,
		PartnerUserID: r.partner,
		PartnerName:   r.opts.PartnerName,
		Initiator:     true,
	})
	r.pushLocked(msg)

	if r.opts.CallDuration > 0 {
		partner := r.partner
		r.afterLocked(r.opts.CallDuration, func() { r.hangUp(partner) })
	}
}

func (r *Relay) hangUp(partner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.partner != partner {
		return
	}
	r.partner = ""
	r.logger.Info("simulated partner left", "partner", partner)
	r.pushLocked(models.SignalMessage{Type: models.SignalTypePartnerDisconnected})
}

func (r *Relay) answerLocked(reply models.SignalType) {
	if r.partner == "" {
		return
	}
	answer, err := sessionDescription(webrtc.SDPTypeAnswer)
	if err != nil {
		r.logger.Error("build simulated answer", "error", err)
		return
	}
	msg, _ := models.NewSignalMessage(reply, r.id, models.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP})
	msg.From = r.partner
	r.pushLocked(msg)
}

func (r *Relay) fromPartner(t models.SignalType, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.partner == "" {
		return
	}
	msg, err := models.NewSignalMessage(t, r.id, payload)
	if err != nil {
		return
	}
	msg.From = r.partner
	r.pushLocked(msg)
}

func (r *Relay) afterLocked(d time.Duration, f func()) {
	r.timers = append(r.timers, r.clock.AfterFunc(d, f))
}

// resetLocked forgets the partner and cancels anything scheduled.
func (r *Relay) resetLocked() {
	if r.searching != nil {
		r.searching.Stop()
		r.searching = nil
	}
	for _, t := range r.timers {
		t.Stop()
	}
	r.timers = nil
	r.partner = ""
}

func (r *Relay) pushLocked(msg models.SignalMessage) {
	if r.closed {
		return
	}
	select {
	case r.in <- msg:
	default:
		r.logger.Warn("incoming buffer full, dropping", "type", msg.Type)
	}
}
