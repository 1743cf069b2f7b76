package matchmaking

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/models"
)

// DefaultMaxChatLength is the longest chat text, in characters, the
// relay forwards.
const DefaultMaxChatLength = 1000

// ErrDuplicateConnection is returned by Register for an id already present.
var ErrDuplicateConnection = errors.New("connection already registered")

// State owns the connection registry, the waiting queue and the pair
// map. Every mutation happens under mu, and the notifications it produces
// are handed to their sinks before mu is released, so each sink sees
// messages in the order the state changed. Sinks must not block or call
// back into State.
type State struct {
	mu    sync.Mutex
	conns map[string]*member
	queue []string
	pairs map[string]string

	clock         clock.Clock
	logger        *slog.Logger
	maxChatLength int
}

type member struct {
	conn Connection
	sink Sink
}

// delivery is a message produced by a mutation, sent before unlocking
type delivery struct {
	sink Sink
	msg  models.SignalMessage
}

// Options configures a State. Zero values fall back to defaults.
type Options struct {
	Clock         clock.Clock
	Logger        *slog.Logger
	MaxChatLength int
}

// NewState creates an empty matchmaking state.
func NewState(opts Options) *State {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxChatLength <= 0 {
		opts.MaxChatLength = DefaultMaxChatLength
	}
	return &State{
		conns:         make(map[string]*member),
		pairs:         make(map[string]string),
		clock:         opts.Clock,
		logger:        opts.Logger,
		maxChatLength: opts.MaxChatLength,
	}
}

// Register adds a connection to the registry. JoinedAt and
// LastActivityAt are set from the state's clock.
func (s *State) Register(conn Connection, sink Sink) error {
	if conn.ID == "" {
		return errors.New("connection id is required")
	}
	if conn.GenderFilter == "" {
		conn.GenderFilter = FilterAny
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conns[conn.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, conn.ID)
	}
	now := s.clock.Now()
	conn.JoinedAt = now
	conn.LastActivityAt = now
	s.conns[conn.ID] = &member{conn: conn, sink: sink}

	s.logger.Debug("connection registered", "conn", conn.ID, "user", conn.UserID, "premium", conn.Premium)
	return nil
}

// Unregister removes a connection after a disconnect. Its queue entry
// goes with it and its partner, if any, is told partner-disconnected.
// Unknown ids are ignored.
func (s *State) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deliver(s.removeLocked(id))
}

// Touch refreshes a connection's last activity.
func (s *State) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked(id)
}

// Ping refreshes activity and answers with pong.
func (s *State) Ping(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.conns[id]; ok {
		s.touchLocked(id)
		m.sink.Send(models.SignalMessage{Type: models.SignalTypePong})
	}
}

// Search puts a connection up for pairing. It is a no-op while the
// connection is already queued or paired. Otherwise stale queue entries
// are pruned and the searcher is paired with the first compatible queued
// connection, or appended to the queue. Search reports whether a pair
// was formed.
//
// The filter only applies to premium connections; everyone else
// searches with FilterAny.
func (s *State) Search(id string, filter GenderFilter) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out, matched := s.searchLocked(id, filter)
	deliver(out)
	return matched
}

func (s *State) searchLocked(id string, filter GenderFilter) ([]delivery, bool) {
	m, ok := s.conns[id]
	if !ok {
		return nil, false
	}
	s.touchLocked(id)

	if s.queuedLocked(id) {
		return nil, false
	}
	if _, paired := s.pairs[id]; paired {
		return nil, false
	}

	if !m.conn.Premium {
		filter = FilterAny
	}
	m.conn.GenderFilter = filter

	s.pruneQueueLocked()

	for i, partnerID := range s.queue {
		partner, exists := s.conns[partnerID]
		if !exists {
			// Pruned above; a vanished head is still never paired.
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			s.queue = append(s.queue, id)
			return nil, false
		}
		if !compatible(&m.conn, &partner.conn) {
			continue
		}

		s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
		s.pairs[id] = partnerID
		s.pairs[partnerID] = id

		s.logger.Info("pair matched", "conn", id, "partner", partnerID, "queued", len(s.queue))

		return []delivery{
			{sink: m.sink, msg: matchedMessage(&partner.conn, true)},
			{sink: partner.sink, msg: matchedMessage(&m.conn, false)},
		}, true
	}

	s.queue = append(s.queue, id)
	s.logger.Debug("connection queued", "conn", id, "position", len(s.queue))
	return nil, false
}

func matchedMessage(partner *Connection, initiator bool) models.SignalMessage {
	msg, _ := models.NewSignalMessage(models.SignalTypeMatched, "", models.MatchedPayload{
		PartnerID:     partner.ID,
		PartnerUserID: partner.UserID,
		PartnerName:   partner.DisplayName,
		Initiator:     initiator,
	})
	return msg
}

// CancelSearch removes a connection from the waiting queue.
func (s *State) CancelSearch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked(id)
	s.dequeueLocked(id)
}

// Skip ends the connection's current pair and tells the partner
// skipped. A connection that is only queued leaves the queue.
func (s *State) Skip(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked(id)
	s.dequeueLocked(id)
	deliver(s.unpairLocked(id, models.SignalTypeSkipped))
}

// Relay forwards a signaling payload from one connection to another.
// An empty to means the sender's current partner. Messages for unknown
// targets are dropped; the sender's state is untouched apart from its
// activity timestamp. Relay reports whether the message was handed off.
func (s *State) Relay(t models.SignalType, payload json.RawMessage, from, to string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[from]; !ok {
		return false
	}
	s.touchLocked(from)
	if to == "" {
		to = s.pairs[from]
	}
	target, ok := s.conns[to]
	if !ok {
		s.logger.Debug("relay target gone, dropping", "type", t, "from", from, "to", to)
		return false
	}
	return target.sink.Send(models.SignalMessage{Type: t, From: from, Payload: payload})
}

// Chat relays a text message. Text that is not a JSON string, is empty,
// or is longer than the limit is dropped; the sender is not told.
func (s *State) Chat(from string, p models.ChatPayload) bool {
	var text string
	if err := json.Unmarshal(p.Text, &text); err != nil {
		s.logger.Warn("chat text is not a string, dropping", "from", from)
		s.Touch(from)
		return false
	}
	if text == "" || utf8.RuneCountInString(text) > s.maxChatLength {
		s.logger.Warn("chat text rejected", "from", from, "length", utf8.RuneCountInString(text))
		s.Touch(from)
		return false
	}

	messageID := p.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	payload, err := json.Marshal(models.ChatDelivery{Text: text, IsSecret: p.IsSecret, MessageID: messageID})
	if err != nil {
		return false
	}
	return s.Relay(models.SignalTypeReceiveMessage, payload, from, p.TargetID)
}

// EvictIdle removes every connection whose last activity is before
// cutoff, notifies their partners and closes their sinks. It returns the
// evicted ids.
func (s *State) EvictIdle(cutoff time.Time) []string {
	return s.evict(func(m *member) bool {
		return m.conn.LastActivityAt.Before(cutoff)
	})
}

// CloseAll evicts every connection. The server calls it on shutdown.
func (s *State) CloseAll() []string {
	return s.evict(func(*member) bool { return true })
}

func (s *State) evict(match func(*member) bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []string
	for id, m := range s.conns {
		if !match(m) {
			continue
		}
		evicted = append(evicted, id)
		deliver(s.removeLocked(id))
		m.sink.Close()
	}
	return evicted
}

// removeLocked drops id from the registry, the queue and the pair map.
func (s *State) removeLocked(id string) []delivery {
	if _, ok := s.conns[id]; !ok {
		return nil
	}
	s.dequeueLocked(id)
	out := s.unpairLocked(id, models.SignalTypePartnerDisconnected)
	delete(s.conns, id)
	s.logger.Debug("connection removed", "conn", id)
	return out
}

// unpairLocked removes both sides of id's pair and addresses notice to
// the partner.
func (s *State) unpairLocked(id string, notice models.SignalType) []delivery {
	partnerID, ok := s.pairs[id]
	if !ok {
		return nil
	}
	delete(s.pairs, id)
	delete(s.pairs, partnerID)

	s.logger.Info("pair ended", "conn", id, "partner", partnerID, "reason", notice)

	partner, exists := s.conns[partnerID]
	if !exists {
		return nil
	}
	return []delivery{{sink: partner.sink, msg: models.SignalMessage{Type: notice, From: id}}}
}

func (s *State) touchLocked(id string) {
	if m, ok := s.conns[id]; ok {
		m.conn.LastActivityAt = s.clock.Now()
	}
}

func (s *State) queuedLocked(id string) bool {
	for _, queued := range s.queue {
		if queued == id {
			return true
		}
	}
	return false
}

func (s *State) dequeueLocked(id string) {
	for i, queued := range s.queue {
		if queued == id {
			s.queue = append(s.queue[:i:i], s.queue[i+1:]...)
			return
		}
	}
}

func (s *State) pruneQueueLocked() {
	kept := s.queue[:0:0]
	for _, id := range s.queue {
		if _, ok := s.conns[id]; ok {
			kept = append(kept, id)
		}
	}
	s.queue = kept
}

func deliver(out []delivery) {
	for _, d := range out {
		if d.sink != nil {
			d.sink.Send(d.msg)
		}
	}
}

// Stats is a point-in-time count of the shared state
type Stats struct {
	Connections int
	Queued      int
	Pairs       int
}

// Stats returns current counts.
func (s *State) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Connections: len(s.conns),
		Queued:      len(s.queue),
		Pairs:       len(s.pairs) / 2,
	}
}

// Queue returns a copy of the waiting queue, head first.
func (s *State) Queue() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queue...)
}

// PartnerOf returns id's current partner.
func (s *State) PartnerOf(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	partner, ok := s.pairs[id]
	return partner, ok
}

// Connection returns a copy of the registry entry for id.
func (s *State) Connection(id string) (Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.conns[id]
	if !ok {
		return Connection{}, false
	}
	return m.conn, true
}
