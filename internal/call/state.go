package call

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when an action is not allowed from
// the orchestrator's current state.
var ErrInvalidTransition = errors.New("invalid call state transition")

// State is where the local user is in the call flow
type State int

const (
	StateIdle State = iota
	StateSearching
	StateMatched
	StateConnected
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSearching:
		return "searching"
	case StateMatched:
		return "matched"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// transitions is the complete set of allowed moves.
var transitions = map[State][]State{
	StateIdle:      {StateSearching},
	StateSearching: {StateMatched, StateIdle},
	StateMatched:   {StateConnected, StateEnded},
	StateConnected: {StateEnded},
	StateEnded:     {StateSearching, StateIdle},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Reason says why a call ended
type Reason string

const (
	ReasonSkipped             Reason = "skipped"
	ReasonPartnerSkipped      Reason = "partner-skipped"
	ReasonPartnerDisconnected Reason = "partner-disconnected"
	ReasonStayDeclined        Reason = "stay-declined"
	ReasonVoteTimeout         Reason = "vote-timeout"
	ReasonFriendLimit         Reason = "friend-limit"
	ReasonFriendFailed        Reason = "friend-failed"
	ReasonConnectionFailed    Reason = "connection-failed"
	ReasonSignalTimeout       Reason = "signal-timeout"
	ReasonRelayLost           Reason = "relay-lost"
	ReasonClosed              Reason = "closed"
)

// Local reports whether the call was ended by this side. The server
// still holds the pair in that case and has to be told with skip.
func (r Reason) Local() bool {
	switch r {
	case ReasonPartnerSkipped, ReasonPartnerDisconnected, ReasonRelayLost:
		return false
	}
	return true
}

// Vote is one side's answer to "stay connected?"
type Vote int

const (
	VoteNone Vote = iota
	VoteYes
	VoteNo
)

func voteOf(want bool) Vote {
	if want {
		return VoteYes
	}
	return VoteNo
}

// StayVote is the stay-connected exchange for one call. Both sides hold
// one and evaluate it the same way.
type StayVote struct {
	Mine              Vote
	Partner           Vote
	FriendshipCreated bool
}

// Decided reports whether both votes are in.
func (v StayVote) Decided() bool {
	return v.Mine != VoteNone && v.Partner != VoteNone
}

// Agreed reports whether both sides voted yes.
func (v StayVote) Agreed() bool {
	return v.Mine == VoteYes && v.Partner == VoteYes
}

// Session describes the current or last call
type Session struct {
	PartnerID     string
	PartnerUserID string
	PartnerName   string
	IsFriendCall  bool
	StartedAt     time.Time
	Initiator     bool
	Simulated     bool
}
