package models

import "encoding/json"

// SignalType represents the type of a message on the signaling socket
type SignalType string

const (
	// Session setup
	SignalTypeWelcome      SignalType = "welcome"
	SignalTypeFindMatch    SignalType = "find-match"
	SignalTypeCancelSearch SignalType = "cancel-search"
	SignalTypeMatched      SignalType = "matched"

	// WebRTC negotiation, relayed verbatim
	SignalTypeOffer             SignalType = "offer"
	SignalTypeAnswer            SignalType = "answer"
	SignalTypeCandidate         SignalType = "ice-candidate"
	SignalTypeNegotiationNeeded SignalType = "negotiation-needed"
	SignalTypeNegotiationDone   SignalType = "negotiation-done"

	// Teardown
	SignalTypeSkip                SignalType = "skip"
	SignalTypeSkipped             SignalType = "skipped"
	SignalTypePartnerDisconnected SignalType = "partner-disconnected"

	// Adjacent channels
	SignalTypeStayConnected  SignalType = "stay-connected-response"
	SignalTypeSendMessage    SignalType = "send-message"
	SignalTypeReceiveMessage SignalType = "receive-message"

	SignalTypePing  SignalType = "ping"
	SignalTypePong  SignalType = "pong"
	SignalTypeError SignalType = "error"
)

// IsRelayed reports whether the server forwards messages of this type
// to another connection without looking at the payload.
func (t SignalType) IsRelayed() bool {
	switch t {
	case SignalTypeOffer, SignalTypeAnswer, SignalTypeCandidate,
		SignalTypeNegotiationNeeded, SignalTypeNegotiationDone,
		SignalTypeStayConnected:
		return true
	}
	return false
}

// SignalMessage is the envelope for every message on the socket.
// Payload is opaque to the relay.
type SignalMessage struct {
	Type    SignalType      `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewSignalMessage marshals payload into an envelope. A nil payload
// leaves Payload empty.
func NewSignalMessage(t SignalType, to string, payload any) (SignalMessage, error) {
	msg := SignalMessage{Type: t, To: to}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return SignalMessage{}, err
	}
	msg.Payload = raw
	return msg, nil
}

// Decode unmarshals the payload into v.
func (m SignalMessage) Decode(v any) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}

// WelcomePayload tells a client its server-assigned connection id
type WelcomePayload struct {
	ConnectionID string `json:"connectionId"`
}

// FindMatchPayload optionally narrows who the searcher is paired with
type FindMatchPayload struct {
	GenderFilter string `json:"genderFilter,omitempty"`
}

// MatchedPayload is sent to both sides of a new pair. Initiator is true
// for the side that must create the offer.
type MatchedPayload struct {
	PartnerID     string `json:"partnerId"`
	PartnerUserID string `json:"partnerUserId,omitempty"`
	PartnerName   string `json:"partnerName,omitempty"`
	Initiator     bool   `json:"initiator"`
}

// SDPPayload carries an offer or answer (including renegotiation)
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// CandidatePayload carries one trickled ICE candidate
type CandidatePayload struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// StayConnectedPayload is one side's vote on continuing as friends
type StayConnectedPayload struct {
	WantToStay bool   `json:"wantToStay"`
	TargetID   string `json:"targetId,omitempty"`
}

// ChatPayload is the adjacent text chat. Text is kept as raw JSON on the
// way in so a non-string value can be rejected instead of coerced.
type ChatPayload struct {
	Text      json.RawMessage `json:"text"`
	TargetID  string          `json:"targetId,omitempty"`
	IsSecret  bool            `json:"isSecret,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
}

// ChatDelivery is what the recipient of a chat message receives
type ChatDelivery struct {
	Text      string `json:"text"`
	IsSecret  bool   `json:"isSecret,omitempty"`
	MessageID string `json:"messageId"`
}
