package peer

// SignalingState tracks where the offer/answer exchange stands
type SignalingState int

const (
	StateStable SignalingState = iota
	StateHaveLocalOffer
	StateHaveRemoteOffer
	StateClosed
)

func (s SignalingState) String() string {
	switch s {
	case StateStable:
		return "stable"
	case StateHaveLocalOffer:
		return "have-local-offer"
	case StateHaveRemoteOffer:
		return "have-remote-offer"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TrackKind names a local sender slot. Screen share reuses the video slot.
type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)
