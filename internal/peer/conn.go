package peer

import (
	"github.com/pion/webrtc/v4"
)

// Conn is the peer connection the Manager drives. NewPionFactory builds
// real ones; tests and the offline simulator supply their own.
type Conn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (Sender, error)

	// OnICECandidate is called for each gathered local candidate.
	// Gathering completion is not reported.
	OnICECandidate(f func(webrtc.ICECandidateInit))
	OnICEConnectionStateChange(f func(webrtc.ICEConnectionState))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	OnTrack(f func(RemoteTrack))

	Close() error
}

// Sender swaps the track on an existing RTP sender without
// renegotiating. *webrtc.RTPSender implements it.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// RemoteTrack is an inbound media track. *webrtc.TrackRemote implements it.
type RemoteTrack interface {
	ID() string
	Kind() webrtc.RTPCodecType
}

// Factory creates a fresh Conn. The Manager calls it again whenever a
// connection has to be rebuilt.
type Factory func() (Conn, error)
