package peer

import (
	"github.com/pion/webrtc/v4"
)

// ICEConfig lists the STUN and TURN servers for new connections
type ICEConfig struct {
	STUNServers []string
	TURNServers []string
	TURNUser    string
	TURNPass    string
}

func (c ICEConfig) servers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}
	if len(c.TURNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{
			URLs:       c.TURNServers,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}
	return servers
}

// NewPionFactory returns a Factory producing pion peer connections.
func NewPionFactory(cfg ICEConfig) Factory {
	return func() (Conn, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
			ICEServers: cfg.servers(),
		})
		if err != nil {
			return nil, newError("create peer connection", err)
		}
		return &pionConn{pc: pc}, nil
	}
}

// pionConn adapts *webrtc.PeerConnection to Conn
type pionConn struct {
	pc *webrtc.PeerConnection
}

func (c *pionConn) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(options)
}

func (c *pionConn) CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(options)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *pionConn) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// Read incoming RTCP packets so interceptors run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return sender, nil
}

func (c *pionConn) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		f(candidate.ToJSON())
	})
}

func (c *pionConn) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	c.pc.OnICEConnectionStateChange(f)
}

func (c *pionConn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.pc.OnConnectionStateChange(f)
}

func (c *pionConn) OnTrack(f func(RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f(track)
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}
