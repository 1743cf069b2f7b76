package fallback

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/mossy-p/roulette-signaling/internal/clock"
	"github.com/mossy-p/roulette-signaling/internal/peer"
)

// DefaultConnectDelay is how long a simulated connection takes to come
// up once both descriptions are set.
const DefaultConnectDelay = 500 * time.Millisecond

const hostCandidate = "candidate:1 1 udp 2130706431 127.0.0.1 9 typ host"

var errNoRemoteDescription = errors.New("remote description not set")

// ConnOptions configures simulated peer connections
type ConnOptions struct {
	ConnectDelay time.Duration
	Clock        clock.Clock
	Logger       *slog.Logger
}

// NewFactory returns a peer.Factory producing simulated connections.
func NewFactory(opts ConnOptions) peer.Factory {
	return func() (peer.Conn, error) {
		return NewConn(opts), nil
	}
}

// Conn is a peer.Conn with no network underneath. Once an offer and an
// answer have been exchanged it reports itself connected and delivers a
// remote audio and video track fed by a Stream.
type Conn struct {
	delay  time.Duration
	clock  clock.Clock
	logger *slog.Logger

	mu        sync.Mutex
	localSet  bool
	remoteSet bool
	connected bool
	closed    bool
	timer     clock.Timer
	tracks    []*Track

	onCandidate func(webrtc.ICECandidateInit)
	onICE       func(webrtc.ICEConnectionState)
	onConn      func(webrtc.PeerConnectionState)
	onTrack     func(peer.RemoteTrack)
}

func NewConn(opts ConnOptions) *Conn {
	if opts.ConnectDelay <= 0 {
		opts.ConnectDelay = DefaultConnectDelay
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Conn{delay: opts.ConnectDelay, clock: opts.Clock, logger: opts.Logger}
}

func (c *Conn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if err := c.usable(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return sessionDescription(webrtc.SDPTypeOffer)
}

func (c *Conn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	if err := c.usable(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.mu.Lock()
	remote := c.remoteSet
	c.mu.Unlock()
	if !remote {
		return webrtc.SessionDescription{}, errNoRemoteDescription
	}
	return sessionDescription(webrtc.SDPTypeAnswer)
}

func (c *Conn) SetLocalDescription(desc webrtc.SessionDescription) error {
	if err := validate(desc); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.ErrConnectionClosed
	}
	c.localSet = true
	c.maybeConnectLocked()
	return nil
}

func (c *Conn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	if err := validate(desc); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.ErrConnectionClosed
	}
	c.remoteSet = true
	c.maybeConnectLocked()
	return nil
}

func (c *Conn) AddICECandidate(webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.remoteSet {
		return errNoRemoteDescription
	}
	return nil
}

func (c *Conn) AddTrack(track webrtc.TrackLocal) (peer.Sender, error) {
	if err := c.usable(); err != nil {
		return nil, err
	}
	return &sender{track: track}, nil
}

func (c *Conn) OnICECandidate(f func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onCandidate = f
	c.mu.Unlock()
}

func (c *Conn) OnICEConnectionStateChange(f func(webrtc.ICEConnectionState)) {
	c.mu.Lock()
	c.onICE = f
	c.mu.Unlock()
}

func (c *Conn) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	c.mu.Lock()
	c.onConn = f
	c.mu.Unlock()
}

func (c *Conn) OnTrack(f func(peer.RemoteTrack)) {
	c.mu.Lock()
	c.onTrack = f
	c.mu.Unlock()
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	for _, t := range c.tracks {
		t.close()
	}
	return nil
}

func (c *Conn) usable() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return webrtc.ErrConnectionClosed
	}
	return nil
}

func (c *Conn) maybeConnectLocked() {
	if !c.localSet || !c.remoteSet || c.connected || c.timer != nil {
		return
	}
	c.timer = c.clock.AfterFunc(c.delay, c.connect)
}

// connect plays the events a real connection emits on the way up.
func (c *Conn) connect() {
	c.mu.Lock()
	if c.closed || c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = true
	stream := NewStream()
	audio := &Track{id: "sim-audio", kind: webrtc.RTPCodecTypeAudio, stream: stream}
	video := &Track{id: "sim-video", kind: webrtc.RTPCodecTypeVideo, stream: stream}
	c.tracks = []*Track{audio, video}
	onCandidate, onICE, onConn, onTrack := c.onCandidate, c.onICE, c.onConn, c.onTrack
	c.mu.Unlock()

	c.logger.Debug("simulated connection up")
	if onCandidate != nil {
		onCandidate(webrtc.ICECandidateInit{Candidate: hostCandidate})
	}
	if onICE != nil {
		onICE(webrtc.ICEConnectionStateConnected)
	}
	if onConn != nil {
		onConn(webrtc.PeerConnectionStateConnected)
	}
	if onTrack != nil {
		onTrack(audio)
		onTrack(video)
	}
}

// Track is a simulated inbound track.
type Track struct {
	id     string
	kind   webrtc.RTPCodecType
	stream *Stream

	mu     sync.Mutex
	closed bool
}

func (t *Track) ID() string                { return t.id }
func (t *Track) Kind() webrtc.RTPCodecType { return t.kind }

// ReadSample returns the next sample from the simulated partner, or
// io.EOF once the connection is closed.
func (t *Track) ReadSample() (media.Sample, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return media.Sample{}, io.EOF
	}
	if t.kind == webrtc.RTPCodecTypeAudio {
		return t.stream.NextAudio(), nil
	}
	return t.stream.NextFrame()
}

func (t *Track) close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

type sender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *sender) ReplaceTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	s.track = track
	s.mu.Unlock()
	return nil
}

// sessionDescription builds a well-formed description with one audio
// and one video section.
func sessionDescription(t webrtc.SDPType) (webrtc.SessionDescription, error) {
	sd, err := sdp.NewJSEPSessionDescription(false)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	sections := []struct {
		kind      string
		payload   uint8
		codec     string
		clockRate uint32
	}{
		{"audio", 0, "PCMU", AudioSampleRate},
		{"video", 96, "VP8", 90000},
	}
	for i, s := range sections {
		sd.WithMedia(sdp.NewJSEPMediaDescription(s.kind, nil).
			WithValueAttribute(sdp.AttrKeyMID, strconv.Itoa(i)).
			WithPropertyAttribute(sdp.AttrKeySendRecv).
			WithCodec(s.payload, s.codec, s.clockRate, 0, ""))
	}
	raw, err := sd.Marshal()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return webrtc.SessionDescription{Type: t, SDP: string(raw)}, nil
}

func validate(desc webrtc.SessionDescription) error {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(desc.SDP)); err != nil {
		return fmt.Errorf("invalid %s: %w", desc.Type, err)
	}
	if len(parsed.MediaDescriptions) == 0 {
		return fmt.Errorf("invalid %s: no media sections", desc.Type)
	}
	return nil
}
