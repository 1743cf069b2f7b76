package fallback

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/mossy-p/roulette-signaling/internal/clock"
)

const (
	FrameWidth  = 160
	FrameHeight = 120
	FrameRate   = 15

	// AudioSampleRate is the PCMU clock rate.
	AudioSampleRate = 8000
	AudioPacket     = 20 * time.Millisecond

	toneFrequency = 440
	// Out of 32767: audible only with the volume all the way up.
	toneAmplitude = 64
)

// SampleWriter accepts media samples. *webrtc.TrackLocalStaticSample
// implements it.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// Stream generates synthetic media: procedurally drawn video frames and
// a near-silent PCMU tone. It stands in for a camera and microphone.
type Stream struct {
	mu    sync.Mutex
	frame int
	audio int
}

func NewStream() *Stream {
	return &Stream{}
}

// NextFrame draws the next video frame and returns it JPEG-encoded.
func (s *Stream) NextFrame() (media.Sample, error) {
	s.mu.Lock()
	n := s.frame
	s.frame++
	s.mu.Unlock()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, DrawFrame(n), &jpeg.Options{Quality: 70}); err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: buf.Bytes(), Duration: time.Second / FrameRate}, nil
}

// DrawFrame renders frame n: a hue sweep drifting with time and a white
// bar moving left to right.
func DrawFrame(n int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	shift := float64((n * 4) % 360)
	bar := (n * 3) % FrameWidth

	for y := 0; y < FrameHeight; y++ {
		value := 0.4 + 0.5*float64(y)/FrameHeight
		for x := 0; x < FrameWidth; x++ {
			c := colorful.Hsv(math.Mod(shift+float64(x)*360/FrameWidth, 360), 0.6, value)
			if x >= bar && x < bar+4 {
				c = colorful.Color{R: 1, G: 1, B: 1}
			}
			r, g, b := c.RGB255()
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	return img
}

// NextAudio returns the next 20ms of the tone as PCMU.
func (s *Stream) NextAudio() media.Sample {
	const n = AudioSampleRate * int(AudioPacket/time.Millisecond) / 1000

	s.mu.Lock()
	start := s.audio
	s.audio += n
	s.mu.Unlock()

	data := make([]byte, n)
	for i := range data {
		t := float64(start+i) / AudioSampleRate
		data[i] = linearToULaw(int16(toneAmplitude * math.Sin(2*math.Pi*toneFrequency*t)))
	}
	return media.Sample{Data: data, Duration: AudioPacket}
}

// PumpAudio writes the tone to w in real time until ctx is done or a
// write fails.
func (s *Stream) PumpAudio(ctx context.Context, c clock.Clock, w SampleWriter) error {
	for {
		if err := w.WriteSample(s.NextAudio()); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.After(AudioPacket):
		}
	}
}

// linearToULaw is the G.711 mu-law encoder.
func linearToULaw(sample int16) byte {
	const (
		bias = 0x84
		clip = 32635
	)
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > clip {
		s = clip
	}
	s += bias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}
