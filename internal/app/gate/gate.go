// Package gate owns the microphone capture and the outgoing track state.
package gate

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/audio"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

type TrackState int32

const (
	TrackStateClosed TrackState = iota
	TrackStateOpen
)

const maxOpusPacket = 1500

type sampleWriter interface {
	WriteSample(media.Sample) error
}

// NewOutgoingTrack creates the Opus track attached to every peer session.
// Its stream id is the local user id so peers can map it back to a volume.
func NewOutgoingTrack(user domain.UserID) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		user.String(),
	)
}

// Gate pairs the capture stream with an outgoing track whose payload is
// switched on and off without touching the transport. The flags are changed
// by the controller goroutine; the capture goroutine only reads the atomic state.
type Gate struct {
	mic           core.Microphone
	enc           core.FrameEncoder
	track         webrtc.TrackLocal
	out           sampleWriter
	frameDuration time.Duration
	window        int

	mu       sync.Mutex
	stream   core.CaptureStream
	channels int
	encBuf   []byte

	selfMuted  bool
	deafened   bool
	policyOpen bool
	state      atomic.Int32
}

type Options struct {
	FrameDuration  time.Duration
	AnalysisWindow int
}

func New(mic core.Microphone, enc core.FrameEncoder, track *webrtc.TrackLocalStaticSample, opts Options) *Gate {
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = 20 * time.Millisecond
	}
	g := &Gate{
		mic:           mic,
		enc:           enc,
		frameDuration: opts.FrameDuration,
		window:        opts.AnalysisWindow,
		encBuf:        make([]byte, maxOpusPacket),
	}
	if track != nil {
		g.track = track
		g.out = track
	}
	return g
}

// Track is the outgoing track to attach to the peer transport.
func (g *Gate) Track() webrtc.TrackLocal { return g.track }

// RequestPermissions acquires the microphone. Any failure is reported as
// domain.ErrPermissionDenied and must abort the join.
func (g *Gate) RequestPermissions(c core.CaptureConstraints) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stream != nil {
		return nil
	}
	stream, err := g.mic.Open(c)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrPermissionDenied, err)
	}
	g.stream = stream
	g.channels = c.Channels
	return nil
}

// Start begins delivering frames. onLevel is called from the capture
// goroutine once per analysis window.
func (g *Gate) Start(onLevel func(db float64)) error {
	g.mu.Lock()
	stream := g.stream
	channels := g.channels
	g.mu.Unlock()
	if stream == nil {
		return domain.ErrPermissionDenied
	}
	meter := audio.NewMeter(g.window, channels, onLevel)
	return stream.Start(func(pcm []int16) { g.onFrame(meter, pcm) })
}

// Stop releases the capture stream. Safe to call when nothing was acquired.
func (g *Gate) Stop() error {
	g.mu.Lock()
	stream := g.stream
	g.stream = nil
	g.mu.Unlock()

	g.policyOpen = false
	g.apply()
	if stream == nil {
		return nil
	}
	return stream.Close()
}

func (g *Gate) onFrame(meter *audio.Meter, pcm []int16) {
	meter.Write(pcm)

	if TrackState(g.state.Load()) != TrackStateOpen || g.out == nil || g.enc == nil {
		return
	}
	n, err := g.enc.Encode(pcm, g.encBuf)
	if err != nil {
		log.Debug().Err(err).Str("module", "gate").Msg("encode frame")
		return
	}
	if err := g.out.WriteSample(media.Sample{Data: g.encBuf[:n], Duration: g.frameDuration}); err != nil {
		log.Debug().Err(err).Str("module", "gate").Msg("write sample")
	}
}

// SetMuted forces the gate closed. Unmuting re-applies the last policy decision.
func (g *Gate) SetMuted(muted bool) {
	g.selfMuted = muted
	g.apply()
}

// SetDeafened implies mute while set; clearing it restores the self-mute flag.
func (g *Gate) SetDeafened(deafened bool) {
	g.deafened = deafened
	g.apply()
}

// SetPolicyOpen feeds the activation policy's debounced track decision.
func (g *Gate) SetPolicyOpen(open bool) {
	g.policyOpen = open
	g.apply()
}

func (g *Gate) SelfMuted() bool { return g.selfMuted }
func (g *Gate) Deafened() bool  { return g.deafened }

// Muted is the effective mute: self-muted or deafened.
func (g *Gate) Muted() bool { return g.selfMuted || g.deafened }

func (g *Gate) State() TrackState { return TrackState(g.state.Load()) }

func (g *Gate) apply() {
	s := TrackStateClosed
	if g.policyOpen && !g.Muted() {
		s = TrackStateOpen
	}
	g.state.Store(int32(s))
}
