package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/audio"
	"github.com/dkeye/voiceclient/internal/core"
)

type Microphone struct {
	ctx *Context
}

var _ core.Microphone = (*Microphone)(nil)

func NewMicrophone(ctx *Context) *Microphone {
	return &Microphone{ctx: ctx}
}

// Open initializes the capture device. miniaudio has no echo cancellation,
// noise suppression or gain control, so those constraints are only logged.
func (m *Microphone) Open(c core.CaptureConstraints) (core.CaptureStream, error) {
	devID, err := m.ctx.lookup(KindCapture, c.DeviceID)
	if err != nil {
		return nil, err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(c.Channels)
	cfg.SampleRate = uint32(c.SampleRate)
	cfg.Alsa.NoMMap = 1
	if devID != nil {
		cfg.Capture.DeviceID = devID.Pointer()
	}

	s := &captureStream{frameLen: c.FrameSamples * c.Channels}
	m.ctx.mu.Lock()
	dev, err := malgo.InitDevice(m.ctx.ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	m.ctx.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open capture device: %w", err)
	}
	s.dev = dev
	log.Info().Str("module", "device").
		Str("device_id", c.DeviceID).
		Int("sample_rate", c.SampleRate).
		Int("channels", c.Channels).
		Bool("echo_cancellation", c.EchoCancellation).
		Bool("noise_suppression", c.NoiseSuppression).
		Bool("auto_gain_control", c.AutoGainControl).
		Msg("capture device opened")
	return s, nil
}

type captureStream struct {
	dev      *malgo.Device
	frameLen int

	mu     sync.Mutex
	framer *audio.Framer
	closed bool
}

func (s *captureStream) Start(onFrame func(pcm []int16)) error {
	s.mu.Lock()
	s.framer = audio.NewFramer(s.frameLen, onFrame)
	s.mu.Unlock()
	if err := s.dev.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

func (s *captureStream) onData(_, in []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.framer == nil {
		return
	}
	s.framer.Write(in)
}

func (s *captureStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.dev.Uninit()
	log.Info().Str("module", "device").Msg("capture device closed")
	return nil
}
