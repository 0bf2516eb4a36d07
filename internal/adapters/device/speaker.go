package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/audio"
)

// Speaker plays the playout mix on one output device.
type Speaker struct {
	dev     *malgo.Device
	playout *audio.Playout

	mu  sync.Mutex
	pcm []int16
}

func NewSpeaker(ctx *Context, deviceID string, sampleRate, channels int, playout *audio.Playout) (*Speaker, error) {
	devID, err := ctx.lookup(KindPlayback, deviceID)
	if err != nil {
		return nil, err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = uint32(channels)
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1
	if devID != nil {
		cfg.Playback.DeviceID = devID.Pointer()
	}

	s := &Speaker{playout: playout}
	ctx.mu.Lock()
	dev, err := malgo.InitDevice(ctx.ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onData})
	ctx.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start playback: %w", err)
	}
	s.dev = dev
	log.Info().Str("module", "device").Str("device_id", deviceID).Int("sample_rate", sampleRate).Msg("playback device started")
	return s, nil
}

func (s *Speaker) onData(out, _ []byte, _ uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(out) / 2
	if cap(s.pcm) < n {
		s.pcm = make([]int16, n)
	}
	pcm := s.pcm[:n]
	s.playout.Read(pcm)
	audio.PutS16(out, pcm)
}

func (s *Speaker) Close() error {
	s.dev.Uninit()
	log.Info().Str("module", "device").Msg("playback device closed")
	return nil
}
