// Package codec wraps libopus for the outgoing and incoming audio.
package codec

import (
	"fmt"

	"github.com/hraban/opus"

	"github.com/dkeye/voiceclient/internal/audio"
	"github.com/dkeye/voiceclient/internal/core"
)

const DefaultBitrate = 64000

type Encoder struct {
	enc *opus.Encoder
}

var _ core.FrameEncoder = (*Encoder)(nil)

// NewEncoder creates a VoIP tuned encoder with in-band FEC.
func NewEncoder(sampleRate, channels, bitrate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	if bitrate <= 0 {
		bitrate = DefaultBitrate
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("opus bitrate: %w", err)
	}
	if err := enc.SetInBandFEC(true); err != nil {
		return nil, fmt.Errorf("opus fec: %w", err)
	}
	return &Encoder{enc: enc}, nil
}

func (e *Encoder) Encode(pcm []int16, out []byte) (int, error) {
	return e.enc.Encode(pcm, out)
}

type Decoder struct {
	dec *opus.Decoder
}

var _ audio.Decoder = (*Decoder)(nil)

func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode returns samples per channel.
func (d *Decoder) Decode(payload []byte, pcm []int16) (int, error) {
	return d.dec.Decode(payload, pcm)
}
