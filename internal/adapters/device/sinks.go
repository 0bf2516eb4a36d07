package device

import (
	"github.com/dkeye/voiceclient/internal/audio"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

// NewSinkFactory gives every remote track its own decoder and playout source.
func NewSinkFactory(playout *audio.Playout, channels int, newDecoder func() (audio.Decoder, error)) core.SinkFactory {
	return func(_ domain.UserID, track core.RemoteTrack) (core.Sink, error) {
		dec, err := newDecoder()
		if err != nil {
			return nil, err
		}
		return audio.NewTrackSink(track.StreamID(), track, dec, playout, channels), nil
	}
}
