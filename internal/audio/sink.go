package audio

import (
	"math"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/core"
)

// Decoder turns one compressed packet into interleaved PCM and returns the
// number of samples per channel.
type Decoder interface {
	Decode(payload []byte, pcm []int16) (int, error)
}

// maxFrameSamples fits 120ms at 48kHz, the longest Opus packet.
const maxFrameSamples = 5760

// TrackSink reads RTP from a remote track, decodes it and queues the scaled
// PCM on a playout source.
type TrackSink struct {
	id       string
	track    core.RemoteTrack
	dec      Decoder
	playout  *Playout
	src      *Source
	channels int

	volume atomic.Uint64
	closed atomic.Bool
	done   chan struct{}
}

// NewTrackSink starts the read loop. The loop ends when the track stops
// delivering packets, which happens when the peer transport closes.
func NewTrackSink(id string, track core.RemoteTrack, dec Decoder, playout *Playout, channels int) *TrackSink {
	if channels <= 0 {
		channels = 1
	}
	s := &TrackSink{
		id:       id,
		track:    track,
		dec:      dec,
		playout:  playout,
		src:      playout.Source(id),
		channels: channels,
		done:     make(chan struct{}),
	}
	s.SetVolume(1)
	go s.loop()
	return s
}

var _ core.Sink = (*TrackSink)(nil)

func (s *TrackSink) SetVolume(v float64) { s.volume.Store(math.Float64bits(v)) }

func (s *TrackSink) Volume() float64 { return math.Float64frombits(s.volume.Load()) }

// Close detaches the sink from the playout. Packets still in flight are discarded.
func (s *TrackSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.playout.Remove(s.id, s.src)
	return nil
}

// Done is closed when the read loop exits.
func (s *TrackSink) Done() <-chan struct{} { return s.done }

func (s *TrackSink) loop() {
	defer close(s.done)
	pcm := make([]int16, maxFrameSamples*s.channels)
	for {
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			log.Debug().Err(err).Str("module", "audio").Str("stream_id", s.id).Msg("track ended")
			return
		}
		if s.closed.Load() {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := s.dec.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Debug().Err(err).Str("module", "audio").Str("stream_id", s.id).Msg("decode failed")
			continue
		}
		if n <= 0 {
			continue
		}
		frame := pcm[:n*s.channels]
		ApplyGain(frame, s.Volume())
		s.src.Write(frame)
	}
}
