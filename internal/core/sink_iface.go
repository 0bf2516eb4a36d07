package core

import "github.com/dkeye/voiceclient/internal/domain"

// Sink plays back one remote stream.
type Sink interface {
	// SetVolume sets the effective gain; 0 silences without releasing the sink.
	SetVolume(gain float64)
	Close() error
}

type SinkFactory func(user domain.UserID, track RemoteTrack) (Sink, error)
