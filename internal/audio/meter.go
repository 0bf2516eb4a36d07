// Package audio holds the pure PCM processing of the voice client: the level
// meter that feeds voice activation and the playout mixer behind the speakers.
package audio

import "math"

const (
	// SilenceDB is reported when the window RMS is below SilenceFloor.
	SilenceDB = -100.0
	// SilenceFloor is the RMS below which log10 is not taken.
	SilenceFloor = 1e-5
	// MaxSampleValue is the maximum absolute value for 16-bit signed audio.
	MaxSampleValue = 32768.0
	// DefaultWindow is the analysis window in samples.
	DefaultWindow = 512
)

// LoudnessDB returns 20*log10(rms) of normalized samples in [-1, 1].
func LoudnessDB(samples []float64) float64 {
	if len(samples) == 0 {
		return SilenceDB
	}
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms < SilenceFloor {
		return SilenceDB
	}
	return 20 * math.Log10(rms)
}

// Meter slices a continuous S16 stream into fixed windows and reports the
// loudness of each full window. It is not safe for concurrent use; the
// capture goroutine owns it.
type Meter struct {
	window   []float64
	n        int
	channels int
	emit     func(db float64)
}

// NewMeter creates a meter over window mono samples. Interleaved input with
// more than one channel is downmixed by averaging.
func NewMeter(window, channels int, emit func(db float64)) *Meter {
	if window <= 0 {
		window = DefaultWindow
	}
	if channels <= 0 {
		channels = 1
	}
	return &Meter{
		window:   make([]float64, window),
		channels: channels,
		emit:     emit,
	}
}

// Write consumes interleaved S16 samples, emitting once per full window.
func (m *Meter) Write(pcm []int16) {
	for i := 0; i+m.channels <= len(pcm); i += m.channels {
		var acc float64
		for c := 0; c < m.channels; c++ {
			acc += float64(pcm[i+c])
		}
		m.window[m.n] = acc / float64(m.channels) / MaxSampleValue
		m.n++
		if m.n == len(m.window) {
			m.n = 0
			if m.emit != nil {
				m.emit(LoudnessDB(m.window))
			}
		}
	}
}

// Reset drops any partially filled window.
func (m *Meter) Reset() { m.n = 0 }
