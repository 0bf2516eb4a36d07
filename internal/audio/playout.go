package audio

import (
	"math"
	"sync"
)

// Source is one remote stream's queue of decoded interleaved PCM.
type Source struct {
	mu  sync.Mutex
	buf []int16
	max int
}

// Write appends pcm, discarding the oldest samples past the latency cap.
func (s *Source) Write(pcm []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, pcm...)
	if over := len(s.buf) - s.max; over > 0 {
		s.buf = append(s.buf[:0], s.buf[over:]...)
	}
}

func (s *Source) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// drainAdd sums up to len(acc) samples into acc.
func (s *Source) drainAdd(acc []int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(len(acc), len(s.buf))
	for i := 0; i < n; i++ {
		acc[i] += int32(s.buf[i])
	}
	s.buf = append(s.buf[:0], s.buf[n:]...)
}

// Playout mixes every registered source into a single output stream.
// Read is called from the playback device callback.
type Playout struct {
	maxBuffered int

	mu      sync.Mutex
	sources map[string]*Source
	acc     []int32
}

// NewPlayout caps each source at maxBuffered interleaved samples.
func NewPlayout(maxBuffered int) *Playout {
	return &Playout{maxBuffered: maxBuffered, sources: make(map[string]*Source)}
}

// Source registers a new queue for id, replacing any previous one.
func (p *Playout) Source(id string) *Source {
	s := &Source{max: p.maxBuffered}
	p.mu.Lock()
	p.sources[id] = s
	p.mu.Unlock()
	return s
}

// Remove drops id only if it still maps to s.
func (p *Playout) Remove(id string, s *Source) {
	p.mu.Lock()
	if p.sources[id] == s {
		delete(p.sources, id)
	}
	p.mu.Unlock()
}

func (p *Playout) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sources)
}

// Read fills out with the clipped sum of all sources. Underruns are silence.
func (p *Playout) Read(out []int16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cap(p.acc) < len(out) {
		p.acc = make([]int32, len(out))
	}
	acc := p.acc[:len(out)]
	clear(acc)
	for _, s := range p.sources {
		s.drainAdd(acc)
	}
	for i, v := range acc {
		out[i] = clip16(v)
	}
}

func clip16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ApplyGain scales pcm in place, clipping to the 16-bit range.
func ApplyGain(pcm []int16, gain float64) {
	if gain == 1 {
		return
	}
	for i, s := range pcm {
		v := math.Round(float64(s) * gain)
		out := int32(max(min(v, math.MaxInt16), math.MinInt16))
		pcm[i] = int16(out)
	}
}
