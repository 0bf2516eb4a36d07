package audio

import "encoding/binary"

// Framer regroups little-endian S16 bytes from a device callback into
// fixed-size interleaved frames. The emitted slice is reused.
type Framer struct {
	frame []int16
	n     int
	odd   []byte
	emit  func([]int16)
}

func NewFramer(frameLen int, emit func([]int16)) *Framer {
	return &Framer{frame: make([]int16, frameLen), emit: emit, odd: make([]byte, 0, 1)}
}

func (f *Framer) Write(b []byte) {
	if len(f.odd) == 1 && len(b) > 0 {
		f.push(int16(binary.LittleEndian.Uint16([]byte{f.odd[0], b[0]})))
		f.odd = f.odd[:0]
		b = b[1:]
	}
	for len(b) >= 2 {
		f.push(int16(binary.LittleEndian.Uint16(b)))
		b = b[2:]
	}
	if len(b) == 1 {
		f.odd = append(f.odd, b[0])
	}
}

func (f *Framer) push(s int16) {
	f.frame[f.n] = s
	f.n++
	if f.n == len(f.frame) {
		f.n = 0
		f.emit(f.frame)
	}
}

// PutS16 writes pcm as little-endian S16 into out and returns the bytes written.
func PutS16(out []byte, pcm []int16) int {
	n := min(len(out)/2, len(pcm))
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(pcm[i]))
	}
	return 2 * n
}
