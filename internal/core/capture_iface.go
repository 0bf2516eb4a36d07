package core

// CaptureConstraints is the constraint set requested from the microphone.
type CaptureConstraints struct {
	DeviceID         string
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
	SampleRate       int
	Channels         int
	// FrameSamples is the number of samples per channel delivered per callback.
	FrameSamples int
}

// Microphone acquires capture streams. Open failing means no access to the device.
type Microphone interface {
	Open(c CaptureConstraints) (CaptureStream, error)
}

// CaptureStream delivers interleaved S16 frames until closed.
type CaptureStream interface {
	Start(onFrame func(pcm []int16)) error
	Close() error
}

// FrameEncoder compresses one PCM frame into out and returns the written size.
type FrameEncoder interface {
	Encode(pcm []int16, out []byte) (int, error)
}
