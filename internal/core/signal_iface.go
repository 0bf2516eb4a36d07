package core

import (
	"encoding/json"
	"errors"
)

// Frame is a raw encoded signaling message.
type Frame []byte

var ErrBackpressure = errors.New("backpressure")

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// Signaler sends typed messages over the shared signaling channel.
type Signaler interface {
	Send(msgType string, payload any) error
}

// SignalHandler receives every inbound message the voice layer cares about.
type SignalHandler func(env Envelope)

// Envelope is the wire shape of every signaling message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps payload into an Envelope frame.
func Encode(msgType string, payload any) (Frame, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}
