package domain

import (
	"fmt"
	"math"
)

// Phase is the negotiation state of a peer session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseNegotiating
	PhaseConnected
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNegotiating:
		return "negotiating"
	case PhaseConnected:
		return "connected"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

type ActivationMode string

const (
	ModeAuto       ActivationMode = "auto"
	ModePushToTalk ActivationMode = "push_to_talk"
)

const (
	MinThresholdDB     = -60.0
	MaxThresholdDB     = 0.0
	DefaultThresholdDB = -50.0

	MinUserVolume     = 0.0
	MaxUserVolume     = 2.0
	DefaultUserVolume = 1.0
)

// ClampThreshold keeps a threshold inside [MinThresholdDB, MaxThresholdDB].
// NaN maps to DefaultThresholdDB.
func ClampThreshold(db float64) float64 {
	if math.IsNaN(db) {
		return DefaultThresholdDB
	}
	return min(max(db, MinThresholdDB), MaxThresholdDB)
}

// ClampVolume keeps a per-user gain inside [MinUserVolume, MaxUserVolume].
// NaN maps to DefaultUserVolume.
func ClampVolume(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultUserVolume
	}
	return min(max(v, MinUserVolume), MaxUserVolume)
}

// VoiceSession is the controller's view of channel membership.
// ChannelID is nil when idle; at most one channel is joined at a time.
type VoiceSession struct {
	ChannelID *ChannelID `json:"channel_id"`
	Phase     Phase      `json:"phase"`
}

func (s VoiceSession) Joined() bool { return s.ChannelID != nil }
