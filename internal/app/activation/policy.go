// Package activation decides when the local user transmits.
package activation

import (
	"time"

	"github.com/dkeye/voiceclient/internal/audio"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

const (
	DefaultSpeakingStopDelay = 500 * time.Millisecond
	DefaultTrackDisableDelay = 300 * time.Millisecond
	DefaultThresholdDB       = domain.DefaultThresholdDB
)

type Config struct {
	Mode              domain.ActivationMode
	ThresholdDB       float64
	SpeakingStopDelay time.Duration
	TrackDisableDelay time.Duration
}

// State is a copy of the policy's activation state.
type State struct {
	Mode                 domain.ActivationMode `json:"mode"`
	ThresholdDB          float64               `json:"threshold_db"`
	PushToTalkActive     bool                  `json:"push_to_talk_active"`
	LastLoudnessDB       float64               `json:"last_loudness_db"`
	IsTransmitting       bool                  `json:"is_transmitting"`
	LastSentTransmitting bool                  `json:"last_sent_transmitting"`
}

// ShouldTransmit is the instantaneous decision. Loudness equal to the
// threshold does not transmit.
func ShouldTransmit(mode domain.ActivationMode, loudnessDB, thresholdDB float64, pttHeld bool) bool {
	if mode == domain.ModePushToTalk {
		return pttHeld
	}
	return loudnessDB > thresholdDB
}

// Policy owns the activation state and both hysteresis timers: the speaking
// indicator (announced to peers) and the outgoing track gate.
type Policy struct {
	mode         domain.ActivationMode
	thresholdDB  float64
	pttHeld      bool
	lastDB       float64
	transmitting bool

	speaking *Debouncer
	track    *Debouncer
}

// New builds a policy. onSpeaking fires only when the debounced speaking flag
// flips; onTrack fires when the outgoing track should be enabled or disabled.
func New(cfg Config, sched core.Scheduler, onSpeaking, onTrack func(bool)) *Policy {
	if cfg.Mode == "" {
		cfg.Mode = domain.ModeAuto
	}
	if cfg.SpeakingStopDelay <= 0 {
		cfg.SpeakingStopDelay = DefaultSpeakingStopDelay
	}
	if cfg.TrackDisableDelay <= 0 {
		cfg.TrackDisableDelay = DefaultTrackDisableDelay
	}
	return &Policy{
		mode:        cfg.Mode,
		thresholdDB: domain.ClampThreshold(cfg.ThresholdDB),
		lastDB:      audio.SilenceDB,
		speaking:    NewDebouncer(sched, cfg.SpeakingStopDelay, onSpeaking),
		track:       NewDebouncer(sched, cfg.TrackDisableDelay, onTrack),
	}
}

// Sample feeds one loudness estimate from the level meter.
func (p *Policy) Sample(loudnessDB float64) {
	p.lastDB = loudnessDB
	p.evaluate()
}

// SetPushToTalk records the hotkey held state. Repeated presses are idempotent.
func (p *Policy) SetPushToTalk(held bool) {
	if p.pttHeld == held {
		return
	}
	p.pttHeld = held
	p.evaluate()
}

func (p *Policy) SetMode(mode domain.ActivationMode) {
	if mode != domain.ModeAuto && mode != domain.ModePushToTalk {
		return
	}
	p.mode = mode
	p.evaluate()
}

// SetThreshold clamps db to the valid range.
func (p *Policy) SetThreshold(db float64) {
	p.thresholdDB = domain.ClampThreshold(db)
	p.evaluate()
}

// Speaking is the debounced, announced value.
func (p *Policy) Speaking() bool { return p.speaking.Value() }

// TrackActive is the debounced gate value.
func (p *Policy) TrackActive() bool { return p.track.Value() }

func (p *Policy) State() State {
	return State{
		Mode:                 p.mode,
		ThresholdDB:          p.thresholdDB,
		PushToTalkActive:     p.pttHeld,
		LastLoudnessDB:       p.lastDB,
		IsTransmitting:       p.transmitting,
		LastSentTransmitting: p.speaking.Value(),
	}
}

// Reset cancels both timers and returns to silence without notifying.
// The push-to-talk held flag survives; the key is still physically held.
func (p *Policy) Reset() {
	p.speaking.Reset()
	p.track.Reset()
	p.transmitting = false
	p.lastDB = audio.SilenceDB
}

func (p *Policy) evaluate() {
	p.transmitting = ShouldTransmit(p.mode, p.lastDB, p.thresholdDB, p.pttHeld)
	p.track.Update(p.transmitting)
	p.speaking.Update(p.transmitting)
}
