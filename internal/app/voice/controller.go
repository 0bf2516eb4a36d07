// Package voice is the voice session controller. It is a single goroutine
// actor: every command, signaling message, timer fire and transport callback
// is queued and handled to completion before the next one.
package voice

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/app/activation"
	"github.com/dkeye/voiceclient/internal/app/gate"
	"github.com/dkeye/voiceclient/internal/app/mixer"
	"github.com/dkeye/voiceclient/internal/app/negotiator"
	"github.com/dkeye/voiceclient/internal/app/roster"
	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
	"github.com/dkeye/voiceclient/internal/settings"
)

const (
	inboxSize             = 256
	DefaultRequestTimeout = 10 * time.Second
)

type Config struct {
	Self     domain.UserID
	API      core.VoiceAPI
	Signal   core.Signaler
	Gate     *gate.Gate
	NewMedia core.MediaFactory
	NewSink  core.SinkFactory
	Volumes  mixer.VolumeStore
	Settings settings.Settings
	// Capture carries the fixed format fields; device and processing flags
	// come from Settings at join time.
	Capture core.CaptureConstraints
	// Scheduler defaults to timers delivered on the controller goroutine.
	Scheduler core.Scheduler

	AnswerTimeout     time.Duration
	SpeakingStopDelay time.Duration
	TrackDisableDelay time.Duration
	RequestTimeout    time.Duration
}

// Snapshot is a copy of the controller state for the UI.
type Snapshot struct {
	Session    domain.VoiceSession `json:"session"`
	IsMuted    bool                `json:"is_muted"`
	IsDeafened bool                `json:"is_deafened"`
	SelfMuted  bool                `json:"self_muted"`
	IsSpeaking bool                `json:"is_speaking"`
	Activation activation.State    `json:"activation"`
	TrackOpen  bool                `json:"track_open"`
	// PushToTalkKey is the hotkey the UI binds to /api/voice/ptt.
	PushToTalkKey      string `json:"push_to_talk_key"`
	SignalingConnected bool   `json:"signaling_connected"`
}

// connectionReporter is implemented by signalers that know their link state.
type connectionReporter interface {
	Connected() bool
}

type Controller struct {
	cfg    Config
	inbox  chan func()
	done   chan struct{}
	events *hub

	// owned by the Run goroutine
	session  domain.VoiceSession
	settings settings.Settings
	policy   *activation.Policy
	neg      *negotiator.Negotiator
	roster   *roster.Roster
	mixer    *mixer.Mixer
	gate     *gate.Gate
	pusher   *statePusher
	// speaking is the flag last announced to the channel
	speaking bool
}

func New(cfg Config) *Controller {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	c := &Controller{
		cfg:      cfg,
		inbox:    make(chan func(), inboxSize),
		done:     make(chan struct{}),
		events:   newHub(),
		session:  domain.VoiceSession{Phase: domain.PhaseIdle},
		settings: cfg.Settings,
		roster:   roster.New(),
		gate:     cfg.Gate,
		pusher:   newStatePusher(cfg.API, cfg.RequestTimeout),
	}
	sched := cfg.Scheduler
	if sched == nil {
		sched = actorScheduler{c: c}
	}

	c.policy = activation.New(activation.Config{
		Mode:              cfg.Settings.ActivationMode,
		ThresholdDB:       cfg.Settings.ThresholdDB,
		SpeakingStopDelay: cfg.SpeakingStopDelay,
		TrackDisableDelay: cfg.TrackDisableDelay,
	}, sched, c.onSpeakingChanged, c.onTrackChanged)

	c.mixer = mixer.New(cfg.NewSink, cfg.Volumes)
	c.mixer.SetMasterVolume(cfg.Settings.MasterVolume)

	c.neg = negotiator.New(negotiator.Config{
		NewMedia:      cfg.NewMedia,
		Signal:        cfg.Signal,
		Scheduler:     sched,
		AnswerTimeout: cfg.AnswerTimeout,
		Dispatch:      func(fn func()) { c.post(fn) },
		Events: negotiator.Events{
			OnTrack:            c.onRemoteTrack,
			OnFailure:          c.onNegotiationFailure,
			OnConnectionChange: c.onConnectionChange,
		},
	})
	return c
}

// Run processes the queue until ctx is cancelled, then leaves any joined
// channel and closes every subscription.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().Str("module", "voice").Int64("user_id", int64(c.cfg.Self)).Msg("voice controller started")
	defer func() {
		close(c.done)
		c.events.closeAll()
		log.Info().Str("module", "voice").Msg("voice controller stopped")
	}()
	go c.pusher.run(ctx)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
			c.teardown(shutdownCtx, true, "shutdown")
			cancel()
			return nil
		case fn := <-c.inbox:
			fn()
		}
	}
}

// post queues fn. It returns false once the controller has stopped.
func (c *Controller) post(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.inbox <- fn:
		return true
	case <-c.done:
		return false
	}
}

// tryPost queues fn without blocking; used from the capture goroutine.
func (c *Controller) tryPost(fn func()) bool {
	select {
	case c.inbox <- fn:
		return true
	default:
		return false
	}
}

// exec runs fn on the controller goroutine and waits for it.
func (c *Controller) exec(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !c.post(func() { defer close(finished); fn() }) {
		return domain.ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return domain.ErrClosed
	}
}

// Subscribe returns a buffered event stream and its cancel func.
func (c *Controller) Subscribe(buf int) (<-chan Event, func()) {
	return c.events.subscribe(buf)
}

func (c *Controller) emit(t EventType, payload any) {
	c.events.publish(Event{Type: t, Payload: payload})
}

func (c *Controller) Join(ctx context.Context, channel domain.ChannelID) error {
	var err error
	if xerr := c.exec(ctx, func() { err = c.join(ctx, channel) }); xerr != nil {
		return xerr
	}
	return err
}

// Leave is idempotent. REST failures are logged and never returned.
func (c *Controller) Leave(ctx context.Context) error {
	return c.exec(ctx, func() { c.teardown(ctx, true, "leave") })
}

func (c *Controller) SetMuted(ctx context.Context, muted bool) error {
	return c.exec(ctx, func() { c.setVoiceState(muted, c.gate.Deafened()) })
}

func (c *Controller) SetDeafened(ctx context.Context, deafened bool) error {
	return c.exec(ctx, func() { c.setVoiceState(c.gate.SelfMuted(), deafened) })
}

func (c *Controller) ToggleMute(ctx context.Context) error {
	return c.exec(ctx, func() { c.setVoiceState(!c.gate.SelfMuted(), c.gate.Deafened()) })
}

func (c *Controller) ToggleDeafen(ctx context.Context) error {
	return c.exec(ctx, func() { c.setVoiceState(c.gate.SelfMuted(), !c.gate.Deafened()) })
}

// SetPushToTalk reports the hotkey state. Repeated key-down events are
// collapsed by the policy.
func (c *Controller) SetPushToTalk(ctx context.Context, held bool) error {
	return c.exec(ctx, func() {
		c.policy.SetPushToTalk(held)
		c.emit(EventActivation, c.policy.State())
	})
}

// HandleSignal queues an inbound signaling message.
func (c *Controller) HandleSignal(env core.Envelope) {
	c.post(func() { c.handleSignal(env) })
}

// ApplySettings pushes a new settings snapshot. Device changes take effect
// at the next join.
func (c *Controller) ApplySettings(s settings.Settings) {
	c.post(func() {
		c.settings = s
		c.policy.SetMode(s.ActivationMode)
		c.policy.SetThreshold(s.ThresholdDB)
		c.mixer.SetMasterVolume(s.MasterVolume)
		c.emit(EventActivation, c.policy.State())
	})
}

func (c *Controller) State(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.exec(ctx, func() { s = c.snapshot() })
	return s, err
}

func (c *Controller) Participants(ctx context.Context) ([]domain.Participant, error) {
	var ps []domain.Participant
	err := c.exec(ctx, func() { ps = c.roster.Snapshot() })
	return ps, err
}

// Volume table access goes straight to the mixer, which guards it.

func (c *Controller) UserVolume(user domain.UserID) float64 { return c.mixer.UserVolume(user) }

func (c *Controller) Volumes() map[domain.UserID]float64 { return c.mixer.Volumes() }

func (c *Controller) SetUserVolume(user domain.UserID, v float64) error {
	return c.mixer.SetUserVolume(user, v)
}

func (c *Controller) ResetUserVolume(user domain.UserID) error {
	return c.mixer.ResetUserVolume(user)
}

func (c *Controller) snapshot() Snapshot {
	s := Snapshot{
		Session:    c.session,
		IsMuted:    c.gate.Muted(),
		IsDeafened: c.gate.Deafened(),
		SelfMuted:  c.gate.SelfMuted(),
		IsSpeaking: c.speaking,
		Activation: c.policy.State(),
		TrackOpen:  c.gate.State() == gate.TrackStateOpen,

		PushToTalkKey:      c.settings.PushToTalkKey,
		SignalingConnected: true,
	}
	if r, ok := c.cfg.Signal.(connectionReporter); ok {
		s.SignalingConnected = r.Connected()
	}
	if c.session.Joined() {
		ch := *c.session.ChannelID
		s.Session.ChannelID = &ch
	}
	return s
}
