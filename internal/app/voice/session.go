package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

// join runs permissions, REST join, roster fetch and negotiation in order.
// Any failure unwinds what was acquired before returning.
func (c *Controller) join(ctx context.Context, channel domain.ChannelID) error {
	if channel <= 0 {
		return fmt.Errorf("%w: %d", domain.ErrInvalidChannel, channel)
	}
	if c.session.Joined() && *c.session.ChannelID == channel && c.active() {
		log.Debug().Str("module", "voice").Int64("channel_id", int64(channel)).Msg("already in channel")
		return nil
	}
	if c.session.Joined() {
		c.teardown(ctx, true, "switch channel")
	}

	logger := log.With().Str("module", "voice").Int64("channel_id", int64(channel)).Logger()

	if err := c.gate.RequestPermissions(c.constraints()); err != nil {
		logger.Error().Err(err).Msg("microphone unavailable, join aborted")
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	resp, err := c.cfg.API.Join(reqCtx, channel)
	cancel()
	if err != nil {
		c.releaseMedia()
		logger.Error().Err(err).Msg("join request failed")
		return fmt.Errorf("join channel %d: %w", channel, err)
	}
	logger.Info().Str("status", resp.Status).Str("message", resp.Message).Msg("join acknowledged")

	ch := channel
	c.session = domain.VoiceSession{ChannelID: &ch, Phase: domain.PhaseIdle}

	reqCtx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout)
	participants, err := c.cfg.API.Participants(reqCtx, channel)
	cancel()
	if err != nil {
		c.teardown(ctx, true, "roster fetch failed")
		return fmt.Errorf("fetch participants of %d: %w", channel, err)
	}
	c.roster.Seed(channel, participants)

	if err := c.gate.Start(c.onLevel); err != nil {
		c.teardown(ctx, true, "capture start failed")
		return fmt.Errorf("%w: start capture: %w", domain.ErrPermissionDenied, err)
	}

	if err := c.neg.Start(channel, c.gate.Track()); err != nil {
		c.emit(EventConnectionError, connectionError{ChannelID: channel, Error: err.Error()})
		c.teardown(ctx, true, "negotiation start failed")
		return err
	}
	c.syncPhase()

	if c.gate.Muted() {
		c.pushState()
	}
	c.emit(EventJoined, c.session)
	c.emit(EventParticipants, c.roster.Snapshot())
	logger.Info().Int("participants", c.roster.Len()).Msg("joined voice channel")
	return nil
}

// teardown releases every session resource unconditionally. With restLeave
// the server is told best-effort after local cleanup. Calling it when not
// joined is a no-op.
func (c *Controller) teardown(ctx context.Context, restLeave bool, reason string) {
	if !c.session.Joined() {
		return
	}
	channel := *c.session.ChannelID
	logger := log.With().Str("module", "voice").Int64("channel_id", int64(channel)).Str("reason", reason).Logger()

	c.pusher.flush()
	err := c.neg.Close()
	err = multierr.Append(err, c.releaseMedia())
	c.roster.Clear()
	c.session = domain.VoiceSession{Phase: domain.PhaseClosed}
	if err != nil {
		logger.Warn().Err(err).Msg("cleanup finished with errors")
	}

	if restLeave {
		reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RequestTimeout)
		if lerr := c.cfg.API.Leave(reqCtx, channel); lerr != nil {
			logger.Error().Err(lerr).Msg("leave request failed")
		}
		cancel()
	}

	c.emit(EventLeft, leftEvent{ChannelID: channel, Reason: reason})
	c.emit(EventParticipants, []domain.Participant{})
	logger.Info().Msg("left voice channel")
}

// releaseMedia stops capture and playback. The speaking flag is reset
// silently; nobody is listening anymore.
func (c *Controller) releaseMedia() error {
	c.policy.Reset()
	c.speaking = false
	err := c.gate.Stop()
	return multierr.Append(err, c.mixer.Cleanup())
}

func (c *Controller) active() bool {
	return c.session.Phase == domain.PhaseNegotiating || c.session.Phase == domain.PhaseConnected
}

func (c *Controller) syncPhase() {
	if !c.session.Joined() {
		return
	}
	if p := c.neg.Phase(); p != c.session.Phase {
		c.session.Phase = p
		log.Debug().Str("module", "voice").Str("phase", p.String()).Msg("phase changed")
	}
}

func (c *Controller) constraints() core.CaptureConstraints {
	cons := c.cfg.Capture
	cons.DeviceID = c.settings.InputDeviceID
	cons.EchoCancellation = c.settings.EchoCancellation
	cons.NoiseSuppression = c.settings.NoiseSuppression
	cons.AutoGainControl = c.settings.AutoGainControl
	return cons
}

// setVoiceState applies mute/deafen locally first, then tells the server
// and the channel. Deafen implies an effective mute.
func (c *Controller) setVoiceState(selfMuted, deafened bool) {
	if selfMuted == c.gate.SelfMuted() && deafened == c.gate.Deafened() {
		return
	}
	c.gate.SetMuted(selfMuted)
	c.gate.SetDeafened(deafened)
	c.mixer.SetDeafened(deafened)
	c.syncSpeaking()

	state := domain.VoiceState{IsMuted: c.gate.Muted(), IsDeafened: deafened}
	log.Info().Str("module", "voice").Bool("muted", state.IsMuted).Bool("deafened", state.IsDeafened).Msg("voice state changed")
	c.emit(EventVoiceState, state)

	if !c.session.Joined() {
		return
	}
	c.roster.UpdateState(c.cfg.Self, state)
	c.pushState()
	c.emit(EventParticipants, c.roster.Snapshot())
}

// pushState sends the effective state to the channel and queues the REST
// update behind any earlier ones.
func (c *Controller) pushState() {
	channel := *c.session.ChannelID
	state := domain.VoiceState{IsMuted: c.gate.Muted(), IsDeafened: c.gate.Deafened()}

	if err := c.cfg.Signal.Send(core.MsgVoiceStateUpdate, core.VoiceStatePayload{
		ChannelID:  channel,
		UserID:     c.cfg.Self,
		IsMuted:    state.IsMuted,
		IsDeafened: state.IsDeafened,
	}); err != nil {
		log.Warn().Err(err).Str("module", "voice").Msg("broadcast voice state")
	}

	c.pusher.push(channel, state)
}

// onLevel runs on the capture goroutine.
func (c *Controller) onLevel(db float64) {
	if !c.tryPost(func() { c.policy.Sample(db) }) {
		log.Debug().Str("module", "voice").Msg("controller busy, level sample dropped")
	}
}

func (c *Controller) onSpeakingChanged(bool) {
	c.syncSpeaking()
}

// syncSpeaking announces the speaking flag peers should see: the policy's
// debounced decision, held false while the gate is forced closed.
func (c *Controller) syncSpeaking() {
	speaking := c.policy.Speaking() && !c.gate.Muted()
	if speaking == c.speaking {
		return
	}
	c.speaking = speaking
	c.emit(EventSpeaking, speakingEvent{UserID: c.cfg.Self, IsSpeaking: speaking})
	if !c.session.Joined() || !c.active() {
		return
	}
	channel := *c.session.ChannelID
	if err := c.cfg.Signal.Send(core.MsgSpeakingUpdate, core.SpeakingPayload{
		ChannelID:  channel,
		IsSpeaking: speaking,
	}); err != nil {
		log.Warn().Err(err).Str("module", "voice").Msg("broadcast speaking")
	}
	if c.roster.UpdateSpeaking(c.cfg.Self, speaking) {
		c.emit(EventParticipants, c.roster.Snapshot())
	}
}

func (c *Controller) onTrackChanged(open bool) {
	c.gate.SetPolicyOpen(open)
	log.Debug().Str("module", "voice").Bool("open", open).Msg("outgoing track toggled")
}

func (c *Controller) onRemoteTrack(channel domain.ChannelID, track core.RemoteTrack) {
	if !c.session.Joined() || *c.session.ChannelID != channel {
		return
	}
	if err := c.mixer.Attach(track); err != nil {
		log.Error().Err(err).Str("module", "voice").Str("stream_id", track.StreamID()).Msg("attach remote track")
	}
}

// onNegotiationFailure leaves the session Closed without retrying. Channel
// membership and the roster stay until the user leaves or re-joins.
func (c *Controller) onNegotiationFailure(channel domain.ChannelID, err error) {
	c.syncPhase()
	if rerr := c.releaseMedia(); rerr != nil {
		log.Warn().Err(rerr).Str("module", "voice").Msg("release media after failure")
	}
	c.emit(EventConnectionError, connectionError{ChannelID: channel, Error: err.Error()})
}

func (c *Controller) onConnectionChange(channel domain.ChannelID, connected bool) {
	c.syncPhase()
	c.emit(EventConnection, connectionEvent{ChannelID: channel, Connected: connected})
}

type connectionError struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Error     string           `json:"error"`
}

type connectionEvent struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Connected bool             `json:"connected"`
}

type leftEvent struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Reason    string           `json:"reason"`
}

type speakingEvent struct {
	UserID     domain.UserID `json:"user_id"`
	IsSpeaking bool          `json:"is_speaking"`
}

var errUnexpectedOffer = errors.New("unexpected inbound offer")
