// Package negotiator drives the offer/answer/ICE exchange of one peer session.
package negotiator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

const DefaultAnswerTimeout = 15 * time.Second

var ErrAnswerTimeout = errors.New("no answer received")

// Events are delivered on the dispatch goroutine.
type Events struct {
	OnTrack            func(channel domain.ChannelID, track core.RemoteTrack)
	OnFailure          func(channel domain.ChannelID, err error)
	OnConnectionChange func(channel domain.ChannelID, connected bool)
}

type Config struct {
	NewMedia      core.MediaFactory
	Signal        core.Signaler
	Scheduler     core.Scheduler
	AnswerTimeout time.Duration
	// Dispatch moves transport callbacks onto the owner's goroutine.
	Dispatch func(fn func())
	Events   Events
}

// Negotiator is the Idle -> Negotiating -> Connected -> Closed state machine.
// All methods must be called from the dispatch goroutine.
type Negotiator struct {
	cfg Config

	phase     domain.Phase
	channel   domain.ChannelID
	mc        core.MediaConnection
	cancel    context.CancelFunc
	pending   []webrtc.ICECandidateInit
	remoteSet bool
	timer     core.Timer
	gen       uint64
	logger    zerolog.Logger
}

func New(cfg Config) *Negotiator {
	if cfg.AnswerTimeout <= 0 {
		cfg.AnswerTimeout = DefaultAnswerTimeout
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = func(fn func()) { fn() }
	}
	return &Negotiator{
		cfg:    cfg,
		phase:  domain.PhaseIdle,
		logger: log.With().Str("module", "negotiator").Logger(),
	}
}

func (n *Negotiator) Phase() domain.Phase { return n.phase }

// Start creates the transport, attaches the outgoing track and sends an offer.
// Local candidates trickle out over signaling as they are gathered.
func (n *Negotiator) Start(channel domain.ChannelID, track webrtc.TrackLocal) error {
	if n.phase == domain.PhaseNegotiating || n.phase == domain.PhaseConnected {
		return fmt.Errorf("%w: start while %s", domain.ErrInvalidPhase, n.phase)
	}

	mc, err := n.cfg.NewMedia()
	if err != nil {
		n.phase = domain.PhaseClosed
		return fmt.Errorf("%w: create transport: %w", domain.ErrNegotiationFailed, err)
	}

	n.gen++
	gen := n.gen
	n.channel = channel
	n.mc = mc
	n.pending = nil
	n.remoteSet = false
	n.logger = log.With().Str("module", "negotiator").Int64("channel_id", int64(channel)).Logger()

	mc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		n.cfg.Dispatch(func() { n.onLocalCandidate(gen, ci) })
	})
	mc.OnTrack(func(_ context.Context, track core.RemoteTrack) {
		n.cfg.Dispatch(func() { n.onRemoteTrack(gen, track) })
	})
	mc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		n.cfg.Dispatch(func() { n.onConnectionState(gen, s) })
	})

	ctx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	if err := mc.Start(ctx); err != nil {
		return n.abort(fmt.Errorf("start transport: %w", err))
	}
	if track != nil {
		if err := mc.AddLocalTrack(track); err != nil {
			return n.abort(fmt.Errorf("add local track: %w", err))
		}
	}
	offer, err := mc.CreateAndSetOffer()
	if err != nil {
		return n.abort(fmt.Errorf("create offer: %w", err))
	}

	n.phase = domain.PhaseNegotiating
	if err := n.cfg.Signal.Send(core.MsgOffer, core.SessionDescriptionPayload{
		ChannelID: channel,
		SDP:       offer.SDP,
		Type:      offer.Type.String(),
	}); err != nil {
		return n.abort(fmt.Errorf("send offer: %w", err))
	}
	n.timer = n.cfg.Scheduler.AfterFunc(n.cfg.AnswerTimeout, func() { n.onAnswerTimeout(gen) })
	n.logger.Info().Msg("offer sent")
	return nil
}

// HandleAnswer applies a remote answer and flushes buffered candidates.
func (n *Negotiator) HandleAnswer(p core.SessionDescriptionPayload) error {
	if p.ChannelID != n.channel {
		n.logger.Debug().Int64("answer_channel", int64(p.ChannelID)).Msg("answer for another channel ignored")
		return nil
	}
	if n.phase != domain.PhaseNegotiating {
		return fmt.Errorf("%w: answer while %s", domain.ErrInvalidPhase, n.phase)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: p.SDP}
	if err := n.mc.ApplyAnswer(answer); err != nil {
		return n.fail(fmt.Errorf("apply answer: %w", err))
	}
	n.stopTimer()
	n.remoteSet = true
	n.phase = domain.PhaseConnected
	n.logger.Info().Int("buffered_candidates", len(n.pending)).Msg("answer applied")

	pending := n.pending
	n.pending = nil
	for _, ci := range pending {
		n.applyCandidate(ci)
	}
	return nil
}

// HandleCandidate applies a remote candidate, buffering it until the answer
// has been applied.
func (n *Negotiator) HandleCandidate(p core.ICECandidatePayload) error {
	if p.ChannelID != n.channel {
		return nil
	}
	if n.phase != domain.PhaseNegotiating && n.phase != domain.PhaseConnected {
		n.logger.Debug().Str("phase", n.phase.String()).Msg("candidate dropped, no active session")
		return nil
	}
	ci := webrtc.ICECandidateInit{
		Candidate:     p.Candidate,
		SDPMid:        p.SDPMid,
		SDPMLineIndex: p.SDPMLineIndex,
	}
	if !n.remoteSet {
		n.pending = append(n.pending, ci)
		return nil
	}
	return n.applyCandidate(ci)
}

// Close releases the transport. Closing twice is a no-op.
func (n *Negotiator) Close() error {
	if n.phase == domain.PhaseClosed || (n.phase == domain.PhaseIdle && n.mc == nil) {
		return nil
	}
	n.gen++
	n.stopTimer()
	n.pending = nil
	n.remoteSet = false
	if n.cancel != nil {
		n.cancel()
		n.cancel = nil
	}
	var err error
	if n.mc != nil {
		err = n.mc.Close()
		n.mc = nil
	}
	n.phase = domain.PhaseClosed
	n.logger.Info().Msg("session closed")
	return err
}

func (n *Negotiator) applyCandidate(ci webrtc.ICECandidateInit) error {
	if err := n.mc.AddICECandidate(ci); err != nil {
		n.logger.Warn().Err(err).Str("candidate", ci.Candidate).Msg("add ice candidate")
		return err
	}
	return nil
}

func (n *Negotiator) abort(err error) error {
	_ = n.Close()
	return fmt.Errorf("%w: %w", domain.ErrNegotiationFailed, err)
}

func (n *Negotiator) fail(err error) error {
	channel := n.channel
	err = n.abort(err)
	n.logger.Error().Err(err).Msg("negotiation failed")
	if n.cfg.Events.OnFailure != nil {
		n.cfg.Events.OnFailure(channel, err)
	}
	return err
}

func (n *Negotiator) stopTimer() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}

func (n *Negotiator) onAnswerTimeout(gen uint64) {
	if gen != n.gen || n.phase != domain.PhaseNegotiating {
		return
	}
	n.timer = nil
	_ = n.fail(ErrAnswerTimeout)
}

func (n *Negotiator) onLocalCandidate(gen uint64, ci webrtc.ICECandidateInit) {
	if gen != n.gen || n.phase == domain.PhaseClosed {
		return
	}
	if err := n.cfg.Signal.Send(core.MsgICECandidate, core.ICECandidatePayload{
		ChannelID:     n.channel,
		Candidate:     ci.Candidate,
		SDPMid:        ci.SDPMid,
		SDPMLineIndex: ci.SDPMLineIndex,
	}); err != nil {
		n.logger.Warn().Err(err).Msg("send local candidate")
	}
}

func (n *Negotiator) onRemoteTrack(gen uint64, track core.RemoteTrack) {
	if gen != n.gen || n.phase == domain.PhaseClosed {
		return
	}
	n.logger.Info().Str("stream_id", track.StreamID()).Str("track_id", track.ID()).Msg("remote track")
	if n.cfg.Events.OnTrack != nil {
		n.cfg.Events.OnTrack(n.channel, track)
	}
}

func (n *Negotiator) onConnectionState(gen uint64, s webrtc.PeerConnectionState) {
	if gen != n.gen {
		return
	}
	switch s {
	case webrtc.PeerConnectionStateConnected:
		n.reportConnection(true)
	case webrtc.PeerConnectionStateDisconnected:
		n.reportConnection(false)
	case webrtc.PeerConnectionStateFailed:
		n.reportConnection(false)
		_ = n.fail(errors.New("transport failed"))
	}
}

func (n *Negotiator) reportConnection(connected bool) {
	if err := n.cfg.Signal.Send(core.MsgConnectionStatus, core.ConnectionStatusPayload{
		ChannelID: n.channel,
		Connected: connected,
	}); err != nil {
		n.logger.Warn().Err(err).Msg("send connection status")
	}
	if n.cfg.Events.OnConnectionChange != nil {
		n.cfg.Events.OnConnectionChange(n.channel, connected)
	}
}
