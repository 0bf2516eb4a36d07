package voice

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voiceclient/internal/core"
	"github.com/dkeye/voiceclient/internal/domain"
)

// handleSignal applies one inbound message in receipt order. Messages for a
// channel other than the joined one are dropped.
func (c *Controller) handleSignal(env core.Envelope) {
	logger := log.With().Str("module", "voice").Str("type", env.Type).Logger()
	if !core.VoiceMessageTypes[env.Type] {
		return
	}

	var err error
	switch env.Type {
	case core.MsgAnswer:
		var p core.SessionDescriptionPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = c.neg.HandleAnswer(p)
			c.syncPhase()
		}
	case core.MsgICECandidate:
		var p core.ICECandidatePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil {
			err = c.neg.HandleCandidate(p)
		}
	case core.MsgUserJoinedVoice:
		var p core.UserJoinedPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil && c.inChannel(p.ChannelID) {
			if c.roster.Join(p.Participant) {
				c.emit(EventParticipants, c.roster.Snapshot())
			}
		}
	case core.MsgUserLeftVoice:
		var p core.UserLeftPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil && c.inChannel(p.ChannelID) {
			c.onUserLeft(p.UserID)
		}
	case core.MsgVoiceStateUpdate:
		var p core.VoiceStatePayload
		if err = json.Unmarshal(env.Payload, &p); err == nil && c.inChannel(p.ChannelID) {
			if c.roster.UpdateState(p.UserID, domain.VoiceState{IsMuted: p.IsMuted, IsDeafened: p.IsDeafened}) {
				c.emit(EventParticipants, c.roster.Snapshot())
			}
		}
	case core.MsgSpeakingUpdate:
		var p core.SpeakingPayload
		if err = json.Unmarshal(env.Payload, &p); err == nil && c.inChannel(p.ChannelID) {
			if p.UserID != c.cfg.Self && c.roster.UpdateSpeaking(p.UserID, p.IsSpeaking) {
				c.emit(EventParticipants, c.roster.Snapshot())
			}
		}
	case core.MsgOffer:
		err = errUnexpectedOffer
	case core.MsgConnectionStatus:
		logger.Debug().Msg("connection status from server ignored")
	}

	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrInvalidPhase) || errors.Is(err, errUnexpectedOffer) {
		logger.Debug().Err(err).Msg("message ignored")
		return
	}
	logger.Warn().Err(err).Msg("handle signaling message")
}

// onUserLeft removes a remote user or, when it is us, tears the session down
// locally. The server already dropped us, so no leave request is sent.
func (c *Controller) onUserLeft(user domain.UserID) {
	if user == c.cfg.Self {
		c.teardown(context.Background(), false, "removed by server")
		return
	}
	if !c.roster.Leave(user) {
		return
	}
	if err := c.mixer.Detach(user.String()); err != nil {
		log.Warn().Err(err).Str("module", "voice").Int64("user_id", int64(user)).Msg("detach sink")
	}
	c.emit(EventParticipants, c.roster.Snapshot())
}

func (c *Controller) inChannel(channel domain.ChannelID) bool {
	return c.session.Joined() && *c.session.ChannelID == channel
}
