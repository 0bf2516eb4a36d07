package core

import "github.com/dkeye/voiceclient/internal/domain"

const (
	MsgOffer            = "offer"
	MsgAnswer           = "answer"
	MsgICECandidate     = "ice-candidate"
	MsgSpeakingUpdate   = "speaking_update"
	MsgUserJoinedVoice  = "user_joined_voice"
	MsgUserLeftVoice    = "user_left_voice"
	MsgVoiceStateUpdate = "voice_state_update"
	MsgConnectionStatus = "webrtc_connection_status"
)

// VoiceMessageTypes lists the message types routed to the voice layer.
// Everything else on the shared channel belongs to other features.
var VoiceMessageTypes = map[string]bool{
	MsgOffer:            true,
	MsgAnswer:           true,
	MsgICECandidate:     true,
	MsgSpeakingUpdate:   true,
	MsgUserJoinedVoice:  true,
	MsgUserLeftVoice:    true,
	MsgVoiceStateUpdate: true,
	MsgConnectionStatus: true,
}

type SessionDescriptionPayload struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	SDP       string           `json:"sdp"`
	Type      string           `json:"type"`
}

type ICECandidatePayload struct {
	ChannelID     domain.ChannelID `json:"channel_id"`
	Candidate     string           `json:"candidate"`
	SDPMid        *string          `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16          `json:"sdpMLineIndex,omitempty"`
}

// SpeakingPayload is sent without UserID; the server stamps it on relay.
type SpeakingPayload struct {
	ChannelID  domain.ChannelID `json:"channel_id"`
	UserID     domain.UserID    `json:"user_id,omitempty"`
	IsSpeaking bool             `json:"is_speaking"`
}

type UserJoinedPayload struct {
	ChannelID   domain.ChannelID   `json:"channel_id"`
	Participant domain.Participant `json:"participant"`
}

type UserLeftPayload struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	UserID    domain.UserID    `json:"user_id"`
}

type VoiceStatePayload struct {
	ChannelID  domain.ChannelID `json:"channel_id"`
	UserID     domain.UserID    `json:"user_id"`
	IsMuted    bool             `json:"is_muted"`
	IsDeafened bool             `json:"is_deafened"`
}

type ConnectionStatusPayload struct {
	ChannelID domain.ChannelID `json:"channel_id"`
	Connected bool             `json:"connected"`
}
