package domain

import "time"

// Participant represents a user's presence in a voice channel.
// No transport or lifecycle logic here.
type Participant struct {
	UserID      UserID    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	IsMuted     bool      `json:"is_muted"`
	IsDeafened  bool      `json:"is_deafened"`
	IsSpeaking  bool      `json:"is_speaking"`
	JoinedAt    time.Time `json:"joined_at"`
}

// VoiceState is a partial update of mute/deafen flags.
type VoiceState struct {
	IsMuted    bool `json:"is_muted"`
	IsDeafened bool `json:"is_deafened"`
}
