package core

import (
	"context"

	"github.com/dkeye/voiceclient/internal/domain"
)

type JoinResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// VoiceAPI is the REST surface of the chat backend used by the voice layer.
type VoiceAPI interface {
	Join(ctx context.Context, channel domain.ChannelID) (*JoinResponse, error)
	Leave(ctx context.Context, channel domain.ChannelID) error
	UpdateState(ctx context.Context, channel domain.ChannelID, state domain.VoiceState) error
	Participants(ctx context.Context, channel domain.ChannelID) ([]domain.Participant, error)
}
