package core

import (
	"context"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is the subset of *webrtc.TrackRemote the mixer consumes.
type RemoteTrack interface {
	ID() string
	StreamID() string
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type MediaConnection interface {
	// Start configures internal callbacks and binds the connection lifetime to ctx.
	Start(ctx context.Context) error
	// Close should stop all underlying media resources. Safe to call twice.
	Close() error
	// AddLocalTrack attaches the outgoing track to the underlying PeerConnection.
	AddLocalTrack(track webrtc.TrackLocal) error
	CreateAndSetOffer() (*webrtc.SessionDescription, error)
	ApplyAnswer(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	// OnTrack sets a callback that will be invoked when a new remote track arrives.
	OnTrack(func(ctx context.Context, track RemoteTrack))
	// OnConnectionStateChange reports transport-level state flips.
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
}

// MediaFactory creates a fresh transport for every negotiation.
type MediaFactory func() (MediaConnection, error)
