package domain

import "errors"

var (
	// ErrPermissionDenied means the microphone could not be acquired. Fatal to join.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrNegotiationFailed covers offer/answer/ICE failures and answer timeouts.
	ErrNegotiationFailed = errors.New("peer negotiation failed")
	// ErrAPIFailure is a non-2xx or transport failure of the voice REST API.
	ErrAPIFailure     = errors.New("voice api failure")
	ErrInvalidChannel = errors.New("invalid channel id")
	ErrInvalidPhase   = errors.New("invalid negotiation phase")
	ErrClosed         = errors.New("voice client closed")
)
