package pipeline

import "errors"

var (
	// ErrInvalidRequest means the caller's feature, topic, or parameters
	// failed validation before any gateway call was made.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrGatewayUnavailable means the agent gateway rejected the dispatch
	// or could not be reached.
	ErrGatewayUnavailable = errors.New("gateway unavailable")

	// ErrTimedOut means the poll budget elapsed without a usable payload.
	// The session keeps running; its result may land out of band.
	ErrTimedOut = errors.New("research timed out")
)
