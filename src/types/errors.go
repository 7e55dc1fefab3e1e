package types

import "errors"

// Boundary (authentication) errors.
var (
	ErrMissingCredential      = errors.New("missing credential")
	ErrInvalidTimestamp       = errors.New("invalid timestamp")
	ErrAuthServiceUnreachable = errors.New("auth service unreachable")
	ErrAuthRejected           = errors.New("auth rejected")
)

// Hub and session errors.
var (
	ErrUnknownSender     = errors.New("unknown sender")
	ErrMalformedEnvelope = errors.New("malformed envelope")
	ErrHeartbeatTimeout  = errors.New("heartbeat timeout")
	ErrTransport         = errors.New("transport error")
	ErrHubStopped        = errors.New("hub stopped")
	ErrHandleClosed      = errors.New("handle closed")
	ErrBackpressure      = errors.New("send buffer full")
)
