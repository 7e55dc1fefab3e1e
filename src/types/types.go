package types

import "time"

// Event types produced by the hub itself.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Event is a presence envelope broadcast when a session joins or leaves.
type Event struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Time     int64  `json:"time"`
}

// FrameKind identifies the WebSocket opcode of a frame.
type FrameKind int

const (
	FrameText FrameKind = iota + 1
	FrameBinary
	FramePing
	FramePong
	FrameClose
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	case FrameClose:
		return "close"
	default:
		return "unknown"
	}
}

// Frame is a single WebSocket frame.
type Frame struct {
	Kind FrameKind
	Data []byte
}

// Conn abstracts a frame-level WebSocket connection for testability.
// ReadFrame must surface ping, pong and close frames as they arrive.
type Conn interface {
	ReadFrame() (Frame, error)
	WriteFrame(f Frame) error
	Close() error
}

// Handle lets the hub push a payload to one session without knowing its internals.
// Deliver must never block.
type Handle interface {
	Deliver(payload []byte) error
}

// ClientInfo holds metadata about a registered session.
type ClientInfo struct {
	ID          uint64    `json:"id"`
	ClientID    string    `json:"client_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Stats is a point-in-time view of the hub.
type Stats struct {
	Sessions int    `json:"sessions"`
	LastID   uint64 `json:"last_id"`
	Bridged  bool   `json:"bridged"`
}
