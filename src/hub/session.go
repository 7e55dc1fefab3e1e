package hub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/orchestra-mcp/relay/src/metrics"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

// Liveness defaults.
const (
	DefaultPingInterval  = 5 * time.Second
	DefaultClientTimeout = 10 * time.Second
	DefaultSendBuffer    = 256
)

// errPeerClosed ends the loop when the peer sends a close frame.
var errPeerClosed = errors.New("peer closed")

// Session owns one connection: its read loop, heartbeat and outbound queue.
// It implements types.Handle so the hub can push envelopes to it.
type Session struct {
	id       uint64
	clientID string
	conn     types.Conn
	hub      *Hub

	clock         clockwork.Clock
	lastHeartbeat time.Time
	pingInterval  time.Duration
	clientTimeout time.Duration

	send    chan []byte
	done    chan struct{}
	metrics *metrics.Relay
	logger  zerolog.Logger
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithHeartbeat overrides the ping interval and client timeout.
func WithHeartbeat(interval, timeout time.Duration) SessionOption {
	return func(s *Session) {
		s.pingInterval = interval
		s.clientTimeout = timeout
	}
}

// WithSendBuffer sets the capacity of the outbound queue.
func WithSendBuffer(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.send = make(chan []byte, n)
		}
	}
}

// NewSession creates a session for an authenticated client.
func NewSession(clientID string, conn types.Conn, h *Hub, opts ...SessionOption) *Session {
	s := &Session{
		clientID:      clientID,
		conn:          conn,
		hub:           h,
		clock:         h.clock,
		pingInterval:  DefaultPingInterval,
		clientTimeout: DefaultClientTimeout,
		send:          make(chan []byte, DefaultSendBuffer),
		done:          make(chan struct{}),
		metrics:       h.metrics,
		logger:        h.logger.With().Str("component", "session").Str("client_id", clientID).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the hub-assigned id, or 0 before registration.
func (s *Session) ID() uint64 { return s.id }

// ClientID returns the authenticated client identifier.
func (s *Session) ClientID() string { return s.clientID }

// Deliver queues payload for the peer. It never blocks.
func (s *Session) Deliver(payload []byte) error {
	select {
	case <-s.done:
		return types.ErrHandleClosed
	default:
	}
	select {
	case s.send <- payload:
		return nil
	default:
		return types.ErrBackpressure
	}
}

// Run registers the session with the hub and services the connection until
// the peer closes, the transport fails, the heartbeat lapses, ctx is
// cancelled or the hub stops. Exactly one Disconnect is sent for a session
// that registered. A peer-initiated close returns nil.
func (s *Session) Run(ctx context.Context) error {
	s.lastHeartbeat = s.clock.Now()

	id, err := s.hub.Connect(ctx, s.clientID, s)
	if err != nil {
		close(s.done)
		s.conn.Close()
		return fmt.Errorf("session connect: %w", err)
	}
	s.id = id
	s.logger = s.logger.With().Uint64("session_id", id).Logger()
	s.logger.Debug().Msg("session active")

	frames := make(chan inboundFrame)
	go s.readPump(frames)

	err = s.loop(ctx, frames)

	close(s.done)
	s.hub.Disconnect(s.id)
	s.conn.Close()

	s.metrics.SessionTerminated(terminationReason(err))
	if errors.Is(err, errPeerClosed) {
		s.logger.Debug().Msg("session closed by peer")
		return nil
	}
	s.logger.Info().Err(err).Msg("session terminated")
	return err
}

type inboundFrame struct {
	frame types.Frame
	err   error
}

// readPump forwards frames from the blocking reader into the session loop.
func (s *Session) readPump(out chan<- inboundFrame) {
	for {
		f, err := s.conn.ReadFrame()
		select {
		case out <- inboundFrame{frame: f, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) loop(ctx context.Context, frames <-chan inboundFrame) error {
	ticker := s.clock.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if s.clock.Since(s.lastHeartbeat) > s.clientTimeout {
				// Don't try to send a ping.
				return types.ErrHeartbeatTimeout
			}
			if err := s.conn.WriteFrame(types.Frame{Kind: types.FramePing}); err != nil {
				return fmt.Errorf("%w: ping: %w", types.ErrTransport, err)
			}
		case in := <-frames:
			if in.err != nil {
				return fmt.Errorf("%w: read: %w", types.ErrTransport, in.err)
			}
			if err := s.handleFrame(in.frame); err != nil {
				return err
			}
		case payload := <-s.send:
			if err := s.conn.WriteFrame(types.Frame{Kind: types.FrameText, Data: payload}); err != nil {
				return fmt.Errorf("%w: write: %w", types.ErrTransport, err)
			}
		case <-ctx.Done():
			return ctx.Err()
		case <-s.hub.Done():
			return types.ErrHubStopped
		}
	}
}

func (s *Session) handleFrame(f types.Frame) error {
	switch f.Kind {
	case types.FramePing:
		s.lastHeartbeat = s.clock.Now()
		if err := s.conn.WriteFrame(types.Frame{Kind: types.FramePong, Data: f.Data}); err != nil {
			return fmt.Errorf("%w: pong: %w", types.ErrTransport, err)
		}
	case types.FramePong:
		s.lastHeartbeat = s.clock.Now()
	case types.FrameText:
		s.hub.BroadcastRequest(s.id, string(bytes.TrimSpace(f.Data)))
	case types.FrameBinary:
		s.logger.Debug().Int("bytes", len(f.Data)).Msg("ignoring binary frame")
	case types.FrameClose:
		return errPeerClosed
	default:
		return fmt.Errorf("%w: unexpected frame %s", types.ErrTransport, f.Kind)
	}
	return nil
}

func terminationReason(err error) string {
	switch {
	case errors.Is(err, errPeerClosed):
		return metrics.ReasonClosed
	case errors.Is(err, types.ErrHeartbeatTimeout):
		return metrics.ReasonTimeout
	case errors.Is(err, types.ErrHubStopped):
		return metrics.ReasonHubStopped
	default:
		return metrics.ReasonTransport
	}
}
