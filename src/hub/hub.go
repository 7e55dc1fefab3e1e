package hub

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/orchestra-mcp/relay/src/metrics"
	"github.com/orchestra-mcp/relay/src/types"
	"github.com/rs/zerolog"
)

// DefaultMailboxSize is the capacity of each hub mailbox channel.
const DefaultMailboxSize = 256

// MessageBridge publishes envelopes to other relay instances.
// Defined here to avoid circular imports with the bridge package.
type MessageBridge interface {
	Publish(payload []byte) error
	Available() bool
}

// Hub is the registry of live sessions. The session map is owned by the Run
// loop; every other method talks to it through a mailbox channel.
type Hub struct {
	sessions map[uint64]*entry
	nextID   uint64
	bridge   MessageBridge

	mailbox chan any

	clock   clockwork.Clock
	metrics *metrics.Relay
	logger  zerolog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	clientID    string
	handle      types.Handle
	connectedAt time.Time
}

// Mailbox messages. A single channel keeps them in arrival order.
type (
	connectMsg struct {
		clientID string
		handle   types.Handle
		reply    chan uint64
	}
	disconnectMsg struct {
		id uint64
	}
	broadcastMsg struct {
		id  uint64
		raw string
	}
	publishMsg struct {
		payload []byte
		remote  bool
	}
	queryMsg struct {
		fn func()
	}
)

// Option configures a Hub.
type Option func(*Hub)

// WithClock sets the clock used for envelope timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(h *Hub) { h.clock = c }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *metrics.Relay) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithMailboxSize overrides DefaultMailboxSize.
func WithMailboxSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.mailbox = make(chan any, n)
		}
	}
}

// New creates a new Hub instance.
func New(logger zerolog.Logger, opts ...Option) *Hub {
	h := &Hub{
		sessions: make(map[uint64]*entry),
		mailbox:  make(chan any, DefaultMailboxSize),
		clock:    clockwork.NewRealClock(),
		logger:   logger.With().Str("component", "hub").Logger(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub event loop. Call in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case m := <-h.mailbox:
			if h.stopped() {
				return
			}
			h.dispatch(m)
		case <-h.done:
			return
		}
	}
}

func (h *Hub) dispatch(m any) {
	switch m := m.(type) {
	case connectMsg:
		m.reply <- h.addSession(m.clientID, m.handle)
	case disconnectMsg:
		h.removeSession(m.id)
	case broadcastMsg:
		h.handleMessage(m)
	case publishMsg:
		h.fanOut(m.payload, 0, !m.remote)
	case queryMsg:
		m.fn()
	default:
		h.logger.Error().Type("message", m).Msg("unknown mailbox message")
	}
}

// post enqueues m unless the hub has stopped.
func (h *Hub) post(m any) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.mailbox <- m:
		return true
	case <-h.done:
		return false
	}
}

// Stop halts the hub event loop. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Done is closed once the hub has been stopped.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Connect registers a handle and returns its numeric id. The caller must
// eventually call Disconnect with the returned id.
func (h *Hub) Connect(ctx context.Context, clientID string, handle types.Handle) (uint64, error) {
	if h.stopped() {
		return 0, types.ErrHubStopped
	}
	req := connectMsg{clientID: clientID, handle: handle, reply: make(chan uint64, 1)}
	select {
	case h.mailbox <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.done:
		return 0, types.ErrHubStopped
	}

	// Once queued the request will be processed; waiting on ctx here could
	// leave a registered entry nobody disconnects.
	select {
	case id := <-req.reply:
		return id, nil
	case <-h.done:
		return 0, types.ErrHubStopped
	}
}

// Disconnect queues removal of a session. Unknown ids are ignored.
func (h *Hub) Disconnect(id uint64) {
	h.post(disconnectMsg{id: id})
}

// BroadcastRequest queues a raw client message for enrichment and fan-out.
func (h *Hub) BroadcastRequest(id uint64, raw string) {
	h.post(broadcastMsg{id: id, raw: raw})
}

// BroadcastToLocal delivers an envelope from the bridge to local sessions only.
// It does not re-publish to the bridge, preventing infinite loops.
func (h *Hub) BroadcastToLocal(payload []byte) {
	h.post(publishMsg{payload: payload, remote: true})
}

// SetBridge attaches a cross-instance message bridge to the hub.
func (h *Hub) SetBridge(b MessageBridge) {
	h.exec(func() { h.bridge = b })
}

func (h *Hub) addSession(clientID string, handle types.Handle) uint64 {
	h.nextID++
	id := h.nextID
	h.sessions[id] = &entry{clientID: clientID, handle: handle, connectedAt: h.clock.Now()}
	h.metrics.SetActiveSessions(len(h.sessions))

	h.logger.Info().Uint64("session_id", id).Str("client_id", clientID).Msg("session registered")

	h.fanOut(h.presence(types.EventConnect, clientID), id, true)
	return id
}

func (h *Hub) removeSession(id uint64) {
	e, ok := h.sessions[id]
	if !ok {
		return
	}
	delete(h.sessions, id)
	h.metrics.SetActiveSessions(len(h.sessions))

	h.logger.Info().Uint64("session_id", id).Str("client_id", e.clientID).Msg("session unregistered")

	h.fanOut(h.presence(types.EventDisconnect, e.clientID), id, true)
}
