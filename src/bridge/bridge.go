package bridge

// Bridge defines the interface for cross-instance envelope broadcasting.
// Implementations relay envelopes between multiple relay instances.
type Bridge interface {
	// Publish queues an envelope for all other instances. It must not block.
	Publish(payload []byte) error

	// Start begins listening for envelopes from other instances.
	Start() error

	// Stop shuts down the bridge connection.
	Stop() error

	// Available reports whether the bridge is connected and operational.
	Available() bool
}

// BroadcastTarget is implemented by the Hub to receive envelopes from the bridge.
type BroadcastTarget interface {
	BroadcastToLocal(payload []byte)
}
