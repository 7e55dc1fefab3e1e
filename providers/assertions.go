package providers

import (
	"github.com/orchestra-mcp/relay/src/auth"
	"github.com/orchestra-mcp/relay/src/bridge"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/types"
)

// Compile-time interface assertions.
var (
	_ types.Conn             = (*wsConn)(nil)
	_ types.Handle           = (*hub.Session)(nil)
	_ hub.MessageBridge      = (*bridge.RedisBridge)(nil)
	_ bridge.Bridge          = (*bridge.RedisBridge)(nil)
	_ bridge.BroadcastTarget = (*hub.Hub)(nil)
	_ auth.Verifier          = (*auth.ServiceVerifier)(nil)
	_ auth.Verifier          = auth.AllowAll{}
)
