package providers

import (
	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/relay/src/auth"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/valyala/fasthttp"
)

// handleUpgrade authenticates the caller and, on success, hands the upgraded
// connection to a new session.
func (p *RelayProvider) handleUpgrade(ctx *fasthttp.RequestCtx) {
	if !websocket.FastHTTPIsWebSocketUpgrade(ctx) {
		writeError(ctx, fasthttp.StatusUpgradeRequired, "upgrade_required", "WebSocket upgrade required")
		return
	}

	creds, err := auth.FromRequest(ctx)
	if err == nil {
		if limit := p.cfg.MaxConnections; limit > 0 && p.hub.ClientCount() >= limit {
			writeError(ctx, fasthttp.StatusServiceUnavailable, "capacity", "connection limit reached")
			return
		}
		err = p.verifier.Verify(ctx, creds)
	}
	p.metrics.AuthResult(auth.Code(err))
	if err != nil {
		p.logger.Info().Err(err).
			Str("remote_addr", ctx.RemoteAddr().String()).
			Msg("upgrade rejected")
		writeError(ctx, auth.Status(err), auth.Code(err), err.Error())
		return
	}

	logger := p.logger.With().Str("client_id", creds.ClientID).Logger()
	err = p.upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
		sess := hub.NewSession(creds.ClientID, newWSConn(conn, p.cfg.WriteTimeout), p.hub,
			hub.WithHeartbeat(p.cfg.PingInterval, p.cfg.ClientTimeout),
			hub.WithSendBuffer(p.cfg.SendBuffer),
		)
		if err := sess.Run(p.ctx); err != nil {
			logger.Debug().Err(err).Uint64("session_id", sess.ID()).Msg("session ended")
		}
	})
	if err != nil {
		logger.Error().Err(err).Msg("websocket upgrade failed")
	}
}
