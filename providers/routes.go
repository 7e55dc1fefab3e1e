package providers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v3"
	"github.com/orchestra-mcp/relay/src/metrics"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Paths served outside Fiber.
const (
	PathWebSocket = "/ws"
	PathMetrics   = "/metrics"
)

// RegisterRoutes registers the informational and admin routes via Fiber.
// The WebSocket upgrade and the metrics endpoint are dispatched by Handler,
// since Fiber v3 does not expose *fasthttp.RequestCtx.
func (p *RelayProvider) RegisterRoutes(group fiber.Router) {
	group.Get("/healthz", p.handleHealth)
	group.Get("/ws/info", p.handleInfo)
	group.Get("/ws/clients", p.handleClients)
	group.Post("/ws/publish", p.handlePublish)
}

// Handler returns the fasthttp handler for the whole relay.
func (p *RelayProvider) Handler() fasthttp.RequestHandler {
	appHandler := p.app.Handler()
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(metrics.Handler(p.registry))

	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case PathWebSocket:
			p.handleUpgrade(ctx)
		case PathMetrics:
			metricsHandler(ctx)
		default:
			appHandler(ctx)
		}
	}
}

func (p *RelayProvider) handleHealth(c fiber.Ctx) error {
	if !p.IsActive() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "inactive"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (p *RelayProvider) handleInfo(c fiber.Ctx) error {
	stats := p.service.Stats()
	return c.JSON(fiber.Map{
		"websocket":   true,
		"endpoint":    PathWebSocket,
		"instance_id": p.instanceID,
		"clients":     stats.Sessions,
		"last_id":     stats.LastID,
		"bridged":     stats.Bridged,
	})
}

func (p *RelayProvider) handleClients(c fiber.Ctx) error {
	clients := p.service.GetConnectedClients()
	return c.JSON(fiber.Map{
		"clients": clients,
		"count":   len(clients),
	})
}

func (p *RelayProvider) handlePublish(c fiber.Ctx) error {
	var data map[string]any
	if err := json.Unmarshal(c.Body(), &data); err != nil || data == nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "malformed_envelope",
			"message": "body must be a JSON object",
		})
	}
	if err := p.service.Publish(data); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "publish_failed",
			"message": err.Error(),
		})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"published": true})
}

// writeError writes a JSON error body on a raw fasthttp response.
func writeError(ctx *fasthttp.RequestCtx, status int, code, message string) {
	body, _ := json.Marshal(map[string]string{"error": code, "message": message})
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
