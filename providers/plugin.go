package providers

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/orchestra-mcp/relay/config"
	"github.com/orchestra-mcp/relay/src/auth"
	"github.com/orchestra-mcp/relay/src/bridge"
	"github.com/orchestra-mcp/relay/src/hub"
	"github.com/orchestra-mcp/relay/src/metrics"
	"github.com/orchestra-mcp/relay/src/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// RelayProvider wires the hub, its HTTP surface and the optional bridge.
type RelayProvider struct {
	active     atomic.Bool
	instanceID string
	cfg        *config.RelayConfig
	logger     zerolog.Logger

	registry *prometheus.Registry
	metrics  *metrics.Relay
	hub      *hub.Hub
	hubOpts  []hub.Option
	service  *service.Service
	bridge   bridge.Bridge
	verifier auth.Verifier
	upgrader websocket.FastHTTPUpgrader
	app      *fiber.App

	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a RelayProvider.
type Option func(*RelayProvider)

// WithVerifier replaces the verifier chosen from configuration.
func WithVerifier(v auth.Verifier) Option {
	return func(p *RelayProvider) { p.verifier = v }
}

// WithRegistry replaces the default Prometheus registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(p *RelayProvider) { p.registry = reg }
}

// WithHubOptions passes extra options to the hub.
func WithHubOptions(opts ...hub.Option) Option {
	return func(p *RelayProvider) { p.hubOpts = append(p.hubOpts, opts...) }
}

// NewRelayProvider creates a new relay provider instance.
func NewRelayProvider(cfg *config.RelayConfig, logger zerolog.Logger, opts ...Option) *RelayProvider {
	p := &RelayProvider{
		instanceID: uuid.New().String(),
		cfg:        cfg,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *RelayProvider) ID() string                { return "orchestra/relay" }
func (p *RelayProvider) Name() string              { return "Event Relay" }
func (p *RelayProvider) IsActive() bool            { return p.active.Load() }
func (p *RelayProvider) InstanceID() string        { return p.instanceID }
func (p *RelayProvider) Hub() *hub.Hub             { return p.hub }
func (p *RelayProvider) Service() *service.Service { return p.service }

// Activate initializes the hub, service and routes, and starts the event loop.
func (p *RelayProvider) Activate() error {
	if p.active.Load() {
		return fmt.Errorf("%s already active", p.ID())
	}
	if err := p.cfg.Validate(); err != nil {
		return err
	}

	if p.registry == nil {
		p.registry = metrics.NewRegistry()
	}
	p.metrics = metrics.New(p.registry)
	p.ctx, p.cancel = context.WithCancel(context.Background())

	opts := append([]hub.Option{
		hub.WithMetrics(p.metrics),
		hub.WithMailboxSize(p.cfg.MailboxSize),
	}, p.hubOpts...)
	p.hub = hub.New(p.logger, opts...)
	p.service = service.New(p.hub, p.cfg.SystemID, p.logger)

	go p.hub.Run()

	if p.verifier == nil {
		p.verifier = p.defaultVerifier()
	}
	// Browsers connect from arbitrary origins; identity comes from credentials.
	p.upgrader = websocket.FastHTTPUpgrader{
		ReadBufferSize:  p.cfg.ReadBufferSize,
		WriteBufferSize: p.cfg.WriteBufferSize,
		CheckOrigin:     func(*fasthttp.RequestCtx) bool { return true },
	}

	p.app = fiber.New(fiber.Config{AppName: p.Name()})
	p.RegisterRoutes(p.app)

	// Attempt Redis bridge connection (non-fatal if unavailable).
	if p.cfg.Redis.Enabled {
		p.initBridge()
	}

	p.active.Store(true)
	p.logger.Info().Str("provider", p.ID()).Str("instance_id", p.instanceID).Msg("relay activated")
	return nil
}

func (p *RelayProvider) defaultVerifier() auth.Verifier {
	if p.cfg.AuthURL == "" {
		p.logger.Warn().Msg("AUTH_URL not set, accepting any well-formed credentials")
		return auth.AllowAll{}
	}
	return auth.NewServiceVerifier(p.cfg.AuthURL, p.cfg.AuthTimeout, p.logger)
}

// initBridge tries to start the Redis pub/sub bridge.
// If Redis is not reachable, the hub runs in standalone mode.
func (p *RelayProvider) initBridge() {
	rb := bridge.NewRedisBridge(p.cfg.Redis, p.hub, p.logger)

	if err := rb.Start(); err != nil {
		p.logger.Warn().Err(err).Msg("redis bridge unavailable, running standalone")
		return
	}

	p.bridge = rb
	p.hub.SetBridge(rb)
	p.logger.Info().Str("redis_addr", p.cfg.Redis.Addr).Msg("redis bridge connected")
}

// Deactivate ends all sessions, then stops the bridge and hub event loop.
func (p *RelayProvider) Deactivate() error {
	if !p.active.CompareAndSwap(true, false) {
		return nil
	}
	p.cancel()
	if p.bridge != nil {
		if err := p.bridge.Stop(); err != nil {
			p.logger.Error().Err(err).Msg("bridge stop error")
		}
		p.bridge = nil
	}
	p.hub.Stop()
	p.logger.Info().Str("provider", p.ID()).Msg("relay deactivated")
	return nil
}
