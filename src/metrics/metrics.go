package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "relay"

// Reasons used as label values.
const (
	ReasonUnknownSender = "unknown_sender"
	ReasonMalformed     = "malformed"
	ReasonTimeout       = "heartbeat_timeout"
	ReasonTransport     = "transport"
	ReasonClosed        = "closed"
	ReasonHubStopped    = "hub_stopped"
)

// NewRegistry creates a Prometheus registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler returns an http.Handler that serves Prometheus metrics.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Relay holds the relay's Prometheus metrics. A nil *Relay is valid and records nothing.
type Relay struct {
	ActiveSessions      prometheus.Gauge
	Broadcasts          prometheus.Counter
	Deliveries          prometheus.Counter
	DroppedDeliveries   prometheus.Counter
	DroppedRequests     *prometheus.CounterVec
	SessionTerminations *prometheus.CounterVec
	AuthResults         *prometheus.CounterVec
}

// New creates and registers relay metrics on the given registry.
func New(reg prometheus.Registerer) *Relay {
	m := &Relay{
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "active_sessions",
			Help:      "Number of sessions registered with the hub.",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "broadcasts_total",
			Help:      "Total number of envelopes fanned out.",
		}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Total number of envelopes handed to sessions.",
		}),
		DroppedDeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_deliveries_total",
			Help:      "Deliveries refused by a closed or saturated session.",
		}),
		DroppedRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "hub",
			Name:      "dropped_requests_total",
			Help:      "Inbound broadcast requests dropped by the hub.",
		}, []string{"reason"}),
		SessionTerminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "terminations_total",
			Help:      "Session terminations by reason.",
		}, []string{"reason"}),
		AuthResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "results_total",
			Help:      "Upgrade authentication outcomes.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.ActiveSessions,
		m.Broadcasts,
		m.Deliveries,
		m.DroppedDeliveries,
		m.DroppedRequests,
		m.SessionTerminations,
		m.AuthResults,
	)
	return m
}

// SetActiveSessions records the number of registered sessions.
func (m *Relay) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// ObserveBroadcast counts one fan-out and its per-session outcomes.
func (m *Relay) ObserveBroadcast(delivered, dropped int) {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
	m.Deliveries.Add(float64(delivered))
	m.DroppedDeliveries.Add(float64(dropped))
}

// DropRequest counts an inbound message the hub refused.
func (m *Relay) DropRequest(reason string) {
	if m == nil {
		return
	}
	m.DroppedRequests.WithLabelValues(reason).Inc()
}

// SessionTerminated counts a finished session by reason.
func (m *Relay) SessionTerminated(reason string) {
	if m == nil {
		return
	}
	m.SessionTerminations.WithLabelValues(reason).Inc()
}

// AuthResult counts an upgrade authentication outcome.
func (m *Relay) AuthResult(result string) {
	if m == nil {
		return
	}
	m.AuthResults.WithLabelValues(result).Inc()
}
