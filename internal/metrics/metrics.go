// ABOUTME: Prometheus counters and gauges for the hub, served at /metrics.
// ABOUTME: Uses a private registry so only hub metrics are exported.

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the hub's instrumentation. All fields are safe for
// concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	AgentsConnected prometheus.Gauge
	ContextsTotal   prometheus.Counter
	ActionsTotal    prometheus.Counter
	MessagesTotal   *prometheus.CounterVec
	BroadcastErrors prometheus.Counter
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		AgentsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_agents_connected",
			Help: "Number of connected agents",
		}),
		ContextsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_contexts_total",
			Help: "Total context updates stored",
		}),
		ActionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_actions_total",
			Help: "Total action requests routed",
		}),
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_messages_total",
			Help: "Inbound messages processed, by kind",
		}, []string{"kind"}),
		BroadcastErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mcp_broadcast_errors_total",
			Help: "Per-recipient broadcast delivery failures",
		}),
	}

	reg.MustRegister(m.AgentsConnected, m.ContextsTotal, m.ActionsTotal, m.MessagesTotal, m.BroadcastErrors)
	return m
}

// Handler serves the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
