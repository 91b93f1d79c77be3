// Package metrics exposes Prometheus counters and gauges for the session
// core. All collectors are registered on a private registry so tests can
// construct fresh instances without duplicate-registration panics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all termhub collectors.
type Metrics struct {
	SessionsActive    prometheus.Gauge
	ConnectionsActive prometheus.Gauge
	SpawnsTotal       prometheus.Counter
	ReapsTotal        prometheus.Counter
	AdoptionsTotal    prometheus.Counter
	CapacityRejects   prometheus.Counter

	registry *prometheus.Registry
}

// New creates a metrics collector backed by its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "termhub_sessions_active",
			Help: "Number of registered terminal sessions",
		}),
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "termhub_connections_active",
			Help: "Number of attached client connections",
		}),
		SpawnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "termhub_pty_spawns_total",
			Help: "Total PTY processes spawned",
		}),
		ReapsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "termhub_sessions_reaped_total",
			Help: "Total dead sessions removed by the reaper",
		}),
		AdoptionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "termhub_prewarm_adoptions_total",
			Help: "Total pre-warmed sessions adopted by a real client",
		}),
		CapacityRejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "termhub_capacity_rejects_total",
			Help: "Total session creations rejected at capacity",
		}),
		registry: reg,
	}
	reg.MustRegister(
		m.SessionsActive,
		m.ConnectionsActive,
		m.SpawnsTotal,
		m.ReapsTotal,
		m.AdoptionsTotal,
		m.CapacityRejects,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this collector set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
