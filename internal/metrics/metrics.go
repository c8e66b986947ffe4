// Package metrics holds the bridge's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whimmy"

// Metrics is a set of collectors in a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	connections   prometheus.Gauge
	connCloses    *prometheus.CounterVec
	inbound       *prometheus.CounterVec
	outbound      *prometheus.CounterVec
	pending       *prometheus.GaugeVec
	timeouts      *prometheus.CounterVec
	turns         *prometheus.CounterVec
	turnDurations prometheus.Histogram
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open backend sockets.",
		}),
		connCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_closes_total",
			Help:      "Backend sockets closed, by result.",
		}, []string{"result"}),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_frames_total",
			Help:      "Frames received from the backend, by envelope type.",
		}, []string{"type"}),
		outbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_events_total",
			Help:      "Events sent to the backend, by event name.",
		}, []string{"event"}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "correlations_pending",
			Help:      "Pending correlation waiters, by table.",
		}, []string{"table"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "correlation_timeouts_total",
			Help:      "Correlation waiters that timed out, by table.",
		}, []string{"table"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Agent turns finished, by outcome.",
		}, []string{"outcome"}),
		turnDurations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Agent turn wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
	m.registry.MustRegister(
		m.connections, m.connCloses, m.inbound, m.outbound,
		m.pending, m.timeouts, m.turns, m.turnDurations,
	)
	return m
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Opened implements conn.Observer.
func (m *Metrics) Opened(string) {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// Closed implements conn.Observer.
func (m *Metrics) Closed(_ string, err error) {
	if m == nil {
		return
	}
	m.connections.Dec()
	result := "clean"
	if err != nil {
		result = "error"
	}
	m.connCloses.WithLabelValues(result).Inc()
}

// Pending implements correlation.Observer.
func (m *Metrics) Pending(table string, n int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(table).Set(float64(n))
}

// TimedOut implements correlation.Observer.
func (m *Metrics) TimedOut(table string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(table).Inc()
}

// TurnFinished implements turn.Observer.
func (m *Metrics) TurnFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDurations.Observe(elapsed.Seconds())
}

// InboundFrame counts one decoded frame.
func (m *Metrics) InboundFrame(msgType string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(msgType).Inc()
}

// OutboundEvent counts one sent event.
func (m *Metrics) OutboundEvent(event string) {
	if m == nil {
		return
	}
	m.outbound.WithLabelValues(event).Inc()
}
