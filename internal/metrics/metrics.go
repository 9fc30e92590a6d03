// Package metrics exposes Prometheus instrumentation for the practice loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "viso"

// Metrics groups the collectors registered on a private registry.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	sessionsStarted      *prometheus.CounterVec
	turns                *prometheus.CounterVec
	turnDuration         prometheus.Histogram
	collaboratorFailures *prometheus.CounterVec
	exports              *prometheus.CounterVec
	reclaimed            prometheus.Counter
	liveConnections      prometheus.Gauge
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		sessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Practice sessions generated, by difficulty.",
		}, []string{"difficulty"}),
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Learner turns processed, by outcome.",
		}, []string{"outcome"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time to evaluate a turn, including any replacement session.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		}),
		collaboratorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_failures_total",
			Help:      "Failed calls to generation services, by stage.",
		}, []string{"stage"}),
		exports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_total",
			Help:      "Export requests, by kind and result.",
		}, []string{"kind", "result"}),
		reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idle_sessions_reclaimed_total",
			Help:      "Active sessions archived by the retention worker.",
		}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Open practice websocket connections.",
		}),
	}
	reg.MustRegister(
		m.sessionsStarted,
		m.turns,
		m.turnDuration,
		m.collaboratorFailures,
		m.exports,
		m.reclaimed,
		m.liveConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted counts a newly generated session.
func (m *Metrics) SessionStarted(difficulty string) {
	if m == nil {
		return
	}
	m.sessionsStarted.WithLabelValues(difficulty).Inc()
}

// TurnCompleted records a turn outcome and its latency.
func (m *Metrics) TurnCompleted(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(outcome).Inc()
	m.turnDuration.Observe(elapsed.Seconds())
}

// CollaboratorFailed counts a failed generation call.
func (m *Metrics) CollaboratorFailed(stage string) {
	if m == nil {
		return
	}
	m.collaboratorFailures.WithLabelValues(stage).Inc()
}

// Exported counts an export request.
func (m *Metrics) Exported(kind string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.exports.WithLabelValues(kind, result).Inc()
}

// Reclaimed counts sessions archived for idleness.
func (m *Metrics) Reclaimed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reclaimed.Add(float64(n))
}

// LiveConnected adjusts the open websocket gauge by delta.
func (m *Metrics) LiveConnected(delta int) {
	if m == nil {
		return
	}
	m.liveConnections.Add(float64(delta))
}
