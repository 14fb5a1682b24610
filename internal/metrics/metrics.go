// Package metrics exposes Prometheus instruments for the intake engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "intake"

type Metrics struct {
	turns          *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	inference      *prometheus.CounterVec
	inferenceTime  *prometheus.HistogramVec
	persistFailure *prometheus.CounterVec
	sessionsEnded  *prometheus.CounterVec
	activeSessions prometheus.Gauge
}

// New creates the instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Utterances processed, by state at the start of the turn.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "State changes caused by a turn.",
		}, []string{"from", "to"}),
		inference: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inference_total",
			Help:      "Structured inference requests, by field kind and result.",
		}, []string{"kind", "result"}),
		inferenceTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Latency of structured inference requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 3, 5, 8},
		}, []string{"kind"}),
		persistFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Record writes that failed, by sink.",
		}, []string{"sink"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions persisted, by outcome.",
		}, []string{"outcome"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Live sessions started by this process.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.turns, m.transitions, m.inference, m.inferenceTime,
			m.persistFailure, m.sessionsEnded, m.activeSessions,
		)
	}
	return m
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) Turn(state string) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(state).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// Inference records one inference attempt. result is one of "accepted",
// "rejected", "error", "timeout" or "cached".
func (m *Metrics) Inference(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.inference.WithLabelValues(kind, result).Inc()
	if result != "cached" {
		m.inferenceTime.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (m *Metrics) PersistFailure(sink string) {
	if m == nil {
		return
	}
	m.persistFailure.WithLabelValues(sink).Inc()
}

func (m *Metrics) SessionEnded(outcome string) {
	if m == nil {
		return
	}
	m.sessionsEnded.WithLabelValues(outcome).Inc()
}

// ActiveSessions sets the live session gauge.
func (m *Metrics) ActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
