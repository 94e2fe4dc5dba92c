// Package metrics provides a Prometheus-backed pipeline.Metrics
// implementation, built as an explicit constructor over a
// caller-supplied registry rather than package-level promauto globals:
// pipeline tests construct more than one SessionManager in the same
// process, and package-level collectors would panic on the second
// registration attempt.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lokutor-ai/transcribe-pipeline/pkg/pipeline"
)

// Prometheus implements pipeline.Metrics.
type Prometheus struct {
	activeSessions    prometheus.Gauge
	resultsTotal      *prometheus.CounterVec
	dispatchOutcomes  *prometheus.CounterVec
	segmentDurationMS prometheus.Histogram
}

// New registers the pipeline's collectors into reg and returns a
// Prometheus ready to pass to pipeline.SessionManager.Init.
func New(reg prometheus.Registerer) *Prometheus {
	m := &Prometheus{
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transcribe_sessions_active",
			Help: "Number of currently open transcription sessions.",
		}),
		resultsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_results_total",
			Help: "Results emitted, labeled by result code.",
		}, []string{"code"}),
		dispatchOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transcribe_dispatch_outcomes_total",
			Help: "Inference dispatch outcomes, labeled by outcome.",
		}, []string{"outcome"}),
		segmentDurationMS: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transcribe_segment_duration_ms",
			Help:    "Duration of recognized speech segments in milliseconds.",
			Buckets: []float64{100, 300, 500, 1000, 2000, 5000, 10000, 20000, 30000},
		}),
	}

	reg.MustRegister(m.activeSessions, m.resultsTotal, m.dispatchOutcomes, m.segmentDurationMS)
	return m
}

var _ pipeline.Metrics = (*Prometheus)(nil)

// IncSessions implements pipeline.Metrics.
func (m *Prometheus) IncSessions() { m.activeSessions.Inc() }

// DecSessions implements pipeline.Metrics.
func (m *Prometheus) DecSessions() { m.activeSessions.Dec() }

// ObserveResult implements pipeline.Metrics.
func (m *Prometheus) ObserveResult(code int) {
	m.resultsTotal.WithLabelValues(strconv.Itoa(code)).Inc()
}

// ObserveDispatch implements pipeline.Metrics.
func (m *Prometheus) ObserveDispatch(outcome string) {
	m.dispatchOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveSegmentDuration implements pipeline.Metrics.
func (m *Prometheus) ObserveSegmentDuration(ms float64) {
	m.segmentDurationMS.Observe(ms)
}
