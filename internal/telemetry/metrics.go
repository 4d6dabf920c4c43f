package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the Prometheus series a Scribe partition worker
// exposes, grounded on the teacher's go/runtime promauto usage (proxy.go).
type Metrics struct {
	CheckpointOutcomes *prometheus.CounterVec
	OpsReprocessed     prometheus.Counter
	VerifyTokenSeconds prometheus.Histogram
	SessionsStarted    prometheus.Counter
	SessionsClosed     *prometheus.CounterVec
	SessionStageMillis *prometheus.HistogramVec
}

// NewMetrics registers and returns a Metrics collecting into the given
// Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var factory = promauto.With(reg)

	return &Metrics{
		CheckpointOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_checkpoint_outcomes_total",
			Help: "Count of checkpoint writes by reason and outcome.",
		}, []string{"reason", "outcome"}),

		OpsReprocessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_ops_reprocessed_total",
			Help: "Count of ops re-seen after a consumer restart and dropped as duplicates.",
		}),

		VerifyTokenSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scribe_verify_token_seconds",
			Help:    "Latency of verifying a client join token.",
			Buckets: prometheus.DefBuckets,
		}),

		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "scribe_sessions_started_total",
			Help: "Count of document sessions started by this worker.",
		}),

		SessionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scribe_sessions_closed_total",
			Help: "Count of document sessions closed, by reason.",
		}, []string{"reason"}),

		SessionStageMillis: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scribe_get_session_stage_milliseconds",
			Help:    "Latency of each stage of bringing up a document session.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}
}

// ObserveStage is a small helper for timing a named session bring-up
// stage with defer.
func (m *Metrics) ObserveStage(stage string) func() {
	var start = time.Now()
	return func() {
		m.SessionStageMillis.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
	}
}
