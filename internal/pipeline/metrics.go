package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the engine. Collectors are registered on the
// Registerer given to NewMetrics; a nil Registerer leaves them unregistered.
type Metrics struct {
	// scored counts successful scores by risk level.
	scored *prometheus.CounterVec

	// failures counts failed scores by error code.
	failures *prometheus.CounterVec

	// embedLatency measures embedding calls, including retries.
	embedLatency prometheus.Histogram

	// scoreLatency measures a whole Score call.
	scoreLatency prometheus.Histogram

	// leaked counts records dropped for being after a cutoff, by kind.
	leaked *prometheus.CounterVec

	// trained counts published model versions.
	trained prometheus.Counter
}

// NewMetrics creates the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		scored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "precursor",
			Subsystem: "pipeline",
			Name:      "packages_scored_total",
			Help:      "Packages scored, by risk level",
		}, []string{"level"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "precursor",
			Subsystem: "pipeline",
			Name:      "score_failures_total",
			Help:      "Failed scoring attempts, by error code",
		}, []string{"code"}),
		embedLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "precursor",
			Subsystem: "pipeline",
			Name:      "embedding_latency_seconds",
			Help:      "Embedding call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		scoreLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "precursor",
			Subsystem: "pipeline",
			Name:      "score_latency_seconds",
			Help:      "End-to-end scoring latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		leaked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "precursor",
			Subsystem: "pipeline",
			Name:      "leaked_records_total",
			Help:      "Records dropped for being timestamped after a cutoff, by kind",
		}, []string{"kind"}),
		trained: f.NewCounter(prometheus.CounterOpts{
			Namespace: "precursor",
			Subsystem: "pipeline",
			Name:      "models_trained_total",
			Help:      "Model versions published by training",
		}),
	}
}
