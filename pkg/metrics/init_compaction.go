package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCompactionMetrics() {
	r.MinorCompactionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmengine_minor_compactions_total",
			Help: "Total number of completed minor compactions (Immutable deque to L0).",
		},
	)

	r.MajorCompactionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmengine_major_compactions_total",
			Help: "Total number of completed major compactions (level N to level N+1).",
		},
	)

	r.CompactionFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "lsmengine_compaction_failures_total",
			Help: "Total number of compaction runs that returned an error.",
		},
		[]string{"kind"},
	)

	r.CompactionDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lsmengine_compaction_duration_seconds",
			Help:    "Compaction run duration in seconds.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"kind"},
	)
}
