package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCleanerMetrics() {
	r.FilesCleanedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmengine_cleaner_files_removed_total",
			Help: "Total number of on-disk SST files removed once their refcount dropped to zero.",
		},
	)

	r.FilesSurrenderedTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmengine_cleaner_files_surrendered_total",
			Help: "Total number of files the cleaner gave up deleting after exhausting its retry budget.",
		},
	)
}
