// Package metrics is the Prometheus-backed observability surface spec
// §8's ambient stack calls for: counters and histograms over the
// Compactor's two phases, the Cleaner's file garbage collection, and
// txn's write-write conflict detection. Grounded on dd0wney-graphdb's
// pkg/metrics.Registry/init_*.go convention — a struct of already-
// registered collector handles built once via promauto, with one
// init_*.go per concern — adapted from that repo's HTTP/storage/query/
// cluster concerns to this engine's compaction/cleaner/txn concerns.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every collector this engine exposes. Every field is a
// handle already registered against the embedded *prometheus.Registry;
// callers never register anything themselves.
type Registry struct {
	MinorCompactionsTotal   prometheus.Counter
	MajorCompactionsTotal   prometheus.Counter
	CompactionFailuresTotal *prometheus.CounterVec
	CompactionDuration      *prometheus.HistogramVec

	FilesCleanedTotal     prometheus.Counter
	FilesSurrenderedTotal prometheus.Counter

	WriteConflictsTotal     prometheus.Counter
	CommitsTotal            prometheus.Counter
	OpenTransactionsCurrent prometheus.Gauge

	registry *prometheus.Registry
}

// NewRegistry builds a Registry with every collector registered against
// a fresh *prometheus.Registry, following NewRegistry's
// init-everything-eagerly shape in dd0wney-graphdb's metrics_types.go.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initCompactionMetrics()
	r.initCleanerMetrics()
	r.initTxnMetrics()
	return r
}

// Gatherer exposes the underlying *prometheus.Registry for promhttp's
// Handler, mirroring dd0wney-graphdb's GetPrometheusRegistry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
