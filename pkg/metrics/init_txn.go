package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTxnMetrics() {
	r.WriteConflictsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmengine_txn_write_conflicts_total",
			Help: "Total number of commits rejected by the write-write conflict check.",
		},
	)

	r.CommitsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "lsmengine_txn_commits_total",
			Help: "Total number of transactions committed successfully.",
		},
	)

	r.OpenTransactionsCurrent = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "lsmengine_txn_open_current",
			Help: "Number of transactions currently open (Begin'd but not yet Commit/Abort'd).",
		},
	)
}
