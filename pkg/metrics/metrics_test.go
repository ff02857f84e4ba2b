package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryInitializesEveryCollector(t *testing.T) {
	r := NewRegistry()
	require.NotNil(t, r.MinorCompactionsTotal)
	require.NotNil(t, r.MajorCompactionsTotal)
	require.NotNil(t, r.CompactionFailuresTotal)
	require.NotNil(t, r.CompactionDuration)
	require.NotNil(t, r.FilesCleanedTotal)
	require.NotNil(t, r.FilesSurrenderedTotal)
	require.NotNil(t, r.WriteConflictsTotal)
	require.NotNil(t, r.CommitsTotal)
	require.NotNil(t, r.OpenTransactionsCurrent)
	require.NotNil(t, r.Gatherer())
}

func TestCountersAccumulate(t *testing.T) {
	r := NewRegistry()

	r.MinorCompactionsTotal.Inc()
	r.MinorCompactionsTotal.Inc()
	require.Equal(t, float64(2), testutil.ToFloat64(r.MinorCompactionsTotal))

	r.CompactionFailuresTotal.WithLabelValues("major").Inc()
	require.Equal(t, float64(1), testutil.ToFloat64(r.CompactionFailuresTotal.WithLabelValues("major")))

	r.OpenTransactionsCurrent.Set(3)
	require.Equal(t, float64(3), testutil.ToFloat64(r.OpenTransactionsCurrent))
}
