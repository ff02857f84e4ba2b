// Package httpstats is an optional diagnostic HTTP surface a host
// process can mount alongside an embedded engine. It is never imported
// by pkg/engine or any other core package — an embedder that never
// calls New pays nothing for it. Grounded on
// mnohosten-laura-db/pkg/server/server.go's setupMiddleware/setupRoutes/
// handlePrometheusMetrics, trimmed from a full document-store API
// surface to the two read-only routes a library diagnostic endpoint
// has a use for.
package httpstats

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkedb/lsmengine/pkg/metrics"
	"github.com/arkedb/lsmengine/pkg/version"
)

// New builds the diagnostic router. reg is typically (*engine.Engine).
// Metrics(); vs is the engine's VersionSet, used to report the current
// Version's per-level segment layout.
func New(reg *metrics.Registry, vs *version.VersionSet) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(reg.Gatherer(), promhttp.HandlerOpts{}))
	r.Get("/versions", handleVersions(vs))

	return r
}

// levelSummary is one level's segment count and total on-disk size, as
// reported by /versions.
type levelSummary struct {
	Level        int   `json:"level"`
	SegmentCount int   `json:"segment_count"`
	TotalBytes   int64 `json:"total_bytes"`
}

func handleVersions(vs *version.VersionSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := vs.Acquire()
		defer v.Unref()

		var levels []levelSummary
		for level, ops := range v.Segments {
			var total int64
			for _, op := range ops {
				total += op.Size
			}
			levels = append(levels, levelSummary{Level: level, SegmentCount: len(ops), TotalBytes: total})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(struct {
			VersionNumber uint64         `json:"version_number"`
			Levels        []levelSummary `json:"levels"`
		}{VersionNumber: v.Number, Levels: levels}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
