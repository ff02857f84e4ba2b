// Package compaction implements the Compactor, spec component G: a
// two-phase background task triggered by the Mutable table's Freeze
// signal. Phase 1 (minor) serializes drained Immutables to new L0 SSTs.
// Phase 2 (major) promotes a level's segments into the next one,
// merging every version of every overlapping key and applying GC-
// horizon retention. Grounded on pkg/lsm.go's flushWorker/
// compactionWorker/compact/mergeSSTables (laura-db), generalized from a
// fixed four-SSTable merge to the spec's per-level threshold and from
// "keep newest version only" to horizon-aware multi-version retention.
package compaction

import (
	"bytes"
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/memtable"
	"github.com/arkedb/lsmengine/pkg/metrics"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/segment"
	"github.com/arkedb/lsmengine/pkg/sstable"
	"github.com/arkedb/lsmengine/pkg/version"
)

// HorizonFunc reports the current GC horizon: the oldest open
// Transaction's snapshot timestamp, or the engine's most recent
// successful commit timestamp when no transaction is open (spec §9,
// Q2 — never wall-clock).
type HorizonFunc func() key.Timestamp

// bytesPerRowEstimate approximates one row's on-disk footprint when
// deciding where to split compaction output across MaxSSTFileSize —
// there is no cheaper way to predict a compressed batch's size before
// encoding it, so output files are a best-effort bound, not an exact one.
const bytesPerRowEstimate = 256

// Compactor runs both compaction phases. One Compactor instance should
// ever be driving a given VersionSet at a time (spec §4.G: "at most one
// compactor task runs").
type Compactor struct {
	provider fsprovider.Provider
	vs       *version.VersionSet
	schema   *record.Schema
	codec    record.Codec
	cleaner  *version.Cleaner
	cfg      Config
	horizon  HorizonFunc

	// Metrics is the optional observability collaborator spec §8's
	// ambient stack calls for. Left nil, every RunMinor/RunMajor call is
	// simply not recorded — same nil-is-a-no-op shape as pkg/engine's
	// TaskRunner/Logger collaborators.
	Metrics *metrics.Registry
}

// New builds a Compactor.
func New(provider fsprovider.Provider, vs *version.VersionSet, schema *record.Schema, codec record.Codec, cleaner *version.Cleaner, cfg Config, horizon HorizonFunc) *Compactor {
	return &Compactor{provider: provider, vs: vs, schema: schema, codec: codec, cleaner: cleaner, cfg: cfg, horizon: horizon}
}

func (c *Compactor) observe(kind string, start time.Time, err error) {
	if c.Metrics == nil {
		return
	}
	c.Metrics.CompactionDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		c.Metrics.CompactionFailuresTotal.WithLabelValues(kind).Inc()
		return
	}
	if kind == "minor" {
		c.Metrics.MinorCompactionsTotal.Inc()
	} else {
		c.Metrics.MajorCompactionsTotal.Inc()
	}
}

// RunMinor drains a batch of already-frozen Immutables (segments,
// already carrying the FileId assigned when they were frozen off the
// Mutable table) to new L0 SSTs and publishes one edit adding them all.
// Called by pkg/schema once ImmutableChunkNum segments have
// accumulated; pkg/schema snapshots its deque under its write-guard and
// releases the guard before calling.
func (c *Compactor) RunMinor(ctx context.Context, segments []*segment.Segment) (*version.Version, error) {
	if len(segments) == 0 {
		return c.vs.Current(), nil
	}
	start := time.Now()

	var adds []version.FileOp
	for _, seg := range segments {
		path := c.vs.FilePath(0, seg.ID)
		size, err := sstable.Write(c.provider, path, seg, c.codec, c.cfg.RowsPerGroup)
		if err != nil {
			for _, a := range adds {
				c.cleaner.Enqueue(a.Level, a.ID)
			}
			c.observe("minor", start, err)
			return nil, fmt.Errorf("compaction: minor: write %s: %w", path, err)
		}
		adds = append(adds, version.FileOp{Level: 0, ID: seg.ID, MinKey: seg.MinKey, MaxKey: seg.MaxKey, Size: size})
	}

	v, err := c.vs.Apply(ctx, version.Edit{Adds: adds})
	c.observe("minor", start, err)
	return v, err
}

// RunMajor repeatedly promotes the lowest violating level until no
// level exceeds its threshold, per spec §4.G Phase 2.
func (c *Compactor) RunMajor(ctx context.Context) error {
	for {
		v := c.vs.Acquire()
		level, ok := findViolatingLevel(v, c.cfg)
		if !ok {
			v.Unref()
			return nil
		}
		start := time.Now()
		err := c.compactLevel(ctx, v, level)
		c.observe("major", start, err)
		v.Unref()
		if err != nil {
			return err
		}
	}
}

func findViolatingLevel(v *version.Version, cfg Config) (int, bool) {
	maxLevel := -1
	for level := range v.Segments {
		if level > maxLevel {
			maxLevel = level
		}
	}
	for level := 0; level <= maxLevel; level++ {
		if len(v.Segments[level]) >= cfg.levelThreshold(level) {
			return level, true
		}
	}
	return 0, false
}

// compactLevel picks the oldest segment at level (tie-break: smallest
// min-key — both reduce to ops[0] given L0's insertion-ordered list and
// L1+'s min-key-sorted list, see DESIGN.md), merges it with every
// overlapping segment one level down, and publishes the replacement.
func (c *Compactor) compactLevel(ctx context.Context, v *version.Version, level int) error {
	ops := v.Segments[level]
	if len(ops) == 0 {
		return nil
	}
	picked := ops[0]
	var overlapping []version.FileOp
	for _, op := range v.Segments[level+1] {
		if opsOverlap(picked, op) {
			overlapping = append(overlapping, op)
		}
	}

	inputs := append([]version.FileOp{picked}, overlapping...)
	readers := make([]*sstable.Reader, 0, len(inputs))
	defer func() {
		for _, r := range readers {
			r.Close()
		}
	}()

	streams := make([]rawStream, 0, len(inputs))
	for _, op := range inputs {
		r, err := sstable.Open(c.provider, c.vs.FilePath(op.Level, op.ID), op.ID, c.schema, c.codec, op.Size)
		if err != nil {
			return fmt.Errorf("compaction: open %s: %w", op.ID, err)
		}
		readers = append(readers, r)
		streams = append(streams, r.ScanAllVersions(nil, nil))
	}

	merged := mergeAllVersions(streams)
	retained := applyGCHorizon(merged, c.horizon())

	var outputs []version.FileOp
	for _, chunk := range splitRows(retained, c.cfg.MaxSSTFileSize) {
		id := fileid.New()
		seg := segment.Freeze(id, c.schema, chunk)
		path := c.vs.FilePath(level+1, id)
		size, err := sstable.Write(c.provider, path, seg, c.codec, c.cfg.RowsPerGroup)
		if err != nil {
			for _, op := range outputs {
				c.cleaner.Enqueue(op.Level, op.ID)
			}
			return fmt.Errorf("compaction: major: write %s: %w", path, err)
		}
		outputs = append(outputs, version.FileOp{Level: level + 1, ID: id, MinKey: seg.MinKey, MaxKey: seg.MaxKey, Size: size})
	}

	edit := version.Edit{Adds: outputs, Removes: inputs}
	if _, err := c.vs.Apply(ctx, edit); err != nil {
		for _, op := range outputs {
			c.cleaner.Enqueue(op.Level, op.ID)
		}
		return fmt.Errorf("compaction: apply edit: %w", err)
	}
	return nil
}

func opsOverlap(a, b version.FileOp) bool {
	if len(b.MaxKey) > 0 && bytes.Compare(a.MinKey, b.MaxKey) > 0 {
		return false
	}
	if len(a.MaxKey) > 0 && bytes.Compare(b.MinKey, a.MaxKey) > 0 {
		return false
	}
	return true
}

// rawStream is the shape sstable.RawIterator satisfies: every (key, ts)
// row, no dedup, no visibility filter — major compaction needs every
// version to apply GC-horizon retention itself.
type rawStream interface {
	Next() bool
	Entry() memtable.Entry
}

type rawHeapItem struct {
	rank  int
	entry memtable.Entry
}

type rawHeap []*rawHeapItem

func (h rawHeap) Len() int { return len(h) }
func (h rawHeap) Less(i, j int) bool {
	if c := key.Compare(h[i].entry.Key, h[j].entry.Key); c != 0 {
		return c < 0
	}
	return h[i].rank < h[j].rank
}
func (h rawHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *rawHeap) Push(x any)   { *h = append(*h, x.(*rawHeapItem)) }
func (h *rawHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// mergeAllVersions interleaves every row from streams in (K asc, ts
// desc) order, preserving every version — unlike pkg/mergeiter, which
// collapses to the single visible entry per key, major compaction needs
// the complete version history to apply GC-horizon retention itself.
// Exact (key, ts) collisions across streams (which correct operation
// never produces) are resolved by source rank, same as pkg/mergeiter.
func mergeAllVersions(streams []rawStream) []memtable.Entry {
	h := make(rawHeap, 0, len(streams))
	for i, s := range streams {
		if s.Next() {
			h = append(h, &rawHeapItem{rank: i, entry: s.Entry()})
		}
	}
	heap.Init(&h)

	var out []memtable.Entry
	var lastKey key.Timestamped
	hasLast := false
	for h.Len() > 0 {
		top := heap.Pop(&h).(*rawHeapItem)
		if !hasLast || !key.Equal(lastKey, top.entry.Key) {
			out = append(out, top.entry)
			lastKey = top.entry.Key
			hasLast = true
		}
		if streams[top.rank].Next() {
			heap.Push(&h, &rawHeapItem{rank: top.rank, entry: streams[top.rank].Entry()})
		}
	}
	return out
}

// applyGCHorizon walks merged (already K-asc/ts-desc ordered) entries
// and, within each user key's run of versions, keeps every version at
// or above horizon unconditionally, then collapses everything below
// horizon to at most one entry: the newest version below horizon if it
// is not a tombstone (the value any snapshot with ts < horizon — none
// of which can still be open — could ever have observed), or nothing at
// all if that newest-below-horizon version is itself a tombstone (no
// earlier version survives a delete no live snapshot can see past).
func applyGCHorizon(entries []memtable.Entry, horizon key.Timestamp) []memtable.Entry {
	out := make([]memtable.Entry, 0, len(entries))
	i := 0
	for i < len(entries) {
		j := i
		for j < len(entries) && bytes.Equal(entries[j].Key.UserKey, entries[i].Key.UserKey) {
			j++
		}
		group := entries[i:j]
		for _, e := range group {
			if e.Key.Timestamp >= horizon {
				out = append(out, e)
				continue
			}
			if e.Record != nil {
				out = append(out, e)
			}
			break
		}
		i = j
	}
	return out
}

// splitRows chunks entries into groups bounded (best-effort —
// see bytesPerRowEstimate) by maxBytes, so one compaction output never
// grows past max_sst_file_size. A maxBytes of zero or a per-row size
// estimate large enough to exceed it still yields one row per chunk, so
// callers never get an empty non-terminal chunk. A chunk boundary is
// never placed inside one user key's run of retained versions — doing
// so would hand two adjacent output files at the same level an
// overlapping key range, violating the disjoint-range invariant
// applyEdit relies on for L>=1. The naive row-count cutoff is extended
// forward, the same way applyGCHorizon groups a key's run, until it
// lands on a distinct user key.
func splitRows(entries []memtable.Entry, maxBytes int64) [][]memtable.Entry {
	if len(entries) == 0 {
		return nil
	}
	rowsPerFile := int(maxBytes / bytesPerRowEstimate)
	if rowsPerFile < 1 {
		rowsPerFile = 1
	}

	var chunks [][]memtable.Entry
	for start := 0; start < len(entries); {
		end := start + rowsPerFile
		if end > len(entries) {
			end = len(entries)
		}
		for end < len(entries) && bytes.Equal(entries[end].Key.UserKey, entries[end-1].Key.UserKey) {
			end++
		}
		chunks = append(chunks, entries[start:end])
		start = end
	}
	return chunks
}
