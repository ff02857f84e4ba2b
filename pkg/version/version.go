// Package version implements the Version, VersionSet, and Cleaner, spec
// components E and F: an immutable per-level file layout snapshot, a
// mutator that publishes new layouts via a log-structured manifest edit
// log and reference-counts the files every reachable Version names, and
// a background task that retires files whose refcount drops to zero.
// Grounded on the linked-list-of-versions, Ref/Unref refcounting, and
// manifest-edit-log shape of
// other_examples/612f7887_aalhour-rockyardkv__internal-version-version_set.go.go,
// simplified to this engine's single-column-family, single-comparator
// scope (no manifest rotation/snapshotting — see DESIGN.md).
package version

import (
	"sort"
	"sync/atomic"

	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/key"
)

// FileOp names one segment file and its key bounds within a level.
type FileOp struct {
	Level  int
	ID     fileid.FileID
	MinKey key.UserKey
	MaxKey key.UserKey
	Size   int64
}

// Edit is a set of Add/Remove operations applied atomically to produce
// a new Version.
type Edit struct {
	Adds    []FileOp
	Removes []FileOp
}

// Version is an immutable snapshot of the per-level file layout.
// Segments[0] may hold overlapping key ranges; Segments[L] for L>=1 is
// kept sorted by MinKey with pairwise-disjoint ranges.
type Version struct {
	Number   uint64
	Segments map[int][]FileOp

	vs       *VersionSet
	refcount int32
}

// Ref pins this Version so its files cannot be retired by the Cleaner
// while a scanner holds it.
func (v *Version) Ref() {
	atomic.AddInt32(&v.refcount, 1)
}

// Unref releases a pin taken by Ref (or implicitly held by the
// VersionSet while this Version was current). Once the count reaches
// zero every file this Version named has its VersionSet-wide refcount
// decremented, and any file reaching zero there is forwarded to the
// Cleaner.
func (v *Version) Unref() {
	if atomic.AddInt32(&v.refcount, -1) == 0 {
		v.vs.releaseFiles(v)
	}
}

// NoLimit passed as Streams' limit means "every segment overlapping the
// range", used by callers (point lookups, conflict checks) that have no
// limit concept of their own.
const NoLimit = -1

// Streams returns, for every segment whose key range intersects
// [lower, upper), a FileOp describing it — the caller opens each lazily
// via pkg/sstable.Open. L0 contributes every overlapping segment since
// they may overlap each other; L>=1 levels are disjoint so at most a
// contiguous run of segments is returned per level. limit bounds the
// number of FileOps returned; pass NoLimit for no cap. A limit of 0
// returns nil without inspecting a single segment, and an empty
// [lower, upper) range matches no segment and also returns nil —
// callers that cap by distinct user keys rather than
// file count apply their own stricter bound downstream via mergeiter.
func (v *Version) Streams(lower, upper key.UserKey, limit int) []FileOp {
	if limit == 0 {
		return nil
	}
	var out []FileOp
	for _, ops := range v.Segments {
		for _, op := range ops {
			if fileOpOverlaps(op, lower, upper) {
				out = append(out, op)
				if limit > 0 && len(out) >= limit {
					return out
				}
			}
		}
	}
	return out
}

func fileOpOverlaps(op FileOp, lower, upper key.UserKey) bool {
	if len(lower) > 0 && len(upper) > 0 && compareBytes(lower, upper) >= 0 {
		return false
	}
	if len(upper) > 0 && compareBytes(op.MinKey, upper) >= 0 {
		return false
	}
	if len(lower) > 0 && compareBytes(op.MaxKey, lower) < 0 {
		return false
	}
	return true
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// applyEdit returns a new Segments map reflecting edit atop base,
// keeping L>=1 levels sorted by MinKey.
func applyEdit(base map[int][]FileOp, edit Edit) map[int][]FileOp {
	out := make(map[int][]FileOp, len(base))
	for level, ops := range base {
		out[level] = append([]FileOp(nil), ops...)
	}

	for _, rm := range edit.Removes {
		ops := out[rm.Level]
		filtered := ops[:0:0]
		for _, op := range ops {
			if op.ID != rm.ID {
				filtered = append(filtered, op)
			}
		}
		out[rm.Level] = filtered
	}
	for _, add := range edit.Adds {
		out[add.Level] = append(out[add.Level], add)
	}

	for level, ops := range out {
		if level == 0 {
			continue
		}
		sorted := append([]FileOp(nil), ops...)
		sort.Slice(sorted, func(i, j int) bool {
			return compareBytes(sorted[i].MinKey, sorted[j].MinKey) < 0
		})
		out[level] = sorted
	}
	return out
}
