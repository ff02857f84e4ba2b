// Package segment implements the Immutable segment, spec component C: a
// frozen, columnar snapshot of a Mutable table's full contents (every
// version of every key, not just the newest), scannable under an MVCC
// timestamp bound with column projection. Grounded on the columnar
// layout pkg/record.Batch already models and the freeze/scan contract
// described for pkg/lsm's memtable-to-SSTable handoff (laura-db),
// generalized here to retain all (key, ts) versions rather than one
// value per key, since a segment must answer scans at any ts bound.
package segment

import (
	"bytes"
	"sort"

	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/memtable"
	"github.com/arkedb/lsmengine/pkg/record"
)

// Segment is one frozen Immutable: one row per (key, ts) version the
// source Mutable held at freeze time, in ascending (K asc, ts desc) order.
type Segment struct {
	ID     fileid.FileID
	Batch  *record.Batch
	Keys   []key.UserKey // Keys[i] is the encoded primary key for Batch row i
	MinKey key.UserKey
	MaxKey key.UserKey
}

// Freeze consumes a drained Mutable's entries (via Table.All) and builds
// an Immutable segment carrying every version.
func Freeze(id fileid.FileID, schema *record.Schema, entries []memtable.Entry) *Segment {
	n := len(entries)
	batch := &record.Batch{
		Schema: schema,
		Null:   make([]bool, n),
		TS:     make([]uint64, n),
		Cols:   make([][]record.Value, len(schema.Columns)),
	}
	for c := range batch.Cols {
		batch.Cols[c] = make([]record.Value, n)
	}

	keys := make([]key.UserKey, n)
	for i, e := range entries {
		keys[i] = e.Key.UserKey
		batch.TS[i] = uint64(e.Key.Timestamp)
		if e.Record == nil {
			batch.Null[i] = true
			// The primary-key value still has to survive onto disk —
			// it is how a later sstable row-group decode re-derives
			// this row's key — even though the rest of the row is gone.
			pk := schema.PrimaryKeyIndex
			if v, err := record.DecodeKey(schema.Columns[pk].Kind, e.Key.UserKey); err == nil {
				batch.Cols[pk][i] = v
			}
			continue
		}
		for c, v := range e.Record.Values {
			batch.Cols[c][i] = v
		}
	}

	seg := &Segment{ID: id, Batch: batch, Keys: keys}
	if n > 0 {
		seg.MinKey = keys[0]
		seg.MaxKey = keys[n-1]
	}
	return seg
}

// Overlaps reports whether [lower, upper) intersects the segment's key
// range, the pruning test pkg/version's level traversal relies on. An
// empty bound on either side means unbounded in that direction.
func (s *Segment) Overlaps(lower, upper key.UserKey) bool {
	if len(s.Keys) == 0 {
		return false
	}
	if len(lower) > 0 && len(upper) > 0 && bytes.Compare(lower, upper) >= 0 {
		return false
	}
	if len(upper) > 0 && bytes.Compare(s.MinKey, upper) >= 0 {
		return false
	}
	if len(lower) > 0 && bytes.Compare(s.MaxKey, lower) < 0 {
		return false
	}
	return true
}

// Get resolves uk as of ts, mirroring Table.Get: found is false only if
// no version of uk exists at or before ts at all; a tombstone is
// reported as found with a nil Record.
func (s *Segment) Get(uk key.UserKey, ts key.Timestamp) (memtable.Entry, bool) {
	i := sort.Search(len(s.Keys), func(i int) bool {
		return bytes.Compare(s.Keys[i], uk) >= 0
	})
	for ; i < len(s.Keys) && bytes.Equal(s.Keys[i], uk); i++ {
		if key.Timestamp(s.Batch.TS[i]) > ts {
			continue
		}
		if s.Batch.Null[i] {
			return memtable.Entry{Key: key.New(uk, key.Timestamp(s.Batch.TS[i]))}, true
		}
		values := make([]record.Value, len(s.Batch.Schema.Columns))
		for c := range s.Batch.Schema.Columns {
			values[c] = s.Batch.Cols[c][i]
		}
		rec := &record.Record{Schema: s.Batch.Schema, Values: values}
		return memtable.Entry{Key: key.New(uk, key.Timestamp(s.Batch.TS[i])), Record: rec}, true
	}
	return memtable.Entry{}, false
}

// CheckConflict mirrors Table.CheckConflict: true iff some version of uk
// was written after snapshotTs.
func (s *Segment) CheckConflict(uk key.UserKey, snapshotTs key.Timestamp) bool {
	i := sort.Search(len(s.Keys), func(i int) bool {
		return bytes.Compare(s.Keys[i], uk) >= 0
	})
	for ; i < len(s.Keys) && bytes.Equal(s.Keys[i], uk); i++ {
		if key.Timestamp(s.Batch.TS[i]) > snapshotTs {
			return true
		}
	}
	return false
}

// Scan streams the first version of each key in [lower, upper) visible
// as of ts, tombstones included, with projection applied to the
// returned record's values (excluded columns are left IsNull).
func (s *Segment) Scan(lower, upper key.UserKey, ts key.Timestamp, mask record.ProjectionMask) *Iterator {
	start := sort.Search(len(s.Keys), func(i int) bool {
		return bytes.Compare(s.Keys[i], lower) >= 0
	})
	return &Iterator{seg: s, i: start, upper: upper, ts: ts, mask: mask}
}

// Iterator walks a Segment, newest-visible-version-per-key.
type Iterator struct {
	seg     *Segment
	i       int
	upper   key.UserKey
	ts      key.Timestamp
	mask    record.ProjectionMask
	cur     memtable.Entry
	lastKey key.UserKey
	hasLast bool
}

// Next advances to the next distinct visible user key.
func (it *Iterator) Next() bool {
	for it.i < len(it.seg.Keys) {
		i := it.i
		it.i++

		uk := it.seg.Keys[i]
		if len(it.upper) > 0 && bytes.Compare(uk, it.upper) >= 0 {
			it.i = len(it.seg.Keys)
			return false
		}
		if key.Timestamp(it.seg.Batch.TS[i]) > it.ts {
			continue
		}
		if it.hasLast && bytes.Equal(uk, it.lastKey) {
			continue
		}
		it.hasLast = true
		it.lastKey = uk

		tk := key.New(uk, key.Timestamp(it.seg.Batch.TS[i]))
		if it.seg.Batch.Null[i] {
			it.cur = memtable.Entry{Key: tk, Record: nil}
			return true
		}
		it.cur = memtable.Entry{Key: tk, Record: it.projected(i)}
		return true
	}
	return false
}

func (it *Iterator) projected(row int) *record.Record {
	schema := it.seg.Batch.Schema
	values := make([]record.Value, len(schema.Columns))
	for c := range schema.Columns {
		if it.mask.Includes(c, schema.PrimaryKeyIndex) {
			values[c] = it.seg.Batch.Cols[c][row]
		} else {
			values[c] = record.Value{Kind: schema.Columns[c].Kind, IsNull: true}
		}
	}
	return &record.Record{Schema: schema, Values: values}
}

// Entry returns the entry at the iterator's current position.
func (it *Iterator) Entry() memtable.Entry { return it.cur }
