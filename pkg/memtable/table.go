// Package memtable implements the Mutable table, spec component B: the
// single writable, skip-list-backed sorted structure every write lands
// in before it is frozen into an Immutable segment. Grounded on
// pkg/lsm/memtable.go and pkg/lsm/skiplist.go (laura-db), generalized
// from a raw []byte key/value pair to a typed record.Record entry keyed
// by the engine's composite (user_key, ts) order, and wired to the
// pkg/wal.Log external collaborator for durability.
package memtable

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/wal"
)

// Entry is one resolved (key, optional record) pair returned by Get and
// Scan. Record == nil marks a tombstone.
type Entry struct {
	Key    key.Timestamped
	Record *record.Record
}

// Table is the Mutable table. One Table is writable at a time per
// pkg/schema; once frozen it is handed off read-only to pkg/segment.
type Table struct {
	mu      sync.RWMutex
	schema  *record.Schema
	list    *skipList
	log     wal.Log
	size    int64
	maxSize int64

	// freezeCh is a capacity-1 "flag, not queue" signal: a burst of
	// writes that all cross maxSize only wakes the freeze consumer
	// once, mirroring the teacher's compactChan/flushChan pattern.
	freezeCh chan struct{}
}

// New builds an empty Table. log may be nil in tests that do not need
// durability; production callers always supply one.
func New(schema *record.Schema, log wal.Log, maxSize int64) *Table {
	return &Table{
		schema:   schema,
		list:     newSkipList(newSeededRand()),
		log:      log,
		maxSize:  maxSize,
		freezeCh: make(chan struct{}, 1),
	}
}

// FreezeSignal fires (non-blockingly, at most once until drained) after
// any write that leaves the table at or above its configured maxSize.
// pkg/schema drains this to trigger the Receiving -> Freezing transition.
func (t *Table) FreezeSignal() <-chan struct{} {
	return t.freezeCh
}

// Insert is spec §4.B's insert(log_ty, record, ts) -> new_size.
func (t *Table) Insert(ctx context.Context, logType wal.LogType, rec *record.Record, ts key.Timestamp) (int64, error) {
	uk, err := rec.PrimaryKey()
	if err != nil {
		return 0, fmt.Errorf("memtable: primary key: %w", err)
	}
	return t.apply(ctx, logType, uk, ts, rec)
}

// Remove writes a tombstone for uk at ts.
func (t *Table) Remove(ctx context.Context, logType wal.LogType, uk key.UserKey, ts key.Timestamp) (int64, error) {
	return t.apply(ctx, logType, uk, ts, nil)
}

func (t *Table) apply(ctx context.Context, logType wal.LogType, uk key.UserKey, ts key.Timestamp, rec *record.Record) (int64, error) {
	tk := key.New(uk, ts)
	payload, err := encodeEntry(tk, rec)
	if err != nil {
		return 0, fmt.Errorf("memtable: encode entry: %w", err)
	}
	if t.log != nil {
		if _, err := t.log.Append(ctx, wal.Record{Type: logType, Payload: payload}); err != nil {
			return 0, fmt.Errorf("memtable: wal append: %w", err)
		}
	}

	t.mu.Lock()
	t.list.upsert(tk, rec)
	t.size += int64(len(payload))
	newSize := t.size
	t.mu.Unlock()

	if newSize >= t.maxSize {
		select {
		case t.freezeCh <- struct{}{}:
		default:
		}
	}
	return newSize, nil
}

// ApplyRecovered re-inserts an entry read back from the WAL during
// recovery, bypassing the log append (it is already durable) and the
// freeze signal (recovery runs before the background compactor starts).
func (t *Table) ApplyRecovered(k key.Timestamped, rec *record.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list.upsert(k, rec)
	if payload, err := encodeEntry(k, rec); err == nil {
		t.size += int64(len(payload))
	}
}

// Get resolves uk as of ts: the first entry with key.Timestamp <= ts.
// found is false if no version of uk exists at or before ts at all;
// a tombstone is reported as found with a nil Record.
func (t *Table) Get(uk key.UserKey, ts key.Timestamp) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	probe := key.New(uk, ts)
	n := t.list.seekGE(probe)
	if n == nil || !key.SameUserKey(n.k, probe) {
		return Entry{}, false
	}
	rec, _ := n.v.(*record.Record)
	return Entry{Key: n.k, Record: rec}, true
}

// CheckConflict reports whether any version of uk was written after
// snapshotTs, the write-write conflict test spec §4.I's Commit relies on.
func (t *Table) CheckConflict(uk key.UserKey, snapshotTs key.Timestamp) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	probe := key.New(uk, key.Timestamp(math.MaxUint64))
	for n := t.list.seekGE(probe); n != nil && key.SameUserKey(n.k, probe); n = n.forward[0] {
		if n.k.Timestamp > snapshotTs {
			return true
		}
	}
	return false
}

// Size reports the current estimated byte size.
func (t *Table) Size() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// IsFull reports whether the table has reached its configured maxSize.
func (t *Table) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size >= t.maxSize
}

// All returns every (key, record) entry in ascending (K asc, ts desc)
// order, with no timestamp filtering and no per-key deduplication —
// every version is retained. This is what Freeze consumes to build an
// Immutable segment, which must keep every version for later MVCC scans.
func (t *Table) All() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, t.list.size)
	for n := t.list.head.forward[0]; n != nil; n = n.forward[0] {
		rec, _ := n.v.(*record.Record)
		out = append(out, Entry{Key: n.k, Record: rec})
	}
	return out
}

// Scan streams, in ascending user-key order, the first version of each
// key in [lower, upper) visible as of ts, tombstones included. An empty
// upper means "no upper bound".
func (t *Table) Scan(lower, upper key.UserKey, ts key.Timestamp) *Iterator {
	t.mu.RLock()
	defer t.mu.RUnlock()

	start := t.list.seekGE(key.New(lower, key.Timestamp(math.MaxUint64)))
	return &Iterator{node: start, upper: upper, ts: ts}
}

// Iterator walks a Table snapshot taken at Scan time. It is not safe
// for concurrent use with writers mutating the same Table, matching the
// teacher's RWMutex-guarded snapshot-at-call-time iterator contract.
type Iterator struct {
	node    *skipNode
	upper   key.UserKey
	ts      key.Timestamp
	cur     Entry
	lastKey key.UserKey
	hasLast bool
}

// Next advances to the next distinct visible user key.
func (it *Iterator) Next() bool {
	for it.node != nil {
		n := it.node
		it.node = n.forward[0]

		if len(it.upper) > 0 && bytes.Compare(n.k.UserKey, it.upper) >= 0 {
			it.node = nil
			return false
		}
		if n.k.Timestamp > it.ts {
			continue
		}
		if it.hasLast && bytes.Equal(n.k.UserKey, it.lastKey) {
			continue
		}
		it.hasLast = true
		it.lastKey = n.k.UserKey

		rec, _ := n.v.(*record.Record)
		it.cur = Entry{Key: n.k, Record: rec}
		return true
	}
	return false
}

// Entry returns the entry at the iterator's current position.
func (it *Iterator) Entry() Entry { return it.cur }
