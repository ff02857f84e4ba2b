// Package schema implements the Schema façade, spec component J: the
// single owner of one Mutable table and the Immutable deque pending
// compaction, routing every read and write across them and the current
// Version. Grounded on pkg/lsm.go's LSMTree (laura-db) — same
// mutex-guarded put/get/flush/compact shape — generalized from a single
// flat keyspace to the engine's composite (user_key, ts) ordering and
// from an ad hoc flush goroutine to the documented
// Receiving -> Freezing -> Compacting state machine.
package schema

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/arkedb/lsmengine/pkg/compaction"
	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/memtable"
	"github.com/arkedb/lsmengine/pkg/mergeiter"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/segment"
	"github.com/arkedb/lsmengine/pkg/sstable"
	"github.com/arkedb/lsmengine/pkg/version"
	"github.com/arkedb/lsmengine/pkg/wal"
)

// Schema owns the live Mutable table and the Immutable deque, and
// drives the Receiving -> Freezing -> Compacting handoff. write and
// remove hold the read-guard (so many writers proceed concurrently
// against one Mutable); the freeze swap holds the write-guard (so it
// never races a write that is still landing in the table it is about
// to replace).
type Schema struct {
	mu sync.RWMutex

	rschema  *record.Schema
	provider fsprovider.Provider
	codec    record.Codec
	walLog   wal.Log

	vs        *version.VersionSet
	compactor *compaction.Compactor

	mutable           *memtable.Table
	immutable         []*segment.Segment // front = newest
	immutableChunkNum int
	maxMemTableSize   int64

	logger *log.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open builds a Schema around initial and starts the background
// goroutine that drains the table's freeze signal. initial is the
// Mutable table to start serving from — an empty one for a fresh
// database, or the table spec §6.3's recovery-on-open populated from
// the WAL, so the first freeze-signal wait the background goroutine
// performs always sees the table the caller actually wants served.
// Passing initial in at construction, rather than swapping it in after
// Open starts the goroutine, avoids a window where the goroutine could
// park on a soon-to-be-discarded table's freeze channel and never wake
// for the real one.
func Open(rschema *record.Schema, provider fsprovider.Provider, codec record.Codec, walLog wal.Log, vs *version.VersionSet, compactor *compaction.Compactor, initial *memtable.Table, maxMemTableSize int64, immutableChunkNum int, logger *log.Logger) *Schema {
	if logger == nil {
		logger = log.Default()
	}
	if immutableChunkNum < 1 {
		immutableChunkNum = 1
	}
	if initial == nil {
		initial = memtable.New(rschema, walLog, maxMemTableSize)
	}
	s := &Schema{
		rschema:           rschema,
		provider:          provider,
		codec:             codec,
		walLog:            walLog,
		vs:                vs,
		compactor:         compactor,
		mutable:           initial,
		immutableChunkNum: immutableChunkNum,
		maxMemTableSize:   maxMemTableSize,
		logger:            logger,
		stopCh:            make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Stop halts the background compaction-trigger goroutine and waits for
// it to exit. It does not flush the current Mutable table.
func (s *Schema) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Schema) run() {
	defer s.wg.Done()
	for {
		s.mu.RLock()
		freezeCh := s.mutable.FreezeSignal()
		s.mu.RUnlock()

		select {
		case <-freezeCh:
			s.freezeAndCompact()
		case <-s.stopCh:
			return
		}
	}
}

// freezeAndCompact is the Receiving -> Freezing -> Compacting handoff:
// drain the full Mutable under the write-guard, freeze it into a
// segment, install a fresh Mutable, then — once ImmutableChunkNum
// segments have accumulated — hand the deque to the Compactor. A failed
// minor compaction leaves the deque intact so the next freeze signal
// retries the same segments alongside whatever is frozen next.
func (s *Schema) freezeAndCompact() {
	s.mu.Lock()
	frozen := s.mutable
	s.mutable = memtable.New(s.rschema, s.walLog, s.maxMemTableSize)
	seg := segment.Freeze(fileid.New(), s.rschema, frozen.All())
	s.immutable = append([]*segment.Segment{seg}, s.immutable...)
	shouldDrain := len(s.immutable) >= s.immutableChunkNum
	drained := s.immutable
	s.mu.Unlock()

	if !shouldDrain {
		return
	}

	ctx := context.Background()
	if _, err := s.compactor.RunMinor(ctx, drained); err != nil {
		s.logger.Printf("schema: minor compaction failed, retrying on next freeze: %v", err)
		return
	}

	// drained is exactly s.immutable as of the snapshot above, and only
	// this goroutine ever mutates s.immutable, so it is safe to clear
	// unconditionally rather than diff against whatever is current.
	s.mu.Lock()
	s.immutable = nil
	s.mu.Unlock()

	if err := s.compactor.RunMajor(ctx); err != nil {
		s.logger.Printf("schema: major compaction failed: %v", err)
	}
}

// Write is spec §4.J's write(log_ty, record, ts), delegated straight to
// the live Mutable table.
func (s *Schema) Write(ctx context.Context, logType wal.LogType, rec *record.Record, ts key.Timestamp) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mutable.Insert(ctx, logType, rec, ts)
}

// Remove is spec §4.J's remove(log_ty, uk, ts).
func (s *Schema) Remove(ctx context.Context, logType wal.LogType, uk key.UserKey, ts key.Timestamp) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mutable.Remove(ctx, logType, uk, ts)
}

// Get resolves uk as of ts across the Mutable table, the Immutable
// deque (newest first), and the current Version's on-disk segments, in
// that priority order. Each source the key can appear in is strictly
// newer than the next, so the first hit is always the answer — found is
// false only if no source has any version of uk at or before ts.
func (s *Schema) Get(uk key.UserKey, ts key.Timestamp) (memtable.Entry, bool, error) {
	s.mu.RLock()
	mutable := s.mutable
	immutable := append([]*segment.Segment(nil), s.immutable...)
	s.mu.RUnlock()

	if e, ok := mutable.Get(uk, ts); ok {
		return e, true, nil
	}
	for _, seg := range immutable {
		if e, ok := seg.Get(uk, ts); ok {
			return e, true, nil
		}
	}

	v := s.vs.Acquire()
	defer v.Unref()
	upper := nextKey(uk)
	for _, op := range streamsInPriorityOrder(v, uk, upper, version.NoLimit) {
		r, err := sstable.Open(s.provider, s.vs.FilePath(op.Level, op.ID), op.ID, s.rschema, s.codec, op.Size)
		if err != nil {
			return memtable.Entry{}, false, fmt.Errorf("schema: open %s: %w", op.ID, err)
		}
		e, ok, err := r.Get(uk, ts)
		r.Close()
		if err != nil {
			return memtable.Entry{}, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return memtable.Entry{}, false, nil
}

// CheckConflict is spec §4.J's check_conflict(uk, snapshot_ts): true iff
// any source holds a version of uk written after snapshotTs. Unlike
// Get, every source must be checked — a conflict can only be ruled out
// once none of them report one.
func (s *Schema) CheckConflict(uk key.UserKey, snapshotTs key.Timestamp) (bool, error) {
	s.mu.RLock()
	mutable := s.mutable
	immutable := append([]*segment.Segment(nil), s.immutable...)
	s.mu.RUnlock()

	if mutable.CheckConflict(uk, snapshotTs) {
		return true, nil
	}
	for _, seg := range immutable {
		if seg.CheckConflict(uk, snapshotTs) {
			return true, nil
		}
	}

	v := s.vs.Acquire()
	defer v.Unref()
	upper := nextKey(uk)
	for _, op := range v.Streams(uk, upper, version.NoLimit) {
		r, err := sstable.Open(s.provider, s.vs.FilePath(op.Level, op.ID), op.ID, s.rschema, s.codec, op.Size)
		if err != nil {
			return false, fmt.Errorf("schema: open %s: %w", op.ID, err)
		}
		conflict, err := r.CheckConflict(uk, snapshotTs)
		r.Close()
		if err != nil {
			return false, err
		}
		if conflict {
			return true, nil
		}
	}
	return false, nil
}

// Scan is spec §4.J's scan(lower, upper, ts, limit, projection): every
// source in [lower, upper) merged in the same recency-priority order as
// Get, so mergeiter's source-rank tie-break alone (no ts comparison
// across sources) picks the right winner on a key collision. limit
// caps the number of distinct user keys the returned iterator yields —
// pass mergeiter.NoLimit for no cap; a limit of 0 yields an empty
// stream without opening a single sstable.Reader. The returned release
// func must be called once the caller is done driving the iterator; it
// closes every opened sstable.Reader and unpins the acquired Version.
func (s *Schema) Scan(lower, upper key.UserKey, ts key.Timestamp, limit int, mask record.ProjectionMask) (*mergeiter.Iterator, func(), error) {
	if limit == 0 {
		return mergeiter.New(nil, 0), func() {}, nil
	}

	s.mu.RLock()
	mutable := s.mutable
	immutable := append([]*segment.Segment(nil), s.immutable...)
	s.mu.RUnlock()

	v := s.vs.Acquire()

	sources := []mergeiter.Stream{mutable.Scan(lower, upper, ts)}
	for _, seg := range immutable {
		sources = append(sources, seg.Scan(lower, upper, ts, mask))
	}

	var readers []*sstable.Reader
	release := func() {
		for _, r := range readers {
			r.Close()
		}
		v.Unref()
	}

	for _, op := range streamsInPriorityOrder(v, lower, upper, version.NoLimit) {
		r, err := sstable.Open(s.provider, s.vs.FilePath(op.Level, op.ID), op.ID, s.rschema, s.codec, op.Size)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("schema: open %s: %w", op.ID, err)
		}
		readers = append(readers, r)
		it, err := r.Scan(lower, upper, ts, mask)
		if err != nil {
			release()
			return nil, nil, err
		}
		sources = append(sources, it)
	}

	return mergeiter.New(sources, limit), release, nil
}

// streamsInPriorityOrder returns v's overlapping segments newest first:
// L0 in reverse append order (the last file added to L0 is the most
// recent minor compaction), then L1, L2, ... in any order, since a
// disjoint level contributes at most one overlapping segment to a point
// lookup and ordering among several range-scan hits at the same level
// does not matter — a level's segments never overlap each other. limit
// bounds the number of FileOps returned (NoLimit for no cap); it is a
// file-count bound only, independent of mergeiter's distinct-user-key
// limit applied downstream in Scan.
func streamsInPriorityOrder(v *version.Version, lower, upper key.UserKey, limit int) []version.FileOp {
	if limit == 0 {
		return nil
	}
	maxLevel := -1
	for level := range v.Segments {
		if level > maxLevel {
			maxLevel = level
		}
	}

	var out []version.FileOp
	for level := 0; level <= maxLevel; level++ {
		ops := v.Segments[level]
		if level == 0 {
			for i := len(ops) - 1; i >= 0; i-- {
				if fileOpOverlaps(ops[i], lower, upper) {
					out = append(out, ops[i])
					if limit > 0 && len(out) >= limit {
						return out
					}
				}
			}
			continue
		}
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

func fileOpOverlaps(op version.FileOp, lower, upper key.UserKey) bool {
	if len(lower) > 0 && len(upper) > 0 && bytes.Compare(lower, upper) >= 0 {
		return false
	}
	if len(upper) > 0 && bytes.Compare(op.MinKey, upper) >= 0 {
		return false
	}
	if len(lower) > 0 && bytes.Compare(op.MaxKey, lower) < 0 {
		return false
	}
	return true
}

// nextKey returns the exclusive upper bound that selects exactly uk out
// of a [lower, upper) range — same trick pkg/sstable's Get/CheckConflict
// use internally, duplicated here since it is unexported there.
func nextKey(uk key.UserKey) key.UserKey {
	return append(append(key.UserKey{}, uk...), 0)
}
