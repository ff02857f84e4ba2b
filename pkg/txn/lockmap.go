// Package txn implements the Transaction, spec component I: an
// optimistic-concurrency-controlled session against one Schema, backed
// by a local write buffer and a striped write-lock map for Commit.
// Grounded on pkg/mvcc/transaction.go's WriteSet/ReadSet shape and
// pkg/database/doc_lock.go's striped DocumentLockManager (laura-db).
package txn

import (
	"bytes"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/arkedb/lsmengine/pkg/key"
)

// LockMap is a striped per-key write-lock map, shared across every
// Transaction against one engine so two committing transactions never
// corrupt each other's CheckConflict-then-write sequence for the same
// key. Grounded on pkg/database/doc_lock.go's DocumentLockManager,
// generalized from a string document ID to an opaque key.UserKey and
// simplified to write-only locking: readers never take it, since Get
// resolves against already-committed, MVCC-snapshotted sources and
// needs no mutual exclusion with a concurrent Commit.
type LockMap struct {
	numStripes int
	stripes    []*stripe
}

type stripe struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	mu       sync.Mutex
	refcount int
}

// NewLockMap builds a LockMap with numStripes stripes, defaulting to
// 256 (the teacher's default) when numStripes <= 0.
func NewLockMap(numStripes int) *LockMap {
	if numStripes <= 0 {
		numStripes = 256
	}
	lm := &LockMap{numStripes: numStripes, stripes: make([]*stripe, numStripes)}
	for i := range lm.stripes {
		lm.stripes[i] = &stripe{locks: make(map[string]*entry)}
	}
	return lm
}

func (lm *LockMap) stripeFor(uk key.UserKey) *stripe {
	h := fnv.New32a()
	h.Write(uk)
	return lm.stripes[int(h.Sum32())%lm.numStripes]
}

// Lock acquires the write lock for uk, creating its entry on first use
// and evicting it again in the matching Unlock once no holder remains.
func (lm *LockMap) Lock(uk key.UserKey) {
	s := lm.stripeFor(uk)
	k := string(uk)

	s.mu.Lock()
	e, ok := s.locks[k]
	if !ok {
		e = &entry{}
		s.locks[k] = e
	}
	e.refcount++
	s.mu.Unlock()

	e.mu.Lock()
}

// Unlock releases the write lock for uk taken by a matching Lock.
func (lm *LockMap) Unlock(uk key.UserKey) {
	s := lm.stripeFor(uk)
	k := string(uk)

	s.mu.Lock()
	e := s.locks[k]
	e.refcount--
	if e.refcount == 0 {
		delete(s.locks, k)
	}
	s.mu.Unlock()

	e.mu.Unlock()
}

// LockAll acquires write locks on every key in keys, in ascending byte
// order. A consistent global lock order across every caller — not the
// order keys happen to appear in any one transaction's write set — is
// what prevents two transactions committing overlapping key sets from
// deadlocking on each other.
func (lm *LockMap) LockAll(keys []key.UserKey) {
	sorted := append([]key.UserKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i], sorted[j]) < 0 })
	for _, uk := range sorted {
		lm.Lock(uk)
	}
}

// UnlockAll releases write locks on every key in keys; release order
// does not affect correctness.
func (lm *LockMap) UnlockAll(keys []key.UserKey) {
	for _, uk := range keys {
		lm.Unlock(uk)
	}
}
