// Package engine is the host-facing orchestrator spec §2's data-flow
// diagram names but never gives its own component letter: it wires
// Schema (B/C/J), VersionSet + Cleaner (E/F), the Compactor (G), and
// the shared LockMap transactions (I) serialize through into one
// Open/Close lifecycle a host program imports as a library. Grounded
// on pkg/lsm.go's LSMTree.NewLSMTree/Close (laura-db) for the
// wire-everything-together-on-Open, tear-down-on-Close shape,
// generalized from a single flat keyspace and one flush goroutine to
// this module's manifest-driven recovery and two-phase compaction
// pipeline.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/arkedb/lsmengine/pkg/compaction"
	"github.com/arkedb/lsmengine/pkg/config"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/mergeiter"
	"github.com/arkedb/lsmengine/pkg/metrics"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/schema"
	"github.com/arkedb/lsmengine/pkg/txn"
	"github.com/arkedb/lsmengine/pkg/version"
	"github.com/arkedb/lsmengine/pkg/wal"
)

// TaskRunner is the executor-agnostic spawn trait spec §5 calls out:
// the Cleaner's background loop launches through it. The default
// implementation just calls go f(); a host embedding the engine in its
// own worker pool (or a single-threaded test harness that wants
// deterministic scheduling) may supply its own.
type TaskRunner interface {
	Go(f func())
}

type goRunner struct{}

func (goRunner) Go(f func()) { go f() }

// Engine is one open database: a host-owned handle over every
// component spec §1 describes. One Engine corresponds to one schema
// (one user-defined record shape) rooted at one Options.Path.
type Engine struct {
	opts      config.Options
	rschema   *record.Schema
	provider  fsprovider.Provider
	walLog    wal.Log
	vs        *version.VersionSet
	cleaner   *version.Cleaner
	compactor *compaction.Compactor
	sch       *schema.Schema
	locks     *txn.LockMap
	logger    *log.Logger
	metrics   *metrics.Registry

	tsMu       sync.Mutex
	nextTs     key.Timestamp
	lastCommit key.Timestamp
	openSnaps  map[key.Timestamp]int
}

// Metrics returns the Prometheus collectors this engine's compactor,
// cleaner, and transactions report through. pkg/httpstats reads it to
// serve /metrics; a host that wants its own scrape endpoint can do the
// same via Gatherer().
func (e *Engine) Metrics() *metrics.Registry {
	return e.metrics
}

// VersionSet returns the engine's VersionSet, the per-level file layout
// pkg/httpstats reports through /versions.
func (e *Engine) VersionSet() *version.VersionSet {
	return e.vs
}

// Open wires a complete engine instance rooted at opts.Path: it opens
// (creating if necessary) the VersionSet's manifest and the WAL, replays
// the WAL into a fresh Mutable table (spec §9 Q1, resolved in
// DESIGN.md), and starts the Cleaner's background goroutine (via
// runner) and the Schema's freeze-watch goroutine (started internally
// by schema.Open). provider is the file I/O external collaborator spec
// §6.2 calls out — pass fsprovider.NewLocal() for the default on-disk
// layout. codec is the columnar encode/decode external collaborator
// spec §6.5 calls out; pass nil to use the default record.ZstdCodec.
func Open(ctx context.Context, opts config.Options, rschema *record.Schema, provider fsprovider.Provider, codec record.Codec, runner TaskRunner, logger *log.Logger) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if runner == nil {
		runner = goRunner{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "lsmengine: ", log.LstdFlags)
	}
	if codec == nil {
		codec = record.NewZstdCodec(0)
	}

	if err := provider.CreateDirAll(opts.Path); err != nil {
		return nil, fmt.Errorf("engine: create root dir: %w", err)
	}
	walDir := filepath.Join(opts.Path, "wal")
	if err := provider.CreateDirAll(walDir); err != nil {
		return nil, fmt.Errorf("engine: create wal dir: %w", err)
	}

	reg := metrics.NewRegistry()

	cleaner := version.NewCleaner(provider, logger)
	cleaner.Metrics = reg
	vs, err := version.Open(ctx, provider, opts.Path, cleaner)
	if err != nil {
		return nil, fmt.Errorf("engine: open version set: %w", err)
	}
	runner.Go(cleaner.Run)

	walLog, err := wal.OpenFileLog(filepath.Join(walDir, "0.log"))
	if err != nil {
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}

	e := &Engine{
		opts:      opts,
		rschema:   rschema,
		provider:  provider,
		walLog:    walLog,
		vs:        vs,
		cleaner:   cleaner,
		logger:    logger,
		metrics:   reg,
		openSnaps: make(map[key.Timestamp]int),
	}

	recovered, maxTs, err := replayWAL(ctx, rschema, walLog, opts.MaxMemTableSize)
	if err != nil {
		walLog.Close()
		return nil, fmt.Errorf("engine: recover wal: %w", err)
	}

	e.compactor = compaction.New(provider, vs, rschema, codec, cleaner, opts.CompactionConfig(), e.horizon)
	e.compactor.Metrics = reg
	e.sch = schema.Open(rschema, provider, codec, walLog, vs, e.compactor, recovered, opts.MaxMemTableSize, opts.ImmutableChunkNum, logger)

	stripes := opts.LockStripes
	if stripes <= 0 {
		stripes = 256
	}
	e.locks = txn.NewLockMap(stripes)

	e.nextTs = maxTs + 1
	e.lastCommit = maxTs

	return e, nil
}

// Close stops the Schema's freeze-watch goroutine, closes the WAL, and
// stops the Cleaner, waiting for its queue to drain. It does not
// force a final freeze of whatever is still in the Mutable table — a
// host that wants every write durably compacted before Close should
// drive that itself (spec treats Flush-on-shutdown as a host policy,
// not a core engine guarantee beyond WAL durability).
func (e *Engine) Close() error {
	e.sch.Stop()
	if err := e.walLog.Close(); err != nil {
		return fmt.Errorf("engine: close wal: %w", err)
	}
	e.cleaner.Stop()
	return nil
}

// Tx is a transaction handle bound to this Engine: it pairs
// pkg/txn.Transaction with the bookkeeping Engine needs to compute the
// GC horizon (spec §9 Q2) across every currently open transaction.
//
// The underlying Transaction is held unexported rather than embedded:
// Transaction has its own Commit/Abort that only release its Version
// pin, not the snapshot this Tx registered with Engine. Embedding would
// let a caller reach those directly (tx.Abort() instead of
// e.Abort(tx)), silently leaking the snapshot registration and pinning
// the GC horizon at that timestamp forever. Get/Set/Remove carry no
// such Engine-side state, so those are forwarded.
type Tx struct {
	tx         *txn.Transaction
	snapshotTs key.Timestamp
	closed     bool
}

// Get resolves uk as of this transaction's snapshot.
func (t *Tx) Get(uk key.UserKey, mask record.ProjectionMask) (*record.Record, bool, error) {
	return t.tx.Get(uk, mask)
}

// Set stages rec as a tentative insert.
func (t *Tx) Set(rec *record.Record) error {
	return t.tx.Set(rec)
}

// Remove stages a tombstone for uk.
func (t *Tx) Remove(uk key.UserKey) error {
	return t.tx.Remove(uk)
}

// Begin opens a new Transaction at a freshly assigned snapshot
// timestamp, registering it so major compaction's GC horizon (spec
// §4.G) never evicts a version this transaction might still read.
func (e *Engine) Begin() *Tx {
	ts := e.nextTimestamp()
	e.registerSnapshot(ts)
	t := txn.Open(e.sch, e.vs, e.locks, ts)
	t.Metrics = e.metrics
	return &Tx{
		tx:         t,
		snapshotTs: ts,
	}
}

// Commit assigns a fresh commit timestamp (spec §4.I's commit(commit_ts))
// and delegates to the Transaction, unregistering its snapshot
// regardless of outcome — a failed commit (ErrWriteConflict or an Io
// error) must be retried from a fresh Begin, per spec §7.
func (e *Engine) Commit(ctx context.Context, tx *Tx) error {
	if tx.closed {
		return txn.ErrClosed
	}
	tx.closed = true
	defer e.unregisterSnapshot(tx.snapshotTs)

	commitTs := e.nextTimestamp()
	err := tx.tx.Commit(ctx, commitTs)
	if err == nil {
		e.recordCommit(commitTs)
	}
	return err
}

// Abort discards tx's staged buffer without committing anything.
func (e *Engine) Abort(tx *Tx) error {
	if tx.closed {
		return txn.ErrClosed
	}
	tx.closed = true
	defer e.unregisterSnapshot(tx.snapshotTs)
	return tx.tx.Abort()
}

// Scan opens a merged, MVCC-visible stream over [lower, upper) as of
// the engine's latest committed state (not bound to any open
// transaction's snapshot) — a convenience for read-only callers that
// do not need transactional isolation. limit caps the number of
// distinct user keys yielded; pass mergeiter.NoLimit for no cap. The
// returned release func must be called once done driving the iterator.
func (e *Engine) Scan(lower, upper key.UserKey, limit int, mask record.ProjectionMask) (*mergeiter.Iterator, func(), error) {
	e.tsMu.Lock()
	ts := e.lastCommit
	e.tsMu.Unlock()
	return e.sch.Scan(lower, upper, ts, limit, mask)
}

func (e *Engine) nextTimestamp() key.Timestamp {
	e.tsMu.Lock()
	defer e.tsMu.Unlock()
	ts := e.nextTs
	e.nextTs++
	return ts
}

func (e *Engine) recordCommit(ts key.Timestamp) {
	e.tsMu.Lock()
	if ts > e.lastCommit {
		e.lastCommit = ts
	}
	e.tsMu.Unlock()
}

func (e *Engine) registerSnapshot(ts key.Timestamp) {
	e.tsMu.Lock()
	e.openSnaps[ts]++
	n := len(e.openSnaps)
	e.tsMu.Unlock()
	e.metrics.OpenTransactionsCurrent.Set(float64(n))
}

func (e *Engine) unregisterSnapshot(ts key.Timestamp) {
	e.tsMu.Lock()
	e.openSnaps[ts]--
	if e.openSnaps[ts] <= 0 {
		delete(e.openSnaps, ts)
	}
	n := len(e.openSnaps)
	e.tsMu.Unlock()
	e.metrics.OpenTransactionsCurrent.Set(float64(n))
}

// horizon implements compaction.HorizonFunc (spec §9 Q2): the oldest
// currently open transaction's snapshot timestamp, or — when no
// transaction is open — the most recent successful commit timestamp.
// Never wall-clock, since the engine has no synchronized clock source
// independent of what callers have actually committed.
func (e *Engine) horizon() key.Timestamp {
	e.tsMu.Lock()
	defer e.tsMu.Unlock()
	min, found := key.Timestamp(0), false
	for ts := range e.openSnaps {
		if !found || ts < min {
			min, found = ts, true
		}
	}
	if found {
		return min
	}
	return e.lastCommit
}
