package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/metrics"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/schema"
	"github.com/arkedb/lsmengine/pkg/version"
	"github.com/arkedb/lsmengine/pkg/wal"
)

// ErrWriteConflict is returned by Commit when a key in this
// transaction's write set was modified by another transaction after
// Open's snapshot was taken — spec §4.I's optimistic write-write
// conflict check, grounded on pkg/mvcc/transaction.go's Commit.
var ErrWriteConflict = errors.New("txn: write conflict")

// ErrClosed is returned by any operation attempted after Commit or
// Abort has already run.
var ErrClosed = errors.New("txn: transaction already closed")

// pendingWrite is a transaction-local tentative mutation: rec != nil is
// a staged insert, rec == nil a staged tombstone.
type pendingWrite struct {
	rec *record.Record
}

// Transaction is a single-writer, optimistic-concurrency-controlled
// session against one Schema. Grounded on pkg/mvcc/transaction.go's
// WriteSet/ReadSet shape, generalized from a TransactionManager-owned
// global version counter to this engine's per-key MVCC timestamp, and
// from a map-based write set to a Schema-routed local write buffer.
//
// Open pins the Schema's VersionSet at a Version so the Cleaner cannot
// retire a file this transaction might still need while it is open; the
// actual read path (Get) still resolves through Schema against the
// live current Version, filtered to snapshotTs — by the GC-horizon
// invariant (the Compactor never evicts a version at or above the
// oldest open transaction's snapshot timestamp, see pkg/compaction's
// HorizonFunc) that always yields the same visible content the pinned
// Version would have. The pin exists as the literal safety net spec
// §4.I describes, not because the two would otherwise diverge.
type Transaction struct {
	schema   *schema.Schema
	locks    *LockMap
	snapshot *version.Version

	snapshotTs key.Timestamp

	buffer map[string]pendingWrite
	order  []key.UserKey

	closed bool

	// Metrics is the optional observability collaborator spec §8's
	// ambient stack calls for; a nil Metrics records nothing. Exported
	// rather than threaded through Open so pkg/engine (the only caller)
	// can attach it without pkg/txn needing a dedicated constructor
	// parameter for something every other transaction-scoped field
	// already defaults to off.
	Metrics *metrics.Registry
}

// Open captures a read snapshot of vs and returns a Transaction bound
// to schema's read surface. snapshotTs is the timestamp every Get
// resolves against and must be assigned by a caller-shared authority
// (pkg/engine's commit-timestamp counter) so it never collides with a
// concurrently committing transaction's commitTs.
func Open(sch *schema.Schema, vs *version.VersionSet, locks *LockMap, snapshotTs key.Timestamp) *Transaction {
	return &Transaction{
		schema:     sch,
		locks:      locks,
		snapshot:   vs.Acquire(),
		snapshotTs: snapshotTs,
		buffer:     make(map[string]pendingWrite),
	}
}

// Get resolves uk as of the transaction's snapshot: the local write
// buffer first (read-your-own-writes), then Schema.Get. found is false
// only if no version of uk is visible at all; a staged or committed
// tombstone is reported as found with a nil record.
func (tx *Transaction) Get(uk key.UserKey, mask record.ProjectionMask) (*record.Record, bool, error) {
	if tx.closed {
		return nil, false, ErrClosed
	}
	if pw, ok := tx.buffer[string(uk)]; ok {
		return applyMask(pw.rec, mask), true, nil
	}

	e, ok, err := tx.schema.Get(uk, tx.snapshotTs)
	if err != nil || !ok {
		return nil, false, err
	}
	return applyMask(e.Record, mask), true, nil
}

// Set stages rec as a tentative insert, visible to this transaction's
// own later Gets but not committed until Commit succeeds.
func (tx *Transaction) Set(rec *record.Record) error {
	if tx.closed {
		return ErrClosed
	}
	uk, err := rec.PrimaryKey()
	if err != nil {
		return fmt.Errorf("txn: primary key: %w", err)
	}
	tx.stage(uk, pendingWrite{rec: rec})
	return nil
}

// Remove stages a tombstone for uk.
func (tx *Transaction) Remove(uk key.UserKey) error {
	if tx.closed {
		return ErrClosed
	}
	tx.stage(uk, pendingWrite{rec: nil})
	return nil
}

func (tx *Transaction) stage(uk key.UserKey, pw pendingWrite) {
	k := string(uk)
	if _, exists := tx.buffer[k]; !exists {
		tx.order = append(tx.order, uk)
	}
	tx.buffer[k] = pw
}

// Commit validates every staged key against Schema.CheckConflict under
// a sorted, cross-transaction-consistent lock order (LockMap.LockAll),
// then writes the whole buffer as one Schema write_batch tagged
// First/Middle/Last (or Full for a single write), so recovery either
// replays the whole commit or none of it. commitTs is assigned by the
// caller (pkg/engine) and must be strictly greater than every
// currently open transaction's snapshotTs.
//
// The transaction is closed (its buffer discarded, its Version pin
// released) whether Commit succeeds or fails; a failed commit must be
// retried from a fresh Open.
func (tx *Transaction) Commit(ctx context.Context, commitTs key.Timestamp) error {
	if tx.closed {
		return ErrClosed
	}
	defer tx.close()

	if len(tx.order) == 0 {
		if tx.Metrics != nil {
			tx.Metrics.CommitsTotal.Inc()
		}
		return nil
	}

	tx.locks.LockAll(tx.order)
	defer tx.locks.UnlockAll(tx.order)

	for _, uk := range tx.order {
		conflict, err := tx.schema.CheckConflict(uk, tx.snapshotTs)
		if err != nil {
			return fmt.Errorf("txn: check conflict: %w", err)
		}
		if conflict {
			if tx.Metrics != nil {
				tx.Metrics.WriteConflictsTotal.Inc()
			}
			return ErrWriteConflict
		}
	}

	logTypes := writeBatchLogTypes(len(tx.order))
	for i, uk := range tx.order {
		pw := tx.buffer[string(uk)]
		lt := logTypes[i]
		if pw.rec != nil {
			if _, err := tx.schema.Write(ctx, lt, pw.rec, commitTs); err != nil {
				return fmt.Errorf("txn: commit write: %w", err)
			}
			continue
		}
		if _, err := tx.schema.Remove(ctx, lt, uk, commitTs); err != nil {
			return fmt.Errorf("txn: commit remove: %w", err)
		}
	}
	if tx.Metrics != nil {
		tx.Metrics.CommitsTotal.Inc()
	}
	return nil
}

// Abort discards the staged buffer and releases the transaction's
// Version pin without writing anything.
func (tx *Transaction) Abort() error {
	if tx.closed {
		return ErrClosed
	}
	tx.close()
	return nil
}

func (tx *Transaction) close() {
	tx.closed = true
	tx.buffer = nil
	tx.order = nil
	tx.snapshot.Unref()
}

// writeBatchLogTypes tags a batch of n writes so recovery can tell a
// complete commit from a crash mid-batch: a lone write is Full; a
// multi-write batch opens with First, closes with Last, and everything
// between is Middle.
func writeBatchLogTypes(n int) []wal.LogType {
	if n == 1 {
		return []wal.LogType{wal.Full}
	}
	out := make([]wal.LogType, n)
	out[0] = wal.First
	for i := 1; i < n-1; i++ {
		out[i] = wal.Middle
	}
	out[n-1] = wal.Last
	return out
}

func applyMask(rec *record.Record, mask record.ProjectionMask) *record.Record {
	if rec == nil || len(mask.Columns) == 0 {
		return rec
	}
	values := make([]record.Value, len(rec.Schema.Columns))
	for c := range rec.Schema.Columns {
		if mask.Includes(c, rec.Schema.PrimaryKeyIndex) {
			values[c] = rec.Values[c]
		} else {
			values[c] = record.Value{Kind: rec.Schema.Columns[c].Kind, IsNull: true}
		}
	}
	return &record.Record{Schema: rec.Schema, Values: values}
}
