package engine

import (
	"context"
	"fmt"

	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/memtable"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/wal"
)

// replayWAL implements spec §9's recovery open question, resolved in
// DESIGN.md: replay log records in append order into a fresh Mutable
// table, buffering each First..Last run and applying it atomically once
// Last is seen, ordered by the commit timestamp each record already
// carries rather than by append position. A trailing run with no
// closing Last (a crash mid-transaction) is discarded.
//
// Simplification documented in DESIGN.md: this implementation has no
// WAL segment rotation, so the log is never truncated once its source
// Immutable has been durably flushed to an SST. Recovery therefore
// always replays the whole log rather than skipping entries already
// covered by the manifest. This is safe, not merely expedient: a
// replayed entry whose (key, ts) already exists in a flushed SST is
// byte-identical to the one on disk (the WAL payload is exactly what
// was flushed), so re-inserting it into the fresh Mutable table changes
// no visible content — mergeiter's source-rank tie-break simply has the
// Mutable table's copy shadow the on-disk copy of the same version
// until the next freeze/compaction cycle folds them back together.
func replayWAL(ctx context.Context, rschema *record.Schema, log wal.Log, maxMemTableSize int64) (*memtable.Table, key.Timestamp, error) {
	table := memtable.New(rschema, log, maxMemTableSize)

	it, err := log.Recover(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("engine: start wal recovery: %w", err)
	}
	defer it.Close()

	type pendingEntry struct {
		k   key.Timestamped
		rec *record.Record
	}
	var pending []pendingEntry
	var maxTs key.Timestamp

	apply := func(entries []pendingEntry) {
		for _, e := range entries {
			table.ApplyRecovered(e.k, e.rec)
		}
	}

	for it.Next() {
		rec := it.Record()
		k, decoded, err := memtable.DecodeEntry(rschema, rec.Payload)
		if err != nil {
			// A corrupt trailing frame is the same as an unfinished
			// append: stop replaying and discard whatever run was still
			// pending, exactly as a truncated Last would be discarded.
			break
		}
		if k.Timestamp > maxTs {
			maxTs = k.Timestamp
		}

		switch rec.Type {
		case wal.Full:
			apply([]pendingEntry{{k, decoded}})
		case wal.First:
			pending = []pendingEntry{{k, decoded}}
		case wal.Middle:
			pending = append(pending, pendingEntry{k, decoded})
		case wal.Last:
			pending = append(pending, pendingEntry{k, decoded})
			apply(pending)
			pending = nil
		}
	}
	if err := it.Err(); err != nil {
		return nil, 0, fmt.Errorf("engine: wal recovery: %w", err)
	}
	// pending left over (a First/Middle run with no Last) is a crash
	// mid-commit and is discarded, per spec §6.3.

	return table, maxTs, nil
}
