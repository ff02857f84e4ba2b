package txn

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkedb/lsmengine/pkg/compaction"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/schema"
	"github.com/arkedb/lsmengine/pkg/version"
)

func testRSchema() *record.Schema {
	return &record.Schema{
		Columns: []record.Column{
			{Name: "id", Kind: record.KindInt64},
			{Name: "name", Kind: record.KindString},
		},
		PrimaryKeyIndex: 0,
	}
}

func testRecord(rschema *record.Schema, id int64, name string) *record.Record {
	return &record.Record{
		Schema: rschema,
		Values: []record.Value{
			{Kind: record.KindInt64, Int64: id},
			{Kind: record.KindString, String: name},
		},
	}
}

type testHarness struct {
	schema *schema.Schema
	vs     *version.VersionSet
	locks  *LockMap
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	provider := fsprovider.NewLocal()
	cleaner := version.NewCleaner(provider, log.New(os.Stderr, "", 0))
	vs, err := version.Open(context.Background(), provider, t.TempDir(), cleaner)
	require.NoError(t, err)
	go cleaner.Run()
	t.Cleanup(cleaner.Stop)

	rschema := testRSchema()
	codec := record.NewZstdCodec(0)
	cfg := compaction.DefaultConfig()
	c := compaction.New(provider, vs, rschema, codec, cleaner, cfg, func() key.Timestamp { return 0 })

	sch := schema.Open(rschema, provider, codec, nil, vs, c, nil, 1<<30, 10, nil)
	t.Cleanup(sch.Stop)

	return &testHarness{schema: sch, vs: vs, locks: NewLockMap(16)}
}

func TestCommitWriteIsVisibleToLaterTransaction(t *testing.T) {
	h := newTestHarness(t)
	rschema := testRSchema()

	seed := testRecord(rschema, 1, "a")
	uk, err := seed.PrimaryKey()
	require.NoError(t, err)

	tx1 := Open(h.schema, h.vs, h.locks, 10)
	require.NoError(t, tx1.Set(seed))
	require.NoError(t, tx1.Commit(context.Background(), 10))

	tx2 := Open(h.schema, h.vs, h.locks, 20)
	rec, ok, err := tx2.Get(uk, record.ProjectionMask{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", rec.Values[1].String)
	require.NoError(t, tx2.Abort())
}

func TestGetSeesOwnUncommittedWrite(t *testing.T) {
	h := newTestHarness(t)
	rschema := testRSchema()

	tx := Open(h.schema, h.vs, h.locks, 10)
	rec := testRecord(rschema, 1, "a")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)
	require.NoError(t, tx.Set(rec))

	got, ok, err := tx.Get(uk, record.ProjectionMask{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got.Values[1].String)

	require.NoError(t, tx.Abort())

	tx2 := Open(h.schema, h.vs, h.locks, 20)
	_, ok, err = tx2.Get(uk, record.ProjectionMask{})
	require.NoError(t, err)
	require.False(t, ok, "an aborted transaction's writes must never become visible")
	require.NoError(t, tx2.Abort())
}

func TestCommitDetectsWriteConflict(t *testing.T) {
	h := newTestHarness(t)
	rschema := testRSchema()
	rec := testRecord(rschema, 1, "a")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)

	tx0 := Open(h.schema, h.vs, h.locks, 5)
	require.NoError(t, tx0.Set(rec))
	require.NoError(t, tx0.Commit(context.Background(), 5))

	// tx1 and tx2 both open a snapshot before either commits, then race
	// to write the same key. The second committer must see a conflict:
	// tx1's commit lands at ts 20, which is after tx2's snapshot (10).
	tx1 := Open(h.schema, h.vs, h.locks, 10)
	tx2 := Open(h.schema, h.vs, h.locks, 10)

	require.NoError(t, tx1.Set(testRecord(rschema, 1, "from-tx1")))
	require.NoError(t, tx1.Commit(context.Background(), 20))

	require.NoError(t, tx2.Set(testRecord(rschema, 1, "from-tx2")))
	err = tx2.Commit(context.Background(), 21)
	require.ErrorIs(t, err, ErrWriteConflict)

	tx3 := Open(h.schema, h.vs, h.locks, 30)
	got, ok, err := tx3.Get(uk, record.ProjectionMask{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "from-tx1", got.Values[1].String, "the losing transaction's write must not be applied")
	require.NoError(t, tx3.Abort())
}

func TestRemoveStagesTombstone(t *testing.T) {
	h := newTestHarness(t)
	rschema := testRSchema()
	rec := testRecord(rschema, 1, "a")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)

	tx0 := Open(h.schema, h.vs, h.locks, 5)
	require.NoError(t, tx0.Set(rec))
	require.NoError(t, tx0.Commit(context.Background(), 5))

	tx1 := Open(h.schema, h.vs, h.locks, 10)
	require.NoError(t, tx1.Remove(uk))
	require.NoError(t, tx1.Commit(context.Background(), 10))

	tx2 := Open(h.schema, h.vs, h.locks, 20)
	got, ok, err := tx2.Get(uk, record.ProjectionMask{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, got, "a committed tombstone is a found entry with no record")
	require.NoError(t, tx2.Abort())
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	h := newTestHarness(t)
	tx := Open(h.schema, h.vs, h.locks, 10)
	require.NoError(t, tx.Abort())

	_, _, err := tx.Get(key.UserKey("x"), record.ProjectionMask{})
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, tx.Abort(), ErrClosed)
	require.ErrorIs(t, tx.Commit(context.Background(), 99), ErrClosed)
}
