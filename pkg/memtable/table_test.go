package memtable

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/wal"
)

func testSchema() *record.Schema {
	return &record.Schema{
		Columns: []record.Column{
			{Name: "id", Kind: record.KindInt64},
			{Name: "name", Kind: record.KindString},
		},
		PrimaryKeyIndex: 0,
	}
}

func testRecord(schema *record.Schema, id int64, name string) *record.Record {
	return &record.Record{
		Schema: schema,
		Values: []record.Value{
			{Kind: record.KindInt64, Int64: id},
			{Kind: record.KindString, String: name},
		},
	}
}

func openTestLog(t *testing.T) *wal.FileLog {
	t.Helper()
	w, err := wal.OpenFileLog(filepath.Join(t.TempDir(), "table.log"))
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestTableInsertGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	tbl := New(schema, openTestLog(t), 1<<20)

	rec := testRecord(schema, 1, "alice")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, wal.Full, rec, 10)
	require.NoError(t, err)

	entry, found := tbl.Get(uk, 10)
	require.True(t, found)
	require.NotNil(t, entry.Record)
	require.Equal(t, "alice", entry.Record.Values[1].String)
}

func TestTableGetRespectsSnapshotTimestamp(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	tbl := New(schema, openTestLog(t), 1<<20)

	rec1 := testRecord(schema, 1, "v1")
	rec2 := testRecord(schema, 1, "v2")
	uk, err := rec1.PrimaryKey()
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, wal.Full, rec1, 10)
	require.NoError(t, err)
	_, err = tbl.Insert(ctx, wal.Full, rec2, 20)
	require.NoError(t, err)

	older, found := tbl.Get(uk, 15)
	require.True(t, found)
	require.Equal(t, "v1", older.Record.Values[1].String)

	newer, found := tbl.Get(uk, 25)
	require.True(t, found)
	require.Equal(t, "v2", newer.Record.Values[1].String)
}

func TestTableRemoveIsTombstoneNotDeletion(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	tbl := New(schema, openTestLog(t), 1<<20)

	rec := testRecord(schema, 1, "alice")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, wal.Full, rec, 10)
	require.NoError(t, err)
	_, err = tbl.Remove(ctx, wal.Full, uk, 20)
	require.NoError(t, err)

	entry, found := tbl.Get(uk, 25)
	require.True(t, found)
	require.Nil(t, entry.Record)

	before, found := tbl.Get(uk, 15)
	require.True(t, found)
	require.NotNil(t, before.Record)
}

func TestTableCheckConflict(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	tbl := New(schema, openTestLog(t), 1<<20)

	rec := testRecord(schema, 1, "alice")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)

	_, err = tbl.Insert(ctx, wal.Full, rec, 30)
	require.NoError(t, err)

	require.True(t, tbl.CheckConflict(uk, 20))
	require.False(t, tbl.CheckConflict(uk, 40))
}

func TestTableScanYieldsNewestVisibleVersionPerKey(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	tbl := New(schema, openTestLog(t), 1<<20)

	for i, id := range []int64{3, 1, 2} {
		rec := testRecord(schema, id, "v")
		_, err := tbl.Insert(ctx, wal.Full, rec, key.Timestamp(10+i))
		require.NoError(t, err)
	}
	// Second write to key 1 at a later timestamp.
	_, err := tbl.Insert(ctx, wal.Full, testRecord(schema, 1, "v2"), 50)
	require.NoError(t, err)

	it := tbl.Scan(nil, nil, 100)
	var ids []int64
	for it.Next() {
		ids = append(ids, it.Entry().Record.Values[0].Int64)
	}
	require.Equal(t, []int64{1, 2, 3}, ids)
}

func TestTableFreezeSignalFiresOnceOnOverflow(t *testing.T) {
	ctx := context.Background()
	schema := testSchema()
	tbl := New(schema, openTestLog(t), 1)

	_, err := tbl.Insert(ctx, wal.Full, testRecord(schema, 1, "a"), 1)
	require.NoError(t, err)
	_, err = tbl.Insert(ctx, wal.Full, testRecord(schema, 2, "b"), 2)
	require.NoError(t, err)

	select {
	case <-tbl.FreezeSignal():
	default:
		t.Fatal("expected freeze signal to have fired")
	}
	select {
	case <-tbl.FreezeSignal():
		t.Fatal("freeze signal should not queue a second time")
	default:
	}
}
