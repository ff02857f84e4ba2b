package sstable

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/memtable"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/segment"
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

func buildSegment(t *testing.T, schema *record.Schema, ids []int64) *segment.Segment {
	t.Helper()
	var entries []memtable.Entry
	for _, id := range ids {
		rec := testRecord(schema, id, "v")
		uk, err := rec.PrimaryKey()
		require.NoError(t, err)
		entries = append(entries, memtable.Entry{Key: key.New(uk, key.Timestamp(id)), Record: rec})
	}
	return segment.Freeze(fileid.New(), schema, entries)
}

func TestWriteThenScanRoundTrip(t *testing.T) {
	schema := testSchema()
	seg := buildSegment(t, schema, []int64{1, 2, 3, 4, 5})

	provider := fsprovider.NewLocal()
	dir := t.TempDir()
	path := filepath.Join(dir, string(seg.ID)+".sst")
	codec := record.NewZstdCodec(0)

	size, err := Write(provider, path, seg, codec, 2) // force multiple row groups
	require.NoError(t, err)

	reader, err := Open(provider, path, seg.ID, schema, codec, size)
	require.NoError(t, err)
	defer reader.Close()

	it, err := reader.Scan(nil, nil, 100, record.ProjectionMask{})
	require.NoError(t, err)

	var ids []int64
	for it.Next() {
		ids = append(ids, it.Entry().Record.Values[0].Int64)
	}
	require.NoError(t, it.Err())
	require.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
}

func TestBloomFilterPrunesAbsentKey(t *testing.T) {
	schema := testSchema()
	seg := buildSegment(t, schema, []int64{10, 20, 30})

	provider := fsprovider.NewLocal()
	path := filepath.Join(t.TempDir(), string(seg.ID)+".sst")
	codec := record.NewZstdCodec(0)

	size, err := Write(provider, path, seg, codec, 0)
	require.NoError(t, err)
	reader, err := Open(provider, path, seg.ID, schema, codec, size)
	require.NoError(t, err)
	defer reader.Close()

	present := testRecord(schema, 20, "v")
	uk, _ := present.PrimaryKey()
	require.True(t, reader.MayContain(uk))

	absent := testRecord(schema, 99, "v")
	ukAbsent, _ := absent.PrimaryKey()
	require.False(t, reader.MayContain(ukAbsent))
}
