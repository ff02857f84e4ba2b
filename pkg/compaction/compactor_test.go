package compaction

import (
	"bytes"
	"context"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/memtable"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/segment"
	"github.com/arkedb/lsmengine/pkg/version"
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

func newTestCompactor(t *testing.T, horizon key.Timestamp) (*Compactor, *version.VersionSet) {
	t.Helper()
	provider := fsprovider.NewLocal()
	cleaner := version.NewCleaner(provider, log.New(os.Stderr, "", 0))
	vs, err := version.Open(context.Background(), provider, t.TempDir(), cleaner)
	require.NoError(t, err)
	go cleaner.Run()
	t.Cleanup(cleaner.Stop)

	cfg := DefaultConfig()
	c := New(provider, vs, testSchema(), record.NewZstdCodec(0), cleaner, cfg, func() key.Timestamp { return horizon })
	return c, vs
}

func TestRunMinorPersistsSegmentsAndPublishesEdit(t *testing.T) {
	schema := testSchema()
	c, vs := newTestCompactor(t, 0)

	seg1 := segment.Freeze(fileid.New(), schema, []memtable.Entry{
		{Key: key.New(key.UserKey{0, 0, 0, 0, 0, 0, 0, 1}, 1), Record: testRecord(schema, 1, "a")},
	})
	seg2 := segment.Freeze(fileid.New(), schema, []memtable.Entry{
		{Key: key.New(key.UserKey{0, 0, 0, 0, 0, 0, 0, 2}, 1), Record: testRecord(schema, 2, "b")},
	})

	v, err := c.RunMinor(context.Background(), []*segment.Segment{seg1, seg2})
	require.NoError(t, err)
	require.Len(t, v.Segments[0], 2)
	require.Same(t, v, vs.Current())
}

func TestRunMajorPromotesViolatingLevel(t *testing.T) {
	schema := testSchema()
	c, vs := newTestCompactor(t, 0)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.MajorThresholdWithSSTSize = 2
	c.cfg = cfg

	var segs []*segment.Segment
	for i := int64(1); i <= 3; i++ {
		uk, err := testRecord(schema, i, "v").PrimaryKey()
		require.NoError(t, err)
		segs = append(segs, segment.Freeze(fileid.New(), schema, []memtable.Entry{
			{Key: key.New(uk, key.Timestamp(i)), Record: testRecord(schema, i, "v")},
		}))
	}
	_, err := c.RunMinor(ctx, segs)
	require.NoError(t, err)
	require.Len(t, vs.Current().Segments[0], 3)

	require.NoError(t, c.RunMajor(ctx))

	cur := vs.Current()
	require.Len(t, cur.Segments[0], 1, "major compaction stops once L0 drops below its threshold")
	require.Len(t, cur.Segments[1], 2, "the two promoted, non-overlapping keys land in separate L1 segments")
}

func TestApplyGCHorizonCollapsesVersionsBelowHorizon(t *testing.T) {
	schema := testSchema()
	uk, err := testRecord(schema, 1, "v").PrimaryKey()
	require.NoError(t, err)

	entries := []memtable.Entry{
		{Key: key.New(uk, 50), Record: testRecord(schema, 1, "newest")},
		{Key: key.New(uk, 30), Record: testRecord(schema, 1, "middle")},
		{Key: key.New(uk, 10), Record: testRecord(schema, 1, "oldest")},
	}

	out := applyGCHorizon(entries, 40)
	require.Len(t, out, 2)
	require.Equal(t, "newest", out[0].Record.Values[1].String)
	require.Equal(t, "middle", out[1].Record.Values[1].String)
}

func TestApplyGCHorizonDropsEverythingBehindATombstone(t *testing.T) {
	schema := testSchema()
	uk, err := testRecord(schema, 1, "v").PrimaryKey()
	require.NoError(t, err)

	entries := []memtable.Entry{
		{Key: key.New(uk, 30), Record: nil},
		{Key: key.New(uk, 10), Record: testRecord(schema, 1, "oldest")},
	}

	out := applyGCHorizon(entries, 40)
	require.Empty(t, out)
}

func TestSplitRowsChunksByEstimatedSize(t *testing.T) {
	schema := testSchema()
	var entries []memtable.Entry
	for i := int64(1); i <= 10; i++ {
		uk, err := testRecord(schema, i, "v").PrimaryKey()
		require.NoError(t, err)
		entries = append(entries, memtable.Entry{Key: key.New(uk, 1), Record: testRecord(schema, i, "v")})
	}

	out := splitRows(entries, bytesPerRowEstimate*3)
	require.Len(t, out, 4) // ceil(10/3), every key distinct so no boundary is pushed out
	require.Len(t, out[0], 3)
	require.Len(t, out[3], 1)
}

func TestSplitRowsNeverSplitsAUserKeysVersionsAcrossChunks(t *testing.T) {
	schema := testSchema()
	uk, err := testRecord(schema, 1, "v").PrimaryKey()
	require.NoError(t, err)

	rowsPerFile := int(bytesPerRowEstimate * 3 / bytesPerRowEstimate) // == 3
	require.Equal(t, 3, rowsPerFile)

	// straddlingKey carries more retained versions than fit in one chunk
	// under the naive row-count cutoff, so its run must span what would
	// otherwise be a chunk boundary.
	var entries []memtable.Entry
	entries = append(entries,
		memtable.Entry{Key: key.New(uk, 50), Record: testRecord(schema, 1, "v50")},
		memtable.Entry{Key: key.New(uk, 40), Record: testRecord(schema, 1, "v40")},
		memtable.Entry{Key: key.New(uk, 30), Record: testRecord(schema, 1, "v30")},
		memtable.Entry{Key: key.New(uk, 20), Record: testRecord(schema, 1, "v20")},
	)
	otherUK, err := testRecord(schema, 2, "v").PrimaryKey()
	require.NoError(t, err)
	entries = append(entries, memtable.Entry{Key: key.New(otherUK, 1), Record: testRecord(schema, 2, "v")})

	out := splitRows(entries, bytesPerRowEstimate*3)
	require.Len(t, out, 2, "the straddling key's 4 versions are kept whole even though that exceeds the row-count cutoff")
	for _, e := range out[0] {
		require.True(t, bytes.Equal(e.Key.UserKey, uk), "every entry in the first chunk must belong to the straddling key")
	}
	require.Len(t, out[0], 4)
	require.Len(t, out[1], 1)
	require.True(t, bytes.Equal(out[1][0].Key.UserKey, otherUK))
}
