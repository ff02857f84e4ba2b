package schema

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arkedb/lsmengine/pkg/compaction"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/mergeiter"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/version"
	"github.com/arkedb/lsmengine/pkg/wal"
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

func newTestSchema(t *testing.T, maxMemTableSize int64, immutableChunkNum int) (*Schema, *version.VersionSet) {
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

	s := Open(rschema, provider, codec, nil, vs, c, nil, maxMemTableSize, immutableChunkNum, nil)
	t.Cleanup(s.Stop)
	return s, vs
}

func TestWriteThenGetReturnsValue(t *testing.T) {
	s, _ := newTestSchema(t, 1<<30, 10)
	rschema := testRSchema()
	ctx := context.Background()

	rec := testRecord(rschema, 1, "a")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)

	_, err = s.Write(ctx, wal.Full, rec, 10)
	require.NoError(t, err)

	e, ok, err := s.Get(uk, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", e.Record.Values[1].String)
}

func TestRemoveCreatesTombstoneVisibleAtGet(t *testing.T) {
	s, _ := newTestSchema(t, 1<<30, 10)
	rschema := testRSchema()
	ctx := context.Background()

	rec := testRecord(rschema, 1, "a")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)

	_, err = s.Write(ctx, wal.Full, rec, 10)
	require.NoError(t, err)
	_, err = s.Remove(ctx, wal.Full, uk, 20)
	require.NoError(t, err)

	e, ok, err := s.Get(uk, 20)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, e.Record, "a tombstone is a found entry with no record")

	e, ok, err = s.Get(uk, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", e.Record.Values[1].String)
}

func TestFreezeTriggersMinorCompactionAndDrainsImmutable(t *testing.T) {
	s, vs := newTestSchema(t, 1, 1) // any write crosses maxSize immediately
	rschema := testRSchema()
	ctx := context.Background()

	rec := testRecord(rschema, 1, "a")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)

	_, err = s.Write(ctx, wal.Full, rec, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(vs.Current().Segments[0]) == 1
	}, time.Second, time.Millisecond, "minor compaction should publish the frozen segment to L0")

	require.Eventually(t, func() bool {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return len(s.immutable) == 0
	}, time.Second, time.Millisecond, "the immutable deque should be drained once the minor compaction succeeds")

	e, ok, err := s.Get(uk, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", e.Record.Values[1].String, "the value should still resolve once it has moved to L0")
}

func TestScanMergesMutableAndPersistedSources(t *testing.T) {
	s, vs := newTestSchema(t, 1, 1)
	rschema := testRSchema()
	ctx := context.Background()

	older := testRecord(rschema, 1, "older")
	_, err := s.Write(ctx, wal.Full, older, 10)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(vs.Current().Segments[0]) == 1
	}, time.Second, time.Millisecond)

	newer := testRecord(rschema, 2, "newer")
	_, err = s.Write(ctx, wal.Full, newer, 20)
	require.NoError(t, err)

	it, release, err := s.Scan(nil, nil, 20, mergeiter.NoLimit, record.ProjectionMask{})
	require.NoError(t, err)
	defer release()

	var names []string
	for it.Next() {
		names = append(names, it.Entry().Record.Values[1].String)
	}
	require.NoError(t, it.Err())
	require.ElementsMatch(t, []string{"older", "newer"}, names)
}

func TestScanLimitZeroReturnsEmptyStream(t *testing.T) {
	s, _ := newTestSchema(t, 1<<30, 10)
	rschema := testRSchema()
	ctx := context.Background()

	_, err := s.Write(ctx, wal.Full, testRecord(rschema, 1, "a"), 10)
	require.NoError(t, err)

	it, release, err := s.Scan(nil, nil, 10, 0, record.ProjectionMask{})
	require.NoError(t, err)
	defer release()

	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestScanRejectsEmptyRange(t *testing.T) {
	s, _ := newTestSchema(t, 1<<30, 10)
	rschema := testRSchema()
	ctx := context.Background()

	rec := testRecord(rschema, 1, "a")
	uk, err := rec.PrimaryKey()
	require.NoError(t, err)
	_, err = s.Write(ctx, wal.Full, rec, 10)
	require.NoError(t, err)

	it, release, err := s.Scan(uk, uk, 10, mergeiter.NoLimit, record.ProjectionMask{})
	require.NoError(t, err)
	defer release()

	require.False(t, it.Next(), "a zero-width [uk, uk) range must yield nothing even though uk was written")
}
