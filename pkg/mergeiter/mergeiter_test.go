package mergeiter

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/memtable"
	"github.com/arkedb/lsmengine/pkg/record"
)

// sliceStream is a minimal Stream over a fixed, pre-sorted entry slice,
// used to drive mergeiter without standing up a real memtable/segment.
type sliceStream struct {
	entries []memtable.Entry
	i       int
}

func (s *sliceStream) Next() bool {
	if s.i >= len(s.entries) {
		return false
	}
	s.i++
	return true
}
func (s *sliceStream) Entry() memtable.Entry { return s.entries[s.i-1] }

func entry(uk string, ts key.Timestamp, val string) memtable.Entry {
	return memtable.Entry{
		Key:    key.New(key.UserKey(uk), ts),
		Record: &record.Record{Values: []record.Value{{Kind: record.KindString, String: val}}},
	}
}

func tombstone(uk string, ts key.Timestamp) memtable.Entry {
	return memtable.Entry{Key: key.New(key.UserKey(uk), ts), Record: nil}
}

func TestMergeOrdersByUserKeyAscending(t *testing.T) {
	a := &sliceStream{entries: []memtable.Entry{entry("a", 1, "a1"), entry("c", 1, "c1")}}
	b := &sliceStream{entries: []memtable.Entry{entry("b", 1, "b1")}}

	it := New([]Stream{a, b}, NoLimit)

	var got []string
	for it.Next() {
		got = append(got, string(it.Entry().Key.UserKey))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMergePrefersHigherPrecedenceSourceOnKeyCollision(t *testing.T) {
	mutable := &sliceStream{entries: []memtable.Entry{entry("a", 5, "fresh")}}
	onDisk := &sliceStream{entries: []memtable.Entry{entry("a", 1, "stale")}}

	// mutable registered first (index 0) so it wins ties on the same key.
	it := New([]Stream{mutable, onDisk}, NoLimit)

	require.True(t, it.Next())
	require.Equal(t, "fresh", it.Entry().Record.Values[0].String)
	require.False(t, it.Next())
}

func TestMergePreservesTombstones(t *testing.T) {
	a := &sliceStream{entries: []memtable.Entry{tombstone("a", 2)}}

	it := New([]Stream{a}, NoLimit)
	require.True(t, it.Next())
	require.Nil(t, it.Entry().Record)
	require.False(t, it.Next())
}

func TestMergeSkipsLowerPrecedenceDuplicatesAcrossManySources(t *testing.T) {
	s1 := &sliceStream{entries: []memtable.Entry{entry("k", 3, "s1")}}
	s2 := &sliceStream{entries: []memtable.Entry{entry("k", 2, "s2")}}
	s3 := &sliceStream{entries: []memtable.Entry{entry("k", 1, "s3")}}

	it := New([]Stream{s1, s2, s3}, NoLimit)
	require.True(t, it.Next())
	require.Equal(t, "s1", it.Entry().Record.Values[0].String)
	require.False(t, it.Next())
}

func TestMergeLimitZeroYieldsEmptyStream(t *testing.T) {
	a := &sliceStream{entries: []memtable.Entry{entry("a", 1, "a1"), entry("b", 1, "b1")}}

	it := New([]Stream{a}, 0)
	require.False(t, it.Next())
	require.NoError(t, it.Err())
}

func TestMergeLimitCapsDistinctUserKeys(t *testing.T) {
	a := &sliceStream{entries: []memtable.Entry{entry("a", 1, "a1"), entry("b", 1, "b1"), entry("c", 1, "c1")}}

	it := New([]Stream{a}, 2)

	var got []string
	for it.Next() {
		got = append(got, string(it.Entry().Key.UserKey))
	}
	require.NoError(t, it.Err())
	require.Equal(t, []string{"a", "b"}, got)
}
