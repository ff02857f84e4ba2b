// Package mergeiter implements the merge scan, spec component H: a
// k-way merge over heterogeneous sources — the Mutable table, the
// Immutable deque, and a Version's on-disk segments — each already
// deduplicated to one visible version per key, combined into a single
// ascending-user-key stream with source precedence breaking ties.
// Grounded on pkg/lsm.go's mergeSSTables (laura-db): select the minimum
// key among all live source iterators each step, and on a tie prefer
// whichever source was registered first.
package mergeiter

import (
	"bytes"
	"container/heap"

	"github.com/arkedb/lsmengine/pkg/memtable"
)

// Stream is the common shape memtable.Iterator, segment.Iterator, and
// sstable.Iterator all already satisfy.
type Stream interface {
	Next() bool
	Entry() memtable.Entry
}

// erroring is satisfied by sources (sstable.Iterator) that can fail
// mid-scan; Err is consulted once the stream is exhausted.
type erroring interface {
	Err() error
}

// Source pairs a Stream with its precedence rank: lower Rank wins ties.
// Callers register sources in precedence order — Mutable first, then
// Immutables newest to oldest, then L0 newest to oldest, then L1, L2,
// ... — and Rank simply mirrors registration order via New.
type Source struct {
	Stream Stream
	Rank   int
}

type heapItem struct {
	src   *Source
	entry memtable.Entry
}

type sourceHeap []*heapItem

func (h sourceHeap) Len() int { return len(h) }
func (h sourceHeap) Less(i, j int) bool {
	c := bytes.Compare(h[i].entry.Key.UserKey, h[j].entry.Key.UserKey)
	if c != 0 {
		return c < 0
	}
	return h[i].src.Rank < h[j].src.Rank
}
func (h sourceHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *sourceHeap) Push(x any)        { *h = append(*h, x.(*heapItem)) }
func (h *sourceHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// NoLimit passed as New's limit means "emit every distinct user key the
// sources contain" — the zero value would instead mean "emit nothing"
// (see limit=0 below), so unbounded callers must pass this explicitly.
const NoLimit = -1

// Iterator merges a fixed set of Sources into one stream, in ascending
// user-key order, yielding exactly one Entry per distinct user key: the
// entry from whichever source holds the lowest Rank among those
// currently positioned at that key.
type Iterator struct {
	sources []*Source
	h       sourceHeap
	cur     memtable.Entry
	err     error
	limit   int
	emitted int
}

// New builds a merge Iterator over sources, already ordered by caller
// precedence (sources[0] has the highest precedence). Each source's
// underlying Stream must already be positioned before its first Next.
// limit caps the number of distinct user keys Next will yield — pass
// NoLimit for no cap. A limit of 0 yields an empty stream: Next returns
// false immediately, without pulling from any source.
func New(sources []Stream, limit int) *Iterator {
	it := &Iterator{limit: limit}
	for i, s := range sources {
		src := &Source{Stream: s, Rank: i}
		it.sources = append(it.sources, src)
		it.pull(src)
	}
	heap.Init(&it.h)
	return it
}

func (it *Iterator) pull(src *Source) {
	if src.Stream.Next() {
		heap.Push(&it.h, &heapItem{src: src, entry: src.Stream.Entry()})
		return
	}
	if e, ok := src.Stream.(erroring); ok {
		if err := e.Err(); err != nil && it.err == nil {
			it.err = err
		}
	}
}

// Next advances to the next distinct user key across all sources,
// skipping lower-precedence entries for a key already emitted this
// step. Returns false at end of stream, once limit distinct keys have
// already been emitted, or on a source error; check Err.
func (it *Iterator) Next() bool {
	if it.err != nil || it.h.Len() == 0 {
		return false
	}
	if it.limit >= 0 && it.emitted >= it.limit {
		return false
	}

	top := heap.Pop(&it.h).(*heapItem)
	it.cur = top.entry
	winningKey := top.entry.Key.UserKey
	it.pull(top.src)

	// Drain every other source still positioned at the same user key;
	// their entries lose to the one already selected by rank. A pull
	// failure here only affects the *next* Next() call, not this one —
	// the winning entry was already read successfully.
	for it.h.Len() > 0 && bytes.Equal(it.h[0].entry.Key.UserKey, winningKey) {
		dup := heap.Pop(&it.h).(*heapItem)
		it.pull(dup.src)
	}

	it.emitted++
	return true
}

// Entry returns the entry at the iterator's current position.
func (it *Iterator) Entry() memtable.Entry { return it.cur }

// Err reports the first error surfaced by any underlying source.
func (it *Iterator) Err() error { return it.err }
