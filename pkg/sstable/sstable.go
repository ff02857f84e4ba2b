// Package sstable implements the on-disk segment, spec component D: a
// columnar file identified by an opaque FileID, split into row groups
// each carrying its own key bounds for pruning, opened lazily through
// the fsprovider.Provider external collaborator. Grounded on
// pkg/lsm/sstable.go (laura-db) for the writer/reader/footer-at-tail
// shape, generalized from a single flat key/value stream to row groups
// of a columnar record.Batch, and from raw os.File calls to the
// fsprovider.Provider interface spec §6.2 requires.
package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/memtable"
	"github.com/arkedb/lsmengine/pkg/record"
	"github.com/arkedb/lsmengine/pkg/segment"
)

// DefaultRowsPerGroup bounds how many rows one row group holds; smaller
// groups prune more precisely at the cost of more groups to scan.
const DefaultRowsPerGroup = 4096

// rowGroupMeta is one row group's entry in the footer.
type rowGroupMeta struct {
	MinKey  key.UserKey
	MaxKey  key.UserKey
	Offset  int64
	Length  uint32
	NumRows int
}

// Write serializes seg to path via provider, as a sequence of
// zstd-compressed row groups (rowsPerGroup rows each) followed by a
// footer of row-group bounds and a bloom filter over every primary key.
// It returns the total file size, which callers must retain (alongside
// the FileID) to pass back into Open later.
func Write(provider fsprovider.Provider, path string, seg *segment.Segment, codec record.Codec, rowsPerGroup int) (int64, error) {
	if rowsPerGroup <= 0 {
		rowsPerGroup = DefaultRowsPerGroup
	}
	h, err := provider.Create(path)
	if err != nil {
		return 0, fmt.Errorf("sstable: create %s: %w", path, err)
	}
	defer h.Close()

	bloom := newBloomFilter(len(seg.Keys), 3)
	for _, k := range seg.Keys {
		bloom.add(k)
	}

	var groups []rowGroupMeta
	var offset int64
	n := seg.Batch.NumRows()
	for start := 0; start < n; start += rowsPerGroup {
		end := start + rowsPerGroup
		if end > n {
			end = n
		}
		body, err := encodeRowGroup(seg.Batch, start, end, codec)
		if err != nil {
			return 0, fmt.Errorf("sstable: encode row group: %w", err)
		}
		if _, err := h.Write(body); err != nil {
			return 0, fmt.Errorf("sstable: write row group: %w", err)
		}
		groups = append(groups, rowGroupMeta{
			MinKey:  seg.Keys[start],
			MaxKey:  seg.Keys[end-1],
			Offset:  offset,
			Length:  uint32(len(body)),
			NumRows: end - start,
		})
		offset += int64(len(body))
	}

	footer := encodeFooter(groups, bloom)
	if _, err := h.Write(footer); err != nil {
		return 0, fmt.Errorf("sstable: write footer: %w", err)
	}
	if err := h.Sync(); err != nil {
		return 0, err
	}
	return offset + int64(len(footer)), nil
}

func encodeRowGroup(b *record.Batch, start, end int, codec record.Codec) ([]byte, error) {
	sub := &record.Batch{
		Schema: b.Schema,
		Null:   b.Null[start:end],
		TS:     b.TS[start:end],
		Cols:   make([][]record.Value, len(b.Cols)),
	}
	for c := range b.Cols {
		sub.Cols[c] = b.Cols[c][start:end]
	}
	return codec.EncodeBatch(sub)
}

func encodeFooter(groups []rowGroupMeta, bloom *bloomFilter) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(groups)))
	for _, g := range groups {
		writeLenPrefixed(&buf, g.MinKey)
		writeLenPrefixed(&buf, g.MaxKey)
		binary.Write(&buf, binary.BigEndian, g.Offset)
		binary.Write(&buf, binary.BigEndian, g.Length)
		binary.Write(&buf, binary.BigEndian, uint32(g.NumRows))
	}
	bloomBytes := bloom.marshal()
	binary.Write(&buf, binary.BigEndian, uint32(len(bloomBytes)))
	buf.Write(bloomBytes)

	footerSize := uint32(buf.Len())
	binary.Write(&buf, binary.BigEndian, footerSize)
	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

// Reader is a lazily-opened view over one SST: the footer (row-group
// bounds + bloom filter) is read on Open, row-group bodies only on Scan.
type Reader struct {
	id     fileid.FileID
	path   string
	handle fsprovider.Handle
	schema *record.Schema
	codec  record.Codec
	groups []rowGroupMeta
	bloom  *bloomFilter
	fileSize int64
}

// Open reads path's footer and returns a Reader; row-group bodies are
// not read until Scan requests them.
func Open(provider fsprovider.Provider, path string, id fileid.FileID, schema *record.Schema, codec record.Codec, size int64) (*Reader, error) {
	h, err := provider.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sstable: open %s: %w", path, err)
	}

	var sizeBuf [4]byte
	if _, err := h.ReadAt(sizeBuf[:], size-4); err != nil {
		h.Close()
		return nil, fmt.Errorf("%w: read footer size: %v", ErrCorruptFooter, err)
	}
	footerSize := binary.BigEndian.Uint32(sizeBuf[:])

	footerBuf := make([]byte, footerSize)
	if _, err := h.ReadAt(footerBuf, size-4-int64(footerSize)); err != nil {
		h.Close()
		return nil, fmt.Errorf("%w: read footer: %v", ErrCorruptFooter, err)
	}

	groups, bloom, err := decodeFooter(footerBuf)
	if err != nil {
		h.Close()
		return nil, err
	}

	return &Reader{id: id, path: path, handle: h, schema: schema, codec: codec, groups: groups, bloom: bloom, fileSize: size}, nil
}

func decodeFooter(buf []byte) ([]rowGroupMeta, *bloomFilter, error) {
	r := bytes.NewReader(buf)
	var numGroups uint32
	if err := binary.Read(r, binary.BigEndian, &numGroups); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
	}
	groups := make([]rowGroupMeta, numGroups)
	for i := range groups {
		minKey, err := readLenPrefixed(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
		}
		maxKey, err := readLenPrefixed(r)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
		}
		var offset int64
		var length, numRows uint32
		if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
		}
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
		}
		if err := binary.Read(r, binary.BigEndian, &numRows); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
		}
		groups[i] = rowGroupMeta{MinKey: minKey, MaxKey: maxKey, Offset: offset, Length: length, NumRows: int(numRows)}
	}

	var bloomLen uint32
	if err := binary.Read(r, binary.BigEndian, &bloomLen); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
	}
	bloomBytes := make([]byte, bloomLen)
	if _, err := io.ReadFull(r, bloomBytes); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptFooter, err)
	}
	bloom, err := unmarshalBloomFilter(bloomBytes)
	if err != nil {
		return nil, nil, err
	}
	return groups, bloom, nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ID returns the segment's FileID.
func (r *Reader) ID() fileid.FileID { return r.id }

// MinKey and MaxKey report the file's overall key bounds.
func (r *Reader) MinKey() key.UserKey {
	if len(r.groups) == 0 {
		return nil
	}
	return r.groups[0].MinKey
}
func (r *Reader) MaxKey() key.UserKey {
	if len(r.groups) == 0 {
		return nil
	}
	return r.groups[len(r.groups)-1].MaxKey
}

// Close releases the underlying file handle.
func (r *Reader) Close() error { return r.handle.Close() }

// MayContain consults the bloom filter and overall key range before a
// point lookup opens any row group.
func (r *Reader) MayContain(uk key.UserKey) bool {
	if len(r.groups) == 0 {
		return false
	}
	if bytes.Compare(uk, r.MinKey()) < 0 || bytes.Compare(uk, r.MaxKey()) > 0 {
		return false
	}
	return r.bloom.mayContain(uk)
}

// nextKey returns the lexicographically smallest byte string strictly
// greater than uk, giving Get and CheckConflict an exclusive upper bound
// that selects exactly uk's rows out of Scan/ScanAllVersions' [lower,
// upper) range contract.
func nextKey(uk key.UserKey) key.UserKey {
	return append(append(key.UserKey{}, uk...), 0)
}

// Get resolves uk as of ts, mirroring Segment.Get: found is false only if
// no version of uk at or before ts exists in this file at all.
func (r *Reader) Get(uk key.UserKey, ts key.Timestamp) (memtable.Entry, bool, error) {
	if !r.MayContain(uk) {
		return memtable.Entry{}, false, nil
	}
	it, err := r.Scan(uk, nextKey(uk), ts, record.ProjectionMask{})
	if err != nil {
		return memtable.Entry{}, false, err
	}
	if it.Next() {
		return it.Entry(), true, nil
	}
	return memtable.Entry{}, false, it.Err()
}

// CheckConflict mirrors Segment.CheckConflict: true iff some version of
// uk in this file was written after snapshotTs.
func (r *Reader) CheckConflict(uk key.UserKey, snapshotTs key.Timestamp) (bool, error) {
	if !r.MayContain(uk) {
		return false, nil
	}
	it := r.ScanAllVersions(uk, nextKey(uk))
	for it.Next() {
		if it.Entry().Key.Timestamp > snapshotTs {
			return true, nil
		}
	}
	return false, it.Err()
}

// Scan streams the first visible version of each key in [lower, upper)
// as of ts, short-circuiting row groups whose range is disjoint from
// the bound. Tombstones are preserved; mask restricts returned columns.
func (r *Reader) Scan(lower, upper key.UserKey, ts key.Timestamp, mask record.ProjectionMask) (*Iterator, error) {
	start := sort.Search(len(r.groups), func(i int) bool {
		return bytes.Compare(r.groups[i].MaxKey, lower) >= 0
	})
	return &Iterator{reader: r, groupIdx: start, lower: lower, upper: upper, ts: ts, mask: mask}, nil
}

// Iterator walks a Reader's row groups in order, decoding each lazily
// and skipping any whose key range cannot intersect [lower, upper).
type Iterator struct {
	reader   *Reader
	groupIdx int

	lower, upper key.UserKey
	ts           key.Timestamp
	mask         record.ProjectionMask

	cur     memtable.Entry
	lastKey key.UserKey
	hasLast bool

	group *decodedGroup
	row   int
	err   error
}

type decodedGroup struct {
	keys  []key.UserKey
	batch *record.Batch
}

// Next advances to the next distinct visible user key. Returns false at
// end of stream or on a decode error; check Err after a false return.
func (it *Iterator) Next() bool {
	for {
		if it.group == nil {
			if !it.loadNextGroup() {
				return false
			}
		}
		for it.row < len(it.group.keys) {
			i := it.row
			it.row++

			uk := it.group.keys[i]
			if len(it.upper) > 0 && bytes.Compare(uk, it.upper) >= 0 {
				it.group = nil
				it.groupIdx = len(it.reader.groups)
				return false
			}
			if key.Timestamp(it.group.batch.TS[i]) > it.ts {
				continue
			}
			if it.hasLast && bytes.Equal(uk, it.lastKey) {
				continue
			}
			it.hasLast = true
			it.lastKey = uk

			tk := key.New(uk, key.Timestamp(it.group.batch.TS[i]))
			if it.group.batch.Null[i] {
				it.cur = memtable.Entry{Key: tk, Record: nil}
				return true
			}
			it.cur = memtable.Entry{Key: tk, Record: it.projected(i)}
			return true
		}
		it.group = nil
	}
}

func (it *Iterator) loadNextGroup() bool {
	for it.groupIdx < len(it.reader.groups) {
		g := it.reader.groups[it.groupIdx]
		it.groupIdx++

		if len(it.upper) > 0 && bytes.Compare(g.MinKey, it.upper) >= 0 {
			return false
		}
		if len(it.lower) > 0 && bytes.Compare(g.MaxKey, it.lower) < 0 {
			continue
		}

		raw := make([]byte, g.Length)
		if _, err := it.reader.handle.ReadAt(raw, g.Offset); err != nil {
			it.err = fmt.Errorf("sstable: read row group: %w", err)
			return false
		}
		batch, err := it.reader.codec.DecodeBatch(it.reader.schema, raw)
		if err != nil {
			it.err = fmt.Errorf("sstable: decode row group: %w", err)
			return false
		}
		keys := make([]key.UserKey, batch.NumRows())
		for i := 0; i < batch.NumRows(); i++ {
			uk, err := record.EncodeKey(batch.Cols[it.reader.schema.PrimaryKeyIndex][i])
			if err != nil {
				it.err = fmt.Errorf("sstable: re-derive key: %w", err)
				return false
			}
			keys[i] = uk
		}
		it.group = &decodedGroup{keys: keys, batch: batch}
		it.row = 0
		return true
	}
	return false
}

func (it *Iterator) projected(row int) *record.Record {
	schema := it.group.batch.Schema
	values := make([]record.Value, len(schema.Columns))
	for c := range schema.Columns {
		if it.mask.Includes(c, schema.PrimaryKeyIndex) {
			values[c] = it.group.batch.Cols[c][row]
		} else {
			values[c] = record.Value{Kind: schema.Columns[c].Kind, IsNull: true}
		}
	}
	return &record.Record{Schema: schema, Values: values}
}

// Entry returns the entry at the iterator's current position.
func (it *Iterator) Entry() memtable.Entry { return it.cur }

// Err reports any row-group decode error encountered during iteration.
func (it *Iterator) Err() error { return it.err }

// ScanAllVersions streams every row in [lower, upper) in stored order —
// no ts filtering, no per-key deduplication. Used by pkg/compaction's
// major-compaction merge, which must see every version of a key to
// apply GC-horizon retention itself rather than have a single visible
// version picked for it.
func (r *Reader) ScanAllVersions(lower, upper key.UserKey) *RawIterator {
	start := sort.Search(len(r.groups), func(i int) bool {
		return bytes.Compare(r.groups[i].MaxKey, lower) >= 0
	})
	return &RawIterator{reader: r, groupIdx: start, lower: lower, upper: upper}
}

// RawIterator walks every (key, ts) row of a Reader, version by version.
type RawIterator struct {
	reader   *Reader
	groupIdx int
	lower, upper key.UserKey

	cur   memtable.Entry
	group *decodedGroup
	row   int
	err   error
}

// Next advances to the next row, visible or not. Returns false at end of
// stream or on a decode error; check Err after a false return.
func (it *RawIterator) Next() bool {
	for {
		if it.group == nil {
			if !it.loadNextGroup() {
				return false
			}
		}
		if it.row < len(it.group.keys) {
			i := it.row
			it.row++

			uk := it.group.keys[i]
			if len(it.upper) > 0 && bytes.Compare(uk, it.upper) >= 0 {
				it.group = nil
				it.groupIdx = len(it.reader.groups)
				return false
			}

			tk := key.New(uk, key.Timestamp(it.group.batch.TS[i]))
			if it.group.batch.Null[i] {
				it.cur = memtable.Entry{Key: tk, Record: nil}
			} else {
				it.cur = memtable.Entry{Key: tk, Record: &record.Record{Schema: it.group.batch.Schema, Values: rowValues(it.group.batch, i)}}
			}
			return true
		}
		it.group = nil
	}
}

func rowValues(b *record.Batch, row int) []record.Value {
	values := make([]record.Value, len(b.Schema.Columns))
	for c := range b.Schema.Columns {
		values[c] = b.Cols[c][row]
	}
	return values
}

func (it *RawIterator) loadNextGroup() bool {
	for it.groupIdx < len(it.reader.groups) {
		g := it.reader.groups[it.groupIdx]
		it.groupIdx++

		if len(it.upper) > 0 && bytes.Compare(g.MinKey, it.upper) >= 0 {
			return false
		}
		if len(it.lower) > 0 && bytes.Compare(g.MaxKey, it.lower) < 0 {
			continue
		}

		raw := make([]byte, g.Length)
		if _, err := it.reader.handle.ReadAt(raw, g.Offset); err != nil {
			it.err = fmt.Errorf("sstable: read row group: %w", err)
			return false
		}
		batch, err := it.reader.codec.DecodeBatch(it.reader.schema, raw)
		if err != nil {
			it.err = fmt.Errorf("sstable: decode row group: %w", err)
			return false
		}
		keys := make([]key.UserKey, batch.NumRows())
		for i := 0; i < batch.NumRows(); i++ {
			uk, err := record.EncodeKey(batch.Cols[it.reader.schema.PrimaryKeyIndex][i])
			if err != nil {
				it.err = fmt.Errorf("sstable: re-derive key: %w", err)
				return false
			}
			keys[i] = uk
		}
		it.group = &decodedGroup{keys: keys, batch: batch}
		it.row = 0
		return true
	}
	return false
}

// Entry returns the entry at the iterator's current position.
func (it *RawIterator) Entry() memtable.Entry { return it.cur }

// Err reports any row-group decode error encountered during iteration.
func (it *RawIterator) Err() error { return it.err }
