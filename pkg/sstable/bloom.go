package sstable

import (
	"encoding/binary"
	"hash/fnv"
)

// bloomFilter is a probabilistic membership test over a segment's
// primary keys, consulted before a point lookup opens the file at all.
// Grounded on pkg/lsm/bloom.go (laura-db) verbatim in algorithm (double
// hashing via FNV-1a, same 10-bits-per-key sizing), renamed to stay
// unexported since sstable is the only consumer.
type bloomFilter struct {
	bits      []byte
	size      int
	numHashes int
}

func newBloomFilter(expectedItems, numHashes int) *bloomFilter {
	if expectedItems < 1 {
		expectedItems = 1
	}
	size := expectedItems * 10
	byteSize := (size + 7) / 8
	return &bloomFilter{bits: make([]byte, byteSize), size: size, numHashes: numHashes}
}

func (bf *bloomFilter) add(k []byte) {
	for i := 0; i < bf.numHashes; i++ {
		h := bf.hash(k, i)
		bit := h % uint64(bf.size)
		bf.bits[bit/8] |= 1 << (bit % 8)
	}
}

func (bf *bloomFilter) mayContain(k []byte) bool {
	for i := 0; i < bf.numHashes; i++ {
		h := bf.hash(k, i)
		bit := h % uint64(bf.size)
		if bf.bits[bit/8]&(1<<(bit%8)) == 0 {
			return false
		}
	}
	return true
}

func (bf *bloomFilter) hash(k []byte, i int) uint64 {
	h := fnv.New64a()
	h.Write(k)
	h1 := h.Sum64()

	h.Reset()
	h.Write(k)
	h.Write([]byte{byte(i)})
	h2 := h.Sum64()

	return h1 + uint64(i)*h2
}

func (bf *bloomFilter) marshal() []byte {
	buf := make([]byte, 8+len(bf.bits))
	binary.BigEndian.PutUint32(buf[0:4], uint32(bf.size))
	binary.BigEndian.PutUint32(buf[4:8], uint32(bf.numHashes))
	copy(buf[8:], bf.bits)
	return buf
}

func unmarshalBloomFilter(data []byte) (*bloomFilter, error) {
	if len(data) < 8 {
		return nil, ErrCorruptFooter
	}
	size := int(binary.BigEndian.Uint32(data[0:4]))
	numHashes := int(binary.BigEndian.Uint32(data[4:8]))
	bits := append([]byte(nil), data[8:]...)
	return &bloomFilter{bits: bits, size: size, numHashes: numHashes}, nil
}
