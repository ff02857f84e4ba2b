// Package key implements the timestamped composite key every LSM source
// orders by: (user_key, timestamp). Grounded on the ordering rules
// described for mutable-table and SSTable entries in pkg/lsm (laura-db)
// and the internal-key trailer convention used by rockyardkv's version set.
package key

import "bytes"

// UserKey is the caller-supplied primary-key encoding. The engine treats
// it as an opaque, totally ordered byte string; callers are responsible
// for encoding their typed primary key into a byte order that matches
// their intended comparison order.
type UserKey []byte

// Timestamp is a caller-assigned, monotonically increasing write
// timestamp. Ties within a transaction are broken by insertion order
// into the mutable table, not by the timestamp value itself.
type Timestamp uint64

// Timestamped is the composite (user_key, timestamp) key every source in
// the engine (mutable table, immutable segment, SST row group) orders
// its entries by.
type Timestamped struct {
	UserKey   UserKey
	Timestamp Timestamp
}

// New builds a Timestamped key.
func New(uk UserKey, ts Timestamp) Timestamped {
	return Timestamped{UserKey: uk, Timestamp: ts}
}

// Compare implements the composite order from spec §4.A: ascending by
// user key, then descending by timestamp, so the freshest version of a
// key precedes older ones in any ordered traversal.
func Compare(a, b Timestamped) int {
	if c := bytes.Compare(a.UserKey, b.UserKey); c != 0 {
		return c
	}
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts before b under Compare.
func Less(a, b Timestamped) bool {
	return Compare(a, b) < 0
}

// Equal reports whether a and b name the same (user_key, ts) pair.
func Equal(a, b Timestamped) bool {
	return a.Timestamp == b.Timestamp && bytes.Equal(a.UserKey, b.UserKey)
}

// SameUserKey reports whether a and b share a user key, ignoring ts.
func SameUserKey(a, b Timestamped) bool {
	return bytes.Equal(a.UserKey, b.UserKey)
}

// Encode produces a byte encoding of the composite key: the user key
// bytes followed by the timestamp in big-endian order. The byte order of
// the timestamp only needs to be internally consistent — callers must
// use Compare, not bytes.Compare on the encoding, for logical ordering,
// since ts sorts descending while the encoding is ascending-friendly for
// storage locality (rows for the same key group together on disk).
func Encode(k Timestamped) []byte {
	buf := make([]byte, len(k.UserKey)+8)
	n := copy(buf, k.UserKey)
	putUint64BE(buf[n:], uint64(k.Timestamp))
	return buf
}

func putUint64BE(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

// Decode splits an Encode-produced buffer back into its composite key,
// given the length of the user key portion.
func Decode(buf []byte, userKeyLen int) Timestamped {
	uk := make(UserKey, userKeyLen)
	copy(uk, buf[:userKeyLen])
	ts := uint64(0)
	for _, b := range buf[userKeyLen : userKeyLen+8] {
		ts = ts<<8 | uint64(b)
	}
	return Timestamped{UserKey: uk, Timestamp: Timestamp(ts)}
}
