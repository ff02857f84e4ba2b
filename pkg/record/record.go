// Package record defines the typed, user-declared row shape the engine
// stores: a fixed schema with a declared primary key, plus the two
// engine-reserved columns (_null, _ts). Grounded on the MemTableEntry /
// column conventions in pkg/lsm (laura-db), generalized from a raw
// []byte key-value pair to a typed, multi-column record.
package record

import (
	"fmt"

	"github.com/arkedb/lsmengine/pkg/key"
)

// Kind identifies a column's value type.
type Kind int

const (
	KindBool Kind = iota
	KindInt64
	KindFloat64
	KindString
	KindBytes
)

// Value is a single column value. Exactly one of the fields is
// meaningful, selected by Kind; IsNull marks a SQL-style absent value
// distinct from the tombstone bit carried on the whole record.
type Value struct {
	Kind     Kind
	IsNull   bool
	Bool     bool
	Int64    int64
	Float64  float64
	String   string
	Bytes    []byte
}

// Column describes one user-declared column.
type Column struct {
	Name string
	Kind Kind
}

// Schema is the fixed, declared shape of every record in one database.
// Column 0..N-1 are user columns; PrimaryKeyIndex names which of them is
// the primary key. The two engine-reserved columns (_null, _ts) are not
// part of Columns — they are carried out of band on every entry (see
// pkg/memtable and pkg/segment).
type Schema struct {
	Columns        []Column
	PrimaryKeyIndex int
}

// PrimaryKeyColumn returns the declared primary-key column.
func (s Schema) PrimaryKeyColumn() Column {
	return s.Columns[s.PrimaryKeyIndex]
}

// ColumnIndex returns the index of the named column, or -1.
func (s Schema) ColumnIndex(name string) int {
	for i, c := range s.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Record is one row: a schema reference plus one Value per column.
type Record struct {
	Schema *Schema
	Values []Value
}

// PrimaryKey extracts the typed primary key and encodes it into the
// opaque, totally ordered byte form pkg/key.UserKey requires.
func (r Record) PrimaryKey() (key.UserKey, error) {
	return EncodeKey(r.Values[r.Schema.PrimaryKeyIndex])
}

// EncodeKey produces an order-preserving byte encoding of a single
// column value, suitable for use as a pkg/key.UserKey. Strings and
// bytes are used as-is and int64 is fixed-width big-endian with the
// sign bit flipped, so byte-wise comparison matches the column's
// natural order.
func EncodeKey(v Value) (key.UserKey, error) {
	switch v.Kind {
	case KindString:
		return key.UserKey(v.String), nil
	case KindBytes:
		return key.UserKey(v.Bytes), nil
	case KindInt64:
		// Flip the sign bit so two's-complement integers compare
		// correctly under unsigned byte-wise comparison.
		u := uint64(v.Int64) ^ (1 << 63)
		buf := make([]byte, 8)
		for i := 7; i >= 0; i-- {
			buf[i] = byte(u)
			u >>= 8
		}
		return key.UserKey(buf), nil
	default:
		return nil, fmt.Errorf("record: column kind %v is not a valid primary key type", v.Kind)
	}
}

// DecodeKey inverts EncodeKey for a primary-key column of the given
// kind, recovering a typed Value from its order-preserving encoding.
// Used to reconstruct a tombstone row's key column when no record
// value survives the delete (see pkg/segment.Freeze).
func DecodeKey(kind Kind, uk key.UserKey) (Value, error) {
	switch kind {
	case KindString:
		return Value{Kind: kind, String: string(uk)}, nil
	case KindBytes:
		return Value{Kind: kind, Bytes: append([]byte(nil), uk...)}, nil
	case KindInt64:
		if len(uk) != 8 {
			return Value{}, fmt.Errorf("record: invalid encoded int64 key length %d", len(uk))
		}
		var u uint64
		for _, b := range uk {
			u = u<<8 | uint64(b)
		}
		u ^= 1 << 63
		return Value{Kind: kind, Int64: int64(u)}, nil
	default:
		return Value{}, fmt.Errorf("record: column kind %v is not a valid primary key type", kind)
	}
}

// Project returns a copy of the schema restricted to the given leaf
// column indices, always forcing inclusion of the primary-key column as
// spec §6.5 requires (_null/_ts are not Schema columns; every Batch
// carries them in its Null and TS fields regardless of projection).
func (s Schema) Project(indices []int) Schema {
	keep := make(map[int]bool, len(indices)+1)
	for _, i := range indices {
		keep[i] = true
	}
	keep[s.PrimaryKeyIndex] = true

	out := Schema{PrimaryKeyIndex: 0}
	for i, c := range s.Columns {
		if !keep[i] {
			continue
		}
		if i == s.PrimaryKeyIndex {
			out.PrimaryKeyIndex = len(out.Columns)
		}
		out.Columns = append(out.Columns, c)
	}
	return out
}
