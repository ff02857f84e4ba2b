package memtable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arkedb/lsmengine/pkg/key"
	"github.com/arkedb/lsmengine/pkg/record"
)

// encodeEntry serializes one (key, optional record) pair for the WAL.
// rec == nil encodes a tombstone. This is a row-oriented sibling of
// pkg/record.Batch's column-oriented wire format: the mutable table
// appends one entry at a time, so there is no batch to amortize a
// columnar layout over.
func encodeEntry(k key.Timestamped, rec *record.Record) ([]byte, error) {
	var buf bytes.Buffer

	if err := binary.Write(&buf, binary.BigEndian, uint32(len(k.UserKey))); err != nil {
		return nil, err
	}
	if _, err := buf.Write(k.UserKey); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(k.Timestamp)); err != nil {
		return nil, err
	}

	tombstone := byte(0)
	if rec == nil {
		tombstone = 1
	}
	if err := buf.WriteByte(tombstone); err != nil {
		return nil, err
	}
	if rec == nil {
		return buf.Bytes(), nil
	}

	for _, v := range rec.Values {
		if err := encodeValue(&buf, v); err != nil {
			return nil, fmt.Errorf("memtable: encode value: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeEntry is the exported form of decodeEntry, for pkg/engine's
// recovery path: it has no Table to apply a recovered entry to until it
// has decoded the raw WAL payload first.
func DecodeEntry(schema *record.Schema, payload []byte) (key.Timestamped, *record.Record, error) {
	return decodeEntry(schema, payload)
}

// decodeEntry is encodeEntry's inverse. schema is the caller's current
// schema, needed to know each column's Kind and to attach to a decoded
// non-tombstone record.
func decodeEntry(schema *record.Schema, payload []byte) (key.Timestamped, *record.Record, error) {
	r := bytes.NewReader(payload)

	var ukLen uint32
	if err := binary.Read(r, binary.BigEndian, &ukLen); err != nil {
		return key.Timestamped{}, nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	uk := make(key.UserKey, ukLen)
	if _, err := io.ReadFull(r, uk); err != nil {
		return key.Timestamped{}, nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	var ts uint64
	if err := binary.Read(r, binary.BigEndian, &ts); err != nil {
		return key.Timestamped{}, nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	tk := key.New(uk, key.Timestamp(ts))

	tombstone, err := r.ReadByte()
	if err != nil {
		return key.Timestamped{}, nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}
	if tombstone == 1 {
		return tk, nil, nil
	}

	values := make([]record.Value, len(schema.Columns))
	for i, col := range schema.Columns {
		v, err := decodeValue(r, col.Kind)
		if err != nil {
			return key.Timestamped{}, nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
		}
		values[i] = v
	}
	return tk, &record.Record{Schema: schema, Values: values}, nil
}

func encodeValue(w io.Writer, v record.Value) error {
	isNull := byte(0)
	if v.IsNull {
		isNull = 1
	}
	if _, err := w.Write([]byte{byte(v.Kind), isNull}); err != nil {
		return err
	}
	if v.IsNull {
		return nil
	}
	switch v.Kind {
	case record.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case record.KindInt64:
		return binary.Write(w, binary.BigEndian, v.Int64)
	case record.KindFloat64:
		return binary.Write(w, binary.BigEndian, v.Float64)
	case record.KindString:
		return writeLenPrefixed(w, []byte(v.String))
	case record.KindBytes:
		return writeLenPrefixed(w, v.Bytes)
	default:
		return fmt.Errorf("memtable: unknown column kind %v", v.Kind)
	}
}

func decodeValue(r io.Reader, kind record.Kind) (record.Value, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return record.Value{}, err
	}
	if hdr[1] == 1 {
		return record.Value{Kind: kind, IsNull: true}, nil
	}
	switch kind {
	case record.KindBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return record.Value{}, err
		}
		return record.Value{Kind: kind, Bool: b[0] == 1}, nil
	case record.KindInt64:
		var v int64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return record.Value{}, err
		}
		return record.Value{Kind: kind, Int64: v}, nil
	case record.KindFloat64:
		var v float64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return record.Value{}, err
		}
		return record.Value{Kind: kind, Float64: v}, nil
	case record.KindString:
		b, err := readLenPrefixed(r)
		if err != nil {
			return record.Value{}, err
		}
		return record.Value{Kind: kind, String: string(b)}, nil
	case record.KindBytes:
		b, err := readLenPrefixed(r)
		if err != nil {
			return record.Value{}, err
		}
		return record.Value{Kind: kind, Bytes: b}, nil
	default:
		return record.Value{}, fmt.Errorf("memtable: unknown column kind %v", kind)
	}
}

func writeLenPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
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
