package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Batch is a columnar arrangement of rows: one []Value-free array per
// column (plus the two engine-reserved arrays), matching spec §3's
// Immutable segment layout. It is the in-memory representation
// pkg/segment and pkg/sstable both build from and scan over.
type Batch struct {
	Schema *Schema
	Null   []bool
	TS     []uint64
	Cols   [][]Value // Cols[i] has one entry per row, for Schema.Columns[i]
}

// NumRows reports the row count.
func (b *Batch) NumRows() int { return len(b.TS) }

// ProjectionMask names which leaf columns (by index into b.Cols) a scan
// should retain. spec §6.5: a mask always implicitly includes _null,
// _ts, and the primary-key column; Includes forces the primary-key
// column, and _null/_ts live outside Cols so no mask removes them.
type ProjectionMask struct {
	Columns []int // nil/empty means "all columns"
}

// Includes reports whether column i survives the mask.
func (m ProjectionMask) Includes(i int, pkIndex int) bool {
	if len(m.Columns) == 0 {
		return true
	}
	if i == pkIndex {
		return true
	}
	for _, c := range m.Columns {
		if c == i {
			return true
		}
	}
	return false
}

// Codec is the columnar encode/decode boundary spec §1 calls out as an
// external collaborator: the concrete wire format is not the core
// engine's concern, only that one exists. EncodeBatch/DecodeBatch below
// are the default implementation the engine ships so it is runnable
// without a host-supplied codec; a host may substitute its own by
// implementing the same two methods and passing it to pkg/engine.Open.
type Codec interface {
	EncodeBatch(b *Batch) ([]byte, error)
	DecodeBatch(schema *Schema, data []byte) (*Batch, error)
}

// ZstdCodec is the default Codec: a simple length-prefixed column
// encoding, zstd-compressed as a whole. Grounded on the compression
// wrapper in pkg/compression (laura-db) — same library, applied to
// batch bytes instead of document pages.
type ZstdCodec struct {
	Level zstd.EncoderLevel
}

// NewZstdCodec returns a Codec using the given compression level, or a
// sensible default (SpeedDefault) when level is zero-valued.
func NewZstdCodec(level zstd.EncoderLevel) *ZstdCodec {
	if level == 0 {
		level = zstd.SpeedDefault
	}
	return &ZstdCodec{Level: level}
}

func (c *ZstdCodec) EncodeBatch(b *Batch) ([]byte, error) {
	var raw bytes.Buffer
	if err := encodeBatchRaw(&raw, b); err != nil {
		return nil, fmt.Errorf("record: encode batch: %w", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(c.Level))
	if err != nil {
		return nil, fmt.Errorf("record: init zstd encoder: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw.Bytes(), nil), nil
}

func (c *ZstdCodec) DecodeBatch(schema *Schema, data []byte) (*Batch, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("record: init zstd decoder: %w", err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("record: zstd decode: %w", err)
	}
	return decodeBatchRaw(bytes.NewReader(raw), schema)
}

func encodeBatchRaw(w io.Writer, b *Batch) error {
	n := uint32(b.NumRows())
	if err := binary.Write(w, binary.BigEndian, n); err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		nullByte := byte(0)
		if b.Null[i] {
			nullByte = 1
		}
		if _, err := w.Write([]byte{nullByte}); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, b.TS[i]); err != nil {
			return err
		}
		for _, col := range b.Cols {
			if err := encodeValue(w, col[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

func decodeBatchRaw(r io.Reader, schema *Schema) (*Batch, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	b := &Batch{
		Schema: schema,
		Null:   make([]bool, n),
		TS:     make([]uint64, n),
		Cols:   make([][]Value, len(schema.Columns)),
	}
	for c := range b.Cols {
		b.Cols[c] = make([]Value, n)
	}
	for i := uint32(0); i < n; i++ {
		var nullByte [1]byte
		if _, err := io.ReadFull(r, nullByte[:]); err != nil {
			return nil, err
		}
		b.Null[i] = nullByte[0] == 1
		if err := binary.Read(r, binary.BigEndian, &b.TS[i]); err != nil {
			return nil, err
		}
		for c, col := range schema.Columns {
			v, err := decodeValue(r, col.Kind)
			if err != nil {
				return nil, err
			}
			b.Cols[c][i] = v
		}
	}
	return b, nil
}

func encodeValue(w io.Writer, v Value) error {
	isNullByte := byte(0)
	if v.IsNull {
		isNullByte = 1
	}
	if _, err := w.Write([]byte{isNullByte}); err != nil {
		return err
	}
	if v.IsNull {
		return nil
	}
	switch v.Kind {
	case KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		_, err := w.Write([]byte{b})
		return err
	case KindInt64:
		return binary.Write(w, binary.BigEndian, v.Int64)
	case KindFloat64:
		return binary.Write(w, binary.BigEndian, v.Float64)
	case KindString:
		return writeLenPrefixed(w, []byte(v.String))
	case KindBytes:
		return writeLenPrefixed(w, v.Bytes)
	default:
		return fmt.Errorf("record: unknown column kind %v", v.Kind)
	}
}

func decodeValue(r io.Reader, kind Kind) (Value, error) {
	var isNullByte [1]byte
	if _, err := io.ReadFull(r, isNullByte[:]); err != nil {
		return Value{}, err
	}
	if isNullByte[0] == 1 {
		return Value{Kind: kind, IsNull: true}, nil
	}
	switch kind {
	case KindBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Bool: b[0] == 1}, nil
	case KindInt64:
		var v int64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Int64: v}, nil
	case KindFloat64:
		var v float64
		if err := binary.Read(r, binary.BigEndian, &v); err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Float64: v}, nil
	case KindString:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, String: string(b)}, nil
	case KindBytes:
		b, err := readLenPrefixed(r)
		if err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Bytes: b}, nil
	default:
		return Value{}, fmt.Errorf("record: unknown column kind %v", kind)
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
