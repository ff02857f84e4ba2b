package version

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/arkedb/lsmengine/pkg/fileid"
)

func encodeEdit(e Edit) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(e.Adds)))
	for _, op := range e.Adds {
		encodeFileOp(&buf, op)
	}
	binary.Write(&buf, binary.BigEndian, uint32(len(e.Removes)))
	for _, op := range e.Removes {
		encodeFileOp(&buf, op)
	}
	return buf.Bytes()
}

func encodeFileOp(buf *bytes.Buffer, op FileOp) {
	binary.Write(buf, binary.BigEndian, int32(op.Level))
	writeLenPrefixed(buf, []byte(op.ID))
	writeLenPrefixed(buf, op.MinKey)
	writeLenPrefixed(buf, op.MaxKey)
	binary.Write(buf, binary.BigEndian, op.Size)
}

func writeLenPrefixed(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, uint32(len(b)))
	buf.Write(b)
}

func decodeEdit(data []byte) (Edit, error) {
	r := bytes.NewReader(data)
	var e Edit

	var numAdds uint32
	if err := binary.Read(r, binary.BigEndian, &numAdds); err != nil {
		return Edit{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	for i := uint32(0); i < numAdds; i++ {
		op, err := decodeFileOp(r)
		if err != nil {
			return Edit{}, err
		}
		e.Adds = append(e.Adds, op)
	}

	var numRemoves uint32
	if err := binary.Read(r, binary.BigEndian, &numRemoves); err != nil {
		return Edit{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	for i := uint32(0); i < numRemoves; i++ {
		op, err := decodeFileOp(r)
		if err != nil {
			return Edit{}, err
		}
		e.Removes = append(e.Removes, op)
	}
	return e, nil
}

func decodeFileOp(r io.Reader) (FileOp, error) {
	var level int32
	if err := binary.Read(r, binary.BigEndian, &level); err != nil {
		return FileOp{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	id, err := readLenPrefixed(r)
	if err != nil {
		return FileOp{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	minKey, err := readLenPrefixed(r)
	if err != nil {
		return FileOp{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	maxKey, err := readLenPrefixed(r)
	if err != nil {
		return FileOp{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	var size int64
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return FileOp{}, fmt.Errorf("%w: %v", ErrCorruptManifest, err)
	}
	return FileOp{Level: int(level), ID: fileid.FileID(id), MinKey: minKey, MaxKey: maxKey, Size: size}, nil
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
