package wal

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/snappy"
)

// ErrCorruptFrame is reported by the recovery iterator's Err when a
// frame's payload fails to decompress or its decompressed length differs
// from the header's. A frame whose header claims more bytes than remain
// in the file is instead treated as an unfinished write: iteration stops
// with no error, mirroring how real engines tolerate a crash mid-append.
var ErrCorruptFrame = errors.New("wal: corrupt frame header")

// FileLog is the default, file-backed Log implementation. Frames are
// snappy-compressed (domain stack: same klauspost/compress dependency
// pkg/sstable uses for zstd, applied here to WAL payloads) and framed as
// [type(1)][rawLen(4)][compLen(4)][compressed payload].
type FileLog struct {
	mu   sync.Mutex
	file *os.File
	off  uint64
}

// OpenFileLog opens (creating if necessary) a WAL segment at path.
func OpenFileLog(path string) (*FileLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	pos, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: seek %s: %w", path, err)
	}
	return &FileLog{file: f, off: uint64(pos)}, nil
}

func (w *FileLog) Append(_ context.Context, rec Record) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	compressed := snappy.Encode(nil, rec.Payload)

	header := make([]byte, 9)
	header[0] = byte(rec.Type)
	binary.BigEndian.PutUint32(header[1:5], uint32(len(rec.Payload)))
	binary.BigEndian.PutUint32(header[5:9], uint32(len(compressed)))

	offset := w.off
	if _, err := w.file.Write(header); err != nil {
		return 0, fmt.Errorf("wal: write header: %w", err)
	}
	if _, err := w.file.Write(compressed); err != nil {
		return 0, fmt.Errorf("wal: write payload: %w", err)
	}
	w.off += uint64(len(header) + len(compressed))
	return offset, nil
}

func (w *FileLog) Flush(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

func (w *FileLog) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *FileLog) Recover(_ context.Context) (RecoverIterator, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, err := os.Open(w.file.Name())
	if err != nil {
		return nil, fmt.Errorf("wal: reopen for recovery: %w", err)
	}
	return &fileRecoverIterator{file: f}, nil
}

type fileRecoverIterator struct {
	file *os.File
	cur  Record
	err  error
}

func (it *fileRecoverIterator) Next() bool {
	header := make([]byte, 9)
	if _, err := io.ReadFull(it.file, header); err != nil {
		if err != io.EOF && err != io.ErrUnexpectedEOF {
			it.err = err
		}
		return false
	}
	typ := LogType(header[0])
	rawLen := binary.BigEndian.Uint32(header[1:5])
	compLen := binary.BigEndian.Uint32(header[5:9])

	compressed := make([]byte, compLen)
	if _, err := io.ReadFull(it.file, compressed); err != nil {
		// Truncated tail from a crash mid-append: stop cleanly, do not
		// surface an error, matching the WAL contract's tolerance for a
		// partially written final frame.
		return false
	}

	payload, err := snappy.Decode(nil, compressed)
	if err != nil {
		it.err = fmt.Errorf("%w: %v", ErrCorruptFrame, err)
		return false
	}
	if uint32(len(payload)) != rawLen {
		it.err = ErrCorruptFrame
		return false
	}

	it.cur = Record{Type: typ, Payload: payload}
	return true
}

func (it *fileRecoverIterator) Record() Record { return it.cur }
func (it *fileRecoverIterator) Err() error      { return it.err }
func (it *fileRecoverIterator) Close() error    { return it.file.Close() }
