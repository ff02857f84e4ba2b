package wal

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileLogAppendAndRecover(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "segment.log")

	w, err := OpenFileLog(path)
	require.NoError(t, err)

	_, err = w.Append(ctx, Record{Type: First, Payload: []byte("part-1")})
	require.NoError(t, err)
	_, err = w.Append(ctx, Record{Type: Last, Payload: []byte("part-2")})
	require.NoError(t, err)
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Close())

	reopened, err := OpenFileLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	it, err := reopened.Recover(ctx)
	require.NoError(t, err)
	defer it.Close()

	var got []Record
	for it.Next() {
		got = append(got, it.Record())
	}
	require.NoError(t, it.Err())
	require.Len(t, got, 2)
	require.Equal(t, First, got[0].Type)
	require.Equal(t, "part-1", string(got[0].Payload))
	require.Equal(t, Last, got[1].Type)
	require.Equal(t, "part-2", string(got[1].Payload))
}

func TestFileLogTruncatedTailIsIgnored(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "segment.log")

	w, err := OpenFileLog(path)
	require.NoError(t, err)
	_, err = w.Append(ctx, Record{Type: Full, Payload: []byte("whole")})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	// Corrupt the file by truncating a byte off the end.
	truncate(t, path)

	reopened, err := OpenFileLog(path)
	require.NoError(t, err)
	defer reopened.Close()

	it, err := reopened.Recover(ctx)
	require.NoError(t, err)
	defer it.Close()

	count := 0
	for it.Next() {
		count++
	}
	require.NoError(t, it.Err())
	require.Equal(t, 0, count)
}
