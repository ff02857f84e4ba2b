package wal

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func truncate(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, info.Size()-1))
}
