// Package fileid defines the opaque on-disk segment identifier shared
// by pkg/segment, pkg/sstable, and pkg/version, kept in its own leaf
// package so none of the three needs to import another for this one type.
package fileid

import "github.com/google/uuid"

// FileID opaquely names one on-disk SST. Callers must not assume any
// structure beyond uniqueness and a stable string form suitable for a
// file name.
type FileID string

// New mints a fresh, globally unique FileID.
func New() FileID {
	return FileID(uuid.New().String())
}
