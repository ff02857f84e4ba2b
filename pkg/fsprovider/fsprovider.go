// Package fsprovider defines the file I/O external collaborator spec
// §6.2 calls out: create_dir_all/open/remove/list plus handle-level
// sequential/random read and append write, with no assumption of
// atomic cross-directory rename (publish-atomicity is the manifest
// edit log's job, not the file provider's). Grounded on the plain
// os.* usage spread through pkg/lsm/sstable.go (laura-db) for Local,
// and cloud/aws/cloud_fs.go (devlibx-pebble) for the S3-backed variant.
package fsprovider

import "io"

// Handle is one open file. Write always appends (handles are opened
// write-only or read-only, never both); ReadAt is random-access.
type Handle interface {
	io.ReaderAt
	io.Writer
	Sync() error
	Close() error
}

// Provider is the file I/O contract the core engine consumes.
type Provider interface {
	CreateDirAll(path string) error
	Create(path string) (Handle, error)
	Open(path string) (Handle, error)
	Remove(path string) error
	List(dir string) ([]string, error)
}
