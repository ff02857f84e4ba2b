package fsprovider

import (
	"fmt"
	"os"
	"path/filepath"
)

// Local is the default Provider: a thin wrapper over os.*, matching how
// pkg/lsm/sstable.go (laura-db) opens, creates, and lists SST files
// directly against the local filesystem.
type Local struct{}

// NewLocal returns a Local provider. It carries no state; every method
// is a direct os.* call.
func NewLocal() *Local { return &Local{} }

func (Local) CreateDirAll(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("fsprovider: mkdir %s: %w", path, err)
	}
	return nil
}

func (Local) Create(path string) (Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("fsprovider: mkdir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("fsprovider: create %s: %w", path, err)
	}
	return f, nil
}

func (Local) Open(path string) (Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fsprovider: open %s: %w", path, err)
	}
	return f, nil
}

func (Local) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("fsprovider: remove %s: %w", path, err)
	}
	return nil
}

func (Local) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("fsprovider: list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, filepath.Join(dir, e.Name()))
	}
	return names, nil
}
