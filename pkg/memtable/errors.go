package memtable

import "errors"

// ErrCorruptEntry is returned when a WAL payload cannot be decoded back
// into a (key, record) pair during recovery.
var ErrCorruptEntry = errors.New("memtable: corrupt wal entry")
