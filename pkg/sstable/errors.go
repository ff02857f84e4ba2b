package sstable

import "errors"

var (
	// ErrCorruptFooter is returned when an SST's trailing footer cannot
	// be parsed back into row-group metadata and a bloom filter.
	ErrCorruptFooter = errors.New("sstable: corrupt footer")
)
