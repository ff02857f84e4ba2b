package compaction

// Config holds the thresholds spec §6.1 names for the Compactor.
// Field names mirror the spec's own terms so the wiring in pkg/engine
// reads the same as the spec prose.
type Config struct {
	// ImmutableChunkNum is the number of Immutables accumulated before
	// minor compaction drains them to L0.
	ImmutableChunkNum int
	// MajorThresholdWithSSTSize is the base L0 segment count that
	// triggers major compaction.
	MajorThresholdWithSSTSize int
	// LevelSSTMagnification multiplies the major threshold per level:
	// level L's trigger count is MajorThresholdWithSSTSize *
	// LevelSSTMagnification^L.
	LevelSSTMagnification int
	// MaxSSTFileSize bounds the size of one SST produced by compaction;
	// merged output is split across multiple files once exceeded.
	MaxSSTFileSize int64
	// RowsPerGroup is passed through to pkg/sstable.Write.
	RowsPerGroup int
}

// DefaultConfig returns the Compactor's default thresholds: minor
// compaction on every frozen segment, a base L0 trigger of 4 segments,
// a per-level magnification of 10, and 4 MiB output files.
func DefaultConfig() Config {
	return Config{
		ImmutableChunkNum:         1,
		MajorThresholdWithSSTSize: 4,
		LevelSSTMagnification:     10,
		MaxSSTFileSize:            4 << 20,
		RowsPerGroup:              0,
	}
}

// levelThreshold returns the segment count that triggers major
// compaction out of level L.
func (c Config) levelThreshold(level int) int {
	threshold := c.MajorThresholdWithSSTSize
	for i := 0; i < level; i++ {
		threshold *= c.LevelSSTMagnification
	}
	return threshold
}
