// Package config holds the Options an engine is opened with. Grounded
// on pkg/server/config.go's Config/DefaultConfig convention (laura-db)
// for the struct-plus-defaults shape, and on dd0wney-graphdb's
// pkg/validation/validator.go for validating it with struct tags rather
// than hand-rolled range checks.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/arkedb/lsmengine/pkg/compaction"
)

var validate = validator.New()

// Options configures one engine instance: where it stores data, how
// large its Mutable table grows before freezing, and the compaction
// thresholds spec §6.1 names.
type Options struct {
	// Path is the root directory the VersionSet, its manifest, and every
	// level's SSTs are stored under.
	Path string `validate:"required"`

	// MaxMemTableSize bounds the Mutable table's estimated byte size
	// before a write trips FreezeSignal.
	MaxMemTableSize int64 `validate:"required,gt=0"`

	// ImmutableChunkNum is the number of Immutables pkg/schema
	// accumulates before handing them to the Compactor's minor phase.
	ImmutableChunkNum int `validate:"required,gt=0"`

	// MajorThresholdWithSSTSize is the base L0 segment count that
	// triggers major compaction.
	MajorThresholdWithSSTSize int `validate:"required,gt=0"`

	// LevelSSTMagnification multiplies the major threshold per level.
	LevelSSTMagnification int `validate:"required,gt=1"`

	// MaxSSTFileSize bounds the size of one compaction output file.
	MaxSSTFileSize int64 `validate:"required,gt=0"`

	// RowsPerGroup bounds how many rows one SST row group holds; zero
	// selects pkg/sstable.DefaultRowsPerGroup.
	RowsPerGroup int `validate:"gte=0"`

	// LockStripes is the number of stripes pkg/txn.LockMap splits its
	// write-lock map into; zero selects its own default (256).
	LockStripes int `validate:"gte=0"`
}

// DefaultOptions returns Options with the engine's default thresholds,
// rooted at path.
func DefaultOptions(path string) Options {
	return Options{
		Path:                      path,
		MaxMemTableSize:           4 << 20,
		ImmutableChunkNum:         1,
		MajorThresholdWithSSTSize: 4,
		LevelSSTMagnification:     10,
		MaxSSTFileSize:            4 << 20,
		RowsPerGroup:              0,
		LockStripes:               256,
	}
}

// Validate reports any malformed option via struct-tag validation, the
// same mechanism dd0wney-graphdb's pkg/validation uses for request
// bodies, applied here to startup configuration instead.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("config: invalid options: %w", err)
	}
	return nil
}

// CompactionConfig projects the compaction-relevant fields into
// pkg/compaction.Config, the shape the Compactor actually consumes.
func (o Options) CompactionConfig() compaction.Config {
	return compaction.Config{
		ImmutableChunkNum:         o.ImmutableChunkNum,
		MajorThresholdWithSSTSize: o.MajorThresholdWithSSTSize,
		LevelSSTMagnification:     o.LevelSSTMagnification,
		MaxSSTFileSize:            o.MaxSSTFileSize,
		RowsPerGroup:              o.RowsPerGroup,
	}
}
