package compaction

import "errors"

// ErrVersionInvariant names a violated Version invariant (disjoint key
// ranges within a level, for instance). No code path in this package
// returns it: RunMinor and RunMajor do not check Version invariants, and
// a failed run never halts the Compactor.
var ErrVersionInvariant = errors.New("compaction: version invariant violated")
