package version

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/arkedb/lsmengine/pkg/fileid"
	"github.com/arkedb/lsmengine/pkg/fsprovider"
)

// VersionSet owns the current Version, a reference count per FileID
// across all reachable versions, and the manifest edit log. Mutations
// go through Apply, which is serialized by mu and publishes a new
// Version as an atomic pointer swap.
type VersionSet struct {
	mu sync.Mutex

	provider fsprovider.Provider
	root     string

	current    *Version
	nextNumber uint64
	nextEdit   int

	fileRefs map[fileid.FileID]int
	cleaner  *Cleaner
}

// Open builds a VersionSet rooted at root, replaying every manifest
// edit file found (in ascending sequence order) to reconstruct the
// current Version. There is no snapshot/rotation in this
// implementation — see DESIGN.md — so Open's cost is linear in the
// number of edits ever applied.
func Open(ctx context.Context, provider fsprovider.Provider, root string, cleaner *Cleaner) (*VersionSet, error) {
	manifestDir := filepath.Join(root, "manifest")
	if err := provider.CreateDirAll(manifestDir); err != nil {
		return nil, err
	}

	vs := &VersionSet{
		provider: provider,
		root:     root,
		fileRefs: make(map[fileid.FileID]int),
		cleaner:  cleaner,
	}
	cleaner.attach(vs)

	names, err := provider.List(manifestDir)
	if err != nil {
		return nil, fmt.Errorf("version: list manifest dir: %w", err)
	}
	sort.Slice(names, func(i, j int) bool {
		return manifestSeq(names[i]) < manifestSeq(names[j])
	})

	segments := map[int][]FileOp{}
	for _, name := range names {
		seq := manifestSeq(name)
		if seq < 0 {
			continue
		}
		h, err := provider.Open(name)
		if err != nil {
			return nil, fmt.Errorf("version: open manifest edit %s: %w", name, err)
		}
		data, err := readAll(h)
		h.Close()
		if err != nil {
			return nil, fmt.Errorf("version: read manifest edit %s: %w", name, err)
		}
		edit, err := decodeEdit(data)
		if err != nil {
			return nil, err
		}
		segments = applyEdit(segments, edit)
		if seq >= vs.nextEdit {
			vs.nextEdit = seq + 1
		}
	}

	initial := &Version{Number: 0, Segments: segments, vs: vs, refcount: 1}
	for _, ops := range segments {
		for _, op := range ops {
			vs.fileRefs[op.ID]++
		}
	}
	vs.current = initial
	return vs, nil
}

func manifestSeq(path string) int {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, ".edit") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimSuffix(name, ".edit"))
	if err != nil {
		return -1
	}
	return n
}

func readAll(h fsprovider.Handle) ([]byte, error) {
	var out []byte
	buf := make([]byte, 4096)
	var off int64
	for {
		n, err := h.ReadAt(buf, off)
		out = append(out, buf[:n]...)
		off += int64(n)
		if err != nil {
			return out, nil
		}
	}
}

// Current returns the current Version without pinning it; callers that
// need to keep reading past their next call into the VersionSet must
// call Ref themselves (or use Acquire).
func (vs *VersionSet) Current() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.current
}

// Acquire returns the current Version already pinned with Ref.
func (vs *VersionSet) Acquire() *Version {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	v := vs.current
	v.Ref()
	return v
}

// FilePath derives an SST's location from its level and FileID, the
// single source of truth pkg/compaction and the Cleaner both use.
func (vs *VersionSet) FilePath(level int, id fileid.FileID) string {
	return filepath.Join(vs.root, strconv.Itoa(level), string(id)+".sst")
}

// Apply publishes a new Version reflecting edit atop the current one,
// appending edit to the manifest log first so a crash between append
// and publish loses nothing: the next Open replays every edit file,
// this one included.
func (vs *VersionSet) Apply(ctx context.Context, edit Edit) (*Version, error) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	seq := vs.nextEdit
	vs.nextEdit++
	path := filepath.Join(vs.root, "manifest", strconv.Itoa(seq)+".edit")
	h, err := vs.provider.Create(path)
	if err != nil {
		return nil, fmt.Errorf("version: create manifest edit: %w", err)
	}
	if _, err := h.Write(encodeEdit(edit)); err != nil {
		h.Close()
		return nil, fmt.Errorf("version: write manifest edit: %w", err)
	}
	if err := h.Sync(); err != nil {
		h.Close()
		return nil, err
	}
	if err := h.Close(); err != nil {
		return nil, err
	}

	newSegments := applyEdit(vs.current.Segments, edit)
	vs.nextNumber++
	newVersion := &Version{Number: vs.nextNumber, Segments: newSegments, vs: vs, refcount: 1}

	// newVersion is a newly alive Version: it contributes one reference
	// to every file it lists, exactly once, regardless of how many of
	// those files it shares with the version it supersedes.
	for _, ops := range newSegments {
		for _, op := range ops {
			vs.fileRefs[op.ID]++
		}
	}

	old := vs.current
	vs.current = newVersion
	old.Unref()
	return newVersion, nil
}

// releaseFiles is called by Version.Unref once a version's refcount
// hits zero: every file it named has its VersionSet-wide count
// decremented, and any file reaching zero there is no longer
// referenced by any reachable Version and is forwarded to the Cleaner.
func (vs *VersionSet) releaseFiles(v *Version) {
	vs.mu.Lock()
	var obsolete []FileOp
	for _, ops := range v.Segments {
		for _, op := range ops {
			vs.fileRefs[op.ID]--
			if vs.fileRefs[op.ID] <= 0 {
				delete(vs.fileRefs, op.ID)
				obsolete = append(obsolete, op)
			}
		}
	}
	vs.mu.Unlock()

	for _, op := range obsolete {
		vs.cleaner.enqueue(op.Level, op.ID)
	}
}
