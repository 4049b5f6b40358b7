// Package tracking implements the mutable, path-indexed manifest used
// while building up a filesystem capture, and the append-only tag model
// used to name digests over time.
package tracking

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
)

// Entry is one path's worth of metadata in a mutable Manifest. Unlike
// graph.Entry it is addressed by a full slash-separated path rather than a
// bare name within a parent tree.
type Entry struct {
	Kind   graph.EntryKind
	Mode   uint32
	Size   uint64
	Object encoding.Digest
}

// HashFunc computes the digest and size of the file at the given real
// filesystem path. Callers typically back this with the payload store's
// WritePayload operation, so that computing a manifest also populates the payload
// store as a side effect.
type HashFunc func(realPath string) (encoding.Digest, uint64, error)

// Manifest is a mutable, path-indexed tree of entries, the representation
// used while walking a real filesystem or applying incremental edits
// before the tree is frozen into a graph.Manifest for storage.
type Manifest struct {
	paths map[string]Entry
}

// NewManifest returns an empty manifest.
func NewManifest() *Manifest {
	return &Manifest{paths: make(map[string]Entry)}
}

// Set inserts or replaces the entry at p (slash-separated, no leading
// slash).
func (m *Manifest) Set(p string, e Entry) {
	m.paths[path.Clean(p)] = e
}

// Get returns the entry at p, if any.
func (m *Manifest) Get(p string) (Entry, bool) {
	e, ok := m.paths[path.Clean(p)]
	return e, ok
}

// Remove deletes the entry at p.
func (m *Manifest) Remove(p string) {
	delete(m.paths, path.Clean(p))
}

// Paths returns every path in the manifest, sorted bytewise.
func (m *Manifest) Paths() []string {
	out := make([]string, 0, len(m.paths))
	for p := range m.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Compute walks root on the real filesystem and builds a Manifest
// describing it, hashing file contents via hash. Directories are recorded
// explicitly (as EntryKindTree entries) so that empty directories survive
// round-tripping through a render.
func Compute(root string, hash HashFunc) (*Manifest, error) {
	m := NewManifest()
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		// The full fs.FileMode (type bits and all), not just Perm(), so a
		// render can later tell a symlink entry apart from a regular file
		// by testing Mode&fs.ModeSymlink rather than needing a separate
		// entry kind.
		mode := uint32(info.Mode())
		if d.IsDir() {
			m.Set(rel, Entry{Kind: graph.EntryKindTree, Mode: mode})
			return nil
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			if _, err := os.Readlink(p); err != nil {
				// broken symlinks are still recorded, with a zero object
				m.Set(rel, Entry{Kind: graph.EntryKindBlob, Mode: mode})
				return nil
			}
		}
		digest, size, err := hash(p)
		if err != nil {
			return err
		}
		m.Set(rel, Entry{Kind: graph.EntryKindBlob, Mode: mode, Size: size, Object: digest})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ToGraph freezes the mutable manifest into its canonical, content-addressed
// graph.Manifest form: one graph.Tree per directory (including the
// implicit root), each entry sorted bytewise by name.
func (m *Manifest) ToGraph(strategy encoding.Strategy) (graph.Manifest, error) {
	children := make(map[string][]graph.Entry)
	dirs := map[string]bool{"": true}

	for _, p := range m.Paths() {
		e := m.paths[p]
		dir, name := splitPath(p)
		dirs[dir] = true
		ensureParents(dirs, dir)
		children[dir] = append(children[dir], graph.Entry{
			Name:   name,
			Kind:   e.Kind,
			Mode:   e.Mode,
			Size:   e.Size,
			Object: e.Object,
		})
	}

	// dirs may include directories with no direct entry (implied by a
	// deep path); make sure every one of them has a children slice so it
	// turns into a Tree even if empty.
	for d := range dirs {
		if _, ok := children[d]; !ok {
			children[d] = nil
		}
	}

	treeDigests := make(map[string]encoding.Digest, len(dirs))
	trees := make([]graph.Tree, 0, len(dirs))

	// Build deepest directories first so that a parent's Tree entry for a
	// child directory can reference the child's already-computed digest.
	ordered := make([]string, 0, len(dirs))
	for d := range dirs {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool {
		return strings.Count(ordered[i], "/") > strings.Count(ordered[j], "/")
	})

	for _, d := range ordered {
		entries := children[d]
		for i, e := range entries {
			if e.Kind == graph.EntryKindTree {
				childPath := joinPath(d, e.Name)
				if td, ok := treeDigests[childPath]; ok {
					entries[i].Object = td
				}
			}
		}
		t := graph.Tree{Entries: entries}
		t.SortEntries()
		td, err := t.Digest(strategy)
		if err != nil {
			return graph.Manifest{}, err
		}
		treeDigests[d] = td
		trees = append(trees, t)
	}

	return graph.Manifest{Root: treeDigests[""], Trees: trees}, nil
}

func splitPath(p string) (dir, name string) {
	dir = path.Dir(p)
	if dir == "." {
		dir = ""
	}
	name = path.Base(p)
	return dir, name
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func ensureParents(dirs map[string]bool, d string) {
	for d != "" {
		dirs[d] = true
		d = path.Dir(d)
		if d == "." {
			d = ""
		}
	}
}
