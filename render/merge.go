package render

import (
	"fmt"
	"strings"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/tracking"
)

// MergeStack flattens an ordered (bottom-to-top) list of manifests into a
// single path-indexed tracking.Manifest: each layer's entries are applied
// over the running result in order, so a later layer's entry at a path
// always wins, and a Mask entry removes whatever path it names from the
// entries applied so far. This is spec step 1 of rendering a layer stack:
// later code only ever walks the flattened result.
func MergeStack(strategy encoding.Strategy, layers []graph.Manifest) (*tracking.Manifest, error) {
	merged := tracking.NewManifest()
	for _, layer := range layers {
		if err := applyLayer(merged, strategy, layer); err != nil {
			return nil, err
		}
	}
	return merged, nil
}

func applyLayer(merged *tracking.Manifest, strategy encoding.Strategy, layer graph.Manifest) error {
	if layer.Root.IsNull() {
		return nil // empty layer, nothing to apply
	}
	root, ok := layer.TreeByDigest(strategy, layer.Root)
	if !ok {
		return fmt.Errorf("render: manifest root tree %s not present among its own trees", layer.Root)
	}
	return walkTree(merged, strategy, layer, "", root)
}

func walkTree(merged *tracking.Manifest, strategy encoding.Strategy, layer graph.Manifest, dir string, tree graph.Tree) error {
	for _, e := range tree.Entries {
		p := joinPath(dir, e.Name)
		switch e.Kind {
		case graph.EntryKindMask:
			// A mask tombstones the whole subtree at p, not just the path
			// itself: a lower layer's directory entries are nested under
			// their parent in the original tree model, so masking the
			// parent hides them too.
			removeSubtree(merged, p)
			continue
		case graph.EntryKindTree:
			merged.Set(p, tracking.Entry{Kind: graph.EntryKindTree, Mode: e.Mode})
			child, ok := layer.TreeByDigest(strategy, e.Object)
			if !ok {
				return fmt.Errorf("render: tree entry %s references missing tree %s", p, e.Object)
			}
			if err := walkTree(merged, strategy, layer, p, child); err != nil {
				return err
			}
		case graph.EntryKindBlob:
			merged.Set(p, tracking.Entry{Kind: graph.EntryKindBlob, Mode: e.Mode, Size: e.Size, Object: e.Object})
		}
	}
	return nil
}

func removeSubtree(merged *tracking.Manifest, p string) {
	merged.Remove(p)
	prefix := p + "/"
	for _, existing := range merged.Paths() {
		if strings.HasPrefix(existing, prefix) {
			merged.Remove(existing)
		}
	}
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
