package graph

import (
	"bytes"
	"io"
	"sort"

	"github.com/spkenv/spfs/encoding"
)

// EntryKind distinguishes what an Entry's Object digest refers to.
type EntryKind uint8

const (
	EntryKindTree EntryKind = iota + 1
	EntryKindBlob
	EntryKindMask
)

// Entry is one named item within a Tree: a nested Tree, a Blob, or a Mask
// (a tombstone that deletes a path present in a lower layer when the
// manifest stack is merged).
type Entry struct {
	Name   string
	Kind   EntryKind
	Mode   uint32
	Size   uint64
	Object encoding.Digest // NullDigest for Mask entries
}

func (e Entry) IsBlob() bool { return e.Kind == EntryKindBlob }
func (e Entry) IsTree() bool { return e.Kind == EntryKindTree }
func (e Entry) IsMask() bool { return e.Kind == EntryKindMask }

func (e Entry) legacyEncode(w io.Writer) error {
	if err := encoding.WriteString(w, e.Name); err != nil {
		return err
	}
	if err := encoding.WriteUint8(w, uint8(e.Kind)); err != nil {
		return err
	}
	if err := encoding.WriteUint64(w, uint64(e.Mode)); err != nil {
		return err
	}
	if err := encoding.WriteUint64(w, e.Size); err != nil {
		return err
	}
	return encoding.WriteDigest(w, e.Object)
}

func decodeEntry(r io.Reader) (Entry, error) {
	name, err := encoding.ReadString(r)
	if err != nil {
		return Entry{}, err
	}
	kind, err := encoding.ReadUint8(r)
	if err != nil {
		return Entry{}, err
	}
	mode, err := encoding.ReadUint64(r)
	if err != nil {
		return Entry{}, err
	}
	size, err := encoding.ReadUint64(r)
	if err != nil {
		return Entry{}, err
	}
	obj, err := encoding.ReadDigest(r)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Kind: EntryKind(kind), Mode: uint32(mode), Size: size, Object: obj}, nil
}

// Tree is an ordered (bytewise by name) set of Entry values. It is not a
// separately addressable object kind in the database: it only exists
// embedded in a Manifest's tree set, addressed by the digest of its own
// encoding.
type Tree struct {
	Entries []Entry
}

// SortEntries orders the tree's entries bytewise by name, the canonical
// order required before encoding or digesting.
func (t *Tree) SortEntries() {
	sort.Slice(t.Entries, func(i, j int) bool {
		return t.Entries[i].Name < t.Entries[j].Name
	})
}

func (t Tree) legacyEncode(w io.Writer) error {
	if err := encoding.WriteUint64(w, uint64(len(t.Entries))); err != nil {
		return err
	}
	for _, e := range t.Entries {
		if err := e.legacyEncode(w); err != nil {
			return err
		}
	}
	return nil
}

// Digest returns the content digest identifying this tree within a
// manifest's tree set.
func (t Tree) Digest(strategy encoding.Strategy) (encoding.Digest, error) {
	var buf bytes.Buffer
	if err := t.legacyEncode(&buf); err != nil {
		return encoding.Digest{}, err
	}
	return encoding.DigestOf(strategy, encoding.KindTree, nil, buf.Bytes())
}

func decodeTree(r io.Reader) (Tree, error) {
	count, err := encoding.ReadUint64(r)
	if err != nil {
		return Tree{}, err
	}
	entries := make([]Entry, 0, count)
	for i := uint64(0); i < count; i++ {
		e, err := decodeEntry(r)
		if err != nil {
			return Tree{}, err
		}
		entries = append(entries, e)
	}
	return Tree{Entries: entries}, nil
}

// Manifest is the canonical (immutable) representation of a directory
// tree: a root tree digest plus the full set of trees it and its
// descendants reference, so the whole structure can be stored and
// transmitted as one self-contained object.
type Manifest struct {
	Root  encoding.Digest
	Trees []Tree
}

var _ Object = Manifest{}

func (m Manifest) Kind() encoding.Kind { return encoding.KindManifest }

func (m Manifest) LegacyEncode(w io.Writer) error {
	if err := encoding.WriteDigest(w, m.Root); err != nil {
		return err
	}
	if err := encoding.WriteUint64(w, uint64(len(m.Trees))); err != nil {
		return err
	}
	for _, t := range m.Trees {
		if err := t.legacyEncode(w); err != nil {
			return err
		}
	}
	return nil
}

// ChildObjects returns the digests of every Blob referenced transitively
// by this manifest's trees. Tree-kind entries point at other trees inside
// the same manifest, not at separate database objects, so they contribute
// no children of their own.
func (m Manifest) ChildObjects() []encoding.Digest {
	var children []encoding.Digest
	for _, t := range m.Trees {
		for _, e := range t.Entries {
			if e.IsBlob() {
				children = append(children, e.Object)
			}
		}
	}
	return children
}

// TreeByDigest finds the embedded tree matching d, if any.
func (m Manifest) TreeByDigest(strategy encoding.Strategy, d encoding.Digest) (Tree, bool) {
	for _, t := range m.Trees {
		td, err := t.Digest(strategy)
		if err == nil && td == d {
			return t, true
		}
	}
	return Tree{}, false
}

func decodeManifest(r io.Reader) (Object, error) {
	root, err := encoding.ReadDigest(r)
	if err != nil {
		return nil, err
	}
	count, err := encoding.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	trees := make([]Tree, 0, count)
	for i := uint64(0); i < count; i++ {
		t, err := decodeTree(r)
		if err != nil {
			return nil, err
		}
		trees = append(trees, t)
	}
	return Manifest{Root: root, Trees: trees}, nil
}
