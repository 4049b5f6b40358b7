package tag

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/tracking"
)

// FSStore is a local filesystem-backed tag store laid out as
// tags/<org>/<name>.tag, one append-structured stream file per
// (org, name) pair.
type FSStore struct {
	root string
	mu   sync.Mutex // serializes rewrite-in-place pushes across the whole store
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) EnsureRoot() error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *FSStore) streamPath(org, name string) string {
	return filepath.Join(s.root, org, name+".tag")
}

func (s *FSStore) readStream(org, name string) ([]tracking.Tag, error) {
	f, err := os.Open(s.streamPath(org, name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeStream(f, org, name)
}

func (s *FSStore) writeStream(org, name string, entries []tracking.Tag) error {
	dir := filepath.Join(s.root, org)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	target := s.streamPath(org, name)
	tmp, err := os.CreateTemp(dir, name+"-*.tag.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := EncodeStream(tmp, entries); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, target)
}

func (s *FSStore) HasTag(ctx context.Context, spec tracking.TagSpec) bool {
	_, err := s.ResolveTag(ctx, spec)
	return err == nil
}

// ResolveTag resolves spec against its stream: version 0 is the newest
// (first) entry, version N is the N-th oldest-of-the-newest entry in
// stream order.
func (s *FSStore) ResolveTag(ctx context.Context, spec tracking.TagSpec) (tracking.Tag, error) {
	entries, err := s.readStream(spec.Org, spec.Name)
	if err != nil {
		return tracking.Tag{}, err
	}
	if len(entries) == 0 {
		return tracking.Tag{}, spfserr.UnknownReference(spec)
	}
	idx := int(spec.Version)
	if idx >= len(entries) {
		return tracking.Tag{}, spfserr.UnknownReference(spec)
	}
	return entries[idx], nil
}

func (s *FSStore) ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error) {
	entries, err := s.readStream(spec.Org, spec.Name)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, spfserr.UnknownReference(spec)
	}
	return entries, nil
}

// LsTags lists the immediate children of path: organization names at the
// root, then tag names within an organization.
func (s *FSStore) LsTags(ctx context.Context, path string) ([]storageEntryType, error) {
	dir := filepath.Join(s.root, path)
	children, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []storageEntryType
	for _, c := range children {
		if c.IsDir() {
			out = append(out, storageEntryType{Name: c.Name(), Folder: true})
			continue
		}
		name := c.Name()
		const suffix = ".tag"
		if len(name) > len(suffix) && name[len(name)-len(suffix):] == suffix {
			out = append(out, storageEntryType{Name: name[:len(name)-len(suffix)], Folder: false})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// storageEntryType mirrors storage.EntryType without importing the
// storage package, which imports tag for its fs backend.
type storageEntryType struct {
	Name   string
	Folder bool
}

func (s *FSStore) FindTags(ctx context.Context, digest encoding.Digest) ([]tracking.TagSpec, error) {
	var found []tracking.TagSpec
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		org, name, ok := s.specFromPath(p)
		if !ok {
			return nil
		}
		entries, rerr := s.readStream(org, name)
		if rerr != nil {
			return rerr
		}
		for _, e := range entries {
			if e.Target == digest {
				found = append(found, tracking.TagSpec{Org: org, Name: name})
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

func (s *FSStore) specFromPath(p string) (org, name string, ok bool) {
	rel, err := filepath.Rel(s.root, p)
	if err != nil {
		return "", "", false
	}
	rel = filepath.ToSlash(rel)
	const suffix = ".tag"
	if len(rel) <= len(suffix) || rel[len(rel)-len(suffix):] != suffix {
		return "", "", false
	}
	rel = rel[:len(rel)-len(suffix)]
	dir := filepath.Dir(rel)
	if dir == "." {
		return "", rel, true
	}
	return dir, filepath.Base(rel), true
}

// PushTag appends a new entry to spec's stream, chaining it to the
// current newest entry as its parent.
func (s *FSStore) PushTag(ctx context.Context, spec tracking.TagSpec, target encoding.Digest) (tracking.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readStream(spec.Org, spec.Name)
	if err != nil {
		return tracking.Tag{}, err
	}
	var parent encoding.Digest
	if len(entries) > 0 {
		parent = entries[0].Target
	}
	newTag := tracking.Tag{
		Org:    spec.Org,
		Name:   spec.Name,
		Target: target,
		Parent: parent,
	}
	entries = append([]tracking.Tag{newTag}, entries...)
	if err := s.writeStream(spec.Org, spec.Name, entries); err != nil {
		return tracking.Tag{}, err
	}
	return newTag, nil
}

// InsertTag inserts a fully-formed tag (including its own provenance
// fields) at the front of its stream, used when syncing tags verbatim
// from another repository rather than minting a new one locally.
func (s *FSStore) InsertTag(ctx context.Context, t tracking.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readStream(t.Org, t.Name)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Equal(t) {
			return nil
		}
	}
	entries = append([]tracking.Tag{t}, entries...)
	return s.writeStream(t.Org, t.Name, entries)
}

func (s *FSStore) RemoveTag(ctx context.Context, t tracking.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readStream(t.Org, t.Name)
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if !e.Equal(t) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return os.Remove(s.streamPath(t.Org, t.Name))
	}
	return s.writeStream(t.Org, t.Name, out)
}

func (s *FSStore) RemoveTagStream(ctx context.Context, spec tracking.TagSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.streamPath(spec.Org, spec.Name))
	if os.IsNotExist(err) {
		return spfserr.UnknownReference(spec)
	}
	return err
}

// IterTagStreams enumerates every stream in the store. It loads eagerly
// rather than lazily, which is appropriate for a local filesystem store
// where a full scan is already required to find every stream file.
func (s *FSStore) IterTagStreams(ctx context.Context) (*StreamIterator, error) {
	type streamRef struct {
		spec    tracking.TagSpec
		entries []tracking.Tag
	}
	var streams []streamRef
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		org, name, ok := s.specFromPath(p)
		if !ok {
			return nil
		}
		entries, rerr := s.readStream(org, name)
		if rerr != nil {
			return rerr
		}
		streams = append(streams, streamRef{spec: tracking.TagSpec{Org: org, Name: name}, entries: entries})
		return nil
	})
	if err != nil {
		return nil, err
	}
	it := &StreamIterator{}
	for _, st := range streams {
		it.specs = append(it.specs, st.spec)
		it.entries = append(it.entries, st.entries)
	}
	return it, nil
}

// StreamIterator implements storage.TagStreamIterator.
type StreamIterator struct {
	specs   []tracking.TagSpec
	entries [][]tracking.Tag
	pos     int
}

func (it *StreamIterator) Next(ctx context.Context) (tracking.TagSpec, []tracking.Tag, error) {
	if it.pos >= len(it.specs) {
		return tracking.TagSpec{}, nil, io.EOF
	}
	spec, entries := it.specs[it.pos], it.entries[it.pos]
	it.pos++
	return spec, entries, nil
}

func (it *StreamIterator) Close() error { return nil }
