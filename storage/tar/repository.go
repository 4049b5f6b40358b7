// Package tar implements a storage.Repository whose backing store is a
// single tar archive: contents are read into an in-memory index on open,
// mutated in memory, and flushed back out to the archive by Flush or Close.
// Grounded in the teacher's own use of stdlib archive/tar for packing a
// directory tree into one file (testutil/tarfile.go); no example repo in
// the pack reaches for a third-party tar library.
package tar

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/storage/object"
	"github.com/spkenv/spfs/storage/tag"
	"github.com/spkenv/spfs/tracking"
)

const (
	objectsPrefix  = "objects/"
	payloadsPrefix = "payloads/"
	tagsPrefix     = "tags/"
)

// Repository is a storage.Repository backed by an in-memory index loaded
// from (and, on Close, flushed back to) a tar archive file.
type Repository struct {
	mu       sync.RWMutex
	path     string
	dirty    bool
	objects  map[encoding.Digest]graph.Object
	payloads map[encoding.Digest][]byte
	streams  map[tracking.TagSpec][]tracking.Tag
}

var _ storage.Repository = (*Repository)(nil)

// Open loads the archive at path into memory, or starts an empty index if
// the file does not yet exist.
func Open(path string) (*Repository, error) {
	r := &Repository{
		path:     path,
		objects:  make(map[encoding.Digest]graph.Object),
		payloads: make(map[encoding.Digest][]byte),
		streams:  make(map[tracking.TagSpec][]tracking.Tag),
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := r.load(f); err != nil {
		return nil, fmt.Errorf("load tar repository: %w", err)
	}
	return r, nil
}

func (r *Repository) load(rd io.Reader) error {
	tr := tar.NewReader(rd)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return err
		}
		switch {
		case strings.HasPrefix(hdr.Name, objectsPrefix):
			d, err := encoding.Parse(strings.TrimPrefix(hdr.Name, objectsPrefix))
			if err != nil {
				continue
			}
			obj, _, err := graph.Decode(bytes.NewReader(data))
			if err != nil {
				return spfserr.Corruption("decode tar object "+d.String(), err)
			}
			r.objects[d] = obj
		case strings.HasPrefix(hdr.Name, payloadsPrefix):
			d, err := encoding.Parse(strings.TrimPrefix(hdr.Name, payloadsPrefix))
			if err != nil {
				continue
			}
			r.payloads[d] = data
		case strings.HasPrefix(hdr.Name, tagsPrefix):
			rel := strings.TrimPrefix(hdr.Name, tagsPrefix)
			rel = strings.TrimSuffix(rel, ".tag")
			org, name := splitStreamName(rel)
			entries, err := tag.DecodeStream(bytes.NewReader(data), org, name)
			if err != nil {
				return spfserr.Corruption("decode tar tag stream "+rel, err)
			}
			r.streams[tracking.TagSpec{Org: org, Name: name}] = entries
		}
	}
}

func splitStreamName(rel string) (org, name string) {
	idx := strings.LastIndex(rel, "/")
	if idx < 0 {
		return "", rel
	}
	return rel[:idx], rel[idx+1:]
}

// Flush writes the entire in-memory index out to the archive file if it
// has been mutated since open (or since the last Flush), replacing the
// file atomically via temp+rename.
func (r *Repository) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushLocked()
}

func (r *Repository) flushLocked() error {
	if !r.dirty {
		return nil
	}
	dir := "."
	if idx := strings.LastIndex(r.path, "/"); idx >= 0 {
		dir = r.path[:idx]
	}
	tmp, err := os.CreateTemp(dir, "tar-repo-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := r.writeArchive(tmp); err != nil {
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
	if err := os.Rename(tmpPath, r.path); err != nil {
		return err
	}
	r.dirty = false
	return nil
}

func (r *Repository) writeArchive(w io.Writer) error {
	tw := tar.NewWriter(w)
	for d, obj := range r.objects {
		var buf bytes.Buffer
		if err := graph.Encode(&buf, obj, object.DefaultStrategy, object.DefaultFormat); err != nil {
			return err
		}
		if err := writeEntry(tw, objectsPrefix+d.String(), buf.Bytes()); err != nil {
			return err
		}
	}
	for d, data := range r.payloads {
		if err := writeEntry(tw, payloadsPrefix+d.String(), data); err != nil {
			return err
		}
	}
	for spec, entries := range r.streams {
		var buf bytes.Buffer
		if err := tag.EncodeStream(&buf, entries); err != nil {
			return err
		}
		name := spec.Name + ".tag"
		if spec.Org != "" {
			name = spec.Org + "/" + name
		}
		if err := writeEntry(tw, tagsPrefix+name, buf.Bytes()); err != nil {
			return err
		}
	}
	return tw.Close()
}

func writeEntry(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// Close flushes the index to disk. It is safe to call Close without
// having mutated the repository; the flush is then a no-op.
func (r *Repository) Close() error { return r.Flush() }

func (r *Repository) Address() string { return "tar://" + r.path }

func (r *Repository) HasObject(ctx context.Context, d encoding.Digest) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.objects[d]
	return ok, nil
}

func (r *Repository) ReadObject(ctx context.Context, d encoding.Digest) (graph.Object, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objects[d]
	if !ok {
		return nil, spfserr.UnknownObject(d)
	}
	return obj, nil
}

func (r *Repository) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	d, err := graph.Digest(obj, object.DefaultStrategy, nil)
	if err != nil {
		return encoding.Digest{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[d] = obj
	r.dirty = true
	return d, nil
}

func (r *Repository) RemoveObject(ctx context.Context, d encoding.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[d]; !ok {
		return spfserr.UnknownObject(d)
	}
	delete(r.objects, d)
	r.dirty = true
	return nil
}

func (r *Repository) IterDigests(ctx context.Context) (storage.DigestIterator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	digests := make([]encoding.Digest, 0, len(r.objects))
	for d := range r.objects {
		digests = append(digests, d)
	}
	return &digestIter{digests: digests}, nil
}

func (r *Repository) ResolveFullDigest(ctx context.Context, partial string) (encoding.Digest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []encoding.Digest
	for d := range r.objects {
		s := d.String()
		if len(s) >= len(partial) && s[:len(partial)] == partial {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return encoding.Digest{}, spfserr.New(spfserr.KindNotFound, "unknown_object", "no object matches "+partial)
	case 1:
		return matches[0], nil
	default:
		return encoding.Digest{}, spfserr.Ambiguous(partial, len(matches))
	}
}

func (r *Repository) HasPayload(ctx context.Context, d encoding.Digest) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.payloads[d]
	return ok, nil
}

func (r *Repository) WritePayload(ctx context.Context, in io.Reader) (encoding.Digest, int64, error) {
	data, err := io.ReadAll(in)
	if err != nil {
		return encoding.Digest{}, 0, err
	}
	d := encoding.FromBytes(data)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payloads[d]; !ok {
		r.payloads[d] = data
		r.dirty = true
	}
	return d, int64(len(data)), nil
}

func (r *Repository) OpenPayload(ctx context.Context, d encoding.Digest) (io.ReadCloser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, ok := r.payloads[d]
	if !ok {
		return nil, spfserr.UnknownObject(d)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *Repository) RemovePayload(ctx context.Context, d encoding.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.payloads[d]; !ok {
		return spfserr.UnknownObject(d)
	}
	delete(r.payloads, d)
	r.dirty = true
	return nil
}

func (r *Repository) IterPayloads(ctx context.Context) (storage.PayloadIterator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	digests := make([]encoding.Digest, 0, len(r.payloads))
	for d := range r.payloads {
		digests = append(digests, d)
	}
	return &digestIter{digests: digests}, nil
}

func (r *Repository) streamKey(spec tracking.TagSpec) tracking.TagSpec {
	return tracking.TagSpec{Org: spec.Org, Name: spec.Name}
}

func (r *Repository) HasTag(ctx context.Context, spec tracking.TagSpec) bool {
	_, err := r.ResolveTag(ctx, spec)
	return err == nil
}

func (r *Repository) ResolveTag(ctx context.Context, spec tracking.TagSpec) (tracking.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.streams[r.streamKey(spec)]
	idx := int(spec.Version)
	if idx >= len(entries) {
		return tracking.Tag{}, spfserr.UnknownReference(spec)
	}
	return entries[idx], nil
}

func (r *Repository) ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.streams[r.streamKey(spec)]
	if len(entries) == 0 {
		return nil, spfserr.UnknownReference(spec)
	}
	return entries, nil
}

func (r *Repository) LsTags(ctx context.Context, path string) ([]storage.EntryType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []storage.EntryType
	for spec := range r.streams {
		if path == "" {
			if spec.Org != "" {
				if !seen[spec.Org] {
					seen[spec.Org] = true
					out = append(out, storage.EntryType{Name: spec.Org, Folder: true})
				}
				continue
			}
			if !seen[spec.Name] {
				seen[spec.Name] = true
				out = append(out, storage.EntryType{Name: spec.Name, Folder: false})
			}
			continue
		}
		if spec.Org == path && !seen[spec.Name] {
			seen[spec.Name] = true
			out = append(out, storage.EntryType{Name: spec.Name, Folder: false})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Repository) FindTags(ctx context.Context, d encoding.Digest) ([]tracking.TagSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found []tracking.TagSpec
	for spec, entries := range r.streams {
		for _, e := range entries {
			if e.Target == d {
				found = append(found, spec)
				break
			}
		}
	}
	return found, nil
}

func (r *Repository) IterTagStreams(ctx context.Context) (storage.TagStreamIterator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	it := &streamIter{}
	for spec, entries := range r.streams {
		it.specs = append(it.specs, spec)
		it.entries = append(it.entries, entries)
	}
	return it, nil
}

func (r *Repository) PushTag(ctx context.Context, spec tracking.TagSpec, target encoding.Digest) (tracking.Tag, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.streamKey(spec)
	entries := r.streams[key]
	var parent encoding.Digest
	if len(entries) > 0 {
		parent = entries[0].Target
	}
	t := tracking.Tag{Org: spec.Org, Name: spec.Name, Target: target, Parent: parent}
	r.streams[key] = append([]tracking.Tag{t}, entries...)
	r.dirty = true
	return t, nil
}

func (r *Repository) InsertTag(ctx context.Context, t tracking.Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.streamKey(t.Spec())
	entries := r.streams[key]
	for _, e := range entries {
		if e.Equal(t) {
			return nil
		}
	}
	r.streams[key] = append([]tracking.Tag{t}, entries...)
	r.dirty = true
	return nil
}

func (r *Repository) RemoveTag(ctx context.Context, t tracking.Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.streamKey(t.Spec())
	entries := r.streams[key]
	out := entries[:0]
	for _, e := range entries {
		if !e.Equal(t) {
			out = append(out, e)
		}
	}
	r.streams[key] = out
	r.dirty = true
	return nil
}

func (r *Repository) RemoveTagStream(ctx context.Context, spec tracking.TagSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := r.streamKey(spec)
	if _, ok := r.streams[key]; !ok {
		return spfserr.UnknownReference(spec)
	}
	delete(r.streams, key)
	r.dirty = true
	return nil
}

type digestIter struct {
	digests []encoding.Digest
	pos     int
}

func (it *digestIter) Next(ctx context.Context) (encoding.Digest, error) {
	if it.pos >= len(it.digests) {
		return encoding.Digest{}, io.EOF
	}
	d := it.digests[it.pos]
	it.pos++
	return d, nil
}
func (it *digestIter) Close() error { return nil }

type streamIter struct {
	specs   []tracking.TagSpec
	entries [][]tracking.Tag
	pos     int
}

func (it *streamIter) Next(ctx context.Context) (tracking.TagSpec, []tracking.Tag, error) {
	if it.pos >= len(it.specs) {
		return tracking.TagSpec{}, nil, io.EOF
	}
	spec, entries := it.specs[it.pos], it.entries[it.pos]
	it.pos++
	return spec, entries, nil
}
func (it *streamIter) Close() error { return nil }
