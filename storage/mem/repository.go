// Package mem implements an in-memory storage.Repository, used for tests
// and as a fast local cache layer in front of slower remote backends.
package mem

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/storage/object"
	"github.com/spkenv/spfs/tracking"
)

// Repository is a storage.Repository backed entirely by in-process maps.
// Every operation is safe for concurrent use.
type Repository struct {
	mu       sync.RWMutex
	objects  map[encoding.Digest]graph.Object
	payloads map[encoding.Digest][]byte
	streams  map[tracking.TagSpec][]tracking.Tag
}

var _ storage.Repository = (*Repository)(nil)

func New() *Repository {
	return &Repository{
		objects:  make(map[encoding.Digest]graph.Object),
		payloads: make(map[encoding.Digest][]byte),
		streams:  make(map[tracking.TagSpec][]tracking.Tag),
	}
}

func (r *Repository) Address() string { return "mem://" }

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
	return d, nil
}

func (r *Repository) RemoveObject(ctx context.Context, d encoding.Digest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.objects[d]; !ok {
		return spfserr.UnknownObject(d)
	}
	delete(r.objects, d)
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

func (r *Repository) HasTag(ctx context.Context, spec tracking.TagSpec) bool {
	_, err := r.ResolveTag(ctx, spec)
	return err == nil
}

func (r *Repository) streamKey(spec tracking.TagSpec) tracking.TagSpec {
	return tracking.TagSpec{Org: spec.Org, Name: spec.Name}
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

func (r *Repository) LsTags(ctx context.Context, path string) ([]storage.EntryType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []storage.EntryType
	for spec := range r.streams {
		full := spec.Org
		if path != "" && (full == path || (len(full) > len(path) && full[:len(path)+1] == path+"/")) {
			rest := full[len(path):]
			if len(rest) > 0 && rest[0] == '/' {
				rest = rest[1:]
			}
			if rest == "" {
				if !seen[spec.Name] {
					seen[spec.Name] = true
					out = append(out, storage.EntryType{Name: spec.Name, Folder: false})
				}
			}
		} else if path == "" {
			if !seen[spec.Org] {
				seen[spec.Org] = true
				out = append(out, storage.EntryType{Name: spec.Org, Folder: true})
			}
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

func (r *Repository) ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.streams[r.streamKey(spec)]
	if len(entries) == 0 {
		return nil, spfserr.UnknownReference(spec)
	}
	return entries, nil
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
