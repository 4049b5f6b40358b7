// Package pinned implements a point-in-time view over any
// storage.Repository: tag history is filtered to entries no later than a
// fixed instant, and tag writes and object removal are rejected.
package pinned

import (
	"context"
	"io"
	"time"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/tracking"
)

// Repository wraps an inner storage.Repository, filtering every tag read
// to entries with Time <= Pin and rejecting every tag write and every
// object removal with RepositoryIsPinned. Object reads and writes and all
// payload operations pass through unchanged: pinning only constrains which names exist, not what content
// a name that survives the filter may point at.
type Repository struct {
	inner storage.Repository
	pin   time.Time
}

var _ storage.Repository = (*Repository)(nil)

func New(inner storage.Repository, pin time.Time) *Repository {
	return &Repository{inner: inner, pin: pin}
}

func (r *Repository) Address() string { return r.inner.Address() }

// Database and PayloadStorage pass straight through.

func (r *Repository) HasObject(ctx context.Context, d encoding.Digest) (bool, error) {
	return r.inner.HasObject(ctx, d)
}
func (r *Repository) ReadObject(ctx context.Context, d encoding.Digest) (graph.Object, error) {
	return r.inner.ReadObject(ctx, d)
}
func (r *Repository) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	return r.inner.WriteObject(ctx, obj)
}
func (r *Repository) RemoveObject(ctx context.Context, d encoding.Digest) error {
	return spfserr.RepositoryIsPinned()
}
func (r *Repository) IterDigests(ctx context.Context) (storage.DigestIterator, error) {
	return r.inner.IterDigests(ctx)
}
func (r *Repository) ResolveFullDigest(ctx context.Context, partial string) (encoding.Digest, error) {
	return r.inner.ResolveFullDigest(ctx, partial)
}
func (r *Repository) HasPayload(ctx context.Context, d encoding.Digest) (bool, error) {
	return r.inner.HasPayload(ctx, d)
}
func (r *Repository) WritePayload(ctx context.Context, data io.Reader) (encoding.Digest, int64, error) {
	return r.inner.WritePayload(ctx, data)
}
func (r *Repository) OpenPayload(ctx context.Context, d encoding.Digest) (io.ReadCloser, error) {
	return r.inner.OpenPayload(ctx, d)
}
func (r *Repository) RemovePayload(ctx context.Context, d encoding.Digest) error {
	return r.inner.RemovePayload(ctx, d)
}
func (r *Repository) IterPayloads(ctx context.Context) (storage.PayloadIterator, error) {
	return r.inner.IterPayloads(ctx)
}

// TagStorage is filtered to the pinned view.

func (r *Repository) filterEntries(entries []tracking.Tag) []tracking.Tag {
	var out []tracking.Tag
	for _, e := range entries {
		if !e.Time.After(r.pin) {
			out = append(out, e)
		}
	}
	return out
}

func (r *Repository) HasTag(ctx context.Context, spec tracking.TagSpec) bool {
	_, err := r.ResolveTag(ctx, spec)
	return err == nil
}

// ResolveTag filters the stream first, then resolves spec.Version as an
// index into the filtered stream: a version number is always relative to
// the view it is read through, not to the unfiltered underlying stream.
func (r *Repository) ResolveTag(ctx context.Context, spec tracking.TagSpec) (tracking.Tag, error) {
	entries, err := r.inner.ReadTag(ctx, tracking.TagSpec{Org: spec.Org, Name: spec.Name})
	if err != nil {
		return tracking.Tag{}, err
	}
	filtered := r.filterEntries(entries)
	idx := int(spec.Version)
	if idx >= len(filtered) {
		return tracking.Tag{}, spfserr.UnknownReference(spec)
	}
	return filtered[idx], nil
}

func (r *Repository) ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error) {
	entries, err := r.inner.ReadTag(ctx, spec)
	if err != nil {
		return nil, err
	}
	filtered := r.filterEntries(entries)
	if len(filtered) == 0 {
		return nil, spfserr.UnknownReference(spec)
	}
	return filtered, nil
}

func (r *Repository) LsTags(ctx context.Context, path string) ([]storage.EntryType, error) {
	entries, err := r.inner.LsTags(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []storage.EntryType
	for _, e := range entries {
		if e.Folder {
			if r.hasTagFolder(ctx, joinPath(path, e.Name)) {
				out = append(out, e)
			}
			continue
		}
		spec, err := tracking.ParseTagSpec(joinPath(path, e.Name))
		if err != nil {
			continue
		}
		if r.HasTag(ctx, spec) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *Repository) hasTagFolder(ctx context.Context, path string) bool {
	children, err := r.LsTags(ctx, path)
	return err == nil && len(children) > 0
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "/" + name
}

func (r *Repository) FindTags(ctx context.Context, d encoding.Digest) ([]tracking.TagSpec, error) {
	all, err := r.inner.FindTags(ctx, d)
	if err != nil {
		return nil, err
	}
	var out []tracking.TagSpec
	for _, spec := range all {
		if r.HasTag(ctx, spec) {
			out = append(out, spec)
		}
	}
	return out, nil
}

func (r *Repository) IterTagStreams(ctx context.Context) (storage.TagStreamIterator, error) {
	inner, err := r.inner.IterTagStreams(ctx)
	if err != nil {
		return nil, err
	}
	return &filteredStreamIterator{inner: inner, filter: r.filterEntries}, nil
}

type filteredStreamIterator struct {
	inner  storage.TagStreamIterator
	filter func([]tracking.Tag) []tracking.Tag
}

func (it *filteredStreamIterator) Next(ctx context.Context) (tracking.TagSpec, []tracking.Tag, error) {
	for {
		spec, entries, err := it.inner.Next(ctx)
		if err != nil {
			return tracking.TagSpec{}, nil, err
		}
		filtered := it.filter(entries)
		if len(filtered) > 0 {
			return spec, filtered, nil
		}
	}
}

func (it *filteredStreamIterator) Close() error { return it.inner.Close() }

func (r *Repository) PushTag(ctx context.Context, spec tracking.TagSpec, target encoding.Digest) (tracking.Tag, error) {
	return tracking.Tag{}, spfserr.RepositoryIsPinned()
}
func (r *Repository) InsertTag(ctx context.Context, t tracking.Tag) error {
	return spfserr.RepositoryIsPinned()
}
func (r *Repository) RemoveTag(ctx context.Context, t tracking.Tag) error {
	return spfserr.RepositoryIsPinned()
}
func (r *Repository) RemoveTagStream(ctx context.Context, spec tracking.TagSpec) error {
	return spfserr.RepositoryIsPinned()
}
