// Package fs implements the local filesystem Repository backend: a
// directory tree holding a VERSION file plus objects/, payloads/, tags/,
// renders/, and proxies/ subdirectories, per the on-disk layout every
// other tool in this ecosystem expects.
package fs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/storage/object"
	"github.com/spkenv/spfs/storage/payload"
	"github.com/spkenv/spfs/storage/tag"
	"github.com/spkenv/spfs/tracking"
)

// Version is the current on-disk repository format version. A repository
// whose VERSION file names a newer version than this refuses to open,
// reported as a migration error, since an older binary reading a newer
// layout risks silent corruption rather than a clean failure.
const Version = "1.0.0"

// Repository is the local filesystem storage.Repository implementation.
type Repository struct {
	root     string
	objects  *object.FSStore
	payloads *payload.FSStore
	tags     *tag.FSStore
}

var _ storage.Repository = (*Repository)(nil)

// Open opens an existing repository rooted at root, checking its VERSION
// file for compatibility.
func Open(root string) (*Repository, error) {
	versionPath := filepath.Join(root, "VERSION")
	data, err := os.ReadFile(versionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, spfserr.New(spfserr.KindNotFound, "repository_not_found", "no repository at "+root)
		}
		return nil, err
	}
	onDisk := string(data)
	if onDisk > Version {
		return nil, spfserr.Migration(fmt.Sprintf("repository at %s is version %s, newer than this build (%s)", root, onDisk, Version))
	}
	return newRepository(root), nil
}

// Create initializes a new, empty repository rooted at root.
func Create(root string) (*Repository, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	versionPath := filepath.Join(root, "VERSION")
	if _, err := os.Stat(versionPath); err == nil {
		return Open(root)
	}
	r := newRepository(root)
	if err := r.objects.EnsureRoot(); err != nil {
		return nil, err
	}
	if err := r.payloads.EnsureRoot(); err != nil {
		return nil, err
	}
	if err := r.tags.EnsureRoot(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.rendersRoot(), 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(r.proxiesRoot(), 0o755); err != nil {
		return nil, err
	}
	tmp := versionPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(Version), 0o644); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp, versionPath); err != nil {
		return nil, err
	}
	return r, nil
}

func newRepository(root string) *Repository {
	return &Repository{
		root:     root,
		objects:  object.NewFSStore(filepath.Join(root, "objects")),
		payloads: payload.NewFSStore(filepath.Join(root, "payloads")),
		tags:     tag.NewFSStore(filepath.Join(root, "tags")),
	}
}

func (r *Repository) rendersRoot() string  { return filepath.Join(r.root, "renders") }
func (r *Repository) proxiesRoot() string  { return filepath.Join(r.root, "proxies") }
func (r *Repository) RendersRoot() string  { return r.rendersRoot() }
func (r *Repository) ProxiesRoot() string  { return r.proxiesRoot() }
func (r *Repository) Address() string      { return r.root }
func (r *Repository) Objects() *object.FSStore   { return r.objects }
func (r *Repository) Payloads() *payload.FSStore  { return r.payloads }
func (r *Repository) TagStore() *tag.FSStore      { return r.tags }

// Database methods

func (r *Repository) HasObject(ctx context.Context, d encoding.Digest) (bool, error) {
	return r.objects.HasObject(ctx, d)
}
func (r *Repository) ReadObject(ctx context.Context, d encoding.Digest) (graph.Object, error) {
	return r.objects.ReadObject(ctx, d)
}
func (r *Repository) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	return r.objects.WriteObject(ctx, obj)
}
func (r *Repository) RemoveObject(ctx context.Context, d encoding.Digest) error {
	return r.objects.RemoveObject(ctx, d)
}
func (r *Repository) IterDigests(ctx context.Context) (storage.DigestIterator, error) {
	return r.objects.IterDigests(ctx)
}
func (r *Repository) ResolveFullDigest(ctx context.Context, partial string) (encoding.Digest, error) {
	return r.objects.ResolveFullDigest(ctx, partial)
}

// PayloadStorage methods

func (r *Repository) HasPayload(ctx context.Context, d encoding.Digest) (bool, error) {
	return r.payloads.HasPayload(ctx, d)
}
func (r *Repository) WritePayload(ctx context.Context, data io.Reader) (encoding.Digest, int64, error) {
	return r.payloads.WritePayload(ctx, data)
}
func (r *Repository) OpenPayload(ctx context.Context, d encoding.Digest) (io.ReadCloser, error) {
	return r.payloads.OpenPayload(ctx, d)
}
func (r *Repository) RemovePayload(ctx context.Context, d encoding.Digest) error {
	return r.payloads.RemovePayload(ctx, d)
}
func (r *Repository) IterPayloads(ctx context.Context) (storage.PayloadIterator, error) {
	return r.payloads.IterPayloads(ctx)
}

// PayloadPath returns the physical file path backing d. The render
// engine's hardlink strategies use this when the repository is backed by
// a local filesystem; it does not check that the payload exists.
func (r *Repository) PayloadPath(d encoding.Digest) (string, error) {
	return r.payloads.PayloadPath(d)
}

// TagStorage methods

func (r *Repository) HasTag(ctx context.Context, spec tracking.TagSpec) bool {
	return r.tags.HasTag(ctx, spec)
}
func (r *Repository) ResolveTag(ctx context.Context, spec tracking.TagSpec) (tracking.Tag, error) {
	return r.tags.ResolveTag(ctx, spec)
}
func (r *Repository) LsTags(ctx context.Context, path string) ([]storage.EntryType, error) {
	raw, err := r.tags.LsTags(ctx, path)
	if err != nil {
		return nil, err
	}
	out := make([]storage.EntryType, len(raw))
	for i, e := range raw {
		out[i] = storage.EntryType{Name: e.Name, Folder: e.Folder}
	}
	return out, nil
}
func (r *Repository) FindTags(ctx context.Context, d encoding.Digest) ([]tracking.TagSpec, error) {
	return r.tags.FindTags(ctx, d)
}
func (r *Repository) IterTagStreams(ctx context.Context) (storage.TagStreamIterator, error) {
	return r.tags.IterTagStreams(ctx)
}
func (r *Repository) ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error) {
	return r.tags.ReadTag(ctx, spec)
}
func (r *Repository) PushTag(ctx context.Context, spec tracking.TagSpec, target encoding.Digest) (tracking.Tag, error) {
	return r.tags.PushTag(ctx, spec, target)
}
func (r *Repository) InsertTag(ctx context.Context, t tracking.Tag) error {
	return r.tags.InsertTag(ctx, t)
}
func (r *Repository) RemoveTag(ctx context.Context, t tracking.Tag) error {
	return r.tags.RemoveTag(ctx, t)
}
func (r *Repository) RemoveTagStream(ctx context.Context, spec tracking.TagSpec) error {
	return r.tags.RemoveTagStream(ctx, spec)
}
