// Package proxy implements the Proxy and Fallback Repository
// compositions. Proxy is a read-only view of a single primary: it has no
// secondary source and rejects every write. Fallback backs a primary store
// with a secondary source for reads that miss locally, grounded in the
// pull-through caching pattern used for remote-registry blob proxying.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/internal/logging"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/tracking"
)

// Proxy serves every read from primary and rejects all writes: it is a
// strictly read-only view of primary, useful for composing with Fallback
// below it.
type Proxy struct {
	primary storage.Repository
}

var _ storage.Repository = (*Proxy)(nil)

func NewProxy(primary storage.Repository) *Proxy { return &Proxy{primary: primary} }

func (p *Proxy) Address() string { return p.primary.Address() }

func (p *Proxy) HasObject(ctx context.Context, d encoding.Digest) (bool, error) {
	return p.primary.HasObject(ctx, d)
}
func (p *Proxy) ReadObject(ctx context.Context, d encoding.Digest) (graph.Object, error) {
	return p.primary.ReadObject(ctx, d)
}
func (p *Proxy) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	return encoding.Digest{}, spfserr.New(spfserr.KindPinning, "read_only_proxy", "proxy repository is read-only")
}
func (p *Proxy) RemoveObject(ctx context.Context, d encoding.Digest) error {
	return spfserr.New(spfserr.KindPinning, "read_only_proxy", "proxy repository is read-only")
}
func (p *Proxy) IterDigests(ctx context.Context) (storage.DigestIterator, error) {
	return p.primary.IterDigests(ctx)
}
func (p *Proxy) ResolveFullDigest(ctx context.Context, partial string) (encoding.Digest, error) {
	return p.primary.ResolveFullDigest(ctx, partial)
}
func (p *Proxy) HasPayload(ctx context.Context, d encoding.Digest) (bool, error) {
	return p.primary.HasPayload(ctx, d)
}
func (p *Proxy) WritePayload(ctx context.Context, r io.Reader) (encoding.Digest, int64, error) {
	return encoding.Digest{}, 0, spfserr.New(spfserr.KindPinning, "read_only_proxy", "proxy repository is read-only")
}
func (p *Proxy) OpenPayload(ctx context.Context, d encoding.Digest) (io.ReadCloser, error) {
	return p.primary.OpenPayload(ctx, d)
}
func (p *Proxy) RemovePayload(ctx context.Context, d encoding.Digest) error {
	return spfserr.New(spfserr.KindPinning, "read_only_proxy", "proxy repository is read-only")
}
func (p *Proxy) IterPayloads(ctx context.Context) (storage.PayloadIterator, error) {
	return p.primary.IterPayloads(ctx)
}
func (p *Proxy) HasTag(ctx context.Context, spec tracking.TagSpec) bool { return p.primary.HasTag(ctx, spec) }
func (p *Proxy) ResolveTag(ctx context.Context, spec tracking.TagSpec) (tracking.Tag, error) {
	return p.primary.ResolveTag(ctx, spec)
}
func (p *Proxy) LsTags(ctx context.Context, path string) ([]storage.EntryType, error) {
	return p.primary.LsTags(ctx, path)
}
func (p *Proxy) FindTags(ctx context.Context, d encoding.Digest) ([]tracking.TagSpec, error) {
	return p.primary.FindTags(ctx, d)
}
func (p *Proxy) IterTagStreams(ctx context.Context) (storage.TagStreamIterator, error) {
	return p.primary.IterTagStreams(ctx)
}
func (p *Proxy) ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error) {
	return p.primary.ReadTag(ctx, spec)
}
func (p *Proxy) PushTag(ctx context.Context, spec tracking.TagSpec, target encoding.Digest) (tracking.Tag, error) {
	return tracking.Tag{}, spfserr.New(spfserr.KindPinning, "read_only_proxy", "proxy repository is read-only")
}
func (p *Proxy) InsertTag(ctx context.Context, t tracking.Tag) error {
	return spfserr.New(spfserr.KindPinning, "read_only_proxy", "proxy repository is read-only")
}
func (p *Proxy) RemoveTag(ctx context.Context, t tracking.Tag) error {
	return spfserr.New(spfserr.KindPinning, "read_only_proxy", "proxy repository is read-only")
}
func (p *Proxy) RemoveTagStream(ctx context.Context, spec tracking.TagSpec) error {
	return spfserr.New(spfserr.KindPinning, "read_only_proxy", "proxy repository is read-only")
}

// Fallback composes a writable primary repository with a read-only
// secondary source: reads that miss in primary are retried against
// secondary, and on success the object/payload is copied back into
// primary so the next read is local. This mirrors the pull-through caching
// behavior of a registry blob proxy: the cache fills itself lazily, one
// miss at a time.
type Fallback struct {
	primary   storage.Repository
	secondary storage.Repository
	log       logging.Logger
}

var _ storage.Repository = (*Fallback)(nil)

func NewFallback(primary, secondary storage.Repository) *Fallback {
	return &Fallback{primary: primary, secondary: secondary, log: logging.Default()}
}

func (f *Fallback) Address() string { return f.primary.Address() }

func (f *Fallback) HasObject(ctx context.Context, d encoding.Digest) (bool, error) {
	ok, err := f.primary.HasObject(ctx, d)
	if err != nil || ok {
		return ok, err
	}
	return f.secondary.HasObject(ctx, d)
}

func (f *Fallback) ReadObject(ctx context.Context, d encoding.Digest) (graph.Object, error) {
	obj, err := f.primary.ReadObject(ctx, d)
	if err == nil {
		return obj, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	obj, err = f.secondary.ReadObject(ctx, d)
	if err != nil {
		return nil, err
	}
	if _, werr := f.primary.WriteObject(ctx, obj); werr != nil {
		f.log.Errorf("unable to copy object %s back to primary: %s", d, werr)
	}
	return obj, nil
}

func (f *Fallback) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	return f.primary.WriteObject(ctx, obj)
}
func (f *Fallback) RemoveObject(ctx context.Context, d encoding.Digest) error {
	return f.primary.RemoveObject(ctx, d)
}
func (f *Fallback) IterDigests(ctx context.Context) (storage.DigestIterator, error) {
	return f.primary.IterDigests(ctx)
}
func (f *Fallback) ResolveFullDigest(ctx context.Context, partial string) (encoding.Digest, error) {
	return f.primary.ResolveFullDigest(ctx, partial)
}

func (f *Fallback) HasPayload(ctx context.Context, d encoding.Digest) (bool, error) {
	ok, err := f.primary.HasPayload(ctx, d)
	if err != nil || ok {
		return ok, err
	}
	return f.secondary.HasPayload(ctx, d)
}

func (f *Fallback) OpenPayload(ctx context.Context, d encoding.Digest) (io.ReadCloser, error) {
	r, err := f.primary.OpenPayload(ctx, d)
	if err == nil {
		return r, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	remote, err := f.secondary.OpenPayload(ctx, d)
	if err != nil {
		return nil, err
	}
	defer remote.Close()
	data, err := io.ReadAll(remote)
	if err != nil {
		return nil, err
	}
	go func() {
		if _, _, werr := f.primary.WritePayload(context.Background(), bytes.NewReader(data)); werr != nil {
			f.log.Errorf("unable to copy payload %s back to primary: %s", d, werr)
		}
	}()
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Fallback) WritePayload(ctx context.Context, r io.Reader) (encoding.Digest, int64, error) {
	return f.primary.WritePayload(ctx, r)
}
func (f *Fallback) RemovePayload(ctx context.Context, d encoding.Digest) error {
	return f.primary.RemovePayload(ctx, d)
}
func (f *Fallback) IterPayloads(ctx context.Context) (storage.PayloadIterator, error) {
	return f.primary.IterPayloads(ctx)
}

func (f *Fallback) HasTag(ctx context.Context, spec tracking.TagSpec) bool {
	if f.primary.HasTag(ctx, spec) {
		return true
	}
	return f.secondary.HasTag(ctx, spec)
}
func (f *Fallback) ResolveTag(ctx context.Context, spec tracking.TagSpec) (tracking.Tag, error) {
	t, err := f.primary.ResolveTag(ctx, spec)
	if err == nil {
		return t, nil
	}
	if !isNotFound(err) {
		return tracking.Tag{}, err
	}
	return f.secondary.ResolveTag(ctx, spec)
}
func (f *Fallback) LsTags(ctx context.Context, path string) ([]storage.EntryType, error) {
	return f.primary.LsTags(ctx, path)
}
func (f *Fallback) FindTags(ctx context.Context, d encoding.Digest) ([]tracking.TagSpec, error) {
	return f.primary.FindTags(ctx, d)
}
func (f *Fallback) IterTagStreams(ctx context.Context) (storage.TagStreamIterator, error) {
	return f.primary.IterTagStreams(ctx)
}
func (f *Fallback) ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error) {
	entries, err := f.primary.ReadTag(ctx, spec)
	if err == nil {
		return entries, nil
	}
	if !isNotFound(err) {
		return nil, err
	}
	return f.secondary.ReadTag(ctx, spec)
}
func (f *Fallback) PushTag(ctx context.Context, spec tracking.TagSpec, target encoding.Digest) (tracking.Tag, error) {
	return f.primary.PushTag(ctx, spec, target)
}
func (f *Fallback) InsertTag(ctx context.Context, t tracking.Tag) error {
	return f.primary.InsertTag(ctx, t)
}
func (f *Fallback) RemoveTag(ctx context.Context, t tracking.Tag) error {
	return f.primary.RemoveTag(ctx, t)
}
func (f *Fallback) RemoveTagStream(ctx context.Context, spec tracking.TagSpec) error {
	return f.primary.RemoveTagStream(ctx, spec)
}

func isNotFound(err error) bool {
	var e *spfserr.Error
	if errors.As(err, &e) {
		return e.Kind == spfserr.KindNotFound
	}
	return false
}
