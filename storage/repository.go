// Package storage defines the Repository abstraction that binds a payload
// store, an object database, and a tag store into one addressable unit,
// plus the pluggable backends that implement it (fs, mem, tar, rpc,
// pinned, proxy, fallback); storage/s3 implements only PayloadStorage.
package storage

import (
	"context"
	"io"
	"time"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/tracking"
)

// PayloadStorage is content-addressed storage of raw byte payloads.
type PayloadStorage interface {
	HasPayload(ctx context.Context, digest encoding.Digest) (bool, error)
	// WritePayload streams r into the store and returns the digest and
	// size of what was written. Idempotent: writing identical bytes
	// twice leaves exactly one file and returns the same digest both
	// times.
	WritePayload(ctx context.Context, r io.Reader) (encoding.Digest, int64, error)
	OpenPayload(ctx context.Context, digest encoding.Digest) (io.ReadCloser, error)
	RemovePayload(ctx context.Context, digest encoding.Digest) error
	IterPayloads(ctx context.Context) (PayloadIterator, error)
}

// PayloadIterator enumerates digests present in a payload store.
type PayloadIterator interface {
	Next(ctx context.Context) (encoding.Digest, error) // io.EOF when done
	Close() error
}

// Database is content-addressed storage of typed graph objects.
type Database interface {
	HasObject(ctx context.Context, digest encoding.Digest) (bool, error)
	ReadObject(ctx context.Context, digest encoding.Digest) (graph.Object, error)
	WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error)
	RemoveObject(ctx context.Context, digest encoding.Digest) error
	IterDigests(ctx context.Context) (DigestIterator, error)
	// ResolveFullDigest resolves a (possibly short) digest prefix against
	// everything in the database: zero matches is NotFound, more than
	// one is Ambiguous.
	ResolveFullDigest(ctx context.Context, partial string) (encoding.Digest, error)
}

// DigestIterator enumerates digests present in an object database.
type DigestIterator interface {
	Next(ctx context.Context) (encoding.Digest, error) // io.EOF when done
	Close() error
}

// TagStorage is the append-only per-(org,name) tag history store.
type TagStorage interface {
	HasTag(ctx context.Context, spec tracking.TagSpec) bool
	ResolveTag(ctx context.Context, spec tracking.TagSpec) (tracking.Tag, error)
	LsTags(ctx context.Context, path string) ([]EntryType, error)
	FindTags(ctx context.Context, digest encoding.Digest) ([]tracking.TagSpec, error)
	IterTagStreams(ctx context.Context) (TagStreamIterator, error)
	ReadTag(ctx context.Context, spec tracking.TagSpec) ([]tracking.Tag, error)
	PushTag(ctx context.Context, spec tracking.TagSpec, target encoding.Digest) (tracking.Tag, error)
	InsertTag(ctx context.Context, tag tracking.Tag) error
	RemoveTag(ctx context.Context, tag tracking.Tag) error
	RemoveTagStream(ctx context.Context, spec tracking.TagSpec) error
}

// EntryType is one item returned by LsTags: either a folder (an org or an
// intermediate path component) or a leaf tag stream.
type EntryType struct {
	Name   string
	Folder bool
}

// TagStreamIterator enumerates every (spec, stream) pair in a tag store,
// newest-first within each stream.
type TagStreamIterator interface {
	Next(ctx context.Context) (tracking.TagSpec, []tracking.Tag, error) // io.EOF when done
	Close() error
}

// Repository binds a Database, a PayloadStorage, and a TagStorage into one
// addressable store. Every backend (fs, mem, tar, rpc, pinned, proxy,
// fallback) implements this single interface so that the sync, clean,
// check, and render engines can operate across any pair of them.
type Repository interface {
	Database
	PayloadStorage
	TagStorage

	// Address identifies this repository for logging and error messages
	// (a filesystem path, a remote URL, etc).
	Address() string
}

// Pinnable is implemented by repositories that support being opened as of
// a point in time (see storage/pinned).
type Pinnable interface {
	Pinned(at time.Time) Repository
}
