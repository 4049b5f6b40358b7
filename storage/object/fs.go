// Package object implements the content-addressed object database: local
// filesystem storage of encoded graph.Object values, plus the closure
// walker and short-digest resolution shared by every backend.
package object

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/spfserr"
)

// DefaultStrategy and DefaultFormat are used when writing new objects.
// Existing objects are read back using whatever strategy/format their own
// header names, so changing these defaults never invalidates what is
// already on disk.
const (
	DefaultStrategy = encoding.StrategySalted
	DefaultFormat   = encoding.FormatLegacy
)

// FSStore is a local filesystem-backed object database laid out as
// objects/<xx>/<rest>.
type FSStore struct {
	root string
}

func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) EnsureRoot() error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *FSStore) pathFor(d encoding.Digest) string {
	name := d.String()
	return filepath.Join(s.root, name[:2], name[2:])
}

func (s *FSStore) HasObject(ctx context.Context, digest encoding.Digest) (bool, error) {
	_, err := os.Stat(s.pathFor(digest))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *FSStore) ReadObject(ctx context.Context, digest encoding.Digest) (graph.Object, error) {
	f, err := os.Open(s.pathFor(digest))
	if os.IsNotExist(err) {
		return nil, spfserr.UnknownObject(digest)
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	obj, _, err := graph.Decode(f)
	if err != nil {
		return nil, spfserr.Corruption("failed to decode object "+digest.String(), err)
	}
	return obj, nil
}

// WriteObject encodes obj with DefaultStrategy/DefaultFormat, writes it to
// a temp file, fsyncs, and renames it into place keyed by its digest. If
// an object with that digest already exists, the temp file is discarded:
// writes are idempotent.
func (s *FSStore) WriteObject(ctx context.Context, obj graph.Object) (encoding.Digest, error) {
	digest, err := graph.Digest(obj, DefaultStrategy, nil)
	if err != nil {
		return encoding.Digest{}, err
	}

	finalPath := s.pathFor(digest)
	if _, statErr := os.Stat(finalPath); statErr == nil {
		return digest, nil
	}

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return encoding.Digest{}, err
	}
	tmp, err := os.CreateTemp(s.root, "object-*.tmp")
	if err != nil {
		return encoding.Digest{}, err
	}
	tmpPath := tmp.Name()
	removeTemp := true
	defer func() {
		if removeTemp {
			os.Remove(tmpPath)
		}
	}()

	if err := graph.Encode(tmp, obj, DefaultStrategy, DefaultFormat); err != nil {
		tmp.Close()
		return encoding.Digest{}, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return encoding.Digest{}, err
	}
	if err := tmp.Close(); err != nil {
		return encoding.Digest{}, err
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return encoding.Digest{}, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return encoding.Digest{}, err
	}
	removeTemp = false
	return digest, nil
}

func (s *FSStore) RemoveObject(ctx context.Context, digest encoding.Digest) error {
	err := os.Remove(s.pathFor(digest))
	if os.IsNotExist(err) {
		return spfserr.UnknownObject(digest)
	}
	return err
}

func (s *FSStore) IterDigests(ctx context.Context) (DigestIteratorCloser, error) {
	digests, err := s.allDigests()
	if err != nil {
		return nil, err
	}
	return &sliceDigestIterator{digests: digests}, nil
}

func (s *FSStore) allDigests() ([]encoding.Digest, error) {
	var digests []encoding.Digest
	err := filepath.WalkDir(s.root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		name = name[:2] + name[3:]
		dg, derr := encoding.Parse(name)
		if derr != nil {
			return nil
		}
		digests = append(digests, dg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return digests, nil
}

// ResolveFullDigest resolves a full or shortened base32 digest prefix
// against every object in the store. Zero matches is NotFound, more than
// one is Ambiguous; this is an O(n) scan of the database, matching the
// cost of the equivalent operation on a sharded directory layout.
func (s *FSStore) ResolveFullDigest(ctx context.Context, partial string) (encoding.Digest, error) {
	all, err := s.allDigests()
	if err != nil {
		return encoding.Digest{}, err
	}
	return resolvePrefix(all, partial)
}

func resolvePrefix(all []encoding.Digest, partial string) (encoding.Digest, error) {
	var matches []encoding.Digest
	for _, d := range all {
		if len(d.String()) >= len(partial) && d.String()[:len(partial)] == partial {
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

// ShortenDigest returns the shortest prefix of digest (in steps of 5
// bytes, matching the original's 8-base32-character granularity) that
// uniquely identifies it among all digests in the store.
func (s *FSStore) ShortenDigest(ctx context.Context, digest encoding.Digest) (string, error) {
	all, err := s.allDigests()
	if err != nil {
		return "", err
	}
	full := digest.String()
	for n := 8; n < len(full); n += 8 {
		prefix := full[:n]
		unique := true
		for _, d := range all {
			if d == digest {
				continue
			}
			if len(d.String()) >= len(prefix) && d.String()[:len(prefix)] == prefix {
				unique = false
				break
			}
		}
		if unique {
			return prefix, nil
		}
	}
	return full, nil
}

// DigestIteratorCloser matches storage.DigestIterator's shape without a
// direct dependency on the storage package (storage's fs backend imports
// object, so the reverse import would cycle).
type DigestIteratorCloser interface {
	Next(ctx context.Context) (encoding.Digest, error)
	Close() error
}

type sliceDigestIterator struct {
	digests []encoding.Digest
	pos     int
}

func (it *sliceDigestIterator) Next(ctx context.Context) (encoding.Digest, error) {
	if it.pos >= len(it.digests) {
		return encoding.Digest{}, io.EOF
	}
	d := it.digests[it.pos]
	it.pos++
	return d, nil
}

func (it *sliceDigestIterator) Close() error { return nil }
