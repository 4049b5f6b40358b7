// Package payload implements the local filesystem content-addressed
// payload store; the S3-backed implementation of the same
// storage.PayloadStorage contract lives in storage/s3.
package payload

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/spfserr"
)

// FSStore is a local filesystem-backed payload store laid out as
// payloads/<xx>/<rest>, where <xx> is the first two characters of the
// payload's base32 digest.
type FSStore struct {
	root string
}

// NewFSStore opens (without creating) a payload store rooted at root.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

func (s *FSStore) pathFor(d encoding.Digest) string {
	name := d.String()
	return filepath.Join(s.root, name[:2], name[2:])
}

// PayloadPath returns the physical file backing digest, for callers (the
// render engine's hardlink strategies) that need a real path rather than
// a stream. It does not check that the payload exists.
func (s *FSStore) PayloadPath(d encoding.Digest) (string, error) {
	return s.pathFor(d), nil
}

// EnsureRoot creates the store's root directory if it doesn't exist.
func (s *FSStore) EnsureRoot() error {
	return os.MkdirAll(s.root, 0o755)
}

func (s *FSStore) HasPayload(ctx context.Context, digest encoding.Digest) (bool, error) {
	_, err := os.Stat(s.pathFor(digest))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// WritePayload streams r to a temporary file next to its eventual home,
// fsyncs it, then atomically renames it into place. If a file with the
// computed digest already exists, the temp file is discarded instead of
// replacing it: writing the same bytes twice never produces two files and
// never disturbs an already-stored payload's mtime.
func (s *FSStore) WritePayload(ctx context.Context, r io.Reader) (encoding.Digest, int64, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return encoding.Digest{}, 0, err
	}
	tmp, err := os.CreateTemp(s.root, "payload-"+uuid.NewString()+".tmp")
	if err != nil {
		return encoding.Digest{}, 0, err
	}
	tmpPath := tmp.Name()
	removeTemp := true
	defer func() {
		if removeTemp {
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	size, err := io.Copy(tmp, io.TeeReader(r, hasher))
	if err != nil {
		tmp.Close()
		return encoding.Digest{}, 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return encoding.Digest{}, 0, err
	}
	if err := tmp.Close(); err != nil {
		return encoding.Digest{}, 0, err
	}
	// Stored payloads are world-readable (0644), not CreateTemp's 0600.
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		return encoding.Digest{}, 0, err
	}

	digest, err := encoding.FromBytesExact(hasher.Sum(nil))
	if err != nil {
		return encoding.Digest{}, 0, err
	}

	finalPath := s.pathFor(digest)
	if _, statErr := os.Stat(finalPath); statErr == nil {
		return digest, size, nil
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return encoding.Digest{}, 0, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return encoding.Digest{}, 0, err
	}
	removeTemp = false
	return digest, size, nil
}

func (s *FSStore) OpenPayload(ctx context.Context, digest encoding.Digest) (io.ReadCloser, error) {
	f, err := os.Open(s.pathFor(digest))
	if os.IsNotExist(err) {
		return nil, spfserr.UnknownObject(digest)
	}
	return f, err
}

func (s *FSStore) RemovePayload(ctx context.Context, digest encoding.Digest) error {
	err := os.Remove(s.pathFor(digest))
	if os.IsNotExist(err) {
		return spfserr.UnknownObject(digest)
	}
	return err
}

func (s *FSStore) IterPayloads(ctx context.Context) (PayloadIteratorCloser, error) {
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
			return nil // skip stray files (temp files, etc.)
		}
		digests = append(digests, dg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sliceDigestIterator{digests: digests}, nil
}

// PayloadIteratorCloser matches storage.PayloadIterator's shape without
// importing the storage package, which would create an import cycle since
// storage's backends (fs) import payload.
type PayloadIteratorCloser interface {
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
