// Package render materializes a manifest (or a bottom-to-top stack of
// them) as a real directory tree: directories are created, regular files
// are hardlinked or copied from the payload store, and symlinks are
// recreated verbatim. Grounded file-for-file in
// original_source/crates/spfs/src/storage/fs/render_summary.rs and
// render_reporter.rs for the result taxonomy and summary counters; the
// copy/link mechanics follow storage/payload/fs.go's temp-file-then-
// rename pattern.
package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/tracking"
)

// Strategy selects how a regular file's bytes are materialized at the
// render target.
type Strategy int

const (
	// HardLink links from a per-render proxy copy of the payload, so the
	// canonical payload file in the repository never accrues more than
	// one link no matter how many renders reference it.
	HardLink Strategy = iota
	// HardLinkNoProxy links directly from the canonical payload file,
	// requiring the repository to expose a local filesystem path.
	HardLinkNoProxy
	// Copy copies from a per-render proxy copy of the payload, so a
	// remote-backed repository is only read once per digest even across
	// many renders.
	Copy
	// CopyNoProxy copies directly from the repository's payload stream
	// every time, with no local caching.
	CopyNoProxy
)

func (s Strategy) usesProxy() bool {
	return s == HardLink || s == Copy
}

// LocalPayloadPath is implemented by payload stores backed by a real
// local filesystem. HardLinkNoProxy requires it; the other strategies
// only need storage.Repository's stream-based OpenPayload.
type LocalPayloadPath interface {
	PayloadPath(d encoding.Digest) (string, error)
}

// Options configures a render.
type Options struct {
	Strategy Strategy

	// DigestStrategy selects the encoding scheme used to resolve a
	// manifest's embedded trees by digest. Defaults to encoding.StrategyLegacy.
	DigestStrategy encoding.Strategy

	// ProxyDir holds per-digest cached payload copies for the HardLink
	// and Copy strategies. Required when Strategy.usesProxy().
	ProxyDir string

	Reporter Reporter
}

func (o Options) withDefaults() Options {
	if o.DigestStrategy == 0 {
		o.DigestStrategy = encoding.StrategyLegacy
	}
	if o.Reporter == nil {
		o.Reporter = NoopReporter{}
	}
	return o
}

// Manifest merges layers bottom-to-top and materializes the result under
// targetDir, returning a summary of how each entry was rendered.
// targetDir is created if it doesn't already exist. The render is only
// considered complete once targetDir itself has been fsynced, so a
// caller can treat that fsync as the durability boundary: a render that
// is interrupted beforehand leaves a directory that's safe to re-render
// into (every step is idempotent), never one a consumer should trust.
func Manifest(ctx context.Context, repo storage.Repository, targetDir string, layers []graph.Manifest, opts Options) (*Summary, error) {
	opts = opts.withDefaults()
	if opts.Strategy.usesProxy() && opts.ProxyDir == "" {
		return nil, spfserr.New(spfserr.KindInvariant, "render_no_proxy_dir", "a proxy directory is required for this render strategy")
	}
	if opts.Strategy == HardLinkNoProxy {
		if _, ok := repo.(LocalPayloadPath); !ok {
			return nil, spfserr.New(spfserr.KindInvariant, "render_no_local_path", "hard-link-no-proxy requires a locally-backed repository")
		}
	}

	summaryReporter := NewSummaryReporter()
	reporter := NewMultiReporter(opts.Reporter, summaryReporter)

	merged := tracking.NewManifest()
	for _, layer := range layers {
		reporter.VisitLayer(layer)
		if err := applyLayer(merged, opts.DigestStrategy, layer); err != nil {
			return nil, err
		}
		reporter.RenderedLayer(layer)
	}

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, err
	}

	paths := merged.Paths()
	sort.Strings(paths) // parents sort before children lexicographically
	for _, p := range paths {
		entry, _ := merged.Get(p)
		fullPath := filepath.Join(targetDir, filepath.FromSlash(p))
		ge := graph.Entry{Name: path.Base(p), Kind: entry.Kind, Mode: entry.Mode, Size: entry.Size, Object: entry.Object}
		reporter.VisitEntry(p, ge)

		switch entry.Kind {
		case graph.EntryKindTree:
			if err := renderDir(fullPath, entry.Mode); err != nil {
				return nil, fmt.Errorf("render %s: %w", p, err)
			}
		case graph.EntryKindBlob:
			payloadDigest, err := resolveBlobPayload(ctx, repo, entry.Object)
			if err != nil {
				return nil, fmt.Errorf("render %s: %w", p, err)
			}
			if fs.FileMode(entry.Mode)&fs.ModeSymlink != 0 {
				result, err := renderSymlink(ctx, repo, fullPath, payloadDigest)
				if err != nil {
					return nil, fmt.Errorf("render %s: %w", p, err)
				}
				reporter.RenderedBlob(p, ge, result)
			} else {
				result, err := renderRegularFile(ctx, repo, fullPath, entry, payloadDigest, opts)
				if err != nil {
					return nil, fmt.Errorf("render %s: %w", p, err)
				}
				reporter.RenderedBlob(p, ge, result)
			}
		}
		reporter.RenderedEntry(p, ge)
	}

	if err := fsyncDir(targetDir); err != nil {
		return nil, err
	}
	return summaryReporter.Summary, nil
}

func renderDir(fullPath string, mode uint32) error {
	perm := fs.FileMode(mode).Perm()
	if perm == 0 {
		perm = 0o755
	}
	if fi, err := os.Lstat(fullPath); err == nil {
		if fi.IsDir() {
			return os.Chmod(fullPath, perm)
		}
		if err := os.RemoveAll(fullPath); err != nil {
			return err
		}
	}
	return os.MkdirAll(fullPath, perm)
}

func renderSymlink(ctx context.Context, repo storage.Repository, fullPath string, payload encoding.Digest) (BlobResult, error) {
	target, err := readPayloadString(ctx, repo, payload)
	if err != nil {
		return 0, err
	}
	if existing, err := os.Readlink(fullPath); err == nil {
		if existing == target {
			return SymlinkAlreadyExists, nil
		}
		if err := os.Remove(fullPath); err != nil {
			return 0, err
		}
	} else if _, statErr := os.Lstat(fullPath); statErr == nil {
		// something else occupies the path; replace it
		if err := os.RemoveAll(fullPath); err != nil {
			return 0, err
		}
	}
	if err := os.Symlink(target, fullPath); err != nil {
		return 0, err
	}
	return SymlinkWritten, nil
}

// resolveBlobPayload follows a Blob-kind tree entry's Object digest (a
// graph.Blob in the object database) to the payload digest it wraps. A
// null Object (a broken symlink recorded with no target) resolves to
// NullDigest with no error.
func resolveBlobPayload(ctx context.Context, repo storage.Repository, d encoding.Digest) (encoding.Digest, error) {
	if d.IsNull() {
		return encoding.NullDigest, nil
	}
	obj, err := repo.ReadObject(ctx, d)
	if err != nil {
		return encoding.NullDigest, err
	}
	blob, ok := obj.(graph.Blob)
	if !ok {
		return encoding.NullDigest, spfserr.New(spfserr.KindCorruption, "render_not_a_blob", "tree entry does not reference a blob object")
	}
	return blob.Payload, nil
}

func readPayloadString(ctx context.Context, repo storage.Repository, d encoding.Digest) (string, error) {
	if d.IsNull() {
		return "", nil
	}
	r, err := repo.OpenPayload(ctx, d)
	if err != nil {
		return "", err
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func renderRegularFile(ctx context.Context, repo storage.Repository, fullPath string, entry tracking.Entry, payloadDigest encoding.Digest, opts Options) (BlobResult, error) {
	wantMode := fs.FileMode(entry.Mode).Perm()
	if wantMode == 0 {
		wantMode = 0o644
	}

	switch opts.Strategy {
	case HardLinkNoProxy:
		srcPath, err := repo.(LocalPayloadPath).PayloadPath(payloadDigest)
		if err != nil {
			return 0, err
		}
		return linkOrCopy(fullPath, srcPath, wantMode, false)
	case HardLink:
		srcPath, err := ensureProxyFile(ctx, repo, opts.ProxyDir, payloadDigest, wantMode)
		if err != nil {
			return 0, err
		}
		return linkOrCopy(fullPath, srcPath, wantMode, true)
	case Copy:
		srcPath, err := ensureProxyFile(ctx, repo, opts.ProxyDir, payloadDigest, wantMode)
		if err != nil {
			return 0, err
		}
		if err := copyLocalFile(srcPath, fullPath, wantMode); err != nil {
			return 0, err
		}
		return PayloadCopiedByRequest, nil
	default: // CopyNoProxy
		if err := copyPayloadDirect(ctx, repo, fullPath, payloadDigest, wantMode); err != nil {
			return 0, err
		}
		return PayloadCopiedByRequest, nil
	}
}

// linkOrCopy hardlinks fullPath to srcPath, falling back to a plain copy
// (with a result recording why) when the link can't or shouldn't be
// made. fromProxy is true when srcPath is a proxy copy we created
// ourselves (so its mode/owner already match and need no checking).
func linkOrCopy(fullPath, srcPath string, wantMode fs.FileMode, fromProxy bool) (BlobResult, error) {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		return 0, err
	}

	if existing, err := os.Lstat(fullPath); err == nil {
		if sameFile(existing, srcInfo) {
			return PayloadAlreadyExists, nil
		}
		if err := os.RemoveAll(fullPath); err != nil {
			return 0, err
		}
	}

	if !fromProxy {
		if srcInfo.Mode().Perm() != wantMode {
			if err := copyLocalFile(srcPath, fullPath, wantMode); err != nil {
				return 0, err
			}
			return PayloadCopiedWrongMode, nil
		}
		if uid, ok := fileUID(srcInfo); ok && uid != uint32(os.Getuid()) {
			if err := copyLocalFile(srcPath, fullPath, wantMode); err != nil {
				return 0, err
			}
			return PayloadCopiedWrongOwner, nil
		}
	}

	if err := os.Link(srcPath, fullPath); err != nil {
		if errors.Is(err, syscall.EMLINK) {
			if cerr := copyLocalFile(srcPath, fullPath, wantMode); cerr != nil {
				return 0, cerr
			}
			return PayloadCopiedLinkLimit, nil
		}
		return 0, err
	}
	return PayloadHardLinked, nil
}

func sameFile(a, b os.FileInfo) bool {
	sa, ok := a.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	sb, ok := b.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	return sa.Dev == sb.Dev && sa.Ino == sb.Ino
}

func fileUID(info os.FileInfo) (uint32, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return st.Uid, true
}

func ensureProxyFile(ctx context.Context, repo storage.Repository, proxyDir string, d encoding.Digest, mode fs.FileMode) (string, error) {
	name := d.String()
	dir := filepath.Join(proxyDir, name[:2])
	proxyPath := filepath.Join(dir, fmt.Sprintf("%s-%o", name[2:], mode))
	if _, err := os.Stat(proxyPath); err == nil {
		return proxyPath, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	r, err := repo.OpenPayload(ctx, d)
	if err != nil {
		return "", err
	}
	defer r.Close()

	tmp, err := os.CreateTemp(dir, "proxy-*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	removeTemp := true
	defer func() {
		if removeTemp {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, proxyPath); err != nil {
		if _, statErr := os.Stat(proxyPath); statErr == nil {
			removeTemp = true
			return proxyPath, nil
		}
		return "", err
	}
	removeTemp = false
	return proxyPath, nil
}

func copyPayloadDirect(ctx context.Context, repo storage.Repository, fullPath string, d encoding.Digest, mode fs.FileMode) error {
	r, err := repo.OpenPayload(ctx, d)
	if err != nil {
		return err
	}
	defer r.Close()
	return writeLocalFile(r, fullPath, mode)
}

func copyLocalFile(srcPath, fullPath string, mode fs.FileMode) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return writeLocalFile(f, fullPath, mode)
}

func writeLocalFile(r io.Reader, fullPath string, mode fs.FileMode) error {
	if err := os.RemoveAll(fullPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	dir := filepath.Dir(fullPath)
	tmp, err := os.CreateTemp(dir, ".render-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	removeTemp := true
	defer func() {
		if removeTemp {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		return err
	}
	removeTemp = false
	return nil
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
