package render

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	fsrepo "github.com/spkenv/spfs/storage/fs"
	"github.com/spkenv/spfs/storage/object"
)

type fixture struct {
	base, top graph.Manifest
	payload   encoding.Digest
}

// buildFixture writes two blobs and a symlink target into repo and
// returns a two-layer manifest stack: the base layer has a "removed.txt"
// file and a "dir/file.txt"/"dir/link" pair; the top layer masks
// "removed.txt" and adds "dir/newfile.txt".
func buildFixture(t *testing.T, repo *fsrepo.Repository) fixture {
	t.Helper()
	ctx := context.Background()

	payload, _, err := repo.WritePayload(ctx, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}
	blob, err := repo.WriteObject(ctx, graph.Blob{Payload: payload, Size: 5})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	linkPayload, _, err := repo.WritePayload(ctx, bytes.NewBufferString("target.txt"))
	if err != nil {
		t.Fatalf("write link payload: %v", err)
	}
	linkBlob, err := repo.WriteObject(ctx, graph.Blob{Payload: linkPayload, Size: 10})
	if err != nil {
		t.Fatalf("write link blob: %v", err)
	}

	dirTree := graph.Tree{Entries: []graph.Entry{
		{Name: "file.txt", Kind: graph.EntryKindBlob, Mode: 0o644, Size: 5, Object: blob},
		{Name: "link", Kind: graph.EntryKindBlob, Mode: uint32(fs.ModeSymlink | 0o777), Size: 10, Object: linkBlob},
	}}
	dirTree.SortEntries()
	dirDigest, err := dirTree.Digest(object.DefaultStrategy)
	if err != nil {
		t.Fatalf("dir tree digest: %v", err)
	}

	baseRoot := graph.Tree{Entries: []graph.Entry{
		{Name: "dir", Kind: graph.EntryKindTree, Mode: uint32(fs.ModeDir | 0o755), Object: dirDigest},
		{Name: "removed.txt", Kind: graph.EntryKindBlob, Mode: 0o644, Size: 5, Object: blob},
	}}
	baseRoot.SortEntries()
	baseRootDigest, err := baseRoot.Digest(object.DefaultStrategy)
	if err != nil {
		t.Fatalf("base root digest: %v", err)
	}
	base := graph.Manifest{Root: baseRootDigest, Trees: []graph.Tree{baseRoot, dirTree}}

	topDirTree := graph.Tree{Entries: []graph.Entry{
		{Name: "file.txt", Kind: graph.EntryKindBlob, Mode: 0o644, Size: 5, Object: blob},
		{Name: "link", Kind: graph.EntryKindBlob, Mode: uint32(fs.ModeSymlink | 0o777), Size: 10, Object: linkBlob},
		{Name: "newfile.txt", Kind: graph.EntryKindBlob, Mode: 0o644, Size: 5, Object: blob},
	}}
	topDirTree.SortEntries()
	topDirDigest, err := topDirTree.Digest(object.DefaultStrategy)
	if err != nil {
		t.Fatalf("top dir tree digest: %v", err)
	}
	topRoot := graph.Tree{Entries: []graph.Entry{
		{Name: "dir", Kind: graph.EntryKindTree, Mode: uint32(fs.ModeDir | 0o755), Object: topDirDigest},
		{Name: "removed.txt", Kind: graph.EntryKindMask, Object: encoding.NullDigest},
	}}
	topRoot.SortEntries()
	topRootDigest, err := topRoot.Digest(object.DefaultStrategy)
	if err != nil {
		t.Fatalf("top root digest: %v", err)
	}
	top := graph.Manifest{Root: topRootDigest, Trees: []graph.Tree{topRoot, topDirTree}}

	return fixture{base: base, top: top, payload: payload}
}

func openRepo(t *testing.T) *fsrepo.Repository {
	t.Helper()
	repo, err := fsrepo.Create(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}
	return repo
}

func TestManifestCopyNoProxyMergesMasksAndLayers(t *testing.T) {
	repo := openRepo(t)
	fx := buildFixture(t, repo)
	target := filepath.Join(t.TempDir(), "render")

	summary, err := Manifest(context.Background(), repo, target, []graph.Manifest{fx.base, fx.top}, Options{
		Strategy:       CopyNoProxy,
		DigestStrategy: object.DefaultStrategy,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	if _, err := os.Stat(filepath.Join(target, "removed.txt")); !os.IsNotExist(err) {
		t.Fatalf("removed.txt should have been masked by the top layer, stat err = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(target, "dir", "file.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("dir/file.txt = %q, %v", data, err)
	}
	data, err = os.ReadFile(filepath.Join(target, "dir", "newfile.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("dir/newfile.txt = %q, %v", data, err)
	}
	linkTarget, err := os.Readlink(filepath.Join(target, "dir", "link"))
	if err != nil || linkTarget != "target.txt" {
		t.Fatalf("dir/link -> %q, %v", linkTarget, err)
	}

	if got := summary.CopyCount.Load(); got != 2 {
		t.Fatalf("expected 2 copies, got %d", got)
	}
	if got := summary.SymlinkCount.Load(); got != 1 {
		t.Fatalf("expected 1 symlink, got %d", got)
	}
}

func TestManifestHardLinkNoProxyLinksCanonicalPayload(t *testing.T) {
	repo := openRepo(t)
	fx := buildFixture(t, repo)
	target := filepath.Join(t.TempDir(), "render")

	summary, err := Manifest(context.Background(), repo, target, []graph.Manifest{fx.base, fx.top}, Options{
		Strategy:       HardLinkNoProxy,
		DigestStrategy: object.DefaultStrategy,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := summary.LinkCount.Load(); got != 2 {
		t.Fatalf("expected 2 hardlinks, got %d", got)
	}

	canonical, err := repo.PayloadPath(fx.payload)
	if err != nil {
		t.Fatalf("payload path: %v", err)
	}
	canonicalInfo, err := os.Stat(canonical)
	if err != nil {
		t.Fatalf("stat canonical payload: %v", err)
	}
	renderedInfo, err := os.Stat(filepath.Join(target, "dir", "file.txt"))
	if err != nil {
		t.Fatalf("stat rendered file: %v", err)
	}
	cst := canonicalInfo.Sys().(*syscall.Stat_t)
	rst := renderedInfo.Sys().(*syscall.Stat_t)
	if cst.Ino != rst.Ino {
		t.Fatal("expected the rendered file to be hardlinked to the canonical payload")
	}

	// Re-rendering into the same target is idempotent: the second render
	// sees every regular file already correctly hardlinked.
	summary2, err := Manifest(context.Background(), repo, target, []graph.Manifest{fx.base, fx.top}, Options{
		Strategy:       HardLinkNoProxy,
		DigestStrategy: object.DefaultStrategy,
	})
	if err != nil {
		t.Fatalf("re-render: %v", err)
	}
	if got := summary2.AlreadyExistedCount.Load(); got != 2 {
		t.Fatalf("expected 2 already-existed on re-render, got %d", got)
	}
	if got := summary2.LinkCount.Load(); got != 0 {
		t.Fatalf("expected 0 new hardlinks on re-render, got %d", got)
	}
}

func TestManifestHardLinkUsesProxyNotCanonicalPayload(t *testing.T) {
	repo := openRepo(t)
	fx := buildFixture(t, repo)
	root := t.TempDir()
	target := filepath.Join(root, "render")
	proxyDir := filepath.Join(root, "proxy")

	summary, err := Manifest(context.Background(), repo, target, []graph.Manifest{fx.base, fx.top}, Options{
		Strategy:       HardLink,
		DigestStrategy: object.DefaultStrategy,
		ProxyDir:       proxyDir,
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := summary.LinkCount.Load(); got != 2 {
		t.Fatalf("expected 2 hardlinks, got %d", got)
	}

	canonical, err := repo.PayloadPath(fx.payload)
	if err != nil {
		t.Fatalf("payload path: %v", err)
	}
	canonicalInfo, err := os.Stat(canonical)
	if err != nil {
		t.Fatalf("stat canonical payload: %v", err)
	}
	renderedInfo, err := os.Stat(filepath.Join(target, "dir", "file.txt"))
	if err != nil {
		t.Fatalf("stat rendered file: %v", err)
	}
	cst := canonicalInfo.Sys().(*syscall.Stat_t)
	rst := renderedInfo.Sys().(*syscall.Stat_t)
	if cst.Ino == rst.Ino {
		t.Fatal("HardLink should link from a proxy copy, never directly from the canonical payload")
	}
}

func TestManifestRequiresProxyDirForProxyStrategies(t *testing.T) {
	repo := openRepo(t)
	fx := buildFixture(t, repo)
	target := filepath.Join(t.TempDir(), "render")

	_, err := Manifest(context.Background(), repo, target, []graph.Manifest{fx.base}, Options{Strategy: Copy})
	if err == nil {
		t.Fatal("expected an error when Copy is used with no ProxyDir configured")
	}
}
