package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/storage/object"
	"github.com/spkenv/spfs/tracking"
)

// buildFixtureRepo writes a one-file, one-layer repository tagged
// "test/fixture" and returns its root directory and the layer's digest.
func buildFixtureRepo(t *testing.T) (root string, layerDigest encoding.Digest) {
	t.Helper()
	root = filepath.Join(t.TempDir(), "repo")

	repo, err := openRepository(root, true)
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}

	ctx := context.Background()
	payload, _, err := repo.WritePayload(ctx, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}
	blob, err := repo.WriteObject(ctx, graph.Blob{Payload: payload, Size: 5})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	tree := graph.Tree{Entries: []graph.Entry{
		{Name: "file.txt", Kind: graph.EntryKindBlob, Mode: 0o644, Size: 5, Object: blob},
	}}
	rootDigest, err := tree.Digest(object.DefaultStrategy)
	if err != nil {
		t.Fatalf("tree digest: %v", err)
	}
	manifest := graph.Manifest{Root: rootDigest, Trees: []graph.Tree{tree}}
	manifestDigest, err := repo.WriteObject(ctx, manifest)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	layerDigest, err = repo.WriteObject(ctx, graph.Layer{Manifest: manifestDigest})
	if err != nil {
		t.Fatalf("write layer: %v", err)
	}

	spec, err := tracking.ParseTagSpec("test/fixture")
	if err != nil {
		t.Fatalf("parse tag spec: %v", err)
	}
	if _, err := repo.PushTag(ctx, spec, layerDigest); err != nil {
		t.Fatalf("push tag: %v", err)
	}
	return root, layerDigest
}

func TestRenderCommandMaterializesFixture(t *testing.T) {
	root, _ := buildFixtureRepo(t)
	target := filepath.Join(t.TempDir(), "out")

	cmd := newRenderCommand()
	cmd.SetArgs([]string{root, target, "test/fixture", "--strategy", "copy-no-proxy"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("render: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(target, "file.txt"))
	if err != nil {
		t.Fatalf("read rendered file: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("rendered content = %q", data)
	}
}

func TestExportCommandWritesOCILayout(t *testing.T) {
	root, _ := buildFixtureRepo(t)
	target := filepath.Join(t.TempDir(), "oci")

	cmd := newExportCommand()
	cmd.SetArgs([]string{root, "test/fixture", target})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("export: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "index.json")); err != nil {
		t.Fatalf("expected index.json: %v", err)
	}
	if _, err := os.Stat(filepath.Join(target, "oci-layout")); err != nil {
		t.Fatalf("expected oci-layout: %v", err)
	}
}

func TestSyncCommandCopiesClosureBetweenRepos(t *testing.T) {
	source, layerDigest := buildFixtureRepo(t)
	dest := filepath.Join(t.TempDir(), "dest")

	cmd := newSyncCommand()
	cmd.SetArgs([]string{source, dest, "test/fixture", "--create-dest"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("sync: %v", err)
	}

	destRepo, err := openRepository(dest, false)
	if err != nil {
		t.Fatalf("open dest: %v", err)
	}
	has, err := destRepo.HasObject(context.Background(), layerDigest)
	if err != nil {
		t.Fatalf("has object: %v", err)
	}
	if !has {
		t.Fatal("expected dest to have the synced layer object")
	}
}
