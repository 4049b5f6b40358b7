package ocibridge

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/spkenv/spfs/graph"
	fsrepo "github.com/spkenv/spfs/storage/fs"
	"github.com/spkenv/spfs/storage/object"
)

func TestExportWritesAValidImageLayout(t *testing.T) {
	ctx := context.Background()
	repo, err := fsrepo.Create(filepath.Join(t.TempDir(), "repo"))
	if err != nil {
		t.Fatalf("create repo: %v", err)
	}

	payload, _, err := repo.WritePayload(ctx, bytes.NewBufferString("hello"))
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}
	blob, err := repo.WriteObject(ctx, graph.Blob{Payload: payload, Size: 5})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	root := graph.Tree{Entries: []graph.Entry{
		{Name: "file.txt", Kind: graph.EntryKindBlob, Mode: 0o644, Size: 5, Object: blob},
	}}
	rootDigest, err := root.Digest(object.DefaultStrategy)
	if err != nil {
		t.Fatalf("root digest: %v", err)
	}
	manifest := graph.Manifest{Root: rootDigest, Trees: []graph.Tree{root}}
	manifestDigest, err := repo.WriteObject(ctx, manifest)
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	layerDigest, err := repo.WriteObject(ctx, graph.Layer{Manifest: manifestDigest})
	if err != nil {
		t.Fatalf("write layer: %v", err)
	}

	stack := graph.NewStack(layerDigest)
	dir := filepath.Join(t.TempDir(), "oci")
	result, err := Export(ctx, repo, object.DefaultStrategy, stack, dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(result.LayerDigests) != 1 {
		t.Fatalf("expected 1 layer digest, got %d", len(result.LayerDigests))
	}

	layoutData, err := os.ReadFile(filepath.Join(dir, "oci-layout"))
	if err != nil {
		t.Fatalf("read oci-layout: %v", err)
	}
	var layout v1.ImageLayout
	if err := json.Unmarshal(layoutData, &layout); err != nil {
		t.Fatalf("unmarshal oci-layout: %v", err)
	}
	if layout.Version != v1.ImageLayoutVersion {
		t.Fatalf("layout version = %q", layout.Version)
	}

	indexData, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		t.Fatalf("read index.json: %v", err)
	}
	var index v1.Index
	if err := json.Unmarshal(indexData, &index); err != nil {
		t.Fatalf("unmarshal index.json: %v", err)
	}
	if len(index.Manifests) != 1 || index.Manifests[0].Digest != result.ManifestDigest {
		t.Fatalf("index.json manifests = %+v", index.Manifests)
	}

	manifestBlob := filepath.Join(dir, "blobs", "sha256", result.ManifestDigest.Encoded())
	if _, err := os.Stat(manifestBlob); err != nil {
		t.Fatalf("expected manifest blob at %s: %v", manifestBlob, err)
	}
	configBlob := filepath.Join(dir, "blobs", "sha256", result.ConfigDigest.Encoded())
	if _, err := os.Stat(configBlob); err != nil {
		t.Fatalf("expected config blob at %s: %v", configBlob, err)
	}
	layerBlob := filepath.Join(dir, "blobs", "sha256", result.LayerDigests[0].Encoded())
	if _, err := os.Stat(layerBlob); err != nil {
		t.Fatalf("expected layer blob at %s: %v", layerBlob, err)
	}
}
