package syncengine

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/storage/mem"
	"github.com/spkenv/spfs/storage/object"
)

// buildFixture writes a blob, the manifest referencing it, and a layer
// wrapping that manifest into repo, and returns the layer's digest.
func buildFixture(t *testing.T, repo *mem.Repository) encoding.Digest {
	t.Helper()
	ctx := context.Background()

	payloadDigest, _, err := repo.WritePayload(ctx, bytes.NewBufferString("hello world"))
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}

	blobDigest, err := repo.WriteObject(ctx, graph.Blob{Payload: payloadDigest, Size: 11})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}

	tree := graph.Tree{Entries: []graph.Entry{
		{Name: "hello.txt", Kind: graph.EntryKindBlob, Mode: 0o644, Size: 11, Object: blobDigest},
	}}
	tree.SortEntries()
	rootDigest, err := tree.Digest(object.DefaultStrategy)
	if err != nil {
		t.Fatalf("tree digest: %v", err)
	}

	manifestDigest, err := repo.WriteObject(ctx, graph.Manifest{Root: rootDigest, Trees: []graph.Tree{tree}})
	if err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	layerDigest, err := repo.WriteObject(ctx, graph.Layer{Manifest: manifestDigest})
	if err != nil {
		t.Fatalf("write layer: %v", err)
	}
	return layerDigest
}

func TestSyncDigestCopiesWholeClosure(t *testing.T) {
	ctx := context.Background()
	source := mem.New()
	dest := mem.New()

	layerDigest := buildFixture(t, source)

	report, err := SyncDigest(ctx, source, dest, layerDigest, Options{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.ObjectsCopied != 3 {
		t.Fatalf("expected 3 objects copied (layer, manifest, blob), got %d", report.ObjectsCopied)
	}
	if report.PayloadsCopied != 1 {
		t.Fatalf("expected 1 payload copied, got %d", report.PayloadsCopied)
	}

	if has, _ := dest.HasObject(ctx, layerDigest); !has {
		t.Fatal("layer missing from dest after sync")
	}

	layer, err := dest.ReadObject(ctx, layerDigest)
	if err != nil {
		t.Fatalf("read synced layer: %v", err)
	}
	l, ok := layer.(graph.Layer)
	if !ok {
		t.Fatalf("unexpected object kind %T", layer)
	}
	if has, _ := dest.HasObject(ctx, l.Manifest); !has {
		t.Fatal("manifest missing from dest even though layer reports it present")
	}
}

func TestSyncDigestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	source := mem.New()
	dest := mem.New()
	layerDigest := buildFixture(t, source)

	if _, err := SyncDigest(ctx, source, dest, layerDigest, Options{}); err != nil {
		t.Fatalf("first sync: %v", err)
	}

	report, err := SyncDigest(ctx, source, dest, layerDigest, Options{})
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if report.ObjectsCopied != 0 {
		t.Fatalf("expected nothing copied on a repeat sync, got %d copies", report.ObjectsCopied)
	}
	// The layer is already present, so it is skipped without descending
	// into its closure: children are always written before their parent.
	if report.ObjectsSkipped != 1 {
		t.Fatalf("expected only the already-present layer skipped, got %d", report.ObjectsSkipped)
	}
	if report.PayloadsSkipped != 0 {
		t.Fatalf("expected the payload not revisited below a present layer, got %d", report.PayloadsSkipped)
	}
}

func TestSyncDigestSharedChildSyncedOnce(t *testing.T) {
	ctx := context.Background()
	source := mem.New()
	dest := mem.New()

	layerDigest := buildFixture(t, source)
	layer, err := source.ReadObject(ctx, layerDigest)
	if err != nil {
		t.Fatalf("read layer: %v", err)
	}
	l := layer.(graph.Layer)

	// A second layer pointing at the same manifest: the shared manifest
	// (and its blob/payload) must be synced exactly once even though two
	// independent refs are synced together.
	secondLayerDigest, err := source.WriteObject(ctx, graph.Layer{Manifest: l.Manifest, Annotations: []graph.Annotation{
		{Key: "variant", Value: graph.NewStringValue("second")},
	}})
	if err != nil {
		t.Fatalf("write second layer: %v", err)
	}

	report, err := SyncEnv(ctx, source, dest, []string{layerDigest.String(), secondLayerDigest.String()}, Options{})
	if err != nil {
		t.Fatalf("sync env: %v", err)
	}
	// layer1 + layer2 + manifest + blob == 4 objects, the shared manifest
	// and blob counted only once.
	if report.ObjectsCopied != 4 {
		t.Fatalf("expected 4 distinct objects copied, got %d", report.ObjectsCopied)
	}
	if report.PayloadsCopied != 1 {
		t.Fatalf("expected the shared payload copied exactly once, got %d", report.PayloadsCopied)
	}
}

func TestSyncPayloadFailurePreventsParentWrite(t *testing.T) {
	ctx := context.Background()
	source := mem.New()
	dest := mem.New()

	payloadDigest, _, err := source.WritePayload(ctx, bytes.NewBufferString("data"))
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}
	blobDigest, err := source.WriteObject(ctx, graph.Blob{Payload: payloadDigest, Size: 4})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}

	broken := &brokenPayloadSource{Repository: source, missing: payloadDigest}

	// A non-fatal per-item failure is recorded in the report rather than
	// returned.
	report, err := SyncDigest(ctx, broken, dest, blobDigest, Options{})
	if err != nil {
		t.Fatalf("expected the payload failure recorded, not returned: %v", err)
	}
	if report.PayloadsFailed != 1 {
		t.Fatalf("expected the unreadable payload recorded as failed, got %d", report.PayloadsFailed)
	}
	if has, _ := dest.HasObject(ctx, blobDigest); has {
		t.Fatal("blob object must not be written to dest when its payload failed to sync")
	}
}

// brokenPayloadSource wraps a *mem.Repository and fails OpenPayload for one
// digest, simulating a transport or corruption failure on a single item.
type brokenPayloadSource struct {
	*mem.Repository
	missing encoding.Digest
}

func (b *brokenPayloadSource) OpenPayload(ctx context.Context, d encoding.Digest) (io.ReadCloser, error) {
	if d == b.missing {
		return nil, io.ErrUnexpectedEOF
	}
	return b.Repository.OpenPayload(ctx, d)
}
