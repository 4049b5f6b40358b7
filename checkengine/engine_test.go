package checkengine

import (
	"bytes"
	"context"
	"testing"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/storage/mem"
)

func TestCheckRootsHealthyClosure(t *testing.T) {
	ctx := context.Background()
	repo := mem.New()

	payload, _, err := repo.WritePayload(ctx, bytes.NewBufferString("data"))
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}
	blob, err := repo.WriteObject(ctx, graph.Blob{Payload: payload, Size: 4})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}

	report, err := CheckRoots(ctx, repo, []encoding.Digest{blob}, Options{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.CheckedObjects != 1 {
		t.Fatalf("expected 1 checked object, got %d", report.CheckedObjects)
	}
	if report.CheckedPayloads != 1 {
		t.Fatalf("expected 1 checked payload, got %d", report.CheckedPayloads)
	}
	if len(report.MissingObjects) != 0 || len(report.MissingPayloads) != 0 {
		t.Fatalf("expected nothing missing, got %+v", report)
	}
}

func TestCheckRootsDetectsMissingPayload(t *testing.T) {
	ctx := context.Background()
	repo := mem.New()

	missingPayload, err := encoding.DigestOf(encoding.StrategyLegacy, encoding.KindBlob, nil, []byte("gone"))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	blob, err := repo.WriteObject(ctx, graph.Blob{Payload: missingPayload, Size: 4})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}

	report, err := CheckRoots(ctx, repo, []encoding.Digest{blob}, Options{})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(report.MissingPayloads) != 1 || report.MissingPayloads[0] != missingPayload {
		t.Fatalf("expected the missing payload recorded, got %+v", report.MissingPayloads)
	}
	if report.CheckedObjects != 1 {
		t.Fatalf("a blob whose payload is missing is still itself present and checked, got %d", report.CheckedObjects)
	}
}

func TestCheckRootsRepairsFromSource(t *testing.T) {
	ctx := context.Background()
	source := mem.New()
	dest := mem.New()

	payload, _, err := source.WritePayload(ctx, bytes.NewBufferString("data"))
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}
	blob, err := source.WriteObject(ctx, graph.Blob{Payload: payload, Size: 4})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}

	report, err := CheckRoots(ctx, dest, []encoding.Digest{blob}, Options{Repair: source})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if report.RepairedObjects != 1 {
		t.Fatalf("expected 1 repaired object, got %d", report.RepairedObjects)
	}
	if has, _ := dest.HasObject(ctx, blob); !has {
		t.Fatal("repair should have written the blob into dest")
	}
	if has, _ := dest.HasPayload(ctx, payload); !has {
		t.Fatal("repair should have synced the blob's payload transitively")
	}
}
