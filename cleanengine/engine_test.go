package cleanengine

import (
	"bytes"
	"context"
	"testing"

	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/storage/mem"
	"github.com/spkenv/spfs/tracking"
)

func TestRunSweepsUnattachedObjectsAndPayloads(t *testing.T) {
	ctx := context.Background()
	repo := mem.New()

	keptPayload, _, err := repo.WritePayload(ctx, bytes.NewBufferString("kept"))
	if err != nil {
		t.Fatalf("write kept payload: %v", err)
	}
	keptBlob, err := repo.WriteObject(ctx, graph.Blob{Payload: keptPayload, Size: 4})
	if err != nil {
		t.Fatalf("write kept blob: %v", err)
	}
	if _, err := repo.PushTag(ctx, tracking.TagSpec{Org: "o", Name: "kept"}, keptBlob); err != nil {
		t.Fatalf("push tag: %v", err)
	}

	orphanPayload, _, err := repo.WritePayload(ctx, bytes.NewBufferString("orphan"))
	if err != nil {
		t.Fatalf("write orphan payload: %v", err)
	}
	orphanBlob, err := repo.WriteObject(ctx, graph.Blob{Payload: orphanPayload, Size: 6})
	if err != nil {
		t.Fatalf("write orphan blob: %v", err)
	}

	stats, err := Run(ctx, repo, PruneOptions{}, Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if has, _ := repo.HasObject(ctx, keptBlob); !has {
		t.Fatal("tagged blob must survive clean")
	}
	if has, _ := repo.HasPayload(ctx, keptPayload); !has {
		t.Fatal("tagged blob's payload must survive clean")
	}
	if has, _ := repo.HasObject(ctx, orphanBlob); has {
		t.Fatal("unattached blob should have been swept")
	}
	if has, _ := repo.HasPayload(ctx, orphanPayload); has {
		t.Fatal("unattached payload should have been swept")
	}
	if stats.ObjectsRemoved != 1 {
		t.Fatalf("expected 1 object removed, got %d", stats.ObjectsRemoved)
	}
	if stats.PayloadsRemoved != 1 {
		t.Fatalf("expected 1 payload removed, got %d", stats.PayloadsRemoved)
	}
}

func TestRunDryRunRemovesNothing(t *testing.T) {
	ctx := context.Background()
	repo := mem.New()

	payload, _, err := repo.WritePayload(ctx, bytes.NewBufferString("orphan"))
	if err != nil {
		t.Fatalf("write payload: %v", err)
	}
	blob, err := repo.WriteObject(ctx, graph.Blob{Payload: payload, Size: 6})
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}

	stats, err := Run(ctx, repo, PruneOptions{}, Options{DryRun: true})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats.ObjectsRemoved != 0 || stats.PayloadsRemoved != 0 {
		t.Fatalf("dry run must not remove anything, got %+v", stats)
	}
	if has, _ := repo.HasObject(ctx, blob); !has {
		t.Fatal("dry run removed an object it should only have logged")
	}
	if has, _ := repo.HasPayload(ctx, payload); !has {
		t.Fatal("dry run removed a payload it should only have logged")
	}
}
