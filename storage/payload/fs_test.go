package payload

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
)

// TestWritePayloadIsIdempotent checks invariant 4: writing identical bytes
// twice yields the same digest and leaves exactly one file on disk.
func TestWritePayloadIsIdempotent(t *testing.T) {
	root := t.TempDir()
	store := NewFSStore(root)
	ctx := context.Background()

	body := []byte("the same bytes, written twice")

	d1, size1, err := store.WritePayload(ctx, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("first write: %v", err)
	}
	d2, size2, err := store.WritePayload(ctx, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("second write: %v", err)
	}
	if d1 != d2 {
		t.Fatalf("digests differ between writes: %s vs %s", d1, d2)
	}
	if size1 != size2 {
		t.Fatalf("sizes differ between writes: %d vs %d", size1, size2)
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !de.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected exactly one payload file on disk, found %d: %v", len(files), files)
	}

	has, err := store.HasPayload(ctx, d1)
	if err != nil {
		t.Fatalf("has payload: %v", err)
	}
	if !has {
		t.Fatal("expected store to report the payload as present")
	}

	rc, err := store.OpenPayload(ctx, d1)
	if err != nil {
		t.Fatalf("open payload: %v", err)
	}
	defer rc.Close()
	data, err := os.ReadFile(store.pathFor(d1))
	if err != nil {
		t.Fatalf("read stored file: %v", err)
	}
	if !bytes.Equal(data, body) {
		t.Fatalf("stored content = %q, want %q", data, body)
	}
}

func TestWritePayloadDistinctBodiesDistinctDigests(t *testing.T) {
	store := NewFSStore(t.TempDir())
	ctx := context.Background()

	d1, _, err := store.WritePayload(ctx, bytes.NewReader([]byte("one")))
	if err != nil {
		t.Fatalf("write one: %v", err)
	}
	d2, _, err := store.WritePayload(ctx, bytes.NewReader([]byte("two")))
	if err != nil {
		t.Fatalf("write two: %v", err)
	}
	if d1 == d2 {
		t.Fatal("distinct payloads produced the same digest")
	}
}
