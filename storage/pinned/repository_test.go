package pinned

import (
	"context"
	"testing"
	"time"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/storage/mem"
	"github.com/spkenv/spfs/tracking"
)

func mustInsert(t *testing.T, repo *mem.Repository, org, name string, target byte, when time.Time) {
	t.Helper()
	var d encoding.Digest
	d[0] = target
	tag := tracking.Tag{Org: org, Name: name, Target: d, Time: when}
	if err := repo.InsertTag(context.Background(), tag); err != nil {
		t.Fatalf("insert tag: %v", err)
	}
}

// TestPinnedViewFiltersAndRenumbers checks invariant 7: ResolveTag filters
// a stream to entries at or before the pin, then indexes spec.Version
// into that filtered view, so version numbers are relative to the pinned
// view rather than the raw underlying stream.
func TestPinnedViewFiltersAndRenumbers(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inner := mem.New()

	// Oldest first, so each InsertTag prepend leaves the stream
	// newest-first: day3, day2, day1 (raw index 0, 1, 2).
	mustInsert(t, inner, "org", "widget", 1, base.AddDate(0, 0, 1))
	mustInsert(t, inner, "org", "widget", 2, base.AddDate(0, 0, 2))
	mustInsert(t, inner, "org", "widget", 3, base.AddDate(0, 0, 3))

	pin := base.AddDate(0, 0, 2) // excludes day3, keeps day2 and day1
	view := New(inner, pin)
	ctx := context.Background()

	newest, err := view.ResolveTag(ctx, tracking.TagSpec{Org: "org", Name: "widget", Version: 0})
	if err != nil {
		t.Fatalf("resolve version 0: %v", err)
	}
	if newest.Target[0] != 2 {
		t.Fatalf("pinned version 0 = target byte %d, want 2 (day3 must be excluded)", newest.Target[0])
	}

	older, err := view.ResolveTag(ctx, tracking.TagSpec{Org: "org", Name: "widget", Version: 1})
	if err != nil {
		t.Fatalf("resolve version 1: %v", err)
	}
	if older.Target[0] != 1 {
		t.Fatalf("pinned version 1 = target byte %d, want 1", older.Target[0])
	}

	if _, err := view.ResolveTag(ctx, tracking.TagSpec{Org: "org", Name: "widget", Version: 2}); err == nil {
		t.Fatal("expected UnknownReference for a version index beyond the filtered stream")
	}

	rawEntries, err := inner.ReadTag(ctx, tracking.TagSpec{Org: "org", Name: "widget"})
	if err != nil {
		t.Fatalf("read raw stream: %v", err)
	}
	if len(rawEntries) != 3 {
		t.Fatalf("pinning must not mutate the underlying stream, got %d entries", len(rawEntries))
	}
}

// TestPinnedViewExcludesStreamsOnlyAfterPin checks scenario S5: a tag
// stream whose only entries postdate the pin is excluded entirely from
// IterTagStreams, not just empty.
func TestPinnedViewExcludesStreamsOnlyAfterPin(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	inner := mem.New()

	mustInsert(t, inner, "org", "visible", 1, base)
	mustInsert(t, inner, "org", "future-only", 2, base.AddDate(0, 0, 10))

	pin := base.AddDate(0, 0, 5)
	view := New(inner, pin)
	ctx := context.Background()

	it, err := view.IterTagStreams(ctx)
	if err != nil {
		t.Fatalf("iter tag streams: %v", err)
	}
	defer it.Close()

	var names []string
	for {
		spec, _, err := it.Next(ctx)
		if err != nil {
			break
		}
		names = append(names, spec.String())
	}
	if len(names) != 1 || names[0] != "org/visible" {
		t.Fatalf("expected only org/visible to survive the pin, got %v", names)
	}

	if view.HasTag(ctx, tracking.TagSpec{Org: "org", Name: "future-only"}) {
		t.Fatal("expected future-only stream to be entirely hidden by the pin")
	}
}

// TestPinnedViewRejectsMutation checks that every write operation on a
// pinned view fails instead of silently mutating the underlying repo.
func TestPinnedViewRejectsMutation(t *testing.T) {
	inner := mem.New()
	view := New(inner, time.Now())
	ctx := context.Background()

	var target encoding.Digest
	if _, err := view.PushTag(ctx, tracking.TagSpec{Org: "org", Name: "x"}, target); err == nil {
		t.Fatal("expected PushTag on a pinned view to fail")
	}
	if err := view.InsertTag(ctx, tracking.Tag{Org: "org", Name: "x"}); err == nil {
		t.Fatal("expected InsertTag on a pinned view to fail")
	}
	if err := view.RemoveTag(ctx, tracking.Tag{Org: "org", Name: "x"}); err == nil {
		t.Fatal("expected RemoveTag on a pinned view to fail")
	}
	if err := view.RemoveTagStream(ctx, tracking.TagSpec{Org: "org", Name: "x"}); err == nil {
		t.Fatal("expected RemoveTagStream on a pinned view to fail")
	}
}
