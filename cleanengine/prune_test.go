package cleanengine

import (
	"testing"
	"time"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/tracking"
)

func tagAt(t *testing.T, target string, when time.Time) tracking.Tag {
	t.Helper()
	d, err := encoding.DigestOf(encoding.StrategyLegacy, encoding.KindBlob, nil, []byte(target))
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	return tracking.Tag{Org: "o", Name: "n", Target: d, Time: when}
}

func TestPlanPruneStreamNoPredicatesKeepsEverything(t *testing.T) {
	now := time.Now()
	entries := []tracking.Tag{
		tagAt(t, "a", now.Add(-48*time.Hour)),
		tagAt(t, "b", now.Add(-72*time.Hour)),
	}
	plan := PlanPruneStream(entries, PruneOptions{}, now.Unix())
	if len(plan.Remove) != 0 {
		t.Fatalf("expected no removals with no predicates configured, got %d", len(plan.Remove))
	}
	if len(plan.Keep) != 2 {
		t.Fatalf("expected both entries kept, got %d", len(plan.Keep))
	}
}

func TestPlanPruneStreamOlderThan(t *testing.T) {
	now := time.Now()
	entries := []tracking.Tag{
		tagAt(t, "newest", now.Add(-2*time.Hour)),
		tagAt(t, "old", now.Add(-48*time.Hour)),
	}
	opts := PruneOptions{OlderThanUnix: now.Add(-24 * time.Hour).Unix()}
	plan := PlanPruneStream(entries, opts, now.Unix())
	if len(plan.Remove) != 1 || plan.Remove[0].Target != entries[1].Target {
		t.Fatalf("expected only the 48h-old entry removed, got %+v", plan.Remove)
	}
}

func TestPlanPruneStreamAgeFloorProtectsRecentEntries(t *testing.T) {
	now := time.Now()
	entries := []tracking.Tag{
		tagAt(t, "just-written", now.Add(-1*time.Minute)),
	}
	opts := PruneOptions{OlderThanUnix: now.Unix()}
	plan := PlanPruneStream(entries, opts, now.Unix())
	if len(plan.Remove) != 0 {
		t.Fatal("expected the age floor to protect an entry written a minute ago")
	}
}

func TestPlanPruneStreamVersionWithinGuardOverridesOlderThan(t *testing.T) {
	now := time.Now()
	old := now.Add(-48 * time.Hour)
	entries := []tracking.Tag{
		tagAt(t, "newest-but-old", old),
		tagAt(t, "second-but-old", old),
	}
	opts := PruneOptions{
		OlderThanUnix: now.Unix(),
		VersionWithin: 0, // guard disabled: position 0 still selectable
	}
	plan := PlanPruneStream(entries, opts, now.Unix())
	if len(plan.Remove) != 2 {
		t.Fatalf("expected both old entries selected with the guard disabled, got %d", len(plan.Remove))
	}

	opts.VersionWithin = 1 // keep the newest (position 0) no matter its age
	plan = PlanPruneStream(entries, opts, now.Unix())
	if len(plan.Remove) != 1 || plan.Remove[0].Target != entries[1].Target {
		t.Fatalf("expected only the non-newest entry removed under version_within guard, got %+v", plan.Remove)
	}
}

func TestPlanPruneStreamPruneRepeated(t *testing.T) {
	now := time.Now()
	old := now.Add(-48 * time.Hour)
	entries := []tracking.Tag{
		tagAt(t, "same", old),
		tagAt(t, "same", old.Add(-time.Hour)),
		tagAt(t, "different", old.Add(-2*time.Hour)),
	}
	opts := PruneOptions{PruneRepeated: true}
	plan := PlanPruneStream(entries, opts, now.Unix())
	if len(plan.Remove) != 1 || plan.Remove[0].Target != entries[1].Target {
		t.Fatalf("expected only the repeated older entry pointing at the same target removed, got %+v", plan.Remove)
	}
}
