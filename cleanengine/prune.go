package cleanengine

import "github.com/spkenv/spfs/tracking"

// PruneOptions configures Phase A tag-history pruning. A predicate field
// left at its zero value is disabled; at least one select predicate must
// be enabled for any entry to be a deletion candidate, so an all-zero
// PruneOptions is a safe no-op rather than "prune everything".
type PruneOptions struct {
	// OlderThanUnix selects entries at or before this Unix time. Zero
	// disables the predicate.
	OlderThanUnix int64
	// VersionBeyond selects entries whose position in the stream (0 =
	// newest) is greater than this. Zero or negative disables it.
	VersionBeyond int
	// PruneRepeated selects an entry whose target digest equals that of
	// a more-recent entry in the same stream.
	PruneRepeated bool

	// NewerThanUnix forbids deleting entries at or after this Unix time.
	// Zero disables the guard.
	NewerThanUnix int64
	// VersionWithin forbids deleting entries whose position is less than
	// this (0 = newest). Zero or negative disables the guard.
	VersionWithin int
	// RequiredAgeSeconds forbids deleting any entry younger than this,
	// protecting in-flight writers. Zero means the 15 minute default.
	RequiredAgeSeconds int64
}

const defaultRequiredAgeSeconds = 15 * 60

func (o PruneOptions) requiredAgeSeconds() int64 {
	if o.RequiredAgeSeconds > 0 {
		return o.RequiredAgeSeconds
	}
	return defaultRequiredAgeSeconds
}

func (o PruneOptions) anySelectPredicate() bool {
	return o.OlderThanUnix > 0 || o.VersionBeyond > 0 || o.PruneRepeated
}

// PrunePlan is the result of evaluating PruneOptions against one tag
// stream: entries to keep and entries to remove, newest-first like the
// input.
type PrunePlan struct {
	Keep   []tracking.Tag
	Remove []tracking.Tag
}

// PlanPruneStream is a pure function of entries (newest-first, as returned
// by TagStorage.ReadTag / IterTagStreams) and now: it never touches
// storage, so it is safe to call repeatedly for a dry run.
func PlanPruneStream(entries []tracking.Tag, opts PruneOptions, nowUnix int64) PrunePlan {
	plan := PrunePlan{}
	if !opts.anySelectPredicate() {
		plan.Keep = append(plan.Keep, entries...)
		return plan
	}

	for i, e := range entries {
		if !selectedForPrune(entries, i, opts) || guarded(e, i, opts, nowUnix) {
			plan.Keep = append(plan.Keep, e)
			continue
		}
		plan.Remove = append(plan.Remove, e)
	}
	return plan
}

func selectedForPrune(entries []tracking.Tag, i int, opts PruneOptions) bool {
	e := entries[i]
	if opts.OlderThanUnix > 0 && e.Time.Unix() > opts.OlderThanUnix {
		return false
	}
	if opts.VersionBeyond > 0 && i <= opts.VersionBeyond {
		return false
	}
	if opts.PruneRepeated {
		repeated := false
		for j := 0; j < i; j++ {
			if entries[j].Target == e.Target {
				repeated = true
				break
			}
		}
		if !repeated {
			return false
		}
	}
	return true
}

// guarded reports whether any keep-guard forbids removing entries[i],
// including the age floor that always applies.
func guarded(e tracking.Tag, i int, opts PruneOptions, nowUnix int64) bool {
	if nowUnix-e.Time.Unix() < opts.requiredAgeSeconds() {
		return true
	}
	if opts.NewerThanUnix > 0 && e.Time.Unix() >= opts.NewerThanUnix {
		return true
	}
	if opts.VersionWithin > 0 && i < opts.VersionWithin {
		return true
	}
	return false
}
