// Package cleanengine prunes tag history and sweeps objects, payloads,
// renders, and proxies that nothing references any more. It is a two-phase
// pipeline directly grounded in registry/storage/garbagecollect.go's
// MarkAndSweep: Phase A is pure tag-history pruning (spec.md §4.8), Phase B
// is a mark (closure walk over what Phase A left behind) followed by a
// sweep of everything the mark never visited. The age floor
// (PruneOptions.RequiredAgeSeconds) guards tag entries in Phase A only; the
// sweep applies no age check of its own.
// GCOpts/CheckpointState/LockFile/acquireLock/saveCheckpoint carry
// over with clean-specific field names.
package cleanengine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/internal/logging"
	"github.com/spkenv/spfs/internal/metrics"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/tracking"
)

// AttachmentSource lists and removes render or proxy roots keyed by the
// digest they materialize, so Phase B can sweep them the same way it
// sweeps objects and payloads. It is optional, and a nil source is simply
// skipped; no type in this module implements it.
type AttachmentSource interface {
	ListRoots(ctx context.Context) ([]encoding.Digest, error)
	RemoveRoot(ctx context.Context, d encoding.Digest) error
}

// Options bounds three independent fan-out pools (tag scans in Phase A,
// discovery and removal in Phase B) and enables
// checkpointing/locking the way registry/storage/garbagecollect.go's
// GCOpts does.
type Options struct {
	DryRun bool

	MaxConcurrentTagScans  int64 // default 20
	MaxConcurrentDiscovery int64 // default 200
	MaxConcurrentRemoval   int64 // default 200

	CheckpointDir string        // optional: enables checkpoint/resume
	LockTimeout   time.Duration // default 24h

	MarkOnly  bool // only run Phase A + Phase B mark, save candidates
	SweepOnly bool // only run Phase B sweep, resuming from a checkpoint

	Renders AttachmentSource
	Proxies AttachmentSource
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentTagScans <= 0 {
		o.MaxConcurrentTagScans = 20
	}
	if o.MaxConcurrentDiscovery <= 0 {
		o.MaxConcurrentDiscovery = 200
	}
	if o.MaxConcurrentRemoval <= 0 {
		o.MaxConcurrentRemoval = 200
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 24 * time.Hour
	}
	return o
}

// Stats counts what a clean run visited and removed, by kind.
type Stats struct {
	TagsVisited int
	TagsPruned  int

	ObjectsVisited int
	ObjectsRemoved int

	PayloadsVisited int
	PayloadsRemoved int

	RendersRemoved int
	ProxiesRemoved int
}

// Run executes Phase A (tag pruning) then Phase B (mark and sweep) against
// repo, returning the combined Stats. DryRun logs every candidate removal
// without executing it.
func Run(ctx context.Context, repo storage.Repository, prune PruneOptions, opts Options) (*Stats, error) {
	opts = opts.withDefaults()
	log := logging.Default()

	if err := acquireLock(opts.CheckpointDir, opts.LockTimeout); err != nil {
		return nil, err
	}
	defer func() {
		if err := releaseLock(opts.CheckpointDir); err != nil {
			log.WithError(err).Warn("failed to release clean lock")
		}
	}()

	stats := &Stats{}

	if opts.SweepOnly {
		checkpoint, err := loadCheckpoint(opts.CheckpointDir)
		if err != nil {
			return stats, err
		}
		if checkpoint == nil {
			return stats, fmt.Errorf("sweep-only clean requires a completed mark-phase checkpoint in %q", opts.CheckpointDir)
		}
		*stats = checkpoint.Stats
		return stats, sweepDigestStrings(ctx, repo, opts, stats, checkpoint.UnattachedObjects, checkpoint.UnattachedPayload)
	}

	if err := prunePhase(ctx, repo, prune, opts, stats); err != nil {
		return stats, err
	}

	attached, err := markPhase(ctx, repo, opts, stats)
	if err != nil {
		return stats, err
	}

	if opts.MarkOnly {
		candidateObjects, candidatePayloads, err := unattachedCandidates(ctx, repo, attached)
		if err != nil {
			return stats, err
		}
		return stats, saveCheckpoint(opts.CheckpointDir, checkpointState{
			MarkPhaseComplete: true,
			Stats:             *stats,
			UnattachedObjects: digestStrings(candidateObjects),
			UnattachedPayload: digestStrings(candidatePayloads),
		})
	}

	return stats, sweepPhase(ctx, repo, opts, stats, attached)
}

func digestStrings(ds []encoding.Digest) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

// attachedSet is the result of Phase B's mark step: every object and
// payload digest transitively reachable from a surviving tag.
type attachedSet struct {
	objects  map[encoding.Digest]struct{}
	payloads map[encoding.Digest]struct{}
}

// prunePhase evaluates PruneOptions against every tag stream and removes
// the selected entries. Each stream is scanned and rewritten independently
// under its own fan-out slot; conflicts within a stream resolve toward
// keeping because PlanPruneStream only ever removes entries it positively
// selected and that no guard protects.
func prunePhase(ctx context.Context, repo storage.Repository, prune PruneOptions, opts Options, stats *Stats) error {
	it, err := repo.IterTagStreams(ctx)
	if err != nil {
		return err
	}
	defer it.Close()

	sem := semaphore.NewWeighted(opts.MaxConcurrentTagScans)
	g, groupCtx := errgroup.WithContext(ctx)
	now := time.Now().Unix()

	for {
		spec, entries, err := it.Next(groupCtx)
		if err != nil {
			if err != io.EOF {
				return err
			}
			break
		}
		if len(entries) == 0 {
			continue
		}
		spec, entries := spec, entries
		if err := sem.Acquire(groupCtx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return prunePlanForStream(groupCtx, repo, spec, entries, prune, opts, stats, now)
		})
	}
	return g.Wait()
}

func prunePlanForStream(ctx context.Context, repo storage.Repository, spec tracking.TagSpec, entries []tracking.Tag, prune PruneOptions, opts Options, stats *Stats, now int64) error {
	plan := PlanPruneStream(entries, prune, now)
	stats.TagsVisited += len(entries)
	metrics.Observe("clean", "tags_visited")
	if len(plan.Remove) == 0 {
		return nil
	}
	if opts.DryRun {
		logging.Default().Infof("dry-run: would prune %d entries from %s", len(plan.Remove), spec)
		stats.TagsPruned += len(plan.Remove)
		return nil
	}
	for _, t := range plan.Remove {
		if err := repo.RemoveTag(ctx, t); err != nil {
			return err
		}
		stats.TagsPruned++
		metrics.Observe("clean", "tag_pruned")
	}
	return nil
}

// markPhase walks every remaining tag's target transitively, recording
// every object and payload digest it reaches.
func markPhase(ctx context.Context, repo storage.Repository, opts Options, stats *Stats) (*attachedSet, error) {
	attached := &attachedSet{
		objects:  make(map[encoding.Digest]struct{}),
		payloads: make(map[encoding.Digest]struct{}),
	}
	var mu lockedCounter
	sem := semaphore.NewWeighted(opts.MaxConcurrentDiscovery)

	it, err := repo.IterTagStreams(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	g, groupCtx := errgroup.WithContext(ctx)
	seen := make(map[encoding.Digest]struct{})
	var seenMu lockedCounter

	for {
		_, entries, err := it.Next(groupCtx)
		if err != nil {
			if err != io.EOF {
				return nil, err
			}
			break
		}
		for _, t := range entries {
			if t.Target.IsNull() {
				continue
			}
			d := t.Target
			seenMu.mu.Lock()
			_, already := seen[d]
			if !already {
				seen[d] = struct{}{}
			}
			seenMu.mu.Unlock()
			if already {
				continue
			}
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return nil, err
			}
			g.Go(func() error {
				defer sem.Release(1)
				return markObject(groupCtx, repo, d, attached, &mu, stats)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return attached, nil
}

type lockedCounter struct {
	mu sync.Mutex
}

func markObject(ctx context.Context, repo storage.Repository, d encoding.Digest, attached *attachedSet, mu *lockedCounter, stats *Stats) error {
	mu.mu.Lock()
	_, already := attached.objects[d]
	if !already {
		attached.objects[d] = struct{}{}
	}
	mu.mu.Unlock()
	if already {
		return nil
	}

	obj, err := repo.ReadObject(ctx, d)
	if err != nil {
		return nil
	}

	mu.mu.Lock()
	stats.ObjectsVisited++
	mu.mu.Unlock()
	metrics.Observe("clean", "object_marked")

	if blob, ok := obj.(graph.Blob); ok && !blob.Payload.IsNull() {
		mu.mu.Lock()
		attached.payloads[blob.Payload] = struct{}{}
		stats.PayloadsVisited++
		mu.mu.Unlock()
		metrics.Observe("clean", "payload_marked")
	}

	for _, child := range obj.ChildObjects() {
		if err := markObject(ctx, repo, child, attached, mu, stats); err != nil {
			return err
		}
	}
	return nil
}

// unattachedCandidates enumerates everything in the object and payload
// stores that markPhase never visited.
func unattachedCandidates(ctx context.Context, repo storage.Repository, attached *attachedSet) ([]encoding.Digest, []encoding.Digest, error) {
	var objects []encoding.Digest
	oit, err := repo.IterDigests(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer oit.Close()
	for {
		d, err := oit.Next(ctx)
		if err != nil {
			if err != io.EOF {
				return nil, nil, err
			}
			break
		}
		if _, ok := attached.objects[d]; !ok {
			objects = append(objects, d)
		}
	}

	var payloads []encoding.Digest
	pit, err := repo.IterPayloads(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer pit.Close()
	for {
		d, err := pit.Next(ctx)
		if err != nil {
			if err != io.EOF {
				return nil, nil, err
			}
			break
		}
		if _, ok := attached.payloads[d]; !ok {
			payloads = append(payloads, d)
		}
	}

	return objects, payloads, nil
}

// sweepPhase removes every object, payload, render root, and proxy root
// that markPhase never reached. No age floor applies here: the store keeps
// no per-object timestamp, so an object or payload that is not yet
// reachable from any tag when the mark runs is removed like any other
// unattached item.
func sweepPhase(ctx context.Context, repo storage.Repository, opts Options, stats *Stats, attached *attachedSet) error {
	objects, payloads, err := unattachedCandidates(ctx, repo, attached)
	if err != nil {
		return err
	}
	if err := removeObjects(ctx, repo, opts, stats, objects); err != nil {
		return err
	}
	if err := removePayloads(ctx, repo, opts, stats, payloads); err != nil {
		return err
	}
	if err := sweepAttachmentSource(ctx, opts.Renders, opts, attached, &stats.RendersRemoved); err != nil {
		return err
	}
	return sweepAttachmentSource(ctx, opts.Proxies, opts, attached, &stats.ProxiesRemoved)
}

func sweepDigestStrings(ctx context.Context, repo storage.Repository, opts Options, stats *Stats, objectStrs, payloadStrs []string) error {
	objects := make([]encoding.Digest, 0, len(objectStrs))
	for _, s := range objectStrs {
		if d, err := encoding.Parse(s); err == nil {
			objects = append(objects, d)
		}
	}
	payloads := make([]encoding.Digest, 0, len(payloadStrs))
	for _, s := range payloadStrs {
		if d, err := encoding.Parse(s); err == nil {
			payloads = append(payloads, d)
		}
	}
	if err := removeObjects(ctx, repo, opts, stats, objects); err != nil {
		return err
	}
	return removePayloads(ctx, repo, opts, stats, payloads)
}

func removeObjects(ctx context.Context, repo storage.Repository, opts Options, stats *Stats, digests []encoding.Digest) error {
	sem := semaphore.NewWeighted(opts.MaxConcurrentRemoval)
	g, groupCtx := errgroup.WithContext(ctx)
	var mu lockedCounter
	for _, d := range digests {
		d := d
		if opts.DryRun {
			logging.Default().Infof("dry-run: would remove unattached object %s", d)
			continue
		}
		if err := sem.Acquire(groupCtx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := repo.RemoveObject(groupCtx, d); err != nil {
				return err
			}
			mu.mu.Lock()
			stats.ObjectsRemoved++
			mu.mu.Unlock()
			metrics.Observe("clean", "object_removed")
			return nil
		})
	}
	return g.Wait()
}

func removePayloads(ctx context.Context, repo storage.Repository, opts Options, stats *Stats, digests []encoding.Digest) error {
	sem := semaphore.NewWeighted(opts.MaxConcurrentRemoval)
	g, groupCtx := errgroup.WithContext(ctx)
	var mu lockedCounter
	for _, d := range digests {
		d := d
		if opts.DryRun {
			logging.Default().Infof("dry-run: would remove unattached payload %s", d)
			continue
		}
		if err := sem.Acquire(groupCtx, 1); err != nil {
			return err
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := repo.RemovePayload(groupCtx, d); err != nil {
				return err
			}
			mu.mu.Lock()
			stats.PayloadsRemoved++
			mu.mu.Unlock()
			metrics.Observe("clean", "payload_removed")
			return nil
		})
	}
	return g.Wait()
}

// sweepAttachmentSource removes every root src reports that markPhase did
// not reach. A root's digest is attached if it is either an attached
// object digest (a render of a layer/platform that's still reachable) or
// an attached payload digest.
func sweepAttachmentSource(ctx context.Context, src AttachmentSource, opts Options, attached *attachedSet, removed *int) error {
	if src == nil {
		return nil
	}
	roots, err := src.ListRoots(ctx)
	if err != nil {
		return err
	}
	for _, d := range roots {
		if _, ok := attached.objects[d]; ok {
			continue
		}
		if _, ok := attached.payloads[d]; ok {
			continue
		}
		if opts.DryRun {
			logging.Default().Infof("dry-run: would remove unattached root %s", d)
			continue
		}
		if err := src.RemoveRoot(ctx, d); err != nil {
			return err
		}
		*removed++
		metrics.Observe("clean", "attachment_root_removed")
	}
	return nil
}
