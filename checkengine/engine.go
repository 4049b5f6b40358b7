// Package checkengine walks the closure of a set of roots verifying that
// every object decodes and every blob's payload is present, optionally
// repairing what's missing from a second repository. The walk shape is
// grounded in the same non-short-circuiting traversal storage/object's
// DatabaseWalker uses, reused here instead of duplicated. A missing object
// is repaired through syncengine's single-object sync; a missing payload
// under a present blob is copied directly from the repair source.
package checkengine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/internal/metrics"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/syncengine"
)

// Options bounds the check walk's fan-out and optionally enables repair.
type Options struct {
	MaxConcurrency int64 // default 200

	// Repair, if non-nil, is consulted for anything found missing: the
	// item is synced from Repair into the repository under check and
	// re-verified.
	Repair storage.Repository
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 200
	}
	return o
}

// Report summarizes one check run.
type Report struct {
	mu sync.Mutex

	CheckedObjects  int
	CheckedPayloads int

	MissingObjects  []encoding.Digest
	MissingPayloads []encoding.Digest

	RepairedObjects  int
	RepairedPayloads int

	TransportErrors []error
}

func (r *Report) checkedObject() {
	r.mu.Lock()
	r.CheckedObjects++
	r.mu.Unlock()
	metrics.Observe("check", "object_checked")
}
func (r *Report) checkedPayload() {
	r.mu.Lock()
	r.CheckedPayloads++
	r.mu.Unlock()
	metrics.Observe("check", "payload_checked")
}

func (r *Report) missingObject(d encoding.Digest) {
	r.mu.Lock()
	r.MissingObjects = append(r.MissingObjects, d)
	r.mu.Unlock()
	metrics.Observe("check", "object_missing")
}

func (r *Report) missingPayload(d encoding.Digest) {
	r.mu.Lock()
	r.MissingPayloads = append(r.MissingPayloads, d)
	r.mu.Unlock()
	metrics.Observe("check", "payload_missing")
}

func (r *Report) repairedObject() {
	r.mu.Lock()
	r.RepairedObjects++
	r.mu.Unlock()
	metrics.Observe("check", "object_repaired")
}
func (r *Report) repairedPayload() {
	r.mu.Lock()
	r.RepairedPayloads++
	r.mu.Unlock()
	metrics.Observe("check", "payload_repaired")
}

func (r *Report) transportError(err error) {
	r.mu.Lock()
	r.TransportErrors = append(r.TransportErrors, err)
	r.mu.Unlock()
	metrics.Observe("check", "transport_error")
}

type engine struct {
	repo storage.Repository
	opts Options
	sem  *semaphore.Weighted
	seen sync.Map // encoding.Digest -> struct{}
	rep  *Report
}

// CheckRoots walks the transitive closure of roots in repo, verifying
// every object decodes and every blob's payload exists. Missing items
// don't abort the walk; they're recorded in the returned Report.
func CheckRoots(ctx context.Context, repo storage.Repository, roots []encoding.Digest, opts Options) (*Report, error) {
	e := &engine{
		repo: repo,
		opts: opts.withDefaults(),
		rep:  &Report{},
	}
	e.sem = semaphore.NewWeighted(e.opts.MaxConcurrency)

	g, groupCtx := errgroup.WithContext(ctx)
	for _, root := range roots {
		root := root
		g.Go(func() error {
			return e.checkObject(groupCtx, root)
		})
	}
	err := g.Wait()
	return e.rep, err
}

func (e *engine) checkObject(ctx context.Context, d encoding.Digest) error {
	if _, already := e.seen.LoadOrStore(d, struct{}{}); already {
		return nil
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.sem.Release(1)

	obj, err := e.repo.ReadObject(ctx, d)
	if err != nil {
		if !e.isMissing(err) {
			e.rep.transportError(err)
			return err
		}
		e.rep.missingObject(d)
		if e.opts.Repair == nil {
			return nil
		}
		if !e.repairObject(ctx, d) {
			return nil
		}
		obj, err = e.repo.ReadObject(ctx, d)
		if err != nil {
			return nil
		}
	}
	e.rep.checkedObject()

	if blob, ok := obj.(graph.Blob); ok && !blob.Payload.IsNull() {
		if err := e.checkPayload(ctx, blob.Payload); err != nil && spfserr.KindOf(err).Fatal() {
			return err
		}
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for _, child := range obj.ChildObjects() {
		child := child
		g.Go(func() error {
			return e.checkObject(groupCtx, child)
		})
	}
	return g.Wait()
}

func (e *engine) checkPayload(ctx context.Context, d encoding.Digest) error {
	has, err := e.repo.HasPayload(ctx, d)
	if err != nil {
		e.rep.transportError(err)
		return err
	}
	if has {
		e.rep.checkedPayload()
		return nil
	}
	e.rep.missingPayload(d)
	if e.opts.Repair == nil {
		return nil
	}
	hasRemote, err := e.opts.Repair.HasPayload(ctx, d)
	if err != nil || !hasRemote {
		return nil
	}
	r, err := e.opts.Repair.OpenPayload(ctx, d)
	if err != nil {
		return nil
	}
	defer r.Close()
	written, _, err := e.repo.WritePayload(ctx, r)
	if err != nil || written != d {
		return nil
	}
	e.rep.repairedPayload()
	e.rep.checkedPayload()
	return nil
}

// repairObject syncs d (and everything it references) from the repair
// source into repo, reusing syncengine rather than a second copy path.
func (e *engine) repairObject(ctx context.Context, d encoding.Digest) bool {
	_, err := syncengine.SyncDigest(ctx, e.opts.Repair, e.repo, d, syncengine.Options{})
	if err != nil {
		return false
	}
	e.rep.repairedObject()
	return true
}

func (e *engine) isMissing(err error) bool {
	return spfserr.KindOf(err) == spfserr.KindNotFound
}
