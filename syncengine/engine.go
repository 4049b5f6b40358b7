// Package syncengine copies the transitive closure of a set of references
// from a source Repository to a destination Repository. The worker-pool
// shape is grounded in registry/storage/garbagecollect.go's
// errgroup.WithContext + g.SetLimit pattern, generalized from one bounded
// pool to the three spec.md §4.7 calls for: object sync, payload sync, and
// manifest-child recursion.
package syncengine

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/internal/logging"
	"github.com/spkenv/spfs/internal/metrics"
	"github.com/spkenv/spfs/spfserr"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/tracking"
)

// Options bounds the three independent fan-out pools. Zero values fall
// back to spec.md §4.7's defaults.
type Options struct {
	MaxConcurrentObjects   int64 // default 500
	MaxConcurrentPayloads  int64 // default 500
	MaxConcurrentManifests int64 // default 50
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrentObjects <= 0 {
		o.MaxConcurrentObjects = 500
	}
	if o.MaxConcurrentPayloads <= 0 {
		o.MaxConcurrentPayloads = 500
	}
	if o.MaxConcurrentManifests <= 0 {
		o.MaxConcurrentManifests = 50
	}
	return o
}

// Report counts what the sync visited, copied, skipped, and failed, split
// by object and payload, plus the individual errors encountered.
type Report struct {
	mu sync.Mutex

	ObjectsVisited int
	ObjectsCopied  int
	ObjectsSkipped int
	ObjectsFailed  int

	PayloadsVisited int
	PayloadsCopied  int
	PayloadsSkipped int
	PayloadsFailed  int

	Errors []error
}

func (r *Report) visitObject() {
	r.mu.Lock()
	r.ObjectsVisited++
	r.mu.Unlock()
	metrics.Observe("sync", "object_visited")
}
func (r *Report) copyObject() {
	r.mu.Lock()
	r.ObjectsCopied++
	r.mu.Unlock()
	metrics.Observe("sync", "object_copied")
}
func (r *Report) skipObject() {
	r.mu.Lock()
	r.ObjectsSkipped++
	r.mu.Unlock()
	metrics.Observe("sync", "object_skipped")
}
func (r *Report) failObject(err error) {
	r.mu.Lock()
	r.ObjectsFailed++
	r.Errors = append(r.Errors, err)
	r.mu.Unlock()
	metrics.Observe("sync", "object_failed")
}
func (r *Report) visitPayload() {
	r.mu.Lock()
	r.PayloadsVisited++
	r.mu.Unlock()
	metrics.Observe("sync", "payload_visited")
}
func (r *Report) copyPayload() {
	r.mu.Lock()
	r.PayloadsCopied++
	r.mu.Unlock()
	metrics.Observe("sync", "payload_copied")
}
func (r *Report) skipPayload() {
	r.mu.Lock()
	r.PayloadsSkipped++
	r.mu.Unlock()
	metrics.Observe("sync", "payload_skipped")
}
func (r *Report) failPayload(err error) {
	r.mu.Lock()
	r.PayloadsFailed++
	r.Errors = append(r.Errors, err)
	r.mu.Unlock()
	metrics.Observe("sync", "payload_failed")
}

// Engine syncs references from source into dest.
type Engine struct {
	source storage.Repository
	dest   storage.Repository
	opts   Options
	log    logging.Logger

	objectSem   *semaphore.Weighted
	payloadSem  *semaphore.Weighted
	manifestSem *semaphore.Weighted

	mu     sync.Mutex
	nodes  map[encoding.Digest]*nodeState
	report *Report
}

type nodeState struct {
	done chan struct{}
	err  error
}

func New(source, dest storage.Repository, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		source:      source,
		dest:        dest,
		opts:        opts,
		log:         logging.Default(),
		objectSem:   semaphore.NewWeighted(opts.MaxConcurrentObjects),
		payloadSem:  semaphore.NewWeighted(opts.MaxConcurrentPayloads),
		manifestSem: semaphore.NewWeighted(opts.MaxConcurrentManifests),
		nodes:       make(map[encoding.Digest]*nodeState),
		report:      &Report{},
	}
}

// ResolveRef resolves ref against repo: a full or partial digest string, or
// an "org/name" / "org/name~N" tag spec.
func ResolveRef(ctx context.Context, repo storage.Repository, ref string) (encoding.Digest, error) {
	if d, err := encoding.Parse(ref); err == nil {
		return d, nil
	}
	if spec, err := tracking.ParseTagSpec(ref); err == nil {
		if t, err := repo.ResolveTag(ctx, spec); err == nil {
			return t.Target, nil
		}
	}
	return repo.ResolveFullDigest(ctx, ref)
}

// SyncEnv resolves each ref against source and syncs the transitive
// closure of all of them into dest, returning one shared Report.
func SyncEnv(ctx context.Context, source, dest storage.Repository, refs []string, opts Options) (*Report, error) {
	e := New(source, dest, opts)
	g, groupCtx := errgroup.WithContext(ctx)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			d, err := ResolveRef(groupCtx, source, ref)
			if err != nil {
				return spfserr.Wrap(spfserr.KindNotFound, "unresolvable_ref", "resolve sync ref "+ref, err)
			}
			return e.syncObject(groupCtx, d)
		})
	}
	err := g.Wait()
	return e.report, err
}

// SyncDigest syncs the transitive closure of a single digest into dest.
func SyncDigest(ctx context.Context, source, dest storage.Repository, d encoding.Digest, opts Options) (*Report, error) {
	e := New(source, dest, opts)
	err := e.syncObject(ctx, d)
	return e.report, err
}

// syncObject ensures d and everything it transitively references exists in
// dest. Children always finish before this call writes d itself, so a
// process crash never leaves dest holding a parent with a missing child.
func (e *Engine) syncObject(ctx context.Context, d encoding.Digest) error {
	state, first := e.claim(d)
	if !first {
		select {
		case <-state.done:
			return state.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer close(state.done)

	err := e.doSyncObject(ctx, d)
	state.err = err
	return err
}

func (e *Engine) claim(d encoding.Digest) (*nodeState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.nodes[d]; ok {
		return s, false
	}
	s := &nodeState{done: make(chan struct{})}
	e.nodes[d] = s
	return s, true
}

func (e *Engine) doSyncObject(ctx context.Context, d encoding.Digest) error {
	if err := e.objectSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.objectSem.Release(1)

	e.report.visitObject()

	has, err := e.dest.HasObject(ctx, d)
	if err != nil && spfserr.KindOf(err).Fatal() {
		e.report.failObject(err)
		return err
	}
	if has {
		e.report.skipObject()
		return nil
	}

	obj, err := e.source.ReadObject(ctx, d)
	if err != nil {
		e.report.failObject(err)
		if spfserr.KindOf(err).Fatal() {
			return err
		}
		return nil
	}

	if childErr := e.syncChildren(ctx, obj); childErr != nil {
		e.report.failObject(childErr)
		if spfserr.KindOf(childErr).Fatal() {
			return childErr
		}
		return nil
	}

	if blob, ok := obj.(graph.Blob); ok {
		if err := e.syncPayload(ctx, blob.Payload); err != nil {
			e.report.failObject(err)
			if spfserr.KindOf(err).Fatal() {
				return err
			}
			return nil
		}
	}

	if _, err := e.dest.WriteObject(ctx, obj); err != nil {
		e.report.failObject(err)
		if spfserr.KindOf(err).Fatal() {
			return err
		}
		return nil
	}
	e.report.copyObject()
	return nil
}

// syncChildren recurses into obj's child digests through the manifest
// fan-out pool: recursion into tree structure is throttled independently
// from the concurrency of syncing the objects themselves.
func (e *Engine) syncChildren(ctx context.Context, obj graph.Object) error {
	children := obj.ChildObjects()
	if len(children) == 0 {
		return nil
	}
	if err := e.manifestSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.manifestSem.Release(1)

	g, groupCtx := errgroup.WithContext(ctx)
	for _, child := range children {
		child := child
		g.Go(func() error {
			return e.syncObject(groupCtx, child)
		})
	}
	return g.Wait()
}

func (e *Engine) syncPayload(ctx context.Context, d encoding.Digest) error {
	if d.IsNull() {
		return nil
	}
	if err := e.payloadSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.payloadSem.Release(1)

	e.report.visitPayload()

	has, err := e.dest.HasPayload(ctx, d)
	if err != nil {
		e.report.failPayload(err)
		return err
	}
	if has {
		e.report.skipPayload()
		return nil
	}

	r, err := e.source.OpenPayload(ctx, d)
	if err != nil {
		e.report.failPayload(err)
		return err
	}
	defer r.Close()

	written, _, err := e.dest.WritePayload(ctx, r)
	if err != nil {
		e.report.failPayload(err)
		return err
	}
	if written != d {
		err := spfserr.Corruption("payload digest mismatch during sync", nil)
		e.report.failPayload(err)
		return err
	}
	e.report.copyPayload()
	return nil
}
