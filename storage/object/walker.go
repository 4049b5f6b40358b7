package object

import (
	"context"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/graph"
)

// Reader is the minimal read surface the walker needs from a database.
type Reader interface {
	ReadObject(ctx context.Context, digest encoding.Digest) (graph.Object, error)
}

// WalkItem is one step of a closure walk: the digest visited and either
// its decoded object or the error encountered reading it.
type WalkItem struct {
	Digest encoding.Digest
	Object graph.Object
	Err    error
}

// Walk performs a breadth-first traversal of the object graph reachable
// from roots. It does not short-circuit on a read error for one digest:
// the error is recorded against that digest in the returned item, and the
// walk continues with whatever siblings remain queued. Only on successful
// reads are a digest's children enqueued, since an object that failed to
// decode has no known children to add.
func Walk(ctx context.Context, db Reader, roots []encoding.Digest) []WalkItem {
	seen := make(map[encoding.Digest]bool)
	queue := append([]encoding.Digest(nil), roots...)
	var items []WalkItem

	for len(queue) > 0 {
		d := queue[0]
		queue = queue[1:]
		if seen[d] {
			continue
		}
		seen[d] = true

		obj, err := db.ReadObject(ctx, d)
		if err != nil {
			items = append(items, WalkItem{Digest: d, Err: err})
			continue
		}
		items = append(items, WalkItem{Digest: d, Object: obj})
		for _, child := range obj.ChildObjects() {
			if !seen[child] {
				queue = append(queue, child)
			}
		}
	}
	return items
}
