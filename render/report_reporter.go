package render

import (
	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/internal/report"
)

// BroadcastReporter forwards every render notification to a
// report.Broadcaster, so a caller can attach a logging sink, a metrics
// sink, or a test-only channel sink without render itself depending on
// any of them.
type BroadcastReporter struct {
	NoopReporter
	b *report.Broadcaster
}

// NewBroadcastReporter wraps b as a render.Reporter.
func NewBroadcastReporter(b *report.Broadcaster) *BroadcastReporter {
	return &BroadcastReporter{b: b}
}

func (r *BroadcastReporter) VisitEntry(path string, e graph.Entry) {
	r.b.Emit("render", "visit_entry", path, e.Object, e.Size)
}

func (r *BroadcastReporter) RenderedBlob(path string, e graph.Entry, result BlobResult) {
	r.b.Emit("render", result.String(), path, e.Object, e.Size)
}

func (r *BroadcastReporter) RenderedEntry(path string, e graph.Entry) {
	r.b.Emit("render", "rendered_entry", path, e.Object, e.Size)
}

var _ Reporter = (*BroadcastReporter)(nil)
