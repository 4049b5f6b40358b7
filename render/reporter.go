package render

import "github.com/spkenv/spfs/graph"

// BlobResult classifies how one regular-file or symlink entry was
// materialized, mirroring the original Rust render engine's
// RenderBlobResult enum one-for-one.
type BlobResult int

const (
	PayloadAlreadyExists BlobResult = iota
	PayloadCopiedByRequest
	PayloadCopiedLinkLimit
	PayloadCopiedWrongMode
	PayloadCopiedWrongOwner
	PayloadHardLinked
	SymlinkAlreadyExists
	SymlinkWritten
)

func (r BlobResult) String() string {
	switch r {
	case PayloadAlreadyExists:
		return "payload_already_exists"
	case PayloadCopiedByRequest:
		return "payload_copied_by_request"
	case PayloadCopiedLinkLimit:
		return "payload_copied_link_limit"
	case PayloadCopiedWrongMode:
		return "payload_copied_wrong_mode"
	case PayloadCopiedWrongOwner:
		return "payload_copied_wrong_owner"
	case PayloadHardLinked:
		return "payload_hard_linked"
	case SymlinkAlreadyExists:
		return "symlink_already_exists"
	case SymlinkWritten:
		return "symlink_written"
	default:
		return "unknown"
	}
}

// IsCopy reports whether result represents bytes actually being copied
// (as opposed to linked or left alone), the same grouping RenderSummary
// uses to roll up total_bytes_copied.
func (r BlobResult) IsCopy() bool {
	switch r {
	case PayloadCopiedByRequest, PayloadCopiedLinkLimit, PayloadCopiedWrongMode, PayloadCopiedWrongOwner:
		return true
	default:
		return false
	}
}

// Reporter receives progress notifications during a render. All methods
// are optional; embed NoopReporter to satisfy the interface without
// implementing every method.
type Reporter interface {
	VisitLayer(m graph.Manifest)
	RenderedLayer(m graph.Manifest)
	VisitEntry(path string, e graph.Entry)
	RenderedBlob(path string, e graph.Entry, result BlobResult)
	RenderedEntry(path string, e graph.Entry)
}

// NoopReporter implements Reporter with no-ops, for embedding.
type NoopReporter struct{}

func (NoopReporter) VisitLayer(graph.Manifest)                      {}
func (NoopReporter) RenderedLayer(graph.Manifest)                   {}
func (NoopReporter) VisitEntry(string, graph.Entry)                 {}
func (NoopReporter) RenderedBlob(string, graph.Entry, BlobResult)    {}
func (NoopReporter) RenderedEntry(string, graph.Entry)               {}

var _ Reporter = NoopReporter{}

// MultiReporter fans a render's notifications out to every reporter in
// the slice, in order.
type MultiReporter struct {
	Reporters []Reporter
}

func NewMultiReporter(reporters ...Reporter) MultiReporter {
	return MultiReporter{Reporters: reporters}
}

func (m MultiReporter) VisitLayer(man graph.Manifest) {
	for _, r := range m.Reporters {
		r.VisitLayer(man)
	}
}

func (m MultiReporter) RenderedLayer(man graph.Manifest) {
	for _, r := range m.Reporters {
		r.RenderedLayer(man)
	}
}

func (m MultiReporter) VisitEntry(path string, e graph.Entry) {
	for _, r := range m.Reporters {
		r.VisitEntry(path, e)
	}
}

func (m MultiReporter) RenderedBlob(path string, e graph.Entry, result BlobResult) {
	for _, r := range m.Reporters {
		r.RenderedBlob(path, e, result)
	}
}

func (m MultiReporter) RenderedEntry(path string, e graph.Entry) {
	for _, r := range m.Reporters {
		r.RenderedEntry(path, e)
	}
}

var _ Reporter = MultiReporter{}
