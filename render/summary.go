package render

import (
	"sync/atomic"

	"github.com/spkenv/spfs/graph"
	"github.com/spkenv/spfs/internal/metrics"
)

// Summary accumulates counts of how a render's entries were materialized.
// Every field is an atomic.Int64 rather than mutex-guarded, so a Summary
// can be updated from several goroutines; Manifest itself renders entries
// one at a time. Translated field-for-field from the original Rust
// RenderSummary's AtomicUsize set.
type Summary struct {
	EntryCount atomic.Int64

	AlreadyExistedCount     atomic.Int64
	CopyCount               atomic.Int64
	CopyLinkLimitCount      atomic.Int64
	CopyWrongModeCount      atomic.Int64
	CopyWrongOwnerCount     atomic.Int64
	LinkCount               atomic.Int64
	SymlinkCount            atomic.Int64

	TotalBytesAlreadyExisted atomic.Int64
	TotalBytesCopied         atomic.Int64
	TotalBytesLinked         atomic.Int64
}

// Add records one blob entry's render result. size is the entry's
// payload size in bytes (ignored for symlink results).
func (s *Summary) Add(result BlobResult, size uint64) {
	metrics.Observe("render", result.String())
	switch result {
	case PayloadAlreadyExists:
		s.AlreadyExistedCount.Add(1)
		s.TotalBytesAlreadyExisted.Add(int64(size))
	case PayloadCopiedByRequest:
		s.CopyCount.Add(1)
		s.TotalBytesCopied.Add(int64(size))
	case PayloadCopiedLinkLimit:
		s.CopyLinkLimitCount.Add(1)
		s.TotalBytesCopied.Add(int64(size))
	case PayloadCopiedWrongMode:
		s.CopyWrongModeCount.Add(1)
		s.TotalBytesCopied.Add(int64(size))
	case PayloadCopiedWrongOwner:
		s.CopyWrongOwnerCount.Add(1)
		s.TotalBytesCopied.Add(int64(size))
	case PayloadHardLinked:
		s.LinkCount.Add(1)
		s.TotalBytesLinked.Add(int64(size))
	case SymlinkAlreadyExists, SymlinkWritten:
		s.SymlinkCount.Add(1)
	}
}

// SummaryReporter is a Reporter that tracks Summary counts; through
// Summary.Add it also records each blob result in the render metrics. Compose it inside a MultiReporter alongside a
// logging reporter when both are wanted.
type SummaryReporter struct {
	NoopReporter
	Summary *Summary
}

func NewSummaryReporter() *SummaryReporter {
	return &SummaryReporter{Summary: &Summary{}}
}

func (s *SummaryReporter) VisitEntry(_ string, e graph.Entry) {
	s.Summary.EntryCount.Add(1)
}

func (s *SummaryReporter) RenderedBlob(_ string, e graph.Entry, result BlobResult) {
	s.Summary.Add(result, e.Size)
}

var _ Reporter = (*SummaryReporter)(nil)
