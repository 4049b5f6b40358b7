package report

import (
	"sync"
	"testing"

	events "github.com/docker/go-events"

	"github.com/spkenv/spfs/encoding"
)

type funcSink struct {
	write func(Event)
}

func (s *funcSink) Write(event events.Event) error {
	if e, ok := event.(Event); ok {
		s.write(e)
	}
	return nil
}

func (s *funcSink) Close() error { return nil }

func TestBroadcasterFansOutToEverySink(t *testing.T) {
	var mu sync.Mutex
	var gotA, gotB []Event

	sinkA := &funcSink{write: func(e Event) { mu.Lock(); gotA = append(gotA, e); mu.Unlock() }}
	sinkB := &funcSink{write: func(e Event) { mu.Lock(); gotB = append(gotB, e); mu.Unlock() }}

	b := NewBroadcaster(sinkA, sinkB)
	defer b.Close()

	b.Emit("render", "payload_hard_linked", "dir/file.txt", encoding.NullDigest, 5)

	mu.Lock()
	defer mu.Unlock()
	if len(gotA) != 1 || len(gotB) != 1 {
		t.Fatalf("expected both sinks to receive one event, got %d and %d", len(gotA), len(gotB))
	}
	if gotA[0].Kind != "payload_hard_linked" || gotA[0].Path != "dir/file.txt" {
		t.Fatalf("unexpected event: %+v", gotA[0])
	}
}

func TestLoggingSinkIgnoresForeignEvents(t *testing.T) {
	s := NewLoggingSink()
	if err := s.Write("not a report.Event"); err != nil {
		t.Fatalf("expected nil error for a non-Event payload, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
