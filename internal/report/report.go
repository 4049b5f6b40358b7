// Package report fans engine progress notifications out to one or more
// sinks, grounded in notifications/bridge.go and sinks.go's events.Sink
// listener pattern: a render, sync, clean, or check run pushes one Event
// per notable step onto a Broadcaster instead of calling listeners
// directly, so a caller can attach a logging sink, a metrics sink, or both
// without the engine itself knowing about either.
package report

import (
	"time"

	events "github.com/docker/go-events"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/internal/logging"
)

// Event is one notification emitted by an engine as it works.
type Event struct {
	Engine    string
	Kind      string
	Path      string
	Digest    encoding.Digest
	Size      uint64
	Timestamp time.Time
}

// Sink receives Events; satisfied by anything implementing events.Sink,
// including events.NewChannel and a custom LoggingSink.
type Sink = events.Sink

// Broadcaster fans every Emit call out to every attached Sink.
type Broadcaster struct {
	b *events.Broadcaster
}

// NewBroadcaster returns a Broadcaster already writing to sinks.
func NewBroadcaster(sinks ...Sink) *Broadcaster {
	return &Broadcaster{b: events.NewBroadcaster(sinks...)}
}

// Add attaches another sink to the broadcaster.
func (b *Broadcaster) Add(sink Sink) error { return b.b.Add(sink) }

// Remove detaches a sink from the broadcaster.
func (b *Broadcaster) Remove(sink Sink) error { return b.b.Remove(sink) }

// Close closes the broadcaster and every attached sink.
func (b *Broadcaster) Close() error { return b.b.Close() }

// Emit pushes one Event to every attached sink. A write failure from a
// single sink never blocks the others; the error is dropped the same way
// notifications/bridge.go treats a failing listener as best-effort.
func (b *Broadcaster) Emit(engine, kind, path string, d encoding.Digest, size uint64) {
	_ = b.b.Write(Event{
		Engine:    engine,
		Kind:      kind,
		Path:      path,
		Digest:    d,
		Size:      size,
		Timestamp: time.Now(),
	})
}

// LoggingSink writes every Event through the ambient logger, for callers
// that want progress visible in the same log stream as everything else
// without wiring a dedicated UI.
type LoggingSink struct {
	log logging.Logger
}

// NewLoggingSink returns a Sink backed by the package-default logger.
func NewLoggingSink() *LoggingSink {
	return &LoggingSink{log: logging.Default()}
}

func (s *LoggingSink) Write(event events.Event) error {
	e, ok := event.(Event)
	if !ok {
		return nil
	}
	log := s.log.WithField("engine", e.Engine)
	if !e.Digest.IsNull() {
		log = log.WithField("digest", e.Digest.String())
	}
	if e.Path != "" {
		log.Infof("%s %s", e.Kind, e.Path)
		return nil
	}
	log.Info(e.Kind)
	return nil
}

// Close is a no-op; the ambient logger has no per-sink lifetime.
func (s *LoggingSink) Close() error { return nil }

var (
	_ Sink = (*LoggingSink)(nil)
)
