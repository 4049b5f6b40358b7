// Package metrics exposes the engine counters (syncengine, cleanengine,
// checkengine, render) as Prometheus metrics, grounded in the teacher's own
// registry/storage/cache/metrics wrapper and its root metrics.StorageNamespace.
// Engines call Observe directly at the points where their own Report
// or Summary fields are updated; this package never imports an engine
// package, so the dependency only ever runs one way.
package metrics

import (
	"time"

	metrics "github.com/docker/go-metrics"
)

const namespacePrefix = "spfs"

// EngineNamespace groups every engine counter/timer under the
// "spfs_engine_*" metric family, the same shape as the teacher's
// StorageNamespace/MiddlewareNamespace pair.
var EngineNamespace = metrics.NewNamespace(namespacePrefix, "engine", nil)

var (
	operationsTotal = EngineNamespace.NewLabeledCounter(
		"operations_total",
		"count of engine operations, labeled by engine and result",
		"engine", "result",
	)
	operationDuration = EngineNamespace.NewLabeledTimer(
		"operation_duration_seconds",
		"duration of one engine phase, labeled by engine and phase",
		"engine", "phase",
	)
)

func init() {
	metrics.Register(EngineNamespace)
}

// Observe increments the operations_total counter for one engine event, for
// example Observe("sync", "object_copied") or Observe("render", "hardlinked").
func Observe(engine, result string) {
	operationsTotal.WithValues(engine, result).Inc(1)
}

// Timer starts a latency observation for one phase of one engine's run.
// Call the returned func when the phase completes; grounded in
// registry/storage/cache/metrics's latencyTimer.UpdateSince(start) pattern.
func Timer(engine, phase string) func() {
	start := time.Now()
	t := operationDuration.WithValues(engine, phase)
	return func() { t.UpdateSince(start) }
}
