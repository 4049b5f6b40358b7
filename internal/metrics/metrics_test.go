package metrics

import "testing"

func TestObserveAndTimerDoNotPanic(t *testing.T) {
	Observe("sync", "object_copied")
	stop := Timer("render", "materialize")
	stop()
}
