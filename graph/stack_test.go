package graph

import (
	"testing"

	"github.com/spkenv/spfs/encoding"
)

func digestFrom(b byte) encoding.Digest {
	var d encoding.Digest
	d[0] = b
	return d
}

// TestStackPushDeduplicatesAndReorders checks invariant 8: each digest
// appears at most once in a Stack, and re-pushing an existing entry moves
// it to the top instead of leaving a duplicate behind.
func TestStackPushDeduplicatesAndReorders(t *testing.T) {
	a, b, c := digestFrom(1), digestFrom(2), digestFrom(3)

	s := NewStack(a, b, c, a)

	got := s.ToBottomUp()
	want := []encoding.Digest{b, c, a}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %v, want %v (full stack %v)", i, got[i], want[i], got)
		}
	}

	seen := map[encoding.Digest]bool{}
	for _, d := range got {
		if seen[d] {
			t.Fatalf("duplicate entry %v in stack %v", d, got)
		}
		seen[d] = true
	}
}

// TestStackPushNoOpWhenAlreadyTop checks that re-pushing the current top
// entry reports no change and leaves the order untouched.
func TestStackPushNoOpWhenAlreadyTop(t *testing.T) {
	a, b := digestFrom(1), digestFrom(2)
	s := NewStack(a, b)

	if changed := s.Push(b); changed {
		t.Fatal("pushing the current top reported a change")
	}
	got := s.ToBottomUp()
	want := []encoding.Digest{a, b}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStackToTopDownReversesToBottomUp(t *testing.T) {
	a, b, c := digestFrom(1), digestFrom(2), digestFrom(3)
	s := NewStack(a, b, c)

	bottomUp := s.ToBottomUp()
	topDown := s.ToTopDown()
	if len(bottomUp) != len(topDown) {
		t.Fatalf("length mismatch: %d vs %d", len(bottomUp), len(topDown))
	}
	for i, d := range bottomUp {
		if topDown[len(topDown)-1-i] != d {
			t.Fatalf("ToTopDown is not the reverse of ToBottomUp at index %d", i)
		}
	}
}
