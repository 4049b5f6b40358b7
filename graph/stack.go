package graph

import (
	"io"

	"github.com/spkenv/spfs/encoding"
)

// Stack is an ordered set of layer digests, bottom-to-top, with each
// digest appearing at most once. It is an intrusive singly-linked list;
// Push builds a fresh list rather than relinking entries in place, so a
// copy of a Stack taken before a Push is not affected by it.
type Stack struct {
	bottom *stackEntry
}

type stackEntry struct {
	value encoding.Digest
	next  *stackEntry
}

// NewStack builds a Stack from digests listed bottom-to-top, applying
// Push's dedup-and-move-to-top rule for each one in turn.
func NewStack(digests ...encoding.Digest) Stack {
	var s Stack
	for _, d := range digests {
		s.Push(d)
	}
	return s
}

// Push appends d to the top of the stack. If d already occurs in the
// stack, its prior occurrence is removed first, so the net effect is
// "move d to the top". Returns true if this changed the stack (d was not
// already the topmost entry).
func (s *Stack) Push(d encoding.Digest) bool {
	wasTop := s.bottom != nil && s.topValue() == d
	filtered := make([]encoding.Digest, 0)
	for e := s.bottom; e != nil; e = e.next {
		if e.value == d {
			continue
		}
		filtered = append(filtered, e.value)
	}
	filtered = append(filtered, d)
	s.bottom = nil
	var tail *stackEntry
	for _, v := range filtered {
		e := &stackEntry{value: v}
		if s.bottom == nil {
			s.bottom = e
		} else {
			tail.next = e
		}
		tail = e
	}
	return !wasTop
}

func (s Stack) topValue() encoding.Digest {
	var top encoding.Digest
	s.IterBottomUp(func(d encoding.Digest) bool {
		top = d
		return true
	})
	return top
}

// IterBottomUp calls fn for each digest from bottom to top, stopping early
// if fn returns false.
func (s Stack) IterBottomUp(fn func(encoding.Digest) bool) {
	for e := s.bottom; e != nil; e = e.next {
		if !fn(e.value) {
			return
		}
	}
}

// ToBottomUp returns the stack as a slice, bottom-to-top.
func (s Stack) ToBottomUp() []encoding.Digest {
	var out []encoding.Digest
	s.IterBottomUp(func(d encoding.Digest) bool {
		out = append(out, d)
		return true
	})
	return out
}

// ToTopDown returns the stack reversed (top-to-bottom), the order it is
// serialized in for historical reasons.
func (s Stack) ToTopDown() []encoding.Digest {
	bottomUp := s.ToBottomUp()
	topDown := make([]encoding.Digest, len(bottomUp))
	for i, d := range bottomUp {
		topDown[len(bottomUp)-1-i] = d
	}
	return topDown
}

// Len returns the number of entries in the stack.
func (s Stack) Len() int {
	n := 0
	s.IterBottomUp(func(encoding.Digest) bool { n++; return true })
	return n
}

func (s Stack) legacyEncode(w io.Writer) error {
	topDown := s.ToTopDown()
	if err := encoding.WriteUint64(w, uint64(len(topDown))); err != nil {
		return err
	}
	for _, d := range topDown {
		if err := encoding.WriteDigest(w, d); err != nil {
			return err
		}
	}
	return nil
}

func decodeStack(r io.Reader) (Stack, error) {
	count, err := encoding.ReadUint64(r)
	if err != nil {
		return Stack{}, err
	}
	topDown := make([]encoding.Digest, count)
	for i := range topDown {
		d, err := encoding.ReadDigest(r)
		if err != nil {
			return Stack{}, err
		}
		topDown[i] = d
	}
	var s Stack
	for i := len(topDown) - 1; i >= 0; i-- {
		s.Push(topDown[i])
	}
	return s, nil
}
