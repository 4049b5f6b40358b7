package graph

import (
	"io"

	"github.com/spkenv/spfs/encoding"
)

// Platform is an ordered stack of layers composed bottom-to-top.
type Platform struct {
	Stack Stack
}

var _ Object = Platform{}

func (p Platform) Kind() encoding.Kind { return encoding.KindPlatform }

func (p Platform) LegacyEncode(w io.Writer) error {
	return p.Stack.legacyEncode(w)
}

func (p Platform) ChildObjects() []encoding.Digest {
	return p.Stack.ToBottomUp()
}

func decodePlatform(r io.Reader) (Object, error) {
	s, err := decodeStack(r)
	if err != nil {
		return nil, err
	}
	return Platform{Stack: s}, nil
}
