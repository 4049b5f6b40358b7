package graph

import (
	"io"

	"github.com/spkenv/spfs/encoding"
)

// Blob references a single payload in the payload store by digest, along
// with its size so callers can reason about storage cost without a second
// lookup.
type Blob struct {
	Payload encoding.Digest
	Size    uint64
}

var _ Object = Blob{}

func (b Blob) Kind() encoding.Kind { return encoding.KindBlob }

func (b Blob) LegacyEncode(w io.Writer) error {
	if err := encoding.WriteDigest(w, b.Payload); err != nil {
		return err
	}
	return encoding.WriteUint64(w, b.Size)
}

func (b Blob) ChildObjects() []encoding.Digest {
	return nil
}

func decodeBlob(r io.Reader) (Object, error) {
	payload, err := encoding.ReadDigest(r)
	if err != nil {
		return nil, err
	}
	size, err := encoding.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	return Blob{Payload: payload, Size: size}, nil
}
