package encoding

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
)

// EncodeFlatbufferBody wraps legacyBody — the same canonical field bytes
// used to compute an object's digest under either format — in a minimal
// single-field flatbuffer table (one `[ubyte]` vector) and writes the
// resulting buffer as the remainder of an object file written with
// FormatFlatbuffer. Every object kind shares this one table shape: the
// kind-specific structure already lives in legacyBody, and flatbuffers
// here buys self-describing framing and zero-copy reads on the way back
// out, not a second independent schema per kind.
func EncodeFlatbufferBody(legacyBody []byte) []byte {
	b := flatbuffers.NewBuilder(len(legacyBody) + 32)
	dataOff := b.CreateByteVector(legacyBody)
	b.StartObject(1)
	b.PrependUOffsetTSlot(0, dataOff, 0)
	root := b.EndObject()
	b.Finish(root)
	return b.FinishedBytes()
}

// DecodeFlatbufferBody recovers the canonical legacy field bytes from a
// flatbuffer-framed object body, so that every kind's Decode can run the
// same field-parsing path regardless of which format it was stored with.
func DecodeFlatbufferBody(raw []byte) ([]byte, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("flatbuffer body too short: %d bytes", len(raw))
	}
	root := flatbuffers.GetUOffsetT(raw)
	t := &flatbuffers.Table{Bytes: raw, Pos: root}
	off := flatbuffers.UOffsetT(t.Offset(4))
	if off == 0 {
		return nil, fmt.Errorf("flatbuffer body missing data field")
	}
	return t.ByteVector(off + t.Pos), nil
}
