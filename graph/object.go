// Package graph implements the typed content-addressed object kinds
// persisted by the store: Blob, Manifest, Layer, Platform, Annotation, and
// the Tree/Mask entries a Manifest is built from.
package graph

import (
	"io"

	"github.com/spkenv/spfs/encoding"
)

// Object is the sum type of everything the object database can store and
// digest. Each kind knows how to encode its own canonical field bytes and
// how to decode itself back out of them, and how to report the digests of
// any objects it references so that traversals can walk the graph without
// building an in-memory pointer structure.
type Object interface {
	Kind() encoding.Kind
	// LegacyEncode writes the canonical field encoding used both as the
	// FormatLegacy wire body and as the input to digesting under either
	// strategy.
	LegacyEncode(w io.Writer) error
	// ChildObjects returns the digests of objects this object directly
	// references, for closure walks (sync, clean, check).
	ChildObjects() []encoding.Digest
}

// Digest computes the content digest of obj under the given strategy and
// salt. Salt is only consulted for encoding.StrategySalted; pass nil under
// encoding.StrategyLegacy.
func Digest(obj Object, strategy encoding.Strategy, salt []byte) (encoding.Digest, error) {
	var buf writeCounter
	if err := obj.LegacyEncode(&buf); err != nil {
		return encoding.Digest{}, err
	}
	return encoding.DigestOf(strategy, obj.Kind(), salt, buf.bytes)
}

// Encode writes a full object file (header + body) for obj in the
// requested format.
func Encode(w io.Writer, obj Object, strategy encoding.Strategy, format encoding.Format) error {
	var buf writeCounter
	if err := obj.LegacyEncode(&buf); err != nil {
		return err
	}
	return encoding.EncodeObject(w, encoding.Header{Kind: obj.Kind(), Strategy: strategy, Format: format}, buf.bytes)
}

// Decode reads a header and dispatches to the matching kind's decoder.
func Decode(r io.Reader) (Object, encoding.Header, error) {
	h, body, err := encoding.DecodeObject(r)
	if err != nil {
		return nil, encoding.Header{}, err
	}
	br := encoding.NewBodyReader(body)
	var obj Object
	switch h.Kind {
	case encoding.KindBlob:
		obj, err = decodeBlob(br)
	case encoding.KindManifest:
		obj, err = decodeManifest(br)
	case encoding.KindLayer:
		obj, err = decodeLayer(br)
	case encoding.KindPlatform:
		obj, err = decodePlatform(br)
	case encoding.KindAnnotation:
		obj, err = decodeAnnotation(br)
	default:
		return nil, h, &UnknownKindError{Kind: h.Kind}
	}
	if err != nil {
		return nil, h, err
	}
	return obj, h, nil
}

// UnknownKindError is returned by Decode when a header names a kind this
// build does not recognize.
type UnknownKindError struct {
	Kind encoding.Kind
}

func (e *UnknownKindError) Error() string {
	return "unknown object kind"
}

// writeCounter is an io.Writer that simply accumulates bytes, used so
// LegacyEncode implementations don't need a separate buffering type.
type writeCounter struct {
	bytes []byte
}

func (w *writeCounter) Write(p []byte) (int, error) {
	w.bytes = append(w.bytes, p...)
	return len(p), nil
}
