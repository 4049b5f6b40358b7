package graph

import (
	"io"

	"github.com/spkenv/spfs/encoding"
)

// MaxInlineAnnotationValueSize is the default size limit for string values
// stored directly inside an Annotation. Values larger than this are stored
// as a separate payload and referenced by digest instead.
const MaxInlineAnnotationValueSize = 16 * 1024

// annotationValueKind tags which variant of AnnotationValue follows in the
// legacy encoding, mirroring the historical wire format.
type annotationValueKind uint8

const (
	annotationValueString annotationValueKind = 1
	annotationValueBlob    annotationValueKind = 2
)

// AnnotationValue holds either an inline string or a reference to a blob
// payload holding the value, exactly one of which is populated.
type AnnotationValue struct {
	String string
	Blob   encoding.Digest
	isBlob bool
}

// NewStringValue builds an inline string AnnotationValue.
func NewStringValue(s string) AnnotationValue {
	return AnnotationValue{String: s}
}

// NewBlobValue builds an AnnotationValue backed by a separately stored
// payload.
func NewBlobValue(d encoding.Digest) AnnotationValue {
	return AnnotationValue{Blob: d, isBlob: true}
}

// IsBlob reports whether this value is stored out-of-line.
func (v AnnotationValue) IsBlob() bool { return v.isBlob }

// Size returns the value's logical size: the string length, or the fixed
// digest length when stored as a blob.
func (v AnnotationValue) Size() uint64 {
	if v.isBlob {
		return v.Blob.Len()
	}
	return uint64(len(v.String))
}

func (v AnnotationValue) legacyEncode(w io.Writer) error {
	if v.isBlob {
		if err := encoding.WriteUint8(w, uint8(annotationValueBlob)); err != nil {
			return err
		}
		return encoding.WriteDigest(w, v.Blob)
	}
	if err := encoding.WriteUint8(w, uint8(annotationValueString)); err != nil {
		return err
	}
	return encoding.WriteString(w, v.String)
}

func decodeAnnotationValue(r io.Reader) (AnnotationValue, error) {
	kind, err := encoding.ReadUint8(r)
	if err != nil {
		return AnnotationValue{}, err
	}
	switch annotationValueKind(kind) {
	case annotationValueString:
		s, err := encoding.ReadString(r)
		if err != nil {
			return AnnotationValue{}, err
		}
		return NewStringValue(s), nil
	case annotationValueBlob:
		d, err := encoding.ReadDigest(r)
		if err != nil {
			return AnnotationValue{}, err
		}
		return NewBlobValue(d), nil
	default:
		return AnnotationValue{}, &UnknownKindError{}
	}
}

// NewAnnotationValue chooses between an inline string and a blob-backed
// value based on MaxInlineAnnotationValueSize. When the string is too
// large, the caller is responsible for having already written it to the
// payload store and supplies the resulting digest.
func NewAnnotationValue(s string, ifTooLarge func(string) (encoding.Digest, error)) (AnnotationValue, error) {
	if len(s) <= MaxInlineAnnotationValueSize {
		return NewStringValue(s), nil
	}
	d, err := ifTooLarge(s)
	if err != nil {
		return AnnotationValue{}, err
	}
	return NewBlobValue(d), nil
}

// Annotation is a key/value pair of data associated with a layer, injected
// by an external program for use by another external program.
type Annotation struct {
	Key   string
	Value AnnotationValue
}

var _ Object = Annotation{}

func (a Annotation) Kind() encoding.Kind { return encoding.KindAnnotation }

func (a Annotation) LegacyEncode(w io.Writer) error {
	if err := encoding.WriteString(w, a.Key); err != nil {
		return err
	}
	return a.Value.legacyEncode(w)
}

func (a Annotation) ChildObjects() []encoding.Digest {
	if a.Value.IsBlob() {
		return []encoding.Digest{a.Value.Blob}
	}
	return nil
}

func decodeAnnotation(r io.Reader) (Object, error) {
	key, err := encoding.ReadString(r)
	if err != nil {
		return nil, err
	}
	val, err := decodeAnnotationValue(r)
	if err != nil {
		return nil, err
	}
	return Annotation{Key: key, Value: val}, nil
}
