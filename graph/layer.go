package graph

import (
	"io"

	"github.com/spkenv/spfs/encoding"
)

// Layer is a single filesystem overlay plus key/value metadata: an
// optional manifest (a layer with no manifest carries only annotations)
// and an ordered list of annotations.
type Layer struct {
	Manifest    encoding.Digest // encoding.NullDigest when absent
	Annotations []Annotation
}

var _ Object = Layer{}

func (l Layer) Kind() encoding.Kind { return encoding.KindLayer }

func (l Layer) HasManifest() bool { return !l.Manifest.IsNull() }

func (l Layer) LegacyEncode(w io.Writer) error {
	if err := encoding.WriteDigest(w, l.Manifest); err != nil {
		return err
	}
	if err := encoding.WriteUint64(w, uint64(len(l.Annotations))); err != nil {
		return err
	}
	for _, a := range l.Annotations {
		if err := a.LegacyEncode(w); err != nil {
			return err
		}
	}
	return nil
}

func (l Layer) ChildObjects() []encoding.Digest {
	children := make([]encoding.Digest, 0, len(l.Annotations)+1)
	if l.HasManifest() {
		children = append(children, l.Manifest)
	}
	for _, a := range l.Annotations {
		children = append(children, a.ChildObjects()...)
	}
	return children
}

func decodeLayer(r io.Reader) (Object, error) {
	manifest, err := encoding.ReadDigest(r)
	if err != nil {
		return nil, err
	}
	count, err := encoding.ReadUint64(r)
	if err != nil {
		return nil, err
	}
	anns := make([]Annotation, 0, count)
	for i := uint64(0); i < count; i++ {
		a, err := decodeAnnotation(r)
		if err != nil {
			return nil, err
		}
		anns = append(anns, a.(Annotation))
	}
	return Layer{Manifest: manifest, Annotations: anns}, nil
}
