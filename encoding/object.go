package encoding

import (
	"bytes"
	"fmt"
	"io"
)

// EncodeObject writes a full object file: header followed by the body in
// whichever format h.Format selects. legacyBody is always the canonical
// field encoding; for FormatFlatbuffer it is wrapped before being written.
func EncodeObject(w io.Writer, h Header, legacyBody []byte) error {
	if err := WriteHeader(w, h); err != nil {
		return err
	}
	switch h.Format {
	case FormatLegacy:
		_, err := w.Write(legacyBody)
		return err
	case FormatFlatbuffer:
		_, err := w.Write(EncodeFlatbufferBody(legacyBody))
		return err
	default:
		return fmt.Errorf("unknown encoding format %d", h.Format)
	}
}

// DecodeObject reads a header and returns it along with the body decoded
// back to its canonical legacy field bytes, ready for a kind-specific
// Decode to parse regardless of which format produced the file.
func DecodeObject(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return Header{}, nil, err
	}
	switch h.Format {
	case FormatLegacy:
		return h, raw, nil
	case FormatFlatbuffer:
		body, err := DecodeFlatbufferBody(raw)
		if err != nil {
			return Header{}, nil, err
		}
		return h, body, nil
	default:
		return Header{}, nil, fmt.Errorf("unknown encoding format %d", h.Format)
	}
}

// DigestOf computes the content digest an object would have if encoded
// with legacyBody under strategy. Digesting always operates on the
// canonical legacy bytes, independent of the storage format, which is what
// guarantees identical digests for identical inputs across both encoding
// formats.
func DigestOf(strategy Strategy, kind Kind, salt []byte, legacyBody []byte) (Digest, error) {
	return ComputeDigest(strategy, kind, salt, legacyBody)
}

// NewBodyReader is a small helper used by kind Decode implementations that
// want an io.Reader over an already-read byte slice.
func NewBodyReader(body []byte) io.Reader {
	return bytes.NewReader(body)
}
