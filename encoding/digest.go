// Package encoding implements the canonical binary encoding used to
// identify and persist graph objects: content digests, object headers, and
// the two supported encoding formats (legacy hand-rolled and flatbuffer).
package encoding

import (
	"crypto/sha256"
	"encoding/base32"
	"fmt"
)

// Size is the length in bytes of a Digest.
const Size = sha256.Size

// Digest is a 32-byte SHA-256 content hash. The zero value is NullDigest,
// not a valid reference to any stored object.
type Digest [Size]byte

var base32Encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// NullDigest is the all-zero sentinel used to represent "no value" in
// optional digest fields (e.g. an annotation with no blob, the bottom of an
// empty Stack).
var NullDigest Digest

// EmptyDigest is the digest of a zero-length payload. It is distinct from
// NullDigest: a blob with EmptyDigest exists and has zero bytes, while
// NullDigest represents the absence of a reference.
var EmptyDigest = Digest(sha256.Sum256(nil))

// FromBytes computes the digest of b directly, with no header or salt. It
// is the primitive used by both digest strategies in header.go.
func FromBytes(b []byte) Digest {
	return Digest(sha256.Sum256(b))
}

// String renders the digest as unpadded base32, matching the on-disk and
// wire representation used throughout the store.
func (d Digest) String() string {
	return base32Encoding.EncodeToString(d[:])
}

// IsNull reports whether d is the all-zero sentinel.
func (d Digest) IsNull() bool {
	return d == NullDigest
}

// Len returns the number of bytes this digest occupies in its encoded
// form. It exists so that Digest satisfies the same "sized value" shape as
// an inline annotation string when computing object/entry sizes.
func (d Digest) Len() uint64 {
	return Size
}

// Parse decodes a full unpadded base32 digest string.
func Parse(s string) (Digest, error) {
	raw, err := base32Encoding.DecodeString(s)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid digest %q: %w", s, err)
	}
	return FromBytesExact(raw)
}

// FromBytesExact builds a Digest from a raw 32-byte slice, validating its
// length. Use this (not a bare array conversion) whenever the byte slice
// comes from decoded/untrusted input.
func FromBytesExact(raw []byte) (Digest, error) {
	if len(raw) != Size {
		return Digest{}, fmt.Errorf("invalid digest length: got %d bytes, want %d", len(raw), Size)
	}
	var d Digest
	copy(d[:], raw)
	return d, nil
}

// MarshalText renders d the same way String does, so a Digest can be used
// directly as a JSON string value or map key.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses d the same way Parse does.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
