package encoding

import (
	"bytes"
	"fmt"
	"io"
)

// Magic is the fixed byte sequence that opens every encoded object,
// regardless of header generation.
var Magic = []byte("--SPFS--\n")

// Kind identifies which graph object type a header's body holds.
type Kind uint8

const (
	KindBlob Kind = iota + 1
	KindManifest
	KindLayer
	KindPlatform
	KindAnnotation
	KindTree
	KindMask
)

// Strategy selects how an object's digest is computed from its encoded
// body.
type Strategy uint8

const (
	// StrategyLegacy digests the encoded body directly, with no kind or
	// salt mixed in. Two different kinds that happen to encode to the
	// same bytes collide under this strategy (see the 8-null-byte
	// Platform/Layer regression this store guards against elsewhere).
	StrategyLegacy Strategy = iota + 1
	// StrategySalted digests `kind byte || salt || body`, so that objects
	// of different kinds never collide even if their bodies do.
	StrategySalted
)

// Format selects which concrete byte layout a kind-specific body uses.
type Format uint8

const (
	FormatLegacy Format = iota + 1
	FormatFlatbuffer
)

const reservedHeaderBytes = 5

// Header is the fixed-size preamble written before every object body.
type Header struct {
	Kind     Kind
	Strategy Strategy
	Format   Format
}

// WriteHeader writes the current (non-legacy) header form:
// magic, kind, digest_strategy, encoding_format, then 5 reserved zero
// bytes reserved for future extension.
func WriteHeader(w io.Writer, h Header) error {
	if _, err := w.Write(Magic); err != nil {
		return err
	}
	buf := make([]byte, 3+reservedHeaderBytes)
	buf[0] = byte(h.Kind)
	buf[1] = byte(h.Strategy)
	buf[2] = byte(h.Format)
	_, err := w.Write(buf)
	return err
}

// ReadHeader reads a header written by WriteHeader. It also tolerates the
// legacy variant (magic followed by a big-endian u64 whose low byte holds
// the kind, with StrategyLegacy and FormatLegacy implied) for backward
// compatibility with objects written before the salted/flatbuffer formats
// existed.
func ReadHeader(r io.Reader) (Header, error) {
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return Header{}, err
	}
	if !bytes.Equal(magic, Magic) {
		return Header{}, fmt.Errorf("not an object: bad magic %q", magic)
	}

	first, err := ReadUint8(r)
	if err != nil {
		return Header{}, err
	}

	// The current header's first byte is the kind, which is always >= 1
	// (see the Kind const block). The legacy header's first byte is the
	// high-order byte of a big-endian u64 whose low-order byte holds the
	// kind, so it is always 0 for any kind value actually in use. A
	// leading zero byte therefore unambiguously selects the legacy form.
	if first == 0 {
		rest := make([]byte, 7)
		if _, err := io.ReadFull(r, rest); err != nil {
			return Header{}, err
		}
		for _, b := range rest[:6] {
			if b != 0 {
				return Header{}, fmt.Errorf("unsupported legacy header: non-zero padding")
			}
		}
		return Header{Kind: Kind(rest[6]), Strategy: StrategyLegacy, Format: FormatLegacy}, nil
	}

	strategy, err := ReadUint8(r)
	if err != nil {
		return Header{}, err
	}
	format, err := ReadUint8(r)
	if err != nil {
		return Header{}, err
	}
	reserved := make([]byte, reservedHeaderBytes)
	if _, err := io.ReadFull(r, reserved); err != nil {
		return Header{}, err
	}
	return Header{Kind: Kind(first), Strategy: Strategy(strategy), Format: Format(format)}, nil
}

// ComputeDigest computes the content digest of an encoded object body under the
// given strategy. kind and salt are only consulted for StrategySalted.
func ComputeDigest(strategy Strategy, kind Kind, salt []byte, body []byte) (Digest, error) {
	switch strategy {
	case StrategyLegacy:
		return FromBytes(body), nil
	case StrategySalted:
		buf := make([]byte, 0, 1+len(salt)+len(body))
		buf = append(buf, byte(kind))
		buf = append(buf, salt...)
		buf = append(buf, body...)
		return FromBytes(buf), nil
	default:
		return Digest{}, fmt.Errorf("unknown digest strategy %d", strategy)
	}
}
