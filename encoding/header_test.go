package encoding

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// TestObjectRoundTrip checks invariant 1: decoding an encoded object
// yields a body whose digest, recomputed under the same strategy, equals
// the one the encoder used.
func TestObjectRoundTrip(t *testing.T) {
	body := []byte("hello world")
	for _, strategy := range []Strategy{StrategyLegacy, StrategySalted} {
		for _, format := range []Format{FormatLegacy, FormatFlatbuffer} {
			d, err := DigestOf(strategy, KindBlob, nil, body)
			if err != nil {
				t.Fatalf("digest: %v", err)
			}

			var buf bytes.Buffer
			if err := EncodeObject(&buf, Header{Kind: KindBlob, Strategy: strategy, Format: format}, body); err != nil {
				t.Fatalf("encode: %v", err)
			}

			h, decodedBody, err := DecodeObject(&buf)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			got, err := DigestOf(h.Strategy, h.Kind, nil, decodedBody)
			if err != nil {
				t.Fatalf("digest of decoded body: %v", err)
			}
			if got != d {
				t.Fatalf("strategy %v format %v: round-tripped digest %s != original %s", strategy, format, got, d)
			}
		}
	}
}

// TestLegacyAndFlatbufferEncodingsAgree checks invariant 2: for a fixed
// digest strategy, the legacy and flatbuffer wire encodings of the same
// body digest identically, since digesting only ever consumes the
// logical legacy body bytes, never the wire envelope.
func TestLegacyAndFlatbufferEncodingsAgree(t *testing.T) {
	body := []byte("a manifest's worth of bytes")
	for _, strategy := range []Strategy{StrategyLegacy, StrategySalted} {
		var legacyBuf, flatBuf bytes.Buffer
		if err := EncodeObject(&legacyBuf, Header{Kind: KindManifest, Strategy: strategy, Format: FormatLegacy}, body); err != nil {
			t.Fatalf("encode legacy: %v", err)
		}
		if err := EncodeObject(&flatBuf, Header{Kind: KindManifest, Strategy: strategy, Format: FormatFlatbuffer}, body); err != nil {
			t.Fatalf("encode flatbuffer: %v", err)
		}

		_, legacyBody, err := DecodeObject(&legacyBuf)
		if err != nil {
			t.Fatalf("decode legacy: %v", err)
		}
		_, flatBody, err := DecodeObject(&flatBuf)
		if err != nil {
			t.Fatalf("decode flatbuffer: %v", err)
		}

		legacyDigest, err := DigestOf(strategy, KindManifest, nil, legacyBody)
		if err != nil {
			t.Fatalf("digest legacy: %v", err)
		}
		flatDigest, err := DigestOf(strategy, KindManifest, nil, flatBody)
		if err != nil {
			t.Fatalf("digest flatbuffer: %v", err)
		}
		if legacyDigest != flatDigest {
			t.Fatalf("strategy %v: legacy digest %s != flatbuffer digest %s", strategy, legacyDigest, flatDigest)
		}
	}
}

// TestSaltedDigestAvoidsKindCollision is the regression named in invariant
// 3: an all-zero-byte Platform body must not collide
// with a Layer body that happens to also be eight zero bytes,
// once both are digested under StrategySalted.
func TestSaltedDigestAvoidsKindCollision(t *testing.T) {
	zeros := make([]byte, 8)

	platformDigest, err := ComputeDigest(StrategySalted, KindPlatform, nil, zeros)
	if err != nil {
		t.Fatalf("platform digest: %v", err)
	}
	layerDigest, err := ComputeDigest(StrategySalted, KindLayer, nil, zeros)
	if err != nil {
		t.Fatalf("layer digest: %v", err)
	}
	if platformDigest == layerDigest {
		t.Fatal("platform and layer digests collide on identical all-zero bodies under StrategySalted")
	}

	legacyPlatform, err := ComputeDigest(StrategyLegacy, KindPlatform, nil, zeros)
	if err != nil {
		t.Fatalf("legacy platform digest: %v", err)
	}
	legacyLayer, err := ComputeDigest(StrategyLegacy, KindLayer, nil, zeros)
	if err != nil {
		t.Fatalf("legacy layer digest: %v", err)
	}
	if legacyPlatform != legacyLayer {
		t.Fatal("expected StrategyLegacy to collide on identical bodies, demonstrating what StrategySalted fixes")
	}
}

// TestReadHeaderDecodesLegacyForm checks that a legacy header (magic
// followed by a big-endian u64 whose low-order byte is the kind) decodes
// to the kind held in that low-order byte, not the leading zero byte.
func TestReadHeaderDecodesLegacyForm(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], uint64(KindManifest))
	buf.Write(word[:])

	h, err := ReadHeader(&buf)
	if err != nil {
		t.Fatalf("read legacy header: %v", err)
	}
	if h.Kind != KindManifest {
		t.Fatalf("kind = %v, want %v", h.Kind, KindManifest)
	}
	if h.Strategy != StrategyLegacy {
		t.Fatalf("strategy = %v, want StrategyLegacy", h.Strategy)
	}
	if h.Format != FormatLegacy {
		t.Fatalf("format = %v, want FormatLegacy", h.Format)
	}
}

// TestReadHeaderRejectsNonZeroLegacyPadding checks that a malformed
// legacy header with stray high-order bits is rejected rather than
// silently misread.
func TestReadHeaderRejectsNonZeroLegacyPadding(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic)
	var word [8]byte
	binary.BigEndian.PutUint64(word[:], uint64(KindBlob)<<32)
	buf.Write(word[:])

	if _, err := ReadHeader(&buf); err == nil {
		t.Fatal("expected an error decoding a legacy header with non-zero padding")
	}
}
