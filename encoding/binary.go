package encoding

import (
	"encoding/binary"
	"fmt"
	"io"
)

// WriteUint8 writes a single byte. It exists alongside WriteUint64 so that
// object kind tags and small enum discriminants don't pay for a full
// varint when the domain is known to fit in one byte.
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// ReadUint8 reads a single byte.
func ReadUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// WriteUint64 writes v as an unsigned big-endian varint: a leading byte
// giving the number of significant bytes that follow (0-8), then that many
// big-endian bytes. This mirrors the legacy wire encoding, which favors a
// compact representation for the common case of small lengths and counts
// over a fixed 8-byte field.
func WriteUint64(w io.Writer, v uint64) error {
	if v == 0 {
		_, err := w.Write([]byte{0})
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	n := 0
	for n < 8 && buf[n] == 0 {
		n++
	}
	sig := buf[n:]
	header := []byte{byte(len(sig))}
	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(sig)
	return err
}

// ReadUint64 is the inverse of WriteUint64.
func ReadUint64(r io.Reader) (uint64, error) {
	n, err := ReadUint8(r)
	if err != nil {
		return 0, err
	}
	if n > 8 {
		return 0, fmt.Errorf("invalid varint length byte: %d", n)
	}
	var buf [8]byte
	if n > 0 {
		if _, err := io.ReadFull(r, buf[8-n:]); err != nil {
			return 0, err
		}
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// WriteString writes a length-prefixed UTF-8 string: a varint byte length
// followed by the raw bytes.
func WriteString(w io.Writer, s string) error {
	if err := WriteUint64(w, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString is the inverse of WriteString.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadUint64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteDigest writes the raw 32 bytes of d with no length prefix: a
// digest's size is fixed and known to the reader.
func WriteDigest(w io.Writer, d Digest) error {
	_, err := w.Write(d[:])
	return err
}

// ReadDigest is the inverse of WriteDigest.
func ReadDigest(r io.Reader) (Digest, error) {
	var d Digest
	if _, err := io.ReadFull(r, d[:]); err != nil {
		return Digest{}, err
	}
	return d, nil
}
