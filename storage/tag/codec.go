// Package tag implements the append-only per-(org,name) tag history
// stream: encoding of individual entries and a local filesystem-backed
// store.
package tag

import (
	"io"
	"time"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/tracking"
)

// encodeEntry writes one stream entry: target digest, parent digest,
// user, host, RFC3339 time, and an annotations map, each length-prefixed
// where variable-length.
func encodeEntry(w io.Writer, t tracking.Tag) error {
	if err := encoding.WriteDigest(w, t.Target); err != nil {
		return err
	}
	if err := encoding.WriteDigest(w, t.Parent); err != nil {
		return err
	}
	if err := encoding.WriteString(w, t.User); err != nil {
		return err
	}
	if err := encoding.WriteString(w, t.Host); err != nil {
		return err
	}
	if err := encoding.WriteString(w, t.Time.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if err := encoding.WriteUint64(w, uint64(len(t.Annotations))); err != nil {
		return err
	}
	for k, v := range t.Annotations {
		if err := encoding.WriteString(w, k); err != nil {
			return err
		}
		if err := encoding.WriteString(w, v); err != nil {
			return err
		}
	}
	return nil
}

func decodeEntry(r io.Reader, org, name string) (tracking.Tag, error) {
	target, err := encoding.ReadDigest(r)
	if err != nil {
		return tracking.Tag{}, err
	}
	parent, err := encoding.ReadDigest(r)
	if err != nil {
		return tracking.Tag{}, err
	}
	user, err := encoding.ReadString(r)
	if err != nil {
		return tracking.Tag{}, err
	}
	host, err := encoding.ReadString(r)
	if err != nil {
		return tracking.Tag{}, err
	}
	timeStr, err := encoding.ReadString(r)
	if err != nil {
		return tracking.Tag{}, err
	}
	parsedTime, err := time.Parse(time.RFC3339Nano, timeStr)
	if err != nil {
		return tracking.Tag{}, err
	}
	count, err := encoding.ReadUint64(r)
	if err != nil {
		return tracking.Tag{}, err
	}
	anns := make(map[string]string, count)
	for i := uint64(0); i < count; i++ {
		k, err := encoding.ReadString(r)
		if err != nil {
			return tracking.Tag{}, err
		}
		v, err := encoding.ReadString(r)
		if err != nil {
			return tracking.Tag{}, err
		}
		anns[k] = v
	}
	return tracking.Tag{
		Org:         org,
		Name:        name,
		Target:      target,
		Parent:      parent,
		User:        user,
		Host:        host,
		Time:        parsedTime,
		Annotations: anns,
	}, nil
}

// EncodeStream writes entries newest-first, each prefixed with its
// encoded length so the reader can skip to the next entry without
// decoding the one before it.
func EncodeStream(w io.Writer, entries []tracking.Tag) error {
	for _, e := range entries {
		var buf bufWriter
		if err := encodeEntry(&buf, e); err != nil {
			return err
		}
		if err := encoding.WriteUint64(w, uint64(len(buf.bytes))); err != nil {
			return err
		}
		if _, err := w.Write(buf.bytes); err != nil {
			return err
		}
	}
	return nil
}

// DecodeStream reads a stream written by EncodeStream back into its
// newest-first entry list.
func DecodeStream(r io.Reader, org, name string) ([]tracking.Tag, error) {
	var entries []tracking.Tag
	for {
		length, err := encoding.ReadUint64(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		entry, err := decodeEntry(encoding.NewBodyReader(buf), org, name)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

type bufWriter struct {
	bytes []byte
}

func (b *bufWriter) Write(p []byte) (int, error) {
	b.bytes = append(b.bytes, p...)
	return len(p), nil
}
