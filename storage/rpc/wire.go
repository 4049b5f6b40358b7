// Package rpc implements the semantic remote-repository surface: a
// storage.Repository reachable over HTTP, routed with the teacher's own
// gorilla/mux, logged with gorilla/handlers, and retried on the client
// side with github.com/cenkalti/backoff/v4. It deliberately carries only
// the semantic operations a Repository exposes (read_object, write_object,
// has_payload, resolve_tag, ...) rather than a generic byte-level transport
// protocol; framing a wire codec beyond that is out of scope.
package rpc

import (
	"time"

	"github.com/spkenv/spfs/encoding"
	"github.com/spkenv/spfs/storage"
	"github.com/spkenv/spfs/tracking"
)

// tagWire is the JSON transfer representation of tracking.Tag.
type tagWire struct {
	Org         string            `json:"org"`
	Name        string            `json:"name"`
	Target      encoding.Digest   `json:"target"`
	Parent      encoding.Digest   `json:"parent"`
	User        string            `json:"user"`
	Host        string            `json:"host"`
	Time        string            `json:"time"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

func toTagWire(t tracking.Tag) tagWire {
	return tagWire{
		Org:         t.Org,
		Name:        t.Name,
		Target:      t.Target,
		Parent:      t.Parent,
		User:        t.User,
		Host:        t.Host,
		Time:        t.Time.UTC().Format(time.RFC3339Nano),
		Annotations: t.Annotations,
	}
}

func (w tagWire) toTag() (tracking.Tag, error) {
	tm, err := time.Parse(time.RFC3339Nano, w.Time)
	if err != nil {
		return tracking.Tag{}, err
	}
	return tracking.Tag{
		Org:         w.Org,
		Name:        w.Name,
		Target:      w.Target,
		Parent:      w.Parent,
		User:        w.User,
		Host:        w.Host,
		Time:        tm,
		Annotations: w.Annotations,
	}, nil
}

type entryTypeWire struct {
	Name   string `json:"name"`
	Folder bool   `json:"folder"`
}

func toEntryTypeWire(e storage.EntryType) entryTypeWire {
	return entryTypeWire{Name: e.Name, Folder: e.Folder}
}

type tagSpecWire struct {
	Org     string `json:"org"`
	Name    string `json:"name"`
	Version uint64 `json:"version"`
}

func toTagSpecWire(s tracking.TagSpec) tagSpecWire {
	return tagSpecWire{Org: s.Org, Name: s.Name, Version: s.Version}
}

func (w tagSpecWire) toTagSpec() tracking.TagSpec {
	return tracking.TagSpec{Org: w.Org, Name: w.Name, Version: w.Version}
}

type streamWire struct {
	Spec    tagSpecWire `json:"spec"`
	Entries []tagWire   `json:"entries"`
}

type payloadWriteResponse struct {
	Digest encoding.Digest `json:"digest"`
	Size   int64           `json:"size"`
}

type errorResponse struct {
	Kind    string `json:"kind"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
