package tracking

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/spkenv/spfs/encoding"
)

// Tag is one entry in a tag stream: a named pointer at a digest, with
// enough provenance to audit who pushed it and when.
type Tag struct {
	Org         string
	Name        string
	Target      encoding.Digest
	Parent      encoding.Digest // NullDigest for the first entry in a stream
	User        string
	Host        string
	Time        time.Time
	Annotations map[string]string
}

// Equal reports whether two tags are identical, including their
// annotation maps. Tag embeds a map field, so it is not comparable with
// == directly.
func (t Tag) Equal(other Tag) bool {
	return t.Org == other.Org &&
		t.Name == other.Name &&
		t.Target == other.Target &&
		t.Parent == other.Parent &&
		t.User == other.User &&
		t.Host == other.Host &&
		t.Time.Equal(other.Time) &&
		maps.Equal(t.Annotations, other.Annotations)
}

// Spec returns the TagSpec (version 0, "newest") naming this tag's stream.
func (t Tag) Spec() TagSpec {
	return TagSpec{Org: t.Org, Name: t.Name}
}

// TagSpec names a tag stream, with an optional version selecting a
// specific historical entry. Version 0 means "newest".
type TagSpec struct {
	Org     string
	Name    string
	Version uint64
}

// String renders the spec as "org/name" or "org/name~version" for any
// version other than 0.
func (s TagSpec) String() string {
	base := s.Name
	if s.Org != "" {
		base = s.Org + "/" + s.Name
	}
	if s.Version == 0 {
		return base
	}
	return fmt.Sprintf("%s~%d", base, s.Version)
}

// ParseTagSpec parses the String() format back into a TagSpec.
func ParseTagSpec(s string) (TagSpec, error) {
	version := uint64(0)
	if idx := strings.LastIndex(s, "~"); idx >= 0 {
		v, err := strconv.ParseUint(s[idx+1:], 10, 64)
		if err == nil {
			version = v
			s = s[:idx]
		}
	}
	org := ""
	name := s
	if idx := strings.LastIndex(s, "/"); idx >= 0 {
		org = s[:idx]
		name = s[idx+1:]
	}
	if name == "" {
		return TagSpec{}, fmt.Errorf("invalid tag spec %q: empty name", s)
	}
	return TagSpec{Org: org, Name: name, Version: version}, nil
}
