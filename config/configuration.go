// Package config holds the YAML-decoded Configuration struct and its
// environment variable override mechanism, grounded in
// configuration/configuration.go and configuration/parser.go.
//
// Note that yaml field names should never include _ characters, since that
// is the separator used in environment variable override names.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Version is a major/minor version pair of the form Major.Minor.
type Version string

// CurrentVersion is the only version this build can parse.
var CurrentVersion = MajorMinorVersion(1, 0)

// MajorMinorVersion constructs a Version from its components.
func MajorMinorVersion(major, minor uint) Version {
	return Version(fmt.Sprintf("%d.%d", major, minor))
}

func (v Version) parts() (uint, uint, error) {
	split := strings.SplitN(string(v), ".", 2)
	if len(split) != 2 {
		return 0, 0, fmt.Errorf("config: malformed version %q", v)
	}
	major, err := strconv.ParseUint(split[0], 10, 0)
	if err != nil {
		return 0, 0, err
	}
	minor, err := strconv.ParseUint(split[1], 10, 0)
	if err != nil {
		return 0, 0, err
	}
	return uint(major), uint(minor), nil
}

// UnmarshalYAML validates that the version string parses as Major.Minor.
func (v *Version) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed := Version(s)
	if _, _, err := parsed.parts(); err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Duration wraps time.Duration so it can be written as a YAML string
// ("168h") rather than a raw integer of nanoseconds, the same convention
// the teacher uses for its string-validated Loglevel type.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Configuration is a versioned configuration, provided by a YAML file and
// optionally overridden by environment variables (see Parser).
type Configuration struct {
	Version Version `yaml:"version"`

	Log     Log                `yaml:"log,omitempty"`
	Storage Storage            `yaml:"storage"`
	Remote  map[string]Remote  `yaml:"remote,omitempty"`
	Sync    Sync               `yaml:"sync,omitempty"`
	Clean   Clean              `yaml:"clean,omitempty"`
	Render  Render             `yaml:"render,omitempty"`
}

// Log configures the ambient logger (internal/logging).
type Log struct {
	Level     string `yaml:"level,omitempty"`
	Formatter string `yaml:"formatter,omitempty"`
}

// Storage configures the local filesystem repository backend.
type Storage struct {
	Root string `yaml:"root"`
}

// Remote configures one named remote repository (storage/rpc client).
type Remote struct {
	Address string `yaml:"address"`
}

// Sync configures syncengine.Options defaults.
type Sync struct {
	MaxConcurrentObjects  int64 `yaml:"maxconcurrentobjects,omitempty"`
	MaxConcurrentPayloads int64 `yaml:"maxconcurrentpayloads,omitempty"`
}

// Clean configures the cleanengine.Options fan-out limits; RequiredAge is
// the default tag-entry age floor for pruning.
type Clean struct {
	MaxTagStreamConcurrency int64    `yaml:"maxtagstreamconcurrency,omitempty"`
	MaxRemovalConcurrency   int64    `yaml:"maxremovalconcurrency,omitempty"`
	MaxDiscoverConcurrency  int64    `yaml:"maxdiscoverconcurrency,omitempty"`
	RequiredAge             Duration `yaml:"requiredage,omitempty"`
}

// Render configures the default render.Strategy, by name ("hardlink",
// "hardlink-no-proxy", "copy", "copy-no-proxy").
type Render struct {
	Strategy string `yaml:"strategy,omitempty"`
}
