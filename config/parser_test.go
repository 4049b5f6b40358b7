package config

import (
	"testing"
	"time"
)

const sampleYAML = `
version: 1.0
storage:
  root: /var/lib/spfs
remote:
  origin:
    address: https://spfs.example.com
sync:
  maxconcurrentobjects: 500
clean:
  requiredage: 48h
render:
  strategy: hardlink
`

func TestParseDecodesNestedFields(t *testing.T) {
	c, err := NewParser("SPFS").Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Storage.Root != "/var/lib/spfs" {
		t.Fatalf("storage.root = %q", c.Storage.Root)
	}
	if c.Remote["origin"].Address != "https://spfs.example.com" {
		t.Fatalf("remote.origin.address = %q", c.Remote["origin"].Address)
	}
	if time.Duration(c.Clean.RequiredAge) != 48*time.Hour {
		t.Fatalf("clean.requiredage = %v", time.Duration(c.Clean.RequiredAge))
	}
	if c.Render.Strategy != "hardlink" {
		t.Fatalf("render.strategy = %q", c.Render.Strategy)
	}
}

func TestParseRejectsUnsupportedVersion(t *testing.T) {
	_, err := NewParser("SPFS").Parse([]byte("version: 2.0\nstorage:\n  root: /x\n"))
	if err == nil {
		t.Fatal("expected an error for an unsupported version")
	}
}

func TestEnvOverridesNestedAndMapFields(t *testing.T) {
	t.Setenv("SPFS_STORAGE_ROOT", "/override")
	t.Setenv("SPFS_REMOTE_ORIGIN_ADDRESS", "https://override.example.com")
	t.Setenv("SPFS_RENDER_STRATEGY", "copy")

	c, err := NewParser("SPFS").Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Storage.Root != "/override" {
		t.Fatalf("storage.root = %q, want override", c.Storage.Root)
	}
	if c.Remote["origin"].Address != "https://override.example.com" {
		t.Fatalf("remote.origin.address = %q, want override", c.Remote["origin"].Address)
	}
	if c.Render.Strategy != "copy" {
		t.Fatalf("render.strategy = %q, want override", c.Render.Strategy)
	}
}
