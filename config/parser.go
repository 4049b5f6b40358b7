package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

// Parser reads a Configuration from YAML bytes and overlays environment
// variable overrides, grounded in configuration/parser.go's
// prefix-joined-uppercase-field-path scheme: v.Storage.Root may be
// overridden by PREFIX_STORAGE_ROOT, v.Remote["origin"].Address by
// PREFIX_REMOTE_ORIGIN_ADDRESS, and so on.
type Parser struct {
	prefix string
	env    map[string]string
}

// NewParser returns a Parser whose overrides are read from the process
// environment, keyed by uppercase, prefix-joined field paths.
func NewParser(prefix string) *Parser {
	p := &Parser{prefix: prefix, env: make(map[string]string)}
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			p.env[parts[0]] = parts[1]
		}
	}
	return p
}

// Parse decodes in as a Configuration, rejecting anything but
// CurrentVersion, then applies environment overrides in place.
func (p *Parser) Parse(in []byte) (*Configuration, error) {
	var c Configuration
	if err := yaml.Unmarshal(in, &c); err != nil {
		return nil, err
	}
	if c.Version != CurrentVersion {
		return nil, fmt.Errorf("config: unsupported version %q, expected %q", c.Version, CurrentVersion)
	}
	if err := p.overwriteFields(reflect.ValueOf(&c), p.prefix); err != nil {
		return nil, err
	}
	return &c, nil
}

func (p *Parser) overwriteFields(v reflect.Value, prefix string) error {
	for v.Kind() == reflect.Ptr {
		v = reflect.Indirect(v)
	}
	switch v.Kind() {
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			sf := v.Type().Field(i)
			fieldPrefix := strings.ToUpper(prefix + "_" + sf.Name)
			if e, ok := p.env[fieldPrefix]; ok {
				fieldVal := reflect.New(sf.Type)
				if err := yaml.Unmarshal([]byte(e), fieldVal.Interface()); err != nil {
					return err
				}
				v.Field(i).Set(reflect.Indirect(fieldVal))
			}
			if err := p.overwriteFields(v.Field(i), fieldPrefix); err != nil {
				return err
			}
		}
	case reflect.Map:
		return p.overwriteMap(v, prefix)
	}
	return nil
}

func (p *Parser) overwriteMap(m reflect.Value, prefix string) error {
	if m.IsNil() {
		return nil
	}
	if m.Type().Elem().Kind() == reflect.Struct {
		for _, k := range m.MapKeys() {
			elemPrefix := strings.ToUpper(fmt.Sprintf("%s_%s", prefix, k))
			elem := reflect.New(m.Type().Elem()).Elem()
			elem.Set(m.MapIndex(k))
			if err := p.overwriteFields(elem.Addr(), elemPrefix); err != nil {
				return err
			}
			m.SetMapIndex(k, elem)
		}
	}
	envMapRegexp, err := regexp.Compile(fmt.Sprintf("^%s_([A-Za-z0-9]+)$", strings.ToUpper(prefix)))
	if err != nil {
		return err
	}
	for key, val := range p.env {
		submatches := envMapRegexp.FindStringSubmatch(key)
		if submatches == nil {
			continue
		}
		mapValue := reflect.New(m.Type().Elem())
		if err := yaml.Unmarshal([]byte(val), mapValue.Interface()); err != nil {
			return err
		}
		m.SetMapIndex(reflect.ValueOf(strings.ToLower(submatches[1])), reflect.Indirect(mapValue))
	}
	return nil
}

// Load reads path, parses it, and applies environment overrides using the
// "SPFS" prefix (so storage.root is overridden by SPFS_STORAGE_ROOT).
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return NewParser("SPFS").Parse(data)
}
