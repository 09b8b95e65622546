package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// codec reads and writes one on-disk format. Writes always go through
// AtomicWrite.
type codec struct {
	name      string
	unmarshal func([]byte, any) error
	marshal   func(any) ([]byte, error)
}

var (
	yamlCodec = codec{name: "YAML", unmarshal: yaml.Unmarshal, marshal: yaml.Marshal}
	jsonCodec = codec{name: "JSON", unmarshal: json.Unmarshal, marshal: marshalJSON}
)

func marshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// load decodes path into v. A missing file keeps fs.ErrNotExist in the chain.
func (c codec) load(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := c.unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s from %s: %w", c.name, path, err)
	}
	return nil
}

func (c codec) save(path string, v any) error {
	data, err := c.marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", c.name, err)
	}
	return AtomicWrite(path, data, 0644)
}

// LoadYAML decodes a YAML file into v.
func LoadYAML(path string, v any) error { return yamlCodec.load(path, v) }

// SaveYAML writes v as YAML.
func SaveYAML(path string, v any) error { return yamlCodec.save(path, v) }

// LoadJSON decodes a JSON file into v.
func LoadJSON(path string, v any) error { return jsonCodec.load(path, v) }

// SaveJSON writes v as indented JSON.
func SaveJSON(path string, v any) error { return jsonCodec.save(path, v) }

// FileExists reports whether path exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// LoadYAMLOrDefault loads a YAML file, or returns defaultFn() when the file
// does not exist yet.
func LoadYAMLOrDefault[T any](path string, defaultFn func() *T) (*T, error) {
	v := new(T)
	if err := LoadYAML(path, v); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return defaultFn(), nil
		}
		return nil, err
	}
	return v, nil
}
