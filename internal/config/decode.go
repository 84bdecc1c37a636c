package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// decodeFile fills cfg from the raw file contents. YAML files (.yaml, .yml)
// are converted to JSON first so both formats share one strict decoder that
// rejects unknown keys and trailing documents.
func decodeFile(path string, raw []byte, cfg *Config) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var tree any
		if err := yaml.Unmarshal(raw, &tree); err != nil {
			return fmt.Errorf("%s: yaml: %w", path, err)
		}
		j, err := json.Marshal(jsonKeys(tree))
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		raw = j
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	switch err := dec.Decode(&struct{}{}); {
	case err == io.EOF:
		return nil
	case err == nil:
		return fmt.Errorf("%s: unexpected data after the config object", path)
	default:
		return fmt.Errorf("%s: %w", path, err)
	}
}

// jsonKeys walks a decoded YAML tree and stringifies map keys, which YAML
// allows to be ints or bools.
func jsonKeys(node any) any {
	switch n := node.(type) {
	case map[any]any:
		out := make(map[string]any, len(n))
		for k, v := range n {
			out[fmt.Sprint(k)] = jsonKeys(v)
		}
		return out
	case map[string]any:
		for k, v := range n {
			n[k] = jsonKeys(v)
		}
	case []any:
		for i, v := range n {
			n[i] = jsonKeys(v)
		}
	}
	return node
}

// Duration parses the Go duration string stored under field. Blank or zero
// yields def; negative values are rejected.
func Duration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
