package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/gcodeml/internal/apperrors"
)

type format int

const (
	formatUnknown format = iota
	formatYAML
	formatJSON
)

func detectFormat(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return formatJSON
	case ".yaml", ".yml":
		return formatYAML
	default:
		return formatUnknown
	}
}

// Load reads and validates a manifest from the given file path.
//
// The file format is determined by extension: .yaml/.yml for YAML, .json for
// JSON. Other extensions are tried as YAML, which also accepts JSON.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperrors.NotFound("manifest", path)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("permission denied reading manifest: %s", path)
		}
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromReader reads and validates a manifest from an io.Reader.
func LoadFromReader(r io.Reader, path string) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return LoadFromBytes(data, path)
}

// LoadFromBytes parses and validates a manifest from raw bytes.
//
// The raw document is validated against the schema before it is decoded
// into the typed struct, so unknown fields are rejected rather than
// silently dropped.
func LoadFromBytes(data []byte, path string) (*Manifest, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, apperrors.MalformedInput("manifest", path, "file is empty")
	}

	raw, err := decodeGeneric(data, detectFormat(path))
	if err != nil {
		return nil, apperrors.MalformedInput("manifest", path, err.Error())
	}
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to convert manifest to JSON: %w", err)
	}
	if err := ValidateRaw(jsonData); err != nil {
		return nil, err
	}

	// The validated JSON form decodes identically for both input formats.
	var m Manifest
	if err := json.Unmarshal(jsonData, &m); err != nil {
		return nil, apperrors.MalformedInput("manifest", path, err.Error())
	}
	m.ApplyDefaults()
	return &m, nil
}

func decodeGeneric(data []byte, f format) (any, error) {
	var raw any
	if f == formatJSON {
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return raw, nil
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return raw, nil
}
