package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// DecodeFile reads a user config file and layers it onto base. Fields absent
// from the file keep their base values; backend entries merge per key.
// .yaml/.yml files are read as YAML, .json/.json5 as JSON5.
func DecodeFile(base *AtlasConfig, path string) (*AtlasConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Decode(base, data, filepath.Ext(path))
}

// Decode layers a document onto base. ext selects the format (".yaml",
// ".yml", ".json", ".json5"); an empty ext means YAML.
func Decode(base *AtlasConfig, data []byte, ext string) (*AtlasConfig, error) {
	out := base.Clone()
	if out == nil {
		out = Defaults()
	}

	switch strings.ToLower(ext) {
	case ".json", ".json5":
		// JSON5 is normalised through YAML so both formats share one decoder
		// and the same merge semantics.
		var doc map[string]interface{}
		if err := json5.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json5: %w", err)
		}
		converted, err := yaml.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("normalise json5: %w", err)
		}
		data = converted
	case "", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}

	if err := decodeStrict(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

var unknownFieldRe = regexp.MustCompile(`field (\S+) not found in type`)

// decodeStrict decodes a YAML document onto out, rejecting keys that match no
// config field. An unknown key becomes a *ValidationError naming it.
func decodeStrict(data []byte, out *AtlasConfig) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(out)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var te *yaml.TypeError
	if errors.As(err, &te) {
		for _, msg := range te.Errors {
			if m := unknownFieldRe.FindStringSubmatch(msg); m != nil {
				return &ValidationError{Field: m[1], Reason: "unknown key"}
			}
		}
	}
	return fmt.Errorf("parse yaml: %w", err)
}

// Encode renders cfg as YAML.
func Encode(cfg *AtlasConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}
