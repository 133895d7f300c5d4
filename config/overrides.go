package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/atlas/capability"
)

// Overrides is the runtime layer, typically built from command-line flags.
type Overrides struct {
	// Backends maps capability tags to specifier strings, both unparsed.
	Backends map[string]string

	// Settings maps dotted sub-config paths to raw scalar values,
	// e.g. "consolidation.similarity_threshold" → "0.92".
	Settings map[string]string
}

// IsEmpty reports whether o contributes nothing.
func (o Overrides) IsEmpty() bool {
	return len(o.Backends) == 0 && len(o.Settings) == 0
}

// Combine returns o with later layered on top, key by key.
func (o Overrides) Combine(later Overrides) Overrides {
	out := Overrides{
		Backends: make(map[string]string, len(o.Backends)+len(later.Backends)),
		Settings: make(map[string]string, len(o.Settings)+len(later.Settings)),
	}
	for k, v := range o.Backends {
		out.Backends[k] = v
	}
	for k, v := range later.Backends {
		out.Backends[k] = v
	}
	for k, v := range o.Settings {
		out.Settings[k] = v
	}
	for k, v := range later.Settings {
		out.Settings[k] = v
	}
	return out
}

// ParseAssignments turns "key=value" pairs into a map.
func ParseAssignments(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", p)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}

// Apply layers o onto base and returns the result. Backend keys and values
// are parsed first, so an unknown provider fails with a *SpecifierError before
// anything else is touched. base is not modified.
func (o Overrides) Apply(base *AtlasConfig) (*AtlasConfig, error) {
	out := base.Clone()

	keys := make([]string, 0, len(o.Backends))
	for k := range o.Backends {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c, err := capability.Parse(k)
		if err != nil {
			return nil, err
		}
		spec, err := ParseSpecifier(o.Backends[k])
		if err != nil {
			return nil, err
		}
		out.Backends[c] = spec
	}

	if len(o.Settings) > 0 {
		doc, err := yaml.Marshal(settingsNode(o.Settings))
		if err != nil {
			return nil, fmt.Errorf("apply settings: %w", err)
		}
		if err := decodeStrict(doc, out); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				return nil, &ValidationError{Field: settingKey(o.Settings, ve.Field), Reason: ve.Reason}
			}
			return nil, fmt.Errorf("apply settings: %w", err)
		}
	}
	return out, nil
}

// settingKey returns the dotted setting whose path contains segment, so an
// unknown-key error names what the caller typed.
func settingKey(settings map[string]string, segment string) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, part := range strings.Split(k, ".") {
			if part == segment {
				return k
			}
		}
	}
	return segment
}

// settingsNode builds a YAML mapping from dotted paths. Values stay plain
// scalars so YAML resolves them into the field types (numbers, booleans,
// durations).
func settingsNode(settings map[string]string) *yaml.Node {
	root := &yaml.Node{Kind: yaml.MappingNode}

	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		node := root
		parts := strings.Split(k, ".")
		for i, part := range parts {
			if i == len(parts)-1 {
				node.Content = append(node.Content,
					&yaml.Node{Kind: yaml.ScalarNode, Value: part},
					scalarNode(settings[k]))
				break
			}
			node = childMapping(node, part)
		}
	}
	return root
}

func scalarNode(v string) *yaml.Node {
	if strings.Contains(v, ",") && !strings.ContainsAny(v, "[{") {
		seq := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range strings.Split(v, ",") {
			seq.Content = append(seq.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: strings.TrimSpace(item)})
		}
		return seq
	}
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}

func childMapping(parent *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(parent.Content); i += 2 {
		if parent.Content[i].Value == key && parent.Content[i+1].Kind == yaml.MappingNode {
			return parent.Content[i+1]
		}
	}
	child := &yaml.Node{Kind: yaml.MappingNode}
	parent.Content = append(parent.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, child)
	return child
}
