// Package schema builds JSON Schema documents for structured completion
// prompts and validates decoded replies against their required fields.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Schema is a JSON Schema document.
type Schema = map[string]any

// Object creates an object schema with the given properties.
func Object(properties map[string]Schema, required ...string) Schema {
	props := make(map[string]any, len(properties))
	for k, v := range properties {
		props[k] = v
	}
	s := Schema{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// String creates a string property.
func String(description string) Schema {
	return Schema{
		"type":        "string",
		"description": description,
	}
}

// Enum creates a string property with allowed values.
func Enum(description string, values ...string) Schema {
	return Schema{
		"type":        "string",
		"description": description,
		"enum":        values,
	}
}

// Number creates a number property bounded to [min, max].
func Number(description string, min, max float64) Schema {
	return Schema{
		"type":        "number",
		"description": description,
		"minimum":     min,
		"maximum":     max,
	}
}

// Array creates an array property with the given item schema.
func Array(description string, items Schema, maxItems int) Schema {
	s := Schema{
		"type":        "array",
		"description": description,
		"items":       items,
	}
	if maxItems > 0 {
		s["maxItems"] = maxItems
	}
	return s
}

// WithReasoning adds a required "reasoning" property to an object schema.
// The input is not modified.
func WithReasoning(s Schema) Schema {
	out := make(Schema, len(s))
	for k, v := range s {
		out[k] = v
	}

	props := map[string]any{}
	if p, ok := s["properties"].(map[string]any); ok {
		for k, v := range p {
			props[k] = v
		}
	}
	props["reasoning"] = String("One or two sentences explaining the decision.")
	out["properties"] = props

	required, _ := s["required"].([]string)
	out["required"] = append(append([]string(nil), required...), "reasoning")
	return out
}

// Instructions renders s as prompt text asking for a single JSON object.
func Instructions(s Schema) string {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		// Schemas are built from literals; this only fails on programmer error.
		panic(err)
	}
	return "Respond with a single JSON object and nothing else. It must match this JSON Schema:\n" + string(data)
}

// Decode extracts the first JSON object from a completion, tolerating code
// fences and surrounding prose, and unmarshals it into v. Every field listed
// in the schema's "required" array must be present.
func Decode(s Schema, text string, v any) error {
	raw, err := extractObject(text)
	if err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	required, _ := s["required"].([]string)
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			return fmt.Errorf("reply missing required field %q", name)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

func extractObject(text string) ([]byte, error) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, fmt.Errorf("reply contains no JSON object")
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return []byte(text[start : i+1]), nil
			}
		}
	}
	return nil, fmt.Errorf("reply contains an unterminated JSON object")
}
