package schema_test

import (
	"strings"
	"testing"

	"github.com/becomeliminal/atlas/schema"
)

func verdictSchema() schema.Schema {
	return schema.WithReasoning(schema.Object(map[string]schema.Schema{
		"type": schema.Enum("kind", "a", "b"),
	}, "type"))
}

func TestWithReasoning(t *testing.T) {
	base := schema.Object(map[string]schema.Schema{"x": schema.String("x")}, "x")
	s := schema.WithReasoning(base)

	req := s["required"].([]string)
	if len(req) != 2 || req[1] != "reasoning" {
		t.Errorf("required = %v", req)
	}
	if _, ok := s["properties"].(map[string]any)["reasoning"]; !ok {
		t.Error("reasoning property missing")
	}
	if len(base["required"].([]string)) != 1 {
		t.Error("WithReasoning modified its input")
	}
	if _, ok := base["properties"].(map[string]any)["reasoning"]; ok {
		t.Error("WithReasoning modified input properties")
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		Type      string `json:"type"`
		Reasoning string `json:"reasoning"`
	}
	reply := "Sure.\n```json\n{\"type\": \"a\", \"reasoning\": \"braces } in {text}\"}\n```\nDone."
	if err := schema.Decode(verdictSchema(), reply, &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out.Type != "a" || out.Reasoning != "braces } in {text}" {
		t.Errorf("decoded = %+v", out)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := map[string]string{
		"no object":      "I cannot decide",
		"unterminated":   `{"type": "a"`,
		"missing field":  `{"type": "a"}`,
		"invalid json":   `{"type": a, "reasoning": "x"}`,
	}
	for name, reply := range tests {
		var out map[string]any
		if err := schema.Decode(verdictSchema(), reply, &out); err == nil {
			t.Errorf("%s: Decode succeeded", name)
		}
	}
}

func TestInstructions(t *testing.T) {
	text := schema.Instructions(verdictSchema())
	if !strings.Contains(text, `"enum"`) || !strings.Contains(text, "JSON Schema") {
		t.Errorf("Instructions = %s", text)
	}
}
