package memory_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/becomeliminal/atlas/memory"
)

func TestChunkPayload_JSONFieldNames(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := memory.NewChunk("hello world", "/notes/a.md", "abc", 0, []string{"greeting"}, now)
	c.ConsolidationType = memory.DuplicateWork
	c.SupersededBy = "other"

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{
		"id", "original_text", "file_path", "file_hash", "qntm_keys", "created_at",
		"importance", "consolidation_level", "consolidation_type", "parents",
		"occurrences", "stability_score", "access_count", "deletion_eligible", "superseded_by",
	} {
		if _, ok := doc[field]; !ok {
			t.Errorf("field %q missing from %s", field, data)
		}
	}
	if doc["importance"] != "normal" {
		t.Errorf("importance = %v", doc["importance"])
	}
}

func TestChunkPayload_ExtraFieldsPassThrough(t *testing.T) {
	in := `{"id":"c1","original_text":"x","qntm_keys":["k"],"consolidation_level":1,
		"parents":[],"occurrences":[],"importance":"high","custom_tag":"keep-me","nested":{"a":1}}`

	var c memory.ChunkPayload
	if err := json.Unmarshal([]byte(in), &c); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if c.ConsolidationLevel != memory.LevelDeduplicated || c.Importance != memory.ImportanceHigh {
		t.Errorf("decoded = %+v", c)
	}
	if string(c.Extra["custom_tag"]) != `"keep-me"` {
		t.Errorf("Extra = %v", c.Extra)
	}
	if _, ok := c.Extra["id"]; ok {
		t.Error("schema field leaked into Extra")
	}

	out, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), `"custom_tag":"keep-me"`) || !strings.Contains(string(out), `"nested":{"a":1}`) {
		t.Errorf("extra fields dropped: %s", out)
	}
}

func TestChunkPayload_RejectsInvalidEnums(t *testing.T) {
	tests := []string{
		`{"id":"c","consolidation_level":5}`,
		`{"id":"c","consolidation_type":"merge_everything"}`,
		`{"id":"c","consolidation_direction":"sideways"}`,
		`{"id":"c","importance":"urgent"}`,
		`{"id":"c","causal_links":[{"target_id":"d","relation":"likes"}]}`,
	}
	for _, in := range tests {
		var c memory.ChunkPayload
		if err := json.Unmarshal([]byte(in), &c); err == nil {
			t.Errorf("Unmarshal(%s) succeeded, want error", in)
		}
	}
}

func TestParseEnums(t *testing.T) {
	if d, err := memory.ParseDirection(" Forward "); err != nil || d != memory.Forward {
		t.Errorf("ParseDirection = %q, %v", d, err)
	}
	if _, err := memory.ParseConsolidationType("duplicate"); err == nil {
		t.Error("ParseConsolidationType accepted a prefix")
	}
	if _, err := memory.ParseLevel(-1); err == nil {
		t.Error("ParseLevel(-1) succeeded")
	}
	if o, err := memory.ParseOrigin("heuristic"); err != nil || o != memory.OriginHeuristic {
		t.Errorf("ParseOrigin = %q, %v", o, err)
	}
}

func TestChunkPayload_Validate(t *testing.T) {
	now := time.Now()
	c := memory.NewChunk("text", "f", "h", 0, []string{"k"}, now)
	if err := c.Validate(); err != nil {
		t.Fatalf("fresh chunk invalid: %v", err)
	}

	noKeys := c.Clone()
	noKeys.QNTMKeys = nil
	if err := noKeys.Validate(); err == nil {
		t.Error("chunk without keys validated")
	}

	self := c.Clone()
	self.Parents = []string{c.ID}
	if err := self.Validate(); !errors.Is(err, memory.ErrSelfParent) {
		t.Errorf("self parent error = %v", err)
	}

	badLink := c.Clone()
	badLink.CausalLinks = []memory.CausalLink{{TargetID: "x", Relation: memory.Extends, Origin: memory.OriginUser, Confidence: 1.5}}
	if err := badLink.Validate(); err == nil {
		t.Error("confidence 1.5 validated")
	}
}

func TestChunkPayload_CloneIsDeep(t *testing.T) {
	c := memory.NewChunk("text", "f", "h", 0, []string{"k"}, time.Now())
	cp := c.Clone()
	cp.Parents = append(cp.Parents, "p")
	cp.QNTMKeys[0] = "changed"

	if len(c.Parents) != 0 || c.QNTMKeys[0] != "k" {
		t.Error("Clone shares slices with the original")
	}
}
