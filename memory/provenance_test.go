package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/becomeliminal/atlas/memory"
)

func chunk(id string, parents ...string) *memory.ChunkPayload {
	return &memory.ChunkPayload{ID: id, Parents: parents, QNTMKeys: []string{id}}
}

func TestAncestors_Transitive(t *testing.T) {
	chunks := map[string]*memory.ChunkPayload{
		"a": chunk("a", "b"),
		"b": chunk("b", "c", "d"),
		"c": chunk("c"),
		"d": chunk("d", "missing"),
	}
	lookup := memory.MapLookup(chunks)

	got := memory.Ancestors(lookup, "a")
	for _, want := range []string{"b", "c", "d", "missing"} {
		if _, ok := got[want]; !ok {
			t.Errorf("Ancestors(a) missing %s", want)
		}
	}
	if _, ok := got["a"]; ok {
		t.Error("chunk is its own ancestor")
	}
	if !memory.IsAncestor(lookup, "c", "a") {
		t.Error("IsAncestor(c, a) = false")
	}
	if memory.IsAncestor(lookup, "a", "c") {
		t.Error("IsAncestor(a, c) = true")
	}
}

func TestCheckAbsorb_RejectsCycles(t *testing.T) {
	chunks := map[string]*memory.ChunkPayload{
		"a": chunk("a", "b"),
		"b": chunk("b", "c"),
		"c": chunk("c"),
		"x": chunk("x"),
	}
	lookup := memory.MapLookup(chunks)

	tests := []struct {
		name               string
		primary, secondary string
		want               error
	}{
		{"secondary is transitive ancestor", "a", "c", memory.ErrProvenanceCycle},
		{"secondary is direct parent", "a", "b", memory.ErrProvenanceCycle},
		{"primary is ancestor of secondary", "c", "a", memory.ErrProvenanceCycle},
		{"self", "a", "a", memory.ErrSelfParent},
		{"unrelated", "a", "x", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := memory.CheckAbsorb(lookup, chunks[tt.primary], chunks[tt.secondary])
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckAbsorb(%s, %s) = %v, want %v", tt.primary, tt.secondary, err, tt.want)
			}
		})
	}
}

func TestAddParents(t *testing.T) {
	c := chunk("a", "b")
	if err := memory.AddParents(c, "c", "b", "c", ""); err != nil {
		t.Fatal(err)
	}
	if len(c.Parents) != 2 || c.Parents[0] != "b" || c.Parents[1] != "c" {
		t.Errorf("Parents = %v", c.Parents)
	}

	if err := memory.AddParents(c, "d", "a"); !errors.Is(err, memory.ErrSelfParent) {
		t.Errorf("self parent error = %v", err)
	}
	if len(c.Parents) != 2 {
		t.Errorf("failed AddParents modified the chunk: %v", c.Parents)
	}
}

func TestAppendOccurrences_AppendOnly(t *testing.T) {
	t0 := time.Unix(100, 0)
	c := &memory.ChunkPayload{Occurrences: []time.Time{t0}}
	memory.AppendOccurrences(c, time.Unix(200, 0), time.Unix(50, 0))

	if len(c.Occurrences) != 3 || !c.Occurrences[0].Equal(t0) {
		t.Errorf("Occurrences = %v", c.Occurrences)
	}
}

func TestUnionKeys(t *testing.T) {
	got := memory.UnionKeys([]string{"auth", "jwt"}, []string{"jwt", "", "session", "auth"})
	want := []string{"auth", "jwt", "session"}
	if len(got) != len(want) {
		t.Fatalf("UnionKeys = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("UnionKeys[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPromote_NeverDemotes(t *testing.T) {
	c := &memory.ChunkPayload{ConsolidationLevel: memory.LevelTopic}

	if memory.Promote(c, memory.LevelDeduplicated) {
		t.Error("Promote lowered the level")
	}
	if memory.Promote(c, memory.LevelTopic) {
		t.Error("Promote to the same level reported a change")
	}
	if memory.Promote(c, memory.Level(9)) {
		t.Error("Promote accepted an invalid level")
	}
	if !memory.Promote(c, memory.LevelDomain) || c.ConsolidationLevel != memory.LevelDomain {
		t.Errorf("level = %v", c.ConsolidationLevel)
	}
}
