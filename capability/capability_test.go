package capability_test

import (
	"context"
	"errors"
	"testing"

	"github.com/becomeliminal/atlas/capability"
)

func TestFamily_EveryCapabilityHasExactlyOne(t *testing.T) {
	counts := map[capability.Family]int{}
	for _, c := range capability.All() {
		fam, ok := c.Family()
		if !ok {
			t.Fatalf("capability %q has no family", c)
		}
		counts[fam]++
	}

	if counts[capability.FamilyEmbedding] != 4 {
		t.Errorf("embedding family size = %d, want 4", counts[capability.FamilyEmbedding])
	}
	if counts[capability.FamilyCompletion] != 7 {
		t.Errorf("completion family size = %d, want 7", counts[capability.FamilyCompletion])
	}
	if counts[capability.FamilyReranking] != 3 {
		t.Errorf("reranking family size = %d, want 3", counts[capability.FamilyReranking])
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    capability.Capability
		wantErr bool
	}{
		{"json-completion", capability.JSONCompletion, false},
		{" Text-Embedding ", capability.TextEmbedding, false},
		{"code-reranking", capability.CodeReranking, false},
		{"telepathy", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := capability.Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestByFamily(t *testing.T) {
	for _, c := range capability.ByFamily(capability.FamilyReranking) {
		if fam, _ := c.Family(); fam != capability.FamilyReranking {
			t.Errorf("ByFamily(reranking) returned %q of family %q", c, fam)
		}
	}
}

func TestBackend_SupportsMatchesCapabilities(t *testing.T) {
	b := capability.NewBackend("ollama:ministral",
		[]capability.Capability{capability.JSONCompletion, capability.TextEmbedding}, nil)

	advertised := map[capability.Capability]bool{}
	for _, c := range b.Capabilities() {
		advertised[c] = true
	}

	for _, c := range capability.All() {
		if b.Supports(c) != advertised[c] {
			t.Errorf("Supports(%q) = %v, advertised = %v", c, b.Supports(c), advertised[c])
		}
	}
}

func TestBackend_Available(t *testing.T) {
	ctx := context.Background()

	ok, err := capability.NewBackend("a", nil, nil).Available(ctx)
	if err != nil || !ok {
		t.Errorf("nil probe: got (%v, %v), want (true, nil)", ok, err)
	}

	ok, _ = capability.NewBackend("b", nil, capability.Static(false)).Available(ctx)
	if ok {
		t.Error("static(false) probe reported available")
	}

	boom := errors.New("boom")
	_, err = capability.NewBackend("c", nil, func(context.Context) (bool, error) {
		return false, boom
	}).Available(ctx)
	if !errors.Is(err, boom) {
		t.Errorf("probe error = %v, want %v", err, boom)
	}
}
