// Package capability defines the tags that name what a backend can do and
// the descriptor contract every backend exposes to the registry.
//
// A capability belongs to exactly one service family. The family is derived
// from the tag itself and is never stored next to it.
package capability

import (
	"fmt"
	"sort"
	"strings"
)

// Capability names one unit of work a backend may perform.
type Capability string

// Embedding capabilities.
const (
	TextEmbedding           Capability = "text-embedding"
	CodeEmbedding           Capability = "code-embedding"
	ContextualizedEmbedding Capability = "contextualized-embedding"
	MultimodalEmbedding     Capability = "multimodal-embedding"
)

// Completion capabilities.
const (
	TextCompletion   Capability = "text-completion"
	JSONCompletion   Capability = "json-completion"
	ExtendedThinking Capability = "extended-thinking"
	Vision           Capability = "vision"
	ToolUse          Capability = "tool-use"
	Streaming        Capability = "streaming"
	LongContext      Capability = "long-context"
)

// Reranking capabilities.
const (
	TextReranking         Capability = "text-reranking"
	CodeReranking         Capability = "code-reranking"
	MultilingualReranking Capability = "multilingual-reranking"
)

// Family is the service family a capability belongs to.
type Family string

const (
	FamilyEmbedding  Family = "embedding"
	FamilyCompletion Family = "completion"
	FamilyReranking  Family = "reranking"
)

var all = []Capability{
	TextEmbedding, CodeEmbedding, ContextualizedEmbedding, MultimodalEmbedding,
	TextCompletion, JSONCompletion, ExtendedThinking, Vision, ToolUse, Streaming, LongContext,
	TextReranking, CodeReranking, MultilingualReranking,
}

// All returns every known capability, grouped by family.
func All() []Capability {
	out := make([]Capability, len(all))
	copy(out, all)
	return out
}

// ByFamily returns the known capabilities of one family.
func ByFamily(f Family) []Capability {
	var out []Capability
	for _, c := range all {
		if fam, _ := c.Family(); fam == f {
			out = append(out, c)
		}
	}
	return out
}

// Family reports the service family of c. The second result is false for
// unknown tags.
func (c Capability) Family() (Family, bool) {
	switch c {
	case TextEmbedding, CodeEmbedding, ContextualizedEmbedding, MultimodalEmbedding:
		return FamilyEmbedding, true
	case TextCompletion, JSONCompletion, ExtendedThinking, Vision, ToolUse, Streaming, LongContext:
		return FamilyCompletion, true
	case TextReranking, CodeReranking, MultilingualReranking:
		return FamilyReranking, true
	default:
		return "", false
	}
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	_, ok := c.Family()
	return ok
}

func (c Capability) String() string {
	return string(c)
}

// Parse converts s into a known capability.
func Parse(s string) (Capability, error) {
	c := Capability(strings.TrimSpace(strings.ToLower(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown capability %q (known: %s)", s, Join(all))
	}
	return c, nil
}

// Sort orders capabilities lexically in place.
func Sort(caps []Capability) {
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
}

// Join renders capabilities as a comma separated list.
func Join(caps []Capability) string {
	parts := make([]string, len(caps))
	for i, c := range caps {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
