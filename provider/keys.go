package provider

import (
	"context"
	"fmt"

	"github.com/becomeliminal/atlas/capability"
	"github.com/becomeliminal/atlas/memory"
	"github.com/becomeliminal/atlas/schema"
)

const keysSystem = `You label passages of a personal knowledge base with QNTM keys: short lowercase
semantic tags (one to three words) that a person might search for even when the passage
uses different vocabulary. Prefer concepts over words copied from the text.`

var keysSchema = schema.Object(map[string]schema.Schema{
	"keys": schema.Array("Semantic keys, most specific first.", schema.String("One key."), 0),
}, "keys")

// KeyGenerator produces QNTM keys through the first available
// json-completion backend.
type KeyGenerator struct {
	backends Lookup
}

var _ memory.KeyGenerator = (*KeyGenerator)(nil)

// NewKeyGenerator creates a generator resolving backends from reg.
func NewKeyGenerator(reg Lookup) *KeyGenerator {
	return &KeyGenerator{backends: reg}
}

// GenerateKeys returns up to n keys for text.
func (g *KeyGenerator) GenerateKeys(ctx context.Context, text string, n int) ([]string, error) {
	comp, name, err := CompleterFor(ctx, g.backends, capability.JSONCompletion)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf("Give at most %d keys for this passage:\n\n%s\n\n%s", n, text, schema.Instructions(keysSchema))
	reply, err := comp.Complete(ctx, Request{System: keysSystem, Prompt: prompt, MaxTokens: 256, JSON: true})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	var out struct {
		Keys []string `json:"keys"`
	}
	if err := schema.Decode(keysSchema, reply, &out); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(out.Keys) == 0 {
		return nil, fmt.Errorf("%s: no keys returned", name)
	}
	return out.Keys, nil
}
