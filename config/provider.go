package config

import (
	"fmt"
	"strings"

	"github.com/becomeliminal/atlas/capability"
)

// Provider is a backend vendor. The set is closed; adding one is a code change.
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderClaudeCode Provider = "claude-code"
	ProviderOpenAI     Provider = "openai"
	ProviderOllama     Provider = "ollama"
	ProviderVoyage     Provider = "voyage"
)

// Providers lists every known provider.
var Providers = []Provider{
	ProviderAnthropic,
	ProviderClaudeCode,
	ProviderOpenAI,
	ProviderOllama,
	ProviderVoyage,
}

// ProviderCapabilities is the static compatibility matrix: which capabilities
// each provider can serve.
var ProviderCapabilities = map[Provider][]capability.Capability{
	ProviderAnthropic: {
		capability.TextCompletion,
		capability.JSONCompletion,
		capability.ExtendedThinking,
		capability.Vision,
		capability.ToolUse,
		capability.Streaming,
		capability.LongContext,
	},
	ProviderClaudeCode: {
		capability.TextCompletion,
		capability.JSONCompletion,
		capability.ExtendedThinking,
		capability.ToolUse,
		capability.LongContext,
	},
	ProviderOpenAI: {
		capability.TextEmbedding,
		capability.CodeEmbedding,
		capability.TextCompletion,
		capability.JSONCompletion,
		capability.Vision,
		capability.ToolUse,
		capability.Streaming,
		capability.LongContext,
	},
	ProviderOllama: {
		capability.TextEmbedding,
		capability.CodeEmbedding,
		capability.TextCompletion,
		capability.JSONCompletion,
		capability.Vision,
		capability.ToolUse,
		capability.Streaming,
	},
	ProviderVoyage: {
		capability.TextEmbedding,
		capability.CodeEmbedding,
		capability.ContextualizedEmbedding,
		capability.MultimodalEmbedding,
		capability.TextReranking,
		capability.CodeReranking,
		capability.MultilingualReranking,
	},
}

// ParseProvider converts s into a known provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := ProviderCapabilities[p]; !ok {
		return "", fmt.Errorf("unknown provider %q (known: %s)", s, joinProviders(Providers))
	}
	return p, nil
}

// Supports reports whether p can serve c according to the matrix.
func (p Provider) Supports(c capability.Capability) bool {
	for _, have := range ProviderCapabilities[p] {
		if have == c {
			return true
		}
	}
	return false
}

func (p Provider) String() string {
	return string(p)
}

func joinProviders(ps []Provider) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = string(p)
	}
	return strings.Join(parts, ", ")
}
