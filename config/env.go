package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/becomeliminal/atlas/capability"
)

// Credential variables read during environment detection.
const (
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvVoyageKey    = "VOYAGE_API_KEY"
	EnvOllamaHost   = "OLLAMA_HOST"
	EnvConfigPath   = "ATLAS_CONFIG"
)

// Env looks up environment variables.
type Env func(key string) string

// ProcessEnv reads the process environment.
func ProcessEnv(key string) string {
	return os.Getenv(key)
}

// WithDotEnv layers the variables of a .env file under env. Process
// variables win; the process environment itself is not modified.
// A missing file is not an error.
func WithDotEnv(env Env, path string) Env {
	values, err := godotenv.Read(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Printf("[CONFIG] Ignoring unreadable %s: %v", path, err)
		}
		return env
	}
	return func(key string) string {
		if v := env(key); v != "" {
			return v
		}
		return values[key]
	}
}

// MapEnv serves lookups from a map. Useful in tests.
func MapEnv(m map[string]string) Env {
	return func(key string) string {
		return m[key]
	}
}

// EnvironmentLayer derives backend defaults from available credentials.
// Providers are applied in the order openai, voyage, anthropic; later ones
// win for capabilities they share.
func EnvironmentLayer(env Env) *AtlasConfig {
	layer := &AtlasConfig{Backends: map[capability.Capability]Specifier{}}
	set := func(c capability.Capability, spec string) {
		layer.Backends[c] = MustSpecifier(spec)
	}

	if env(EnvOpenAIKey) != "" {
		set(capability.TextEmbedding, "openai:text-embedding-3-small")
		set(capability.CodeEmbedding, "openai:text-embedding-3-small")
		set(capability.TextCompletion, "openai:gpt-4o-mini")
		set(capability.JSONCompletion, "openai:gpt-4o-mini")
		set(capability.Vision, "openai:gpt-4o")
		set(capability.ToolUse, "openai:gpt-4o")
		set(capability.Streaming, "openai:gpt-4o-mini")
		set(capability.LongContext, "openai:gpt-4o")
	}

	if env(EnvVoyageKey) != "" {
		set(capability.TextEmbedding, "voyage:voyage-3-large")
		set(capability.CodeEmbedding, "voyage:voyage-code-3")
		set(capability.ContextualizedEmbedding, "voyage:voyage-context-3")
		set(capability.MultimodalEmbedding, "voyage:voyage-multimodal-3")
		set(capability.TextReranking, "voyage:rerank-2.5")
		set(capability.CodeReranking, "voyage:rerank-2.5")
		set(capability.MultilingualReranking, "voyage:rerank-2.5")
	}

	if env(EnvAnthropicKey) != "" {
		set(capability.TextCompletion, "anthropic:haiku")
		set(capability.JSONCompletion, "anthropic:haiku")
		set(capability.ExtendedThinking, "anthropic:sonnet")
		set(capability.Vision, "anthropic:sonnet")
		set(capability.ToolUse, "anthropic:sonnet")
		set(capability.Streaming, "anthropic:haiku")
		set(capability.LongContext, "anthropic:sonnet")
	}

	return layer
}
