package provider

import (
	"context"
	"fmt"
	"log"

	"github.com/becomeliminal/atlas/capability"
	"github.com/becomeliminal/atlas/config"
	"github.com/becomeliminal/atlas/registry"
)

// Build registers one Backend per distinct specifier in cfg. Backends are
// registered in the order their first capability appears in
// capability.All, so lookups are deterministic.
func Build(cfg *config.AtlasConfig, env config.Env, opts ...Option) (*registry.BackendRegistry, error) {
	s := newSettings(opts)
	if env == nil {
		env = config.ProcessEnv
	}
	reg := registry.NewBackendRegistry(s.registryOpts...)

	var order []string
	specs := map[string]config.Specifier{}
	caps := map[string][]capability.Capability{}
	for _, c := range capability.All() {
		spec, ok := cfg.Backends[c]
		if !ok {
			continue
		}
		name := spec.String()
		if _, seen := specs[name]; !seen {
			order = append(order, name)
			specs[name] = spec
		}
		caps[name] = append(caps[name], c)
	}

	for _, name := range order {
		b, err := newBackend(specs[name], caps[name], env, s)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		reg.Register(b)
		log.Printf("[PROVIDER] Registered %s (%s)", name, capability.Join(b.Capabilities()))
	}
	return reg, nil
}

func newBackend(spec config.Specifier, caps []capability.Capability, env config.Env, s *settings) (*Backend, error) {
	var completion, embedding, reranking bool
	for _, c := range caps {
		if !spec.Provider.Supports(c) {
			return nil, &config.CompatibilityError{
				Capability: c,
				Provider:   spec.Provider,
				Supported:  config.ProviderCapabilities[spec.Provider],
			}
		}
		switch fam, _ := c.Family(); fam {
		case capability.FamilyCompletion:
			completion = true
		case capability.FamilyEmbedding:
			embedding = true
		case capability.FamilyReranking:
			reranking = true
		}
	}

	b := &Backend{Spec: spec.String()}
	var probe capability.ProbeFunc

	switch spec.Provider {
	case config.ProviderAnthropic:
		key := env(config.EnvAnthropicKey)
		b.Completer = newAnthropic(spec.Model, key, s)
		probe = requireKey(config.EnvAnthropicKey, key)

	case config.ProviderClaudeCode:
		cc := newClaudeCode(spec.Model, s.claudeBinary)
		b.Completer = cc
		probe = cc.available

	case config.ProviderOpenAI:
		key := env(config.EnvOpenAIKey)
		api := newAPIClient("openai", s.baseURL(config.ProviderOpenAI, "https://api.openai.com/v1"),
			map[string]string{"Authorization": "Bearer " + key}, s)
		if completion {
			b.Completer = &openAICompleter{api: api, model: modelOr(spec.Model, "gpt-4o-mini")}
		}
		if embedding {
			b.Embedder = newOpenAIEmbedder(api, modelOr(spec.Model, "text-embedding-3-small"))
		}
		probe = requireKey(config.EnvOpenAIKey, key)

	case config.ProviderOllama:
		host := env(config.EnvOllamaHost)
		if host == "" {
			host = "http://localhost:11434"
		}
		api := newAPIClient("ollama", s.baseURL(config.ProviderOllama, host), nil, s)
		model := modelOr(spec.Model, "nomic-embed-text")
		if completion {
			b.Completer = &ollamaCompleter{api: api, model: model}
		}
		if embedding {
			b.Embedder = newOllamaEmbedder(api, model)
		}
		probe = ollamaProbe(api, spec.Model)

	case config.ProviderVoyage:
		key := env(config.EnvVoyageKey)
		api := newAPIClient("voyage", s.baseURL(config.ProviderVoyage, "https://api.voyageai.com/v1"),
			map[string]string{"Authorization": "Bearer " + key}, s)
		if embedding {
			b.Embedder = newVoyageEmbedder(api, modelOr(spec.Model, "voyage-3-large"))
		}
		if reranking {
			b.Reranker = &voyageReranker{api: api, model: modelOr(spec.Model, "rerank-2.5")}
		}
		probe = requireKey(config.EnvVoyageKey, key)

	default:
		return nil, fmt.Errorf("unknown provider %q", spec.Provider)
	}

	b.Backend = capability.NewBackend(spec.String(), caps, probe)
	return b, nil
}

func requireKey(name, value string) capability.ProbeFunc {
	return func(context.Context) (bool, error) {
		if value == "" {
			return false, fmt.Errorf("%s not set", name)
		}
		return true, nil
	}
}

func modelOr(model, fallback string) string {
	if model == "" {
		return fallback
	}
	return model
}
