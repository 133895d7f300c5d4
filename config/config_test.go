package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/becomeliminal/atlas/capability"
	"github.com/becomeliminal/atlas/config"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseSpecifier(t *testing.T) {
	tests := []struct {
		in       string
		provider config.Provider
		model    string
		wantErr  bool
	}{
		{"anthropic", config.ProviderAnthropic, "", false},
		{"anthropic:haiku", config.ProviderAnthropic, "haiku", false},
		{"ollama:ministral-3:3b", config.ProviderOllama, "ministral-3:3b", false},
		{"claude-code", config.ProviderClaudeCode, "", false},
		{"gemini:pro", "", "", true},
		{"", "", "", true},
		{"voyage:", "", "", true},
	}

	for _, tt := range tests {
		got, err := config.ParseSpecifier(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSpecifier(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if tt.wantErr {
			var se *config.SpecifierError
			if !errors.As(err, &se) {
				t.Errorf("ParseSpecifier(%q) error type = %T, want *SpecifierError", tt.in, err)
			}
			continue
		}
		if got.Provider != tt.provider || got.Model != tt.model {
			t.Errorf("ParseSpecifier(%q) = %+v", tt.in, got)
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestValidate_MatrixForEveryPair(t *testing.T) {
	for _, p := range config.Providers {
		for _, c := range capability.All() {
			cfg := config.Defaults()
			cfg.Backends = map[capability.Capability]config.Specifier{
				c: {Provider: p, Model: "m"},
			}

			err := config.Validate(cfg)
			if p.Supports(c) {
				if err != nil {
					t.Errorf("%s→%s: unexpected error %v", c, p, err)
				}
				continue
			}

			var ce *config.CompatibilityError
			if !errors.As(err, &ce) {
				t.Errorf("%s→%s: error = %v, want *CompatibilityError", c, p, err)
				continue
			}
			if ce.Capability != c || ce.Provider != p || len(ce.Supported) == 0 {
				t.Errorf("%s→%s: error fields = %+v", c, p, ce)
			}
		}
	}
}

func TestDefaults_Valid(t *testing.T) {
	if err := config.Validate(config.Defaults()); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestResolver_LayerPrecedence(t *testing.T) {
	path := writeFile(t, "atlas.yaml", `
backends:
  text-embedding: voyage:voyage-code-3
`)

	// Default only
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)))
	cfg, err := r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Backends[capability.TextEmbedding].String(); got != "ollama:nomic-embed-text" {
		t.Errorf("default text-embedding = %s", got)
	}

	// Environment detection
	env := config.MapEnv(map[string]string{config.EnvVoyageKey: "vk"})
	r = config.NewResolver(config.WithEnv(env))
	cfg, err = r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Backends[capability.TextEmbedding].String(); got != "voyage:voyage-3-large" {
		t.Errorf("env text-embedding = %s", got)
	}

	// User file wins
	r = config.NewResolver(config.WithEnv(env), config.WithFile(path))
	cfg, err = r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Backends[capability.TextEmbedding].String(); got != "voyage:voyage-code-3" {
		t.Errorf("final text-embedding = %s, want voyage:voyage-code-3", got)
	}
	// Untouched keys survive per-key merging
	if got := cfg.Backends[capability.CodeEmbedding].String(); got != "voyage:voyage-code-3" {
		t.Errorf("code-embedding = %s", got)
	}
	if got := cfg.Backends[capability.TextReranking].String(); got != "voyage:rerank-2.5" {
		t.Errorf("text-reranking = %s", got)
	}
}

func TestResolver_FileMergesSubConfigFields(t *testing.T) {
	path := writeFile(t, "atlas.json5", `{
  // only two fields
  consolidation: { similarity_threshold: 0.85, classify_timeout: "5s" },
}`)

	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)), config.WithFile(path))
	cfg, err := r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Consolidation.SimilarityThreshold != 0.85 {
		t.Errorf("similarity_threshold = %v", cfg.Consolidation.SimilarityThreshold)
	}
	if cfg.Consolidation.ClassifyTimeout != 5*time.Second {
		t.Errorf("classify_timeout = %v", cfg.Consolidation.ClassifyTimeout)
	}
	if cfg.Consolidation.Keep != "first" || cfg.Consolidation.BaseThreshold != 100 {
		t.Errorf("unspecified fields lost their defaults: %+v", cfg.Consolidation)
	}
}

func TestResolver_FileIncompatibleBackend(t *testing.T) {
	path := writeFile(t, "atlas.yaml", "backends:\n  text-reranking: anthropic:haiku\n")

	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)), config.WithFile(path))
	_, err := r.Load()
	var ce *config.CompatibilityError
	if !errors.As(err, &ce) {
		t.Fatalf("Load error = %v, want *CompatibilityError", err)
	}
}

func TestResolver_MissingFileFallsBack(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)),
		config.WithFile(filepath.Join(t.TempDir(), "absent.yaml")))
	if _, err := r.Load(); err != nil {
		t.Fatalf("Load with missing file: %v", err)
	}
}

func TestResolver_EmptyUserConfig(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)), config.WithUserConfig(&config.AtlasConfig{}))
	cfg, err := r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, config.Defaults()) {
		t.Error("empty user config changed the defaults")
	}
}

func TestResolver_PartialUserConfigKeepsDefaults(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)),
		config.WithUserConfig(&config.AtlasConfig{Search: &config.SearchConfig{DefaultLimit: 20}}))
	cfg, err := r.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := *config.Defaults().Search
	want.DefaultLimit = 20
	if *cfg.Search != want {
		t.Errorf("search = %+v, want %+v", *cfg.Search, want)
	}
}

func TestResolver_UnknownFileKey(t *testing.T) {
	tests := []struct {
		name, file, content, field string
	}{
		{"yaml section", "atlas.yaml", "consolidaton:\n  keep: merged\n", "consolidaton"},
		{"yaml field", "atlas.yaml", "search:\n  min_scor: 0.5\n", "min_scor"},
		{"json5 field", "atlas.json5", "{ daemon: { adr: \"x\" } }", "adr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			r := config.NewResolver(config.WithEnv(config.MapEnv(nil)), config.WithFile(path))
			_, err := r.Load()
			var ve *config.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Load error = %v, want *ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
}

func TestResolver_UnknownSettingKey(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)))
	before, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	snapshot := before.Clone()

	_, err = r.ApplyOverrides(config.Overrides{Settings: map[string]string{
		"consolidation.similarty_threshold": "0.99",
	}})
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
	if ve.Field != "consolidation.similarty_threshold" {
		t.Errorf("field = %q", ve.Field)
	}
	if !reflect.DeepEqual(r.Get(), snapshot) {
		t.Error("rejected setting mutated the published config")
	}

	if _, err := r.ApplyOverrides(config.Overrides{Settings: map[string]string{"serch.default_limit": "3"}}); err == nil {
		t.Error("unknown section accepted")
	}
}

func TestResolver_GetBeforeLoad(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)))
	if r.Get() == nil {
		t.Fatal("Get returned nil before Load")
	}
	if !reflect.DeepEqual(r.Get(), config.Defaults()) {
		t.Error("Get before Load is not the default config")
	}
}

func TestResolver_LoadMemoizes(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)))
	a, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	b, _ := r.Load()
	if a != b {
		t.Error("Load returned a different config on the second call")
	}
}

func TestResolver_ApplyOverridesIdempotent(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)))
	o := config.Overrides{
		Backends: map[string]string{"json-completion": "claude-code"},
		Settings: map[string]string{"consolidation.similarity_threshold": "0.92"},
	}

	once, err := r.ApplyOverrides(o)
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	twice, err := r.ApplyOverrides(o)
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if !reflect.DeepEqual(once, twice) {
		t.Error("applying the same overrides twice changed the result")
	}
	if twice.Consolidation.SimilarityThreshold != 0.92 {
		t.Errorf("similarity_threshold = %v", twice.Consolidation.SimilarityThreshold)
	}
	if got := twice.Backends[capability.JSONCompletion].String(); got != "claude-code" {
		t.Errorf("json-completion = %s", got)
	}
}

func TestResolver_FailedOverrideLeavesConfigUntouched(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)))
	before, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	snapshot := before.Clone()

	// Valid key first, invalid second: nothing may be applied.
	_, err = r.ApplyOverrides(config.Overrides{Backends: map[string]string{
		"json-completion": "claude-code",
		"text-reranking":  "ollama:whatever",
	}})
	var ce *config.CompatibilityError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *CompatibilityError", err)
	}
	if !reflect.DeepEqual(r.Get(), snapshot) {
		t.Error("failed override mutated the published config")
	}

	_, err = r.ApplyOverrides(config.Overrides{Backends: map[string]string{"text-embedding": "cohere:embed"}})
	var se *config.SpecifierError
	if !errors.As(err, &se) {
		t.Fatalf("unknown provider error = %v, want *SpecifierError", err)
	}
	if errors.As(err, &ce) {
		t.Error("unknown provider reported as a compatibility error")
	}
	if !reflect.DeepEqual(r.Get(), snapshot) {
		t.Error("parse failure mutated the published config")
	}
}

func TestResolver_OverridesSurviveReload(t *testing.T) {
	path := writeFile(t, "atlas.yaml", "search:\n  default_limit: 5\n")
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)), config.WithFile(path))

	var notified int
	r.OnChange(func(*config.AtlasConfig) { notified++ })

	if _, err := r.ApplyOverrides(config.Overrides{Settings: map[string]string{"search.min_score": "0.5"}}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("search:\n  default_limit: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := r.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if cfg.Search.DefaultLimit != 7 || cfg.Search.MinScore != 0.5 {
		t.Errorf("after reload search = %+v", cfg.Search)
	}
	if notified != 2 {
		t.Errorf("handlers notified %d times, want 2", notified)
	}
}

func TestResolver_Reset(t *testing.T) {
	r := config.NewResolver(config.WithEnv(config.MapEnv(nil)))
	if _, err := r.ApplyOverrides(config.Overrides{Settings: map[string]string{"search.default_limit": "3"}}); err != nil {
		t.Fatal(err)
	}
	r.Reset()
	if r.Get().Search.DefaultLimit != 10 {
		t.Error("Reset kept the overridden value")
	}
	cfg, err := r.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Search.DefaultLimit != 10 {
		t.Error("Reset kept remembered overrides")
	}
}

func TestSettings_FanInList(t *testing.T) {
	cfg, err := config.Overrides{Settings: map[string]string{"consolidation.fan_in": "3,6,9,12"}}.Apply(config.Defaults())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(cfg.Consolidation.FanIn, []int{3, 6, 9, 12}) {
		t.Errorf("fan_in = %v", cfg.Consolidation.FanIn)
	}
}

func TestValidate_SectionRanges(t *testing.T) {
	tests := map[string]func(*config.AtlasConfig){
		"similarity":  func(c *config.AtlasConfig) { c.Consolidation.SimilarityThreshold = 1.2 },
		"keep":        func(c *config.AtlasConfig) { c.Consolidation.Keep = "newest" },
		"fan-in":      func(c *config.AtlasConfig) { c.Consolidation.FanIn = []int{2, 0} },
		"concurrency": func(c *config.AtlasConfig) { c.Ingestion.MaxConcurrency = 0 },
		"min-score":   func(c *config.AtlasConfig) { c.Search.MinScore = -0.1 },
		"tracing":     func(c *config.AtlasConfig) { c.Tracing.Protocol = "udp" },
	}
	for name, mutate := range tests {
		cfg := config.Defaults()
		mutate(cfg)
		var ve *config.ValidationError
		if err := config.Validate(cfg); !errors.As(err, &ve) {
			t.Errorf("%s: error = %v, want *ValidationError", name, err)
		}
	}
}

func TestWithDotEnv(t *testing.T) {
	path := writeFile(t, ".env", "ANTHROPIC_API_KEY=from-file\nVOYAGE_API_KEY=file-voyage\n")
	env := config.WithDotEnv(config.MapEnv(map[string]string{config.EnvVoyageKey: "process"}), path)

	if env(config.EnvAnthropicKey) != "from-file" {
		t.Error(".env value not visible")
	}
	if env(config.EnvVoyageKey) != "process" {
		t.Error("process environment did not win over .env")
	}
}
