package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"sync"
)

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithEnv sets the environment used for provider detection.
func WithEnv(env Env) ResolverOption {
	return func(r *Resolver) {
		r.env = env
	}
}

// WithDotEnvFile layers a .env file under the environment.
func WithDotEnvFile(path string) ResolverOption {
	return func(r *Resolver) {
		r.dotEnvPath = path
	}
}

// WithFile sets the user config file.
func WithFile(path string) ResolverOption {
	return func(r *Resolver) {
		r.path = path
	}
}

// WithUserConfig sets a programmatic user layer, applied after the file.
func WithUserConfig(cfg *AtlasConfig) ResolverOption {
	return func(r *Resolver) {
		r.user = cfg
	}
}

// ChangeHandler is called with the new config after it is published.
type ChangeHandler func(cfg *AtlasConfig)

// Resolver produces the validated AtlasConfig and owns its lifecycle.
//
// Load is idempotent and memoizes; Get never returns nil; ApplyOverrides
// is all-or-nothing. Published configs are immutable snapshots, so readers
// never observe a partially validated value.
type Resolver struct {
	env        Env
	dotEnvPath string
	path       string
	user       *AtlasConfig

	mu        sync.RWMutex
	current   *AtlasConfig
	base      *AtlasConfig // defaults + env + user, before overrides
	overrides Overrides
	loaded    bool
	handlers  []ChangeHandler
}

// NewResolver creates a resolver. Nothing is read until Load.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{env: ProcessEnv}
	for _, opt := range opts {
		opt(r)
	}
	if r.path == "" {
		r.path = r.env(EnvConfigPath)
	}
	return r
}

// Path returns the user config file, if any.
func (r *Resolver) Path() string {
	return r.path
}

// Load assembles and validates the config. Subsequent calls return the
// memoized result.
func (r *Resolver) Load() (*AtlasConfig, error) {
	r.mu.RLock()
	if r.loaded {
		cfg := r.current
		r.mu.RUnlock()
		return cfg, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return r.current, nil
	}

	base, err := r.assemble()
	if err != nil {
		return nil, err
	}
	cfg, err := r.overrides.Apply(base)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	r.base = base
	r.current = cfg
	r.loaded = true
	log.Printf("[CONFIG] Loaded config (%d backends, file=%q)", len(cfg.Backends), r.path)
	return cfg, nil
}

// assemble merges defaults, environment and user layers, validating after
// each merge.
func (r *Resolver) assemble() (*AtlasConfig, error) {
	env := r.env
	if r.dotEnvPath != "" {
		env = WithDotEnv(env, r.dotEnvPath)
	}

	cfg := Merge(Defaults(), EnvironmentLayer(env))
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("environment layer: %w", err)
	}

	if r.path != "" {
		fromFile, err := DecodeFile(cfg, r.path)
		switch {
		case err == nil:
			cfg = fromFile
		case errors.Is(err, fs.ErrNotExist):
			log.Printf("[CONFIG] Config file %s not found, using defaults", r.path)
		default:
			return nil, err
		}
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config file %s: %w", r.path, err)
		}
	}

	if r.user != nil {
		cfg = Merge(cfg, r.user)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("user config: %w", err)
		}
	}
	return cfg, nil
}

// Get returns the current config, or the defaults if Load has not run.
func (r *Resolver) Get() *AtlasConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.current == nil {
		return Defaults()
	}
	return r.current
}

// ApplyOverrides layers o on top of the loaded config. The new config is
// published only if it validates; on error nothing changes. Overrides are
// remembered and re-applied by Reload.
func (r *Resolver) ApplyOverrides(o Overrides) (*AtlasConfig, error) {
	if _, err := r.Load(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	combined := r.overrides.Combine(o)
	cfg, err := combined.Apply(r.base)
	if err == nil {
		err = Validate(cfg)
	}
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.overrides = combined
	r.current = cfg
	handlers := append([]ChangeHandler(nil), r.handlers...)
	r.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	return cfg, nil
}

// Reload re-reads every layer and re-applies remembered overrides. On error
// the current config stays published.
func (r *Resolver) Reload() (*AtlasConfig, error) {
	r.mu.Lock()
	base, err := r.assemble()
	var cfg *AtlasConfig
	if err == nil {
		cfg, err = r.overrides.Apply(base)
	}
	if err == nil {
		err = Validate(cfg)
	}
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.base = base
	r.current = cfg
	r.loaded = true
	handlers := append([]ChangeHandler(nil), r.handlers...)
	r.mu.Unlock()

	for _, h := range handlers {
		h(cfg)
	}
	return cfg, nil
}

// OnChange registers a handler called after ApplyOverrides or Reload publish.
func (r *Resolver) OnChange(h ChangeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, h)
}

// Reset drops every memoized value. Intended for tests.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
	r.base = nil
	r.overrides = Overrides{}
	r.loaded = false
}
