package config

import (
	"errors"
	"fmt"
	"sort"

	"github.com/becomeliminal/atlas/capability"
)

// CompatibilityError reports a capability assigned to a provider that cannot serve it.
type CompatibilityError struct {
	Capability capability.Capability
	Provider   Provider
	Supported  []capability.Capability
}

func (e *CompatibilityError) Error() string {
	return fmt.Sprintf("provider %q does not support capability %q (supported: %s)",
		e.Provider, e.Capability, capability.Join(e.Supported))
}

// ValidationError reports an out-of-range sub-config field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// KeepPolicies are the accepted consolidation.keep values.
var KeepPolicies = map[string]bool{
	"first":  true,
	"second": true,
	"merged": true,
}

// Validate checks every backend assignment against the compatibility matrix
// and every sub-config field against its range. Backends are checked in
// capability order so the reported error is deterministic.
func Validate(cfg *AtlasConfig) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	caps := make([]capability.Capability, 0, len(cfg.Backends))
	for c := range cfg.Backends {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

	for _, c := range caps {
		if !c.Valid() {
			return &ValidationError{Field: "backends", Reason: fmt.Sprintf("unknown capability %q", c)}
		}
		spec := cfg.Backends[c]
		if _, err := ParseProvider(string(spec.Provider)); err != nil {
			return &SpecifierError{Input: spec.String(), Reason: err.Error()}
		}
		if !spec.Provider.Supports(c) {
			return &CompatibilityError{
				Capability: c,
				Provider:   spec.Provider,
				Supported:  append([]capability.Capability(nil), ProviderCapabilities[spec.Provider]...),
			}
		}
	}

	return validateSections(cfg)
}

func validateSections(cfg *AtlasConfig) error {
	if s := cfg.Storage; s != nil {
		if s.Collection == "" {
			return &ValidationError{Field: "storage.collection", Reason: "must not be empty"}
		}
		if s.EmbeddingCacheEntries < 0 {
			return &ValidationError{Field: "storage.embedding_cache_entries", Reason: "must be >= 0"}
		}
	}

	if in := cfg.Ingestion; in != nil {
		if in.ChunkSize <= 0 {
			return &ValidationError{Field: "ingestion.chunk_size", Reason: "must be > 0"}
		}
		if in.MinConcurrency < 1 {
			return &ValidationError{Field: "ingestion.min_concurrency", Reason: "must be >= 1"}
		}
		if in.MaxConcurrency < in.MinConcurrency {
			return &ValidationError{Field: "ingestion.max_concurrency", Reason: "must be >= min_concurrency"}
		}
	}

	if s := cfg.Search; s != nil {
		if !inUnit(s.MinScore) {
			return &ValidationError{Field: "search.min_score", Reason: "must be in [0,1]"}
		}
		if s.DefaultLimit <= 0 {
			return &ValidationError{Field: "search.default_limit", Reason: "must be > 0"}
		}
	}

	if c := cfg.Consolidation; c != nil {
		if !inUnit(c.SimilarityThreshold) {
			return &ValidationError{Field: "consolidation.similarity_threshold", Reason: "must be in [0,1]"}
		}
		if !inUnit(c.StabilityThreshold) {
			return &ValidationError{Field: "consolidation.stability_threshold", Reason: "must be in [0,1]"}
		}
		if c.BaseThreshold < 0 || c.ScaleFactor < 0 {
			return &ValidationError{Field: "consolidation.base_threshold", Reason: "threshold terms must be >= 0"}
		}
		if !KeepPolicies[c.Keep] {
			return &ValidationError{Field: "consolidation.keep", Reason: fmt.Sprintf("%q is not one of first, second, merged", c.Keep)}
		}
		for i, n := range c.FanIn {
			if n < 1 {
				return &ValidationError{Field: fmt.Sprintf("consolidation.fan_in[%d]", i), Reason: "must be >= 1"}
			}
		}
		if c.GracePeriodDays < 0 {
			return &ValidationError{Field: "consolidation.grace_period_days", Reason: "must be >= 0"}
		}
		if c.StabilityHalfLife < 0 || c.AccessWeight < 0 {
			return &ValidationError{Field: "consolidation.stability_half_life", Reason: "half-life and access weight must be >= 0"}
		}
	}

	if d := cfg.Daemon; d != nil {
		if d.SustainSamples < 1 {
			return &ValidationError{Field: "daemon.sustain_samples", Reason: "must be >= 1"}
		}
	}

	if t := cfg.Tracing; t != nil {
		if t.Protocol != "" && t.Protocol != "grpc" && t.Protocol != "http" {
			return &ValidationError{Field: "tracing.protocol", Reason: fmt.Sprintf("%q is not one of grpc, http", t.Protocol)}
		}
	}

	return nil
}

func inUnit(f float64) bool {
	return f >= 0 && f <= 1
}
