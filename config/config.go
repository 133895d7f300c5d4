// Package config assembles the validated AtlasConfig from layered sources.
//
// Layers, in ascending precedence:
//   - Defaults: offline backends and documented sub-config defaults
//   - Environment: provider credentials enable that provider's backends
//   - User: a configuration file or object
//   - Overrides: runtime changes such as command-line flags
//
// The backend map merges per capability key. Every merge is followed by
// validation against the provider compatibility matrix.
package config

import (
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/becomeliminal/atlas/capability"
)

// AtlasConfig is the complete, validated configuration.
// A published AtlasConfig is treated as immutable; use Clone before editing.
type AtlasConfig struct {
	// Backends maps each capability to the backend that serves it.
	Backends map[capability.Capability]Specifier `yaml:"backends,omitempty"`

	Storage       *StorageConfig       `yaml:"storage,omitempty"`
	Ingestion     *IngestionConfig     `yaml:"ingestion,omitempty"`
	Search        *SearchConfig        `yaml:"search,omitempty"`
	Consolidation *ConsolidationConfig `yaml:"consolidation,omitempty"`
	Daemon        *DaemonConfig        `yaml:"daemon,omitempty"`
	Tracing       *TracingConfig       `yaml:"tracing,omitempty"`
}

// StorageConfig configures the chunk and vector tiers.
type StorageConfig struct {
	// DataDir holds every on-disk artifact.
	// Default: ~/.atlas
	DataDir string `yaml:"data_dir"`

	// SQLitePath is the chunk metadata database, relative to DataDir.
	// Default: atlas.db
	SQLitePath string `yaml:"sqlite_path"`

	// VectorPath is the persistent vector index directory, relative to DataDir.
	// Empty keeps vectors in memory only.
	// Default: vectors
	VectorPath string `yaml:"vector_path"`

	// Collection names the vector collection.
	// Default: chunks
	Collection string `yaml:"collection"`

	// EmbeddingCacheEntries caps the in-process embedding cache. Zero disables it.
	// Default: 10000
	EmbeddingCacheEntries int64 `yaml:"embedding_cache_entries"`

	// CompressVectors gzips the persisted vector files.
	// Default: false
	CompressVectors bool `yaml:"compress_vectors"`
}

// IngestionConfig configures file ingestion.
type IngestionConfig struct {
	// ChunkSize is the target chunk length in bytes.
	// Default: 1000
	ChunkSize int `yaml:"chunk_size"`

	// MaxFileBytes skips files larger than this.
	// Default: 1048576
	MaxFileBytes int64 `yaml:"max_file_bytes"`

	// Extensions lists the file suffixes to ingest.
	Extensions []string `yaml:"extensions"`

	// GenerateKeys asks a json-completion backend for QNTM keys per chunk.
	// Default: true
	GenerateKeys bool `yaml:"generate_keys"`

	// KeysPerChunk bounds the number of generated keys.
	// Default: 5
	KeysPerChunk int `yaml:"keys_per_chunk"`

	// MinConcurrency and MaxConcurrency bound concurrent key generation.
	// Defaults: 1 and 8
	MinConcurrency int `yaml:"min_concurrency"`
	MaxConcurrency int `yaml:"max_concurrency"`
}

// SearchConfig configures retrieval.
type SearchConfig struct {
	// DefaultLimit is the number of results when none is requested.
	// Default: 10
	DefaultLimit int `yaml:"default_limit"`

	// MinScore drops results below this similarity [0.0-1.0].
	// Default: 0.3
	MinScore float64 `yaml:"min_score"`

	// Rerank applies a reranking backend when one is configured.
	// Default: true
	Rerank bool `yaml:"rerank"`

	// CandidateMultiplier over-fetches before reranking.
	// Default: 3
	CandidateMultiplier int `yaml:"candidate_multiplier"`
}

// ConsolidationConfig configures the consolidation engine.
type ConsolidationConfig struct {
	// Enabled toggles the watchdog.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// SimilarityThreshold is the minimum similarity for a candidate pair [0.0-1.0].
	// Default: 0.9
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// BaseThreshold and ScaleFactor define the watchdog trigger:
	// new chunks since last pass > BaseThreshold + ScaleFactor × collection size.
	// Defaults: 100 and 0.05
	BaseThreshold int     `yaml:"base_threshold"`
	ScaleFactor   float64 `yaml:"scale_factor"`

	// NeighborsPerChunk is how many nearest neighbours are inspected per chunk.
	// Default: 5
	NeighborsPerChunk int `yaml:"neighbors_per_chunk"`

	// MaxCandidates caps the candidates evaluated per pass.
	// Default: 200
	MaxCandidates int `yaml:"max_candidates"`

	// Keep selects the primary chunk of a merge: first, second or merged.
	// Default: first
	Keep string `yaml:"keep"`

	// ClassifyTimeout bounds each classification call.
	// Default: 30s
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`

	// FanIn[level] is the number of distinct parents a level-N chunk needs
	// before it is promoted to level N+1.
	// Default: [2, 4, 8, 16]
	FanIn []int `yaml:"fan_in"`

	// StabilityThreshold and GracePeriodDays gate deletion eligibility.
	// Defaults: 0.7 and 30
	StabilityThreshold float64 `yaml:"stability_threshold"`
	GracePeriodDays    int     `yaml:"grace_period_days"`

	// StabilityHalfLife is the idle time after which an unused chunk is
	// half settled. AccessWeight stretches it by weight × ln(1+accesses).
	// Defaults: 168h and 0.5
	StabilityHalfLife time.Duration `yaml:"stability_half_life"`
	AccessWeight      float64       `yaml:"access_weight"`

	// CheckInterval is how often the watchdog compares growth to the threshold.
	// Default: 5m
	CheckInterval time.Duration `yaml:"check_interval"`
}

// DaemonConfig configures the long-running daemon.
type DaemonConfig struct {
	// Addr is the listen address.
	// Default: 127.0.0.1:7475
	Addr string `yaml:"addr"`

	// WatchConfig reloads the user config file when it changes.
	// Default: true
	WatchConfig bool `yaml:"watch_config"`

	// SampleInterval is the system pressure sampling period.
	// Default: 10s
	SampleInterval time.Duration `yaml:"sample_interval"`

	// CPUHigh, MemoryHigh (percent) and LoadHigh (load1 per CPU) mark high pressure.
	// Defaults: 85, 90, 1.5
	CPUHigh    float64 `yaml:"cpu_high"`
	MemoryHigh float64 `yaml:"memory_high"`
	LoadHigh   float64 `yaml:"load_high"`

	// SustainSamples is the number of consecutive nominal samples before
	// concurrency steps up.
	// Default: 3
	SustainSamples int `yaml:"sustain_samples"`

	// RequestsPerMinute limits each daemon connection. Zero disables the limit.
	// Default: 600
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// TracingConfig configures OTLP span export. Spans are dropped when
// Endpoint is empty.
type TracingConfig struct {
	// Endpoint is the collector address, e.g. "localhost:4317".
	// Default: "" (disabled)
	Endpoint string `yaml:"endpoint"`

	// Protocol is "grpc" or "http".
	// Default: grpc
	Protocol string `yaml:"protocol"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure"`

	// ServiceName is reported as service.name.
	// Default: atlas
	ServiceName string `yaml:"service_name"`

	// Headers are sent with every export, e.g. an auth token.
	Headers map[string]string `yaml:"headers,omitempty"`
}

// Defaults returns the hard-coded default layer. Offline backends only.
func Defaults() *AtlasConfig {
	return &AtlasConfig{
		Backends: map[capability.Capability]Specifier{
			capability.TextEmbedding:  MustSpecifier("ollama:nomic-embed-text"),
			capability.CodeEmbedding:  MustSpecifier("ollama:nomic-embed-text"),
			capability.TextCompletion: MustSpecifier("ollama:ministral-3:3b"),
			capability.JSONCompletion: MustSpecifier("ollama:ministral-3:3b"),
		},
		Storage: &StorageConfig{
			DataDir:               "~/.atlas",
			SQLitePath:            "atlas.db",
			VectorPath:            "vectors",
			Collection:            "chunks",
			EmbeddingCacheEntries: 10000,
		},
		Ingestion: &IngestionConfig{
			ChunkSize:    1000,
			MaxFileBytes: 1 << 20,
			Extensions: []string{
				".md", ".txt", ".go", ".py", ".ts", ".js", ".rs", ".java", ".yaml", ".json",
			},
			GenerateKeys:   true,
			KeysPerChunk:   5,
			MinConcurrency: 1,
			MaxConcurrency: 8,
		},
		Search: &SearchConfig{
			DefaultLimit:        10,
			MinScore:            0.3,
			Rerank:              true,
			CandidateMultiplier: 3,
		},
		Consolidation: &ConsolidationConfig{
			Enabled:             true,
			SimilarityThreshold: 0.9,
			BaseThreshold:       100,
			ScaleFactor:         0.05,
			NeighborsPerChunk:   5,
			MaxCandidates:       200,
			Keep:                "first",
			ClassifyTimeout:     30 * time.Second,
			FanIn:               []int{2, 4, 8, 16},
			StabilityThreshold:  0.7,
			GracePeriodDays:     30,
			StabilityHalfLife:   7 * 24 * time.Hour,
			AccessWeight:        0.5,
			CheckInterval:       5 * time.Minute,
		},
		Daemon: &DaemonConfig{
			Addr:              "127.0.0.1:7475",
			WatchConfig:       true,
			SampleInterval:    10 * time.Second,
			CPUHigh:           85,
			MemoryHigh:        90,
			LoadHigh:          1.5,
			SustainSamples:    3,
			RequestsPerMinute: 600,
		},
		Tracing: &TracingConfig{
			Protocol:    "grpc",
			ServiceName: "atlas",
		},
	}
}

// Clone returns a deep copy.
func (c *AtlasConfig) Clone() *AtlasConfig {
	if c == nil {
		return nil
	}
	out := &AtlasConfig{
		Backends: make(map[capability.Capability]Specifier, len(c.Backends)),
	}
	for k, v := range c.Backends {
		out.Backends[k] = v
	}
	if c.Storage != nil {
		s := *c.Storage
		out.Storage = &s
	}
	if c.Ingestion != nil {
		in := *c.Ingestion
		in.Extensions = append([]string(nil), c.Ingestion.Extensions...)
		out.Ingestion = &in
	}
	if c.Search != nil {
		s := *c.Search
		out.Search = &s
	}
	if c.Consolidation != nil {
		cc := *c.Consolidation
		cc.FanIn = append([]int(nil), c.Consolidation.FanIn...)
		out.Consolidation = &cc
	}
	if c.Daemon != nil {
		d := *c.Daemon
		out.Daemon = &d
	}
	if c.Tracing != nil {
		t := *c.Tracing
		t.Headers = maps.Clone(c.Tracing.Headers)
		out.Tracing = &t
	}
	return out
}

// Merge returns base with over layered on top. Backends merge per capability
// key; sub-configs merge field by field, and a zero field in over keeps the
// value from base. Neither input is modified.
func Merge(base, over *AtlasConfig) *AtlasConfig {
	out := base.Clone()
	if out == nil {
		out = &AtlasConfig{Backends: map[capability.Capability]Specifier{}}
	}
	if over == nil {
		return out
	}
	o := over.Clone()
	for k, v := range o.Backends {
		out.Backends[k] = v
	}
	out.Storage = overlay(out.Storage, o.Storage)
	out.Ingestion = overlay(out.Ingestion, o.Ingestion)
	out.Search = overlay(out.Search, o.Search)
	out.Consolidation = overlay(out.Consolidation, o.Consolidation)
	out.Daemon = overlay(out.Daemon, o.Daemon)
	out.Tracing = overlay(out.Tracing, o.Tracing)
	return out
}

// overlay copies every non-zero field of over onto base. Either may be nil.
func overlay[T any](base, over *T) *T {
	switch {
	case over == nil:
		return base
	case base == nil:
		return over
	}
	dst := reflect.ValueOf(base).Elem()
	src := reflect.ValueOf(over).Elem()
	for i := 0; i < src.NumField(); i++ {
		if f := src.Field(i); !f.IsZero() {
			dst.Field(i).Set(f)
		}
	}
	return base
}

// Backend returns the specifier configured for c.
func (c *AtlasConfig) Backend(capb capability.Capability) (Specifier, bool) {
	s, ok := c.Backends[capb]
	return s, ok
}

// ResolvePath joins p onto the data directory unless it is absolute,
// expanding a leading "~".
func (s *StorageConfig) ResolvePath(p string) string {
	if p == "" {
		return ""
	}
	p = ExpandHome(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(ExpandHome(s.DataDir), p)
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
