// Package core holds the request and result types of the operation surface.
// They are shared by the engine, the daemon transport and the CLI, and are
// plain JSON-serializable values.
package core

// IngestInput is the input to an ingest operation.
type IngestInput struct {
	// Paths are files or directories. Directories are walked recursively.
	Paths []string `json:"paths"`

	// Importance tags every new chunk. Empty means normal.
	Importance string `json:"importance,omitempty"`
}

// SearchInput is the input to a search operation.
type SearchInput struct {
	Query string `json:"query"`

	// Limit caps the results. Zero uses the configured default.
	Limit int `json:"limit,omitempty"`

	// MinScore overrides the configured similarity floor when non-nil.
	MinScore *float64 `json:"min_score,omitempty"`

	// MinLevel keeps only chunks at or above this consolidation level.
	MinLevel int `json:"min_level,omitempty"`

	// PathPrefix keeps only chunks whose file path starts with it.
	PathPrefix string `json:"path_prefix,omitempty"`

	// IncludeSuperseded returns chunks that were absorbed by consolidation.
	IncludeSuperseded bool `json:"include_superseded,omitempty"`

	// NoRerank skips the reranking backend for this query.
	NoRerank bool `json:"no_rerank,omitempty"`
}

// ConsolidateInput is the input to a consolidation pass.
type ConsolidateInput struct {
	// DryRun computes the pass without persisting anything.
	DryRun bool `json:"dry_run,omitempty"`

	// Keep overrides the configured keep policy (first, second, merged).
	Keep string `json:"keep,omitempty"`

	// Sweep also re-evaluates deletion eligibility after the pass.
	Sweep bool `json:"sweep,omitempty"`
}
