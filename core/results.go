package core

import "time"

// IngestResult reports an ingest operation. Per-file failures are collected
// in Errors; the operation itself only fails on structural errors.
type IngestResult struct {
	FilesProcessed int      `json:"files_processed"`
	FilesSkipped   int      `json:"files_skipped"`
	ChunksStored   int      `json:"chunks_stored"`
	Errors         []string `json:"errors"`
}

// SearchHit is one ranked search result.
type SearchHit struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	FilePath     string   `json:"file_path"`
	StartLine    int      `json:"start_line"`
	EndLine      int      `json:"end_line"`
	Score        float64  `json:"score"`
	Level        int      `json:"consolidation_level"`
	Keys         []string `json:"qntm_keys"`
	SupersededBy string   `json:"superseded_by,omitempty"`
}

// SearchResult reports a search operation.
type SearchResult struct {
	Query    string      `json:"query"`
	Hits     []SearchHit `json:"hits"`
	Reranked bool        `json:"reranked"`
	Errors   []string    `json:"errors,omitempty"`
}

// MergeDecision describes one merge of a consolidation pass. A dry run
// returns exactly the decisions a real pass would apply.
type MergeDecision struct {
	PrimaryID   string  `json:"primary_id"`
	SecondaryID string  `json:"secondary_id"`
	Similarity  float64 `json:"similarity"`
	Type        string  `json:"consolidation_type"`
	Direction   string  `json:"consolidation_direction"`
	Reasoning   string  `json:"reasoning"`
	Keep        string  `json:"keep"`
	LevelBefore int     `json:"level_before"`
	LevelAfter  int     `json:"level_after"`
	Parents     int     `json:"parents"`
}

// ConsolidationResult reports a consolidation pass.
type ConsolidationResult struct {
	ConsolidationsPerformed int             `json:"consolidations_performed"`
	ChunksAbsorbed          int             `json:"chunks_absorbed"`
	CandidatesEvaluated     int             `json:"candidates_evaluated"`
	TypeBreakdown           map[string]int  `json:"type_breakdown"`
	Unresolved              int             `json:"unresolved"`
	Rejected                int             `json:"rejected"`
	Skipped                 int             `json:"skipped"`
	DryRun                  bool            `json:"dry_run"`
	Preview                 []MergeDecision `json:"preview,omitempty"`
	Errors                  []string        `json:"errors"`
	Duration                time.Duration   `json:"duration"`

	// DeletionMarked and DeletionEligible count sweep outcomes.
	DeletionMarked   int `json:"deletion_marked,omitempty"`
	DeletionEligible int `json:"deletion_eligible,omitempty"`
}

// BackendHealth is the probe result for one backend.
type BackendHealth struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Available    bool     `json:"available"`
}

// TierHealth is the status of one storage tier.
type TierHealth struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the per-backend and per-tier status.
type HealthReport struct {
	Healthy  bool            `json:"healthy"`
	Backends []BackendHealth `json:"backends"`
	Tiers    []TierHealth    `json:"tiers"`
}

// SystemStats is one pressure sample.
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	LoadPerCPU    float64 `json:"load_per_cpu"`
}

// StatusReport aggregates collection, backend and system state.
type StatusReport struct {
	Chunks           int               `json:"chunks"`
	Vectors          int               `json:"vectors"`
	ByLevel          map[string]int    `json:"by_level"`
	Superseded       int               `json:"superseded"`
	DeletionEligible int               `json:"deletion_eligible"`
	Backends         map[string]string `json:"backends"`
	Concurrency      int               `json:"concurrency"`
	System           *SystemStats      `json:"system,omitempty"`
	LastConsolidated *time.Time        `json:"last_consolidated,omitempty"`
	ConfigPath       string            `json:"config_path,omitempty"`
}
