package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores for unknown chunk ids.
var ErrNotFound = errors.New("chunk not found")

// ChunkPayload is the atomic unit of stored memory.
//
// The JSON field names are the persisted schema. Fields outside the schema
// are preserved in Extra and written back untouched.
type ChunkPayload struct {
	ID           string `json:"id"`
	OriginalText string `json:"original_text"`

	// Source file identity
	FilePath   string `json:"file_path"`
	FileHash   string `json:"file_hash"`
	ChunkIndex int    `json:"chunk_index"`
	StartLine  int    `json:"start_line"`
	EndLine    int    `json:"end_line"`

	// QNTMKeys are short semantic tags. Never empty for a stored chunk.
	QNTMKeys []string `json:"qntm_keys"`

	CreatedAt  time.Time  `json:"created_at"`
	Importance Importance `json:"importance"`

	// Consolidation
	ConsolidationLevel     Level             `json:"consolidation_level"`
	AbstractionScore       *float64          `json:"abstraction_score,omitempty"`
	ConsolidationType      ConsolidationType `json:"consolidation_type,omitempty"`
	ConsolidationDirection Direction         `json:"consolidation_direction,omitempty"`
	ConsolidationReasoning string            `json:"consolidation_reasoning,omitempty"`

	// Provenance
	Parents []string `json:"parents"`

	// Occurrences records every later observation of this content, such as
	// the time another chunk carrying it was absorbed. CreatedAt is the first.
	Occurrences []time.Time  `json:"occurrences"`
	CausalLinks []CausalLink `json:"causal_links,omitempty"`

	// Aging
	StabilityScore   float64    `json:"stability_score"`
	AccessCount      int        `json:"access_count"`
	LastAccessedAt   *time.Time `json:"last_accessed_at,omitempty"`
	DeletionEligible bool       `json:"deletion_eligible"`
	DeletionMarkedAt *time.Time `json:"deletion_marked_at,omitempty"`
	SupersededBy     string     `json:"superseded_by,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

// CausalLink is an advisory directed edge to another chunk.
type CausalLink struct {
	TargetID   string   `json:"target_id"`
	Relation   Relation `json:"relation"`
	Confidence float64  `json:"confidence"`
	Origin     Origin   `json:"origin"`
}

// Validate checks the link's ranges.
func (l CausalLink) Validate() error {
	if l.TargetID == "" {
		return errors.New("causal link: empty target")
	}
	if _, err := ParseRelation(string(l.Relation)); err != nil {
		return fmt.Errorf("causal link: %w", err)
	}
	if _, err := ParseOrigin(string(l.Origin)); err != nil {
		return fmt.Errorf("causal link: %w", err)
	}
	if l.Confidence < 0 || l.Confidence > 1 {
		return fmt.Errorf("causal link: confidence %v out of range [0,1]", l.Confidence)
	}
	return nil
}

// NewChunk creates a level-0 chunk observed at now.
func NewChunk(text, filePath, fileHash string, index int, keys []string, now time.Time) *ChunkPayload {
	return &ChunkPayload{
		ID:           uuid.New().String(),
		OriginalText: text,
		FilePath:     filePath,
		FileHash:     fileHash,
		ChunkIndex:   index,
		QNTMKeys:     UnionKeys(nil, keys),
		CreatedAt:    now,
		Importance:   ImportanceNormal,
		Parents:      []string{},
		Occurrences:  []time.Time{},
	}
}

// Superseded reports whether another chunk has absorbed this one.
func (c *ChunkPayload) Superseded() bool {
	return c.SupersededBy != ""
}

// Validate checks the payload's invariants that can be verified locally.
func (c *ChunkPayload) Validate() error {
	if c.ID == "" {
		return errors.New("chunk: empty id")
	}
	if len(c.QNTMKeys) == 0 {
		return fmt.Errorf("chunk %s: no qntm keys", c.ID)
	}
	if !c.ConsolidationLevel.Valid() {
		return fmt.Errorf("chunk %s: invalid level %d", c.ID, c.ConsolidationLevel)
	}
	if s := c.AbstractionScore; s != nil && (*s < 0 || *s > 1) {
		return fmt.Errorf("chunk %s: abstraction score %v out of range", c.ID, *s)
	}
	if c.StabilityScore < 0 || c.StabilityScore > 1 {
		return fmt.Errorf("chunk %s: stability score %v out of range", c.ID, c.StabilityScore)
	}
	for _, p := range c.Parents {
		if p == c.ID {
			return fmt.Errorf("chunk %s: %w", c.ID, ErrSelfParent)
		}
	}
	if c.SupersededBy == c.ID && c.ID != "" {
		return fmt.Errorf("chunk %s: superseded by itself", c.ID)
	}
	for _, l := range c.CausalLinks {
		if err := l.Validate(); err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (c *ChunkPayload) Clone() *ChunkPayload {
	out := *c
	out.QNTMKeys = append([]string(nil), c.QNTMKeys...)
	out.Parents = append([]string{}, c.Parents...)
	out.Occurrences = append([]time.Time(nil), c.Occurrences...)
	out.CausalLinks = append([]CausalLink(nil), c.CausalLinks...)
	if c.AbstractionScore != nil {
		v := *c.AbstractionScore
		out.AbstractionScore = &v
	}
	if c.LastAccessedAt != nil {
		v := *c.LastAccessedAt
		out.LastAccessedAt = &v
	}
	if c.DeletionMarkedAt != nil {
		v := *c.DeletionMarkedAt
		out.DeletionMarkedAt = &v
	}
	if c.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(c.Extra))
		for k, v := range c.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return &out
}

// chunkFields is ChunkPayload without its JSON methods.
type chunkFields ChunkPayload

var knownFields = jsonFieldNames(reflect.TypeOf(chunkFields{}))

func jsonFieldNames(t reflect.Type) map[string]bool {
	names := make(map[string]bool, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		tag := t.Field(i).Tag.Get("json")
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			names[name] = true
		}
	}
	return names
}

// MarshalJSON writes the schema fields followed by any passthrough fields.
func (c ChunkPayload) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(chunkFields(c))
	if err != nil || len(c.Extra) == 0 {
		return data, err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	for k, v := range c.Extra {
		if !knownFields[k] {
			doc[k] = v
		}
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads the schema fields and keeps unknown ones in Extra.
func (c *ChunkPayload) UnmarshalJSON(data []byte) error {
	var fields chunkFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	for k, v := range doc {
		if knownFields[k] {
			continue
		}
		if fields.Extra == nil {
			fields.Extra = make(map[string]json.RawMessage)
		}
		fields.Extra[k] = v
	}

	*c = ChunkPayload(fields)
	return nil
}
