package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Level is a consolidation tier. Levels only ever increase for a chunk.
type Level int

const (
	LevelRaw          Level = 0 // raw ingestion
	LevelDeduplicated Level = 1
	LevelTopic        Level = 2 // topic summary
	LevelDomain       Level = 3 // domain knowledge
	LevelMeta         Level = 4 // meta-knowledge
)

var levelNames = [...]string{"raw", "deduplicated", "topic", "domain", "meta"}

// ParseLevel validates a numeric level.
func ParseLevel(n int) (Level, error) {
	if n < int(LevelRaw) || n > int(LevelMeta) {
		return 0, fmt.Errorf("consolidation level %d out of range [0,4]", n)
	}
	return Level(n), nil
}

func (l Level) Valid() bool {
	return l >= LevelRaw && l <= LevelMeta
}

func (l Level) String() string {
	if !l.Valid() {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// UnmarshalJSON rejects out-of-range levels.
func (l *Level) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("consolidation level: %w", err)
	}
	parsed, err := ParseLevel(n)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ConsolidationType classifies the relationship between two merged chunks.
type ConsolidationType string

const (
	DuplicateWork         ConsolidationType = "duplicate_work"
	SequentialIteration   ConsolidationType = "sequential_iteration"
	ContextualConvergence ConsolidationType = "contextual_convergence"
)

// ConsolidationTypes lists every consolidation type.
var ConsolidationTypes = []ConsolidationType{DuplicateWork, SequentialIteration, ContextualConvergence}

// ParseConsolidationType parses a consolidation type tag.
func ParseConsolidationType(s string) (ConsolidationType, error) {
	return parseEnum("consolidation type", s, ConsolidationTypes)
}

func (t *ConsolidationType) UnmarshalText(text []byte) error {
	return unmarshalOptional(t, text, ParseConsolidationType)
}

// Direction records how the merged content evolved.
type Direction string

const (
	Forward    Direction = "forward"
	Backward   Direction = "backward"
	Convergent Direction = "convergent"
	Unknown    Direction = "unknown"
)

// Directions lists every direction.
var Directions = []Direction{Forward, Backward, Convergent, Unknown}

// ParseDirection parses a direction tag.
func ParseDirection(s string) (Direction, error) {
	return parseEnum("direction", s, Directions)
}

func (d *Direction) UnmarshalText(text []byte) error {
	return unmarshalOptional(d, text, ParseDirection)
}

// Importance is a coarse priority tag set at ingestion.
type Importance string

const (
	ImportanceLow      Importance = "low"
	ImportanceNormal   Importance = "normal"
	ImportanceHigh     Importance = "high"
	ImportanceCritical Importance = "critical"
)

// Importances lists every importance tag.
var Importances = []Importance{ImportanceLow, ImportanceNormal, ImportanceHigh, ImportanceCritical}

// ParseImportance parses an importance tag.
func ParseImportance(s string) (Importance, error) {
	return parseEnum("importance", s, Importances)
}

// Rank orders importance tags from low (0) to critical (3). Unset ranks as normal.
func (i Importance) Rank() int {
	for n, known := range Importances {
		if i == known {
			return n
		}
	}
	return 1
}

func (i *Importance) UnmarshalText(text []byte) error {
	return unmarshalOptional(i, text, ParseImportance)
}

// Relation is the kind of a causal link.
type Relation string

const (
	Supersedes  Relation = "supersedes"
	References  Relation = "references"
	DerivedFrom Relation = "derived_from"
	Contradicts Relation = "contradicts"
	Extends     Relation = "extends"
)

// Relations lists every relation.
var Relations = []Relation{Supersedes, References, DerivedFrom, Contradicts, Extends}

// ParseRelation parses a relation tag.
func ParseRelation(s string) (Relation, error) {
	return parseEnum("relation", s, Relations)
}

func (r *Relation) UnmarshalText(text []byte) error {
	return unmarshalOptional(r, text, ParseRelation)
}

// Origin records who inferred a causal link.
type Origin string

const (
	OriginConsolidator Origin = "consolidator"
	OriginExplainer    Origin = "explainer"
	OriginUser         Origin = "user"
	OriginHeuristic    Origin = "heuristic"
)

// Origins lists every origin.
var Origins = []Origin{OriginConsolidator, OriginExplainer, OriginUser, OriginHeuristic}

// ParseOrigin parses an origin tag.
func ParseOrigin(s string) (Origin, error) {
	return parseEnum("origin", s, Origins)
}

func (o *Origin) UnmarshalText(text []byte) error {
	return unmarshalOptional(o, text, ParseOrigin)
}

func parseEnum[T ~string](kind, s string, known []T) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range known {
		if v == k {
			return k, nil
		}
	}
	names := make([]string, len(known))
	for i, k := range known {
		names[i] = string(k)
	}
	return "", fmt.Errorf("unknown %s %q (known: %s)", kind, s, strings.Join(names, ", "))
}

// unmarshalOptional leaves empty values empty; optional fields serialize as "".
func unmarshalOptional[T ~string](dst *T, text []byte, parse func(string) (T, error)) error {
	if len(text) == 0 {
		*dst = ""
		return nil
	}
	v, err := parse(string(text))
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
