package consolidate

import (
	"fmt"
	"strings"
	"time"

	"github.com/becomeliminal/atlas/core"
	"github.com/becomeliminal/atlas/memory"
)

// Keep selects which chunk of a pair survives as the primary.
type Keep string

const (
	// KeepFirst keeps the older chunk.
	KeepFirst Keep = "first"
	// KeepSecond keeps the newer chunk.
	KeepSecond Keep = "second"
	// KeepMerged keeps the older chunk and replaces its text with the
	// classifier's merged text when one was produced.
	KeepMerged Keep = "merged"
)

// ParseKeep converts s into a Keep preference.
func ParseKeep(s string) (Keep, error) {
	switch k := Keep(strings.ToLower(strings.TrimSpace(s))); k {
	case KeepFirst, KeepSecond, KeepMerged:
		return k, nil
	default:
		return "", fmt.Errorf("unknown keep preference %q (known: first, second, merged)", s)
	}
}

// Order returns the pair oldest first, ties broken by id.
func Order(a, b *memory.ChunkPayload) (first, second *memory.ChunkPayload) {
	if a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID < b.ID) {
		return a, b
	}
	return b, a
}

// MergePolicy absorbs one chunk into another.
type MergePolicy struct {
	Keep Keep

	// FanIn[level] is the number of distinct parents a chunk at that level
	// needs before it is promoted one level. Levels without an entry are
	// never promoted.
	FanIn []int
}

// Roles designates primary and secondary for an ordered pair.
func (p MergePolicy) Roles(first, second *memory.ChunkPayload) (primary, secondary *memory.ChunkPayload) {
	if p.Keep == KeepSecond {
		return second, first
	}
	return first, second
}

// Apply absorbs secondary into primary in place. lookup must resolve the
// ancestors of both chunks. A merge that would make the provenance cyclic
// returns memory.ErrProvenanceCycle and leaves both chunks untouched.
//
// Promotion happens at most one level per merge, and only once the
// primary's distinct parents reach the fan-in for its current level.
func (p MergePolicy) Apply(lookup memory.Lookup, primary, secondary *memory.ChunkPayload, v Verdict, now time.Time) (core.MergeDecision, error) {
	if err := memory.CheckAbsorb(lookup, primary, secondary); err != nil {
		return core.MergeDecision{}, err
	}

	before := primary.ConsolidationLevel
	absorbed := append([]string{secondary.ID}, secondary.Parents...)
	if err := memory.AddParents(primary, absorbed...); err != nil {
		return core.MergeDecision{}, err
	}
	memory.AppendOccurrences(primary, append(append([]time.Time(nil), secondary.Occurrences...), now)...)
	primary.QNTMKeys = memory.UnionKeys(primary.QNTMKeys, secondary.QNTMKeys)

	primary.ConsolidationType = v.Type
	primary.ConsolidationDirection = v.Direction
	primary.ConsolidationReasoning = v.Reasoning
	if p.Keep == KeepMerged && v.MergedText != "" {
		primary.OriginalText = v.MergedText
	}
	if secondary.Importance.Rank() > primary.Importance.Rank() {
		primary.Importance = secondary.Importance
	}

	if p.ready(primary) {
		memory.Promote(primary, primary.ConsolidationLevel+1)
	}
	secondary.SupersededBy = primary.ID

	return core.MergeDecision{
		PrimaryID:   primary.ID,
		SecondaryID: secondary.ID,
		Type:        string(v.Type),
		Direction:   string(v.Direction),
		Reasoning:   v.Reasoning,
		Keep:        string(p.Keep),
		LevelBefore: int(before),
		LevelAfter:  int(primary.ConsolidationLevel),
		Parents:     len(primary.Parents),
	}, nil
}

func (p MergePolicy) ready(c *memory.ChunkPayload) bool {
	level := int(c.ConsolidationLevel)
	if level >= len(p.FanIn) || c.ConsolidationLevel >= memory.LevelMeta {
		return false
	}
	return len(c.Parents) >= p.FanIn[level]
}
