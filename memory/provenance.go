package memory

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProvenanceCycle means an absorb would break the provenance DAG,
	// either because the secondary is already an ancestor of the primary
	// or because the primary is an ancestor of the secondary.
	ErrProvenanceCycle = errors.New("provenance cycle")

	// ErrSelfParent means a chunk would list itself as a parent.
	ErrSelfParent = errors.New("chunk cannot be its own parent")
)

// Lookup resolves a chunk id. Missing ids report false.
type Lookup func(id string) (*ChunkPayload, bool)

// MapLookup serves lookups from a map.
func MapLookup(chunks map[string]*ChunkPayload) Lookup {
	return func(id string) (*ChunkPayload, bool) {
		c, ok := chunks[id]
		return c, ok
	}
}

// Ancestors returns the transitive parents of id. Unknown parents are
// included but not expanded.
func Ancestors(lookup Lookup, id string) map[string]struct{} {
	seen := make(map[string]struct{})
	start, ok := lookup(id)
	if !ok {
		return seen
	}

	queue := append([]string(nil), start.Parents...)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		if c, ok := lookup(p); ok {
			queue = append(queue, c.Parents...)
		}
	}
	return seen
}

// IsAncestor reports whether ancestor is in the transitive parents of id.
func IsAncestor(lookup Lookup, ancestor, id string) bool {
	_, ok := Ancestors(lookup, id)[ancestor]
	return ok
}

// CheckAbsorb reports whether secondary may be absorbed into primary
// without breaking the provenance DAG.
func CheckAbsorb(lookup Lookup, primary, secondary *ChunkPayload) error {
	if primary.ID == secondary.ID {
		return ErrSelfParent
	}
	if IsAncestor(lookup, secondary.ID, primary.ID) {
		return fmt.Errorf("%w: %s is already an ancestor of %s", ErrProvenanceCycle, secondary.ID, primary.ID)
	}
	if IsAncestor(lookup, primary.ID, secondary.ID) {
		return fmt.Errorf("%w: %s is an ancestor of %s", ErrProvenanceCycle, primary.ID, secondary.ID)
	}
	return nil
}

// AddParents appends ids to c.Parents, skipping duplicates. It fails without
// modifying c if any id is c itself.
func AddParents(c *ChunkPayload, ids ...string) error {
	for _, id := range ids {
		if id == c.ID {
			return ErrSelfParent
		}
	}
	have := make(map[string]struct{}, len(c.Parents))
	for _, p := range c.Parents {
		have[p] = struct{}{}
	}
	for _, id := range ids {
		if _, dup := have[id]; dup || id == "" {
			continue
		}
		have[id] = struct{}{}
		c.Parents = append(c.Parents, id)
	}
	return nil
}

// AppendOccurrences records further observations. Occurrences are append-only.
func AppendOccurrences(c *ChunkPayload, ts ...time.Time) {
	c.Occurrences = append(c.Occurrences, ts...)
}

// UnionKeys returns a followed by the keys of b it lacks, trimmed of
// blanks and duplicates.
func UnionKeys(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, k := range list {
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

// Promote raises c to level if it is higher. Chunks are never demoted.
func Promote(c *ChunkPayload, level Level) bool {
	if !level.Valid() || level <= c.ConsolidationLevel {
		return false
	}
	c.ConsolidationLevel = level
	return true
}
