package consolidate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/becomeliminal/atlas/memory"
)

// Candidate pairs two chunks that may be redundant. A < B always holds, so
// a pair found from either side is the same candidate. Candidates live for
// one pass only.
type Candidate struct {
	A, B       string
	Similarity float64
}

// NewCandidate orders the ids canonically.
func NewCandidate(x, y string, similarity float64) Candidate {
	if y < x {
		x, y = y, x
	}
	return Candidate{A: x, B: y, Similarity: similarity}
}

// CandidateSource supplies the pairs a pass evaluates.
type CandidateSource interface {
	Candidates(ctx context.Context) ([]Candidate, error)
}

// NeighborFinder produces candidates from nearest-neighbour queries. Each
// live chunk's stored embedding is queried for its closest neighbours;
// superseded chunks are neither queried nor paired.
type NeighborFinder struct {
	Chunks  memory.ChunkStore
	Vectors memory.VectorIndex

	// Threshold is the minimum similarity [0.0-1.0].
	Threshold float64

	// Neighbors is the number of neighbours inspected per chunk.
	Neighbors int

	// MaxCandidates caps the result. Zero means no cap.
	MaxCandidates int
}

// Candidates returns pairs above the threshold, most similar first, ties
// broken by ids so the order is deterministic.
func (f *NeighborFinder) Candidates(ctx context.Context) ([]Candidate, error) {
	live, err := f.Chunks.List(ctx, memory.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	isLive := make(map[string]bool, len(live))
	for _, c := range live {
		isLive[c.ID] = true
	}

	neighbors := f.Neighbors
	if neighbors < 1 {
		neighbors = 5
	}

	best := map[[2]string]float64{}
	for _, c := range live {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emb, err := f.Vectors.Embedding(ctx, c.ID)
		if errors.Is(err, memory.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("embedding %s: %w", c.ID, err)
		}

		// One extra result: the chunk finds itself first.
		matches, err := f.Vectors.Query(ctx, emb, neighbors+1, nil)
		if err != nil {
			return nil, fmt.Errorf("query neighbours of %s: %w", c.ID, err)
		}
		for _, m := range matches {
			if m.ID == c.ID || !isLive[m.ID] || m.Similarity < f.Threshold {
				continue
			}
			cand := NewCandidate(c.ID, m.ID, m.Similarity)
			key := [2]string{cand.A, cand.B}
			if m.Similarity > best[key] {
				best[key] = m.Similarity
			}
		}
	}

	out := make([]Candidate, 0, len(best))
	for k, sim := range best {
		out = append(out, Candidate{A: k[0], B: k[1], Similarity: sim})
	}
	SortCandidates(out)
	if f.MaxCandidates > 0 && len(out) > f.MaxCandidates {
		out = out[:f.MaxCandidates]
	}
	return out, nil
}

// SortCandidates orders by similarity descending, then by ids.
func SortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].Similarity != cs[j].Similarity {
			return cs[i].Similarity > cs[j].Similarity
		}
		if cs[i].A != cs[j].A {
			return cs[i].A < cs[j].A
		}
		return cs[i].B < cs[j].B
	})
}

// StaticSource serves a fixed candidate list.
type StaticSource []Candidate

func (s StaticSource) Candidates(context.Context) ([]Candidate, error) {
	out := append([]Candidate(nil), s...)
	SortCandidates(out)
	return out, nil
}
