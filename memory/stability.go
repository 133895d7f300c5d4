package memory

import (
	"math"
	"time"
)

// StabilityFunc maps a chunk's access history to a stability score in [0,1].
// A score near 1 means the chunk has settled: it is no longer being used
// and may eventually be aged out.
type StabilityFunc func(c *ChunkPayload, now time.Time) float64

// DecayStability returns a StabilityFunc based on exponential decay of
// relevance since the last access. Each access stretches the half-life by
// accessWeight × ln(1+accesses), so frequently used chunks settle slower.
func DecayStability(halfLife time.Duration, accessWeight float64) StabilityFunc {
	return func(c *ChunkPayload, now time.Time) float64 {
		last := c.CreatedAt
		if c.LastAccessedAt != nil && c.LastAccessedAt.After(last) {
			last = *c.LastAccessedAt
		}
		idle := now.Sub(last)
		if idle <= 0 || halfLife <= 0 {
			return 0
		}

		effective := float64(halfLife) * (1 + accessWeight*math.Log1p(float64(c.AccessCount)))
		relevance := math.Pow(0.5, float64(idle)/effective)
		return clampUnit(1 - relevance)
	}
}

// DefaultStability uses a one-week half-life.
var DefaultStability = DecayStability(7*24*time.Hour, 0.5)

// Touch records an access.
func Touch(c *ChunkPayload, now time.Time) {
	c.AccessCount++
	t := now
	c.LastAccessedAt = &t
}

// StabilityPolicy gates deletion eligibility.
type StabilityPolicy struct {
	// Threshold is the stability score that must be exceeded continuously.
	Threshold float64

	// GracePeriod is how long the score must stay above Threshold.
	GracePeriod time.Duration

	// Score recomputes stability. Nil keeps the stored score.
	Score StabilityFunc
}

// NewStabilityPolicy creates a policy with the default stability function.
func NewStabilityPolicy(threshold float64, graceDays int) StabilityPolicy {
	return StabilityPolicy{
		Threshold:   threshold,
		GracePeriod: time.Duration(graceDays) * 24 * time.Hour,
		Score:       DefaultStability,
	}
}

// Evaluate updates c's aging fields and reports whether anything changed.
//
// DeletionMarkedAt starts the grace clock the first time the score exceeds
// the threshold and is cleared whenever it falls back. DeletionEligible is
// set only once the grace period has elapsed, and only for chunks that are
// superseded or orphaned (nothing replaces them).
func (p StabilityPolicy) Evaluate(c *ChunkPayload, now time.Time, orphaned bool) bool {
	before := *c
	if p.Score != nil {
		c.StabilityScore = p.Score(c, now)
	}

	if c.StabilityScore <= p.Threshold {
		c.DeletionMarkedAt = nil
		c.DeletionEligible = false
		return changed(&before, c)
	}

	if c.DeletionMarkedAt == nil {
		t := now
		c.DeletionMarkedAt = &t
		return changed(&before, c)
	}

	if !c.DeletionEligible && now.Sub(*c.DeletionMarkedAt) >= p.GracePeriod {
		if c.Superseded() || orphaned {
			c.DeletionEligible = true
		}
	}
	return changed(&before, c)
}

func changed(before, after *ChunkPayload) bool {
	if before.StabilityScore != after.StabilityScore || before.DeletionEligible != after.DeletionEligible {
		return true
	}
	a, b := before.DeletionMarkedAt, after.DeletionMarkedAt
	if (a == nil) != (b == nil) {
		return true
	}
	return a != nil && !a.Equal(*b)
}

func clampUnit(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
