package memory_test

import (
	"testing"
	"time"

	"github.com/becomeliminal/atlas/memory"
)

func TestDecayStability(t *testing.T) {
	score := memory.DecayStability(24*time.Hour, 0)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &memory.ChunkPayload{CreatedAt: created}

	if got := score(c, created); got != 0 {
		t.Errorf("stability at creation = %v, want 0", got)
	}
	if got := score(c, created.Add(24*time.Hour)); got < 0.49 || got > 0.51 {
		t.Errorf("stability after one half-life = %v, want 0.5", got)
	}

	memory.Touch(c, created.Add(24*time.Hour))
	if got := score(c, created.Add(24*time.Hour)); got != 0 {
		t.Errorf("stability right after access = %v, want 0", got)
	}
	if c.AccessCount != 1 || c.LastAccessedAt == nil {
		t.Errorf("Touch did not record access: %+v", c)
	}
}

func TestDecayStability_AccessesSlowSettling(t *testing.T) {
	score := memory.DecayStability(24*time.Hour, 1)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := created.Add(48 * time.Hour)

	cold := &memory.ChunkPayload{CreatedAt: created}
	hot := &memory.ChunkPayload{CreatedAt: created, AccessCount: 20}

	if score(hot, later) >= score(cold, later) {
		t.Error("frequently accessed chunk settled as fast as an unused one")
	}
}

func TestStabilityPolicy_GracePeriod(t *testing.T) {
	p := memory.StabilityPolicy{Threshold: 0.7, GracePeriod: 30 * 24 * time.Hour}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &memory.ChunkPayload{ID: "a", SupersededBy: "b", StabilityScore: 0.8}

	if !p.Evaluate(c, start, false) {
		t.Error("first evaluation above threshold reported no change")
	}
	if c.DeletionMarkedAt == nil || !c.DeletionMarkedAt.Equal(start) {
		t.Fatalf("DeletionMarkedAt = %v", c.DeletionMarkedAt)
	}
	if c.DeletionEligible {
		t.Fatal("eligible immediately")
	}

	p.Evaluate(c, start.Add(29*24*time.Hour), false)
	if c.DeletionEligible {
		t.Fatal("eligible before the grace period elapsed")
	}

	p.Evaluate(c, start.Add(30*24*time.Hour), false)
	if !c.DeletionEligible {
		t.Fatal("not eligible after the grace period")
	}
}

func TestStabilityPolicy_DropResetsClock(t *testing.T) {
	p := memory.StabilityPolicy{Threshold: 0.7, GracePeriod: time.Hour}
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &memory.ChunkPayload{ID: "a", SupersededBy: "b", StabilityScore: 0.9}

	p.Evaluate(c, start, false)
	c.StabilityScore = 0.5
	p.Evaluate(c, start.Add(30*time.Minute), false)
	if c.DeletionMarkedAt != nil {
		t.Fatal("clock kept running after the score dropped")
	}

	c.StabilityScore = 0.9
	p.Evaluate(c, start.Add(45*time.Minute), false)
	p.Evaluate(c, start.Add(90*time.Minute), false)
	if c.DeletionEligible {
		t.Fatal("eligible although the score was not continuously above threshold for the grace period")
	}
	p.Evaluate(c, start.Add(105*time.Minute), false)
	if !c.DeletionEligible {
		t.Fatal("not eligible after a full uninterrupted grace period")
	}
}

func TestStabilityPolicy_RequiresSupersededOrOrphaned(t *testing.T) {
	p := memory.StabilityPolicy{Threshold: 0.5, GracePeriod: 0}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	live := &memory.ChunkPayload{ID: "a", StabilityScore: 0.9}
	p.Evaluate(live, now, false)
	p.Evaluate(live, now, false)
	if live.DeletionEligible {
		t.Error("chunk without superseded_by became eligible")
	}

	orphan := &memory.ChunkPayload{ID: "b", StabilityScore: 0.9}
	p.Evaluate(orphan, now, true)
	p.Evaluate(orphan, now, true)
	if !orphan.DeletionEligible {
		t.Error("orphaned chunk did not become eligible")
	}
}
