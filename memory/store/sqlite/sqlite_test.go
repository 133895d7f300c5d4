package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/becomeliminal/atlas/memory"
	"github.com/becomeliminal/atlas/memory/store/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "atlas.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	c := memory.NewChunk("text", "/a.md", "h1", 0, []string{"k"}, now)
	score := 0.4
	c.AbstractionScore = &score
	c.CausalLinks = []memory.CausalLink{{TargetID: "x", Relation: memory.References, Confidence: 0.5, Origin: memory.OriginHeuristic}}
	if err := s.Put(ctx, c); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OriginalText != "text" || !got.CreatedAt.Equal(now) || *got.AbstractionScore != 0.4 {
		t.Errorf("Get = %+v", got)
	}
	if len(got.CausalLinks) != 1 || got.CausalLinks[0].Relation != memory.References {
		t.Errorf("causal links = %+v", got.CausalLinks)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestStore_PutRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	good := memory.NewChunk("a", "/a.md", "h", 0, []string{"k"}, time.Now())
	bad := memory.NewChunk("b", "/a.md", "h", 1, nil, time.Now())
	if err := s.Put(ctx, good, bad); err == nil {
		t.Fatal("Put accepted a chunk without keys")
	}
	if n, _ := s.Count(ctx); n != 0 {
		t.Errorf("failed Put stored %d chunks", n)
	}
}

func TestStore_ListAndCounts(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	var chunks []*memory.ChunkPayload
	for i := 0; i < 4; i++ {
		c := memory.NewChunk("t", "/f.md", "h", i, []string{"k"}, base.Add(time.Duration(i)*time.Hour))
		chunks = append(chunks, c)
	}
	chunks[1].SupersededBy = chunks[0].ID
	chunks[2].ConsolidationLevel = memory.LevelTopic
	chunks[3].FilePath = "/g.md"
	if err := s.Put(ctx, chunks...); err != nil {
		t.Fatal(err)
	}

	live, _ := s.List(ctx, memory.ListOptions{})
	if len(live) != 3 {
		t.Errorf("List live = %d, want 3", len(live))
	}
	if live[0].ID != chunks[0].ID {
		t.Error("List not ordered by creation time")
	}
	all, _ := s.List(ctx, memory.ListOptions{IncludeSuperseded: true})
	if len(all) != 4 {
		t.Errorf("List all = %d", len(all))
	}
	byFile, _ := s.List(ctx, memory.ListOptions{FilePath: "/g.md"})
	if len(byFile) != 1 {
		t.Errorf("List by file = %d", len(byFile))
	}
	leveled, _ := s.List(ctx, memory.ListOptions{MinLevel: memory.LevelDeduplicated})
	if len(leveled) != 1 || leveled[0].ID != chunks[2].ID {
		t.Errorf("List by level = %v", leveled)
	}

	if n, _ := s.CountSince(ctx, base.Add(90*time.Minute)); n != 2 {
		t.Errorf("CountSince = %d, want 2", n)
	}
	byLevel, superseded, eligible, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if byLevel[memory.LevelRaw] != 3 || byLevel[memory.LevelTopic] != 1 || superseded != 1 || eligible != 0 {
		t.Errorf("Stats = %v %d %d", byLevel, superseded, eligible)
	}

	many, _ := s.GetMany(ctx, []string{chunks[0].ID, "missing", chunks[3].ID})
	if len(many) != 2 {
		t.Errorf("GetMany = %d entries", len(many))
	}
}

func TestStore_TouchAndMeta(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	c := memory.NewChunk("t", "/f.md", "h", 0, []string{"k"}, time.Now())
	c.ConsolidationLevel = memory.LevelDeduplicated
	if err := s.Put(ctx, c); err != nil {
		t.Fatal(err)
	}

	at := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)
	if err := s.Touch(ctx, at, c.ID, "missing", c.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := s.Get(ctx, c.ID)
	if got.AccessCount != 2 || !got.LastAccessedAt.Equal(at) || got.ConsolidationLevel != memory.LevelDeduplicated {
		t.Errorf("after Touch = %+v", got)
	}

	if _, ok, _ := s.GetMeta(ctx, "last"); ok {
		t.Error("unset meta reported present")
	}
	if err := s.SetMeta(ctx, "last", "v1"); err != nil {
		t.Fatal(err)
	}
	s.SetMeta(ctx, "last", "v2")
	if v, ok, _ := s.GetMeta(ctx, "last"); !ok || v != "v2" {
		t.Errorf("GetMeta = %q, %v", v, ok)
	}
}

func TestStore_InMemory(t *testing.T) {
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}
}
