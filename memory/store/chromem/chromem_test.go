package chromem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/becomeliminal/atlas/memory"
	"github.com/becomeliminal/atlas/memory/store/chromem"
)

func TestIndex_UpsertQueryDelete(t *testing.T) {
	ctx := context.Background()
	idx, err := chromem.New("test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got, err := idx.Query(ctx, []float32{1, 0}, 5, nil); err != nil || len(got) != 0 {
		t.Fatalf("empty Query = %v, %v", got, err)
	}

	vectors := map[string][]float32{
		"x":  {1, 0, 0},
		"xy": {1, 1, 0},
		"z":  {0, 0, 1},
	}
	for id, v := range vectors {
		if err := idx.Upsert(ctx, id, v, map[string]string{"level": "0"}); err != nil {
			t.Fatalf("Upsert %s: %v", id, err)
		}
	}

	// limit above the collection size is clamped
	got, err := idx.Query(ctx, []float32{1, 0, 0}, 10, nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 3 || got[0].ID != "x" || got[1].ID != "xy" {
		t.Errorf("Query order = %+v", got)
	}
	if got[0].Similarity < 0.99 {
		t.Errorf("self similarity = %v", got[0].Similarity)
	}

	// Upsert replaces
	if err := idx.Upsert(ctx, "z", []float32{1, 0, 0}, nil); err != nil {
		t.Fatal(err)
	}
	if idx.Count() != 3 {
		t.Errorf("Count after replace = %d", idx.Count())
	}

	emb, err := idx.Embedding(ctx, "xy")
	if err != nil || len(emb) != 3 {
		t.Errorf("Embedding = %v, %v", emb, err)
	}
	if _, err := idx.Embedding(ctx, "nope"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Embedding(nope) = %v", err)
	}

	if err := idx.Delete(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	if idx.Count() != 2 {
		t.Errorf("Count after delete = %d", idx.Count())
	}
}

func TestIndex_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := chromem.NewPersistent(dir, "chunks", true)
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(ctx, "a", []float32{0.3, 0.4}, nil); err != nil {
		t.Fatal(err)
	}

	reopened, err := chromem.NewPersistent(dir, "chunks", true)
	if err != nil {
		t.Fatal(err)
	}
	if reopened.Count() != 1 {
		t.Errorf("reopened Count = %d, want 1", reopened.Count())
	}
}

func TestIndex_RejectsEmptyEmbedding(t *testing.T) {
	idx, _ := chromem.New("test")
	if err := idx.Upsert(context.Background(), "a", nil, nil); err == nil {
		t.Error("empty embedding accepted")
	}
}
