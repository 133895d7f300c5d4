package cache_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/becomeliminal/atlas/memory/embedder/cache"
	"github.com/becomeliminal/atlas/memory/embedder/mock"
)

type countingEmbedder struct {
	*mock.Embedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.Embedder.Embed(ctx, text)
}

func TestEmbedder_CachesByText(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{Embedder: mock.New(32)}
	e, err := cache.New(inner, "mock", 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	first, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	e.Wait()

	second, err := e.Embed(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls.Load() != 1 {
		t.Errorf("inner called %d times, want 1", inner.calls.Load())
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cached vector differs")
		}
	}

	// Callers may modify the returned slice without corrupting the cache.
	second[0] = 42
	third, _ := e.Embed(ctx, "hello")
	if third[0] == 42 {
		t.Error("cache returned a shared slice")
	}

	if _, err := e.Embed(ctx, "other"); err != nil {
		t.Fatal(err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner called %d times, want 2", inner.calls.Load())
	}
	if e.Dimensions() != 32 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}
}

func TestNew_RejectsZeroSize(t *testing.T) {
	if _, err := cache.New(mock.New(8), "m", 0); err == nil {
		t.Error("zero-size cache accepted")
	}
}
