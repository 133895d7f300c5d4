package mock_test

import (
	"context"
	"math"
	"testing"

	"github.com/becomeliminal/atlas/memory/embedder/mock"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	e := mock.New(0)
	if e.Dimensions() != 384 {
		t.Errorf("Dimensions = %d", e.Dimensions())
	}

	a, _ := e.Embed(ctx, "the auth middleware validates tokens")
	b, _ := e.Embed(ctx, "the auth middleware validates tokens")
	if cosine(a, b) < 0.9999 {
		t.Error("same text produced different vectors")
	}

	var norm float64
	for _, v := range a {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("vector not normalized: %v", norm)
	}
}

func TestEmbedder_SharedVocabularyIsCloser(t *testing.T) {
	ctx := context.Background()
	e := mock.New(256)
	base, _ := e.Embed(ctx, "refresh tokens expire after one hour")
	near, _ := e.Embed(ctx, "refresh tokens expire after two hours")
	far, _ := e.Embed(ctx, "kubernetes schedules pods onto nodes")

	if cosine(base, near) <= cosine(base, far) {
		t.Errorf("near=%v far=%v", cosine(base, near), cosine(base, far))
	}
}
