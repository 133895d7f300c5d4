package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/becomeliminal/atlas/memory"
)

type voyageEmbedder struct {
	api   *apiClient
	model string
	dims  dims
}

func newVoyageEmbedder(api *apiClient, model string) *voyageEmbedder {
	e := &voyageEmbedder{api: api, model: model}
	e.dims.init(model)
	return e
}

type voyageEmbedRequest struct {
	Input     []string `json:"input"`
	Model     string   `json:"model"`
	InputType string   `json:"input_type,omitempty"`
}

type voyageEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *voyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp voyageEmbedResponse
	req := voyageEmbedRequest{Input: []string{text}, Model: e.model}
	if err := e.api.post(ctx, "/embeddings", req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("voyage: no embedding returned")
	}
	e.dims.observe(len(resp.Data[0].Embedding))
	return resp.Data[0].Embedding, nil
}

func (e *voyageEmbedder) Dimensions() int {
	return e.dims.get()
}

type voyageReranker struct {
	api   *apiClient
	model string
}

type voyageRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model"`
	TopK      int      `json:"top_k,omitempty"`
}

type voyageRerankResponse struct {
	Data []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"data"`
}

// Rerank returns documents ordered by relevance, best first.
func (r *voyageReranker) Rerank(ctx context.Context, query string, docs []string, topN int) ([]memory.Ranked, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var resp voyageRerankResponse
	req := voyageRerankRequest{Query: query, Documents: docs, Model: r.model, TopK: topN}
	if err := r.api.post(ctx, "/rerank", req, &resp); err != nil {
		return nil, err
	}

	out := make([]memory.Ranked, 0, len(resp.Data))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(docs) {
			return nil, fmt.Errorf("voyage: rerank index %d out of range", d.Index)
		}
		out = append(out, memory.Ranked{Index: d.Index, Score: d.RelevanceScore})
	}
	return out, nil
}
