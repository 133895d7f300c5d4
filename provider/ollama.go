package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/becomeliminal/atlas/capability"
)

type ollamaCompleter struct {
	api   *apiClient
	model string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func (o *ollamaCompleter) Complete(ctx context.Context, req Request) (string, error) {
	body := ollamaGenerateRequest{
		Model:  o.model,
		Prompt: req.Prompt,
		System: req.System,
	}
	if req.JSON {
		body.Format = "json"
	}
	if req.MaxTokens > 0 {
		body.Options = map[string]any{"num_predict": req.MaxTokens}
	}

	var resp ollamaGenerateResponse
	if err := o.api.post(ctx, "/api/generate", body, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

type ollamaEmbedder struct {
	api   *apiClient
	model string
	dims  dims
}

func newOllamaEmbedder(api *apiClient, model string) *ollamaEmbedder {
	e := &ollamaEmbedder{api: api, model: model}
	e.dims.init(model)
	return e
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (e *ollamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp ollamaEmbedResponse
	if err := e.api.post(ctx, "/api/embed", ollamaEmbedRequest{Model: e.model, Input: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, errors.New("ollama: no embedding returned")
	}
	e.dims.observe(len(resp.Embeddings[0]))
	return resp.Embeddings[0], nil
}

func (e *ollamaEmbedder) Dimensions() int {
	return e.dims.get()
}

type ollamaTags struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ollamaProbe reports available when the server answers and, if a model is
// named, that model has been pulled.
func ollamaProbe(api *apiClient, model string) capability.ProbeFunc {
	return func(ctx context.Context) (bool, error) {
		var tags ollamaTags
		if err := api.get(ctx, "/api/tags", &tags); err != nil {
			return false, err
		}
		if model == "" {
			return true, nil
		}
		for _, m := range tags.Models {
			if m.Name == model || strings.HasPrefix(m.Name, model+":") {
				return true, nil
			}
		}
		return false, nil
	}
}
