package provider

import (
	"context"
	"errors"
)

type openAICompleter struct {
	api   *apiClient
	model string
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

func (o *openAICompleter) Complete(ctx context.Context, req Request) (string, error) {
	body := openAIChatRequest{Model: o.model, MaxTokens: req.MaxTokens}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, openAIMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		body.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}

	var resp openAIChatResponse
	if err := o.api.post(ctx, "/chat/completions", body, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

type openAIEmbedder struct {
	api   *apiClient
	model string
	dims  dims
}

func newOpenAIEmbedder(api *apiClient, model string) *openAIEmbedder {
	e := &openAIEmbedder{api: api, model: model}
	e.dims.init(model)
	return e
}

type openAIEmbedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *openAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp openAIEmbedResponse
	if err := e.api.post(ctx, "/embeddings", openAIEmbedRequest{Input: text, Model: e.model}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai: no embedding returned")
	}
	e.dims.observe(len(resp.Data[0].Embedding))
	return resp.Data[0].Embedding, nil
}

func (e *openAIEmbedder) Dimensions() int {
	return e.dims.get()
}
