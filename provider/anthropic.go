package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"

	"github.com/becomeliminal/atlas/config"
)

// Short model names accepted in anthropic specifiers.
var anthropicAliases = map[string]anthropic.Model{
	"haiku":  anthropic.ModelClaudeHaiku4_5,
	"sonnet": anthropic.ModelClaudeSonnet4_5,
	"opus":   anthropic.ModelClaudeOpus4_5,
}

// DefaultMaxTokens bounds completions that do not set MaxTokens.
const DefaultMaxTokens = 1024

type anthropicCompleter struct {
	client  anthropic.Client
	model   anthropic.Model
	limiter *rate.Limiter
}

func newAnthropic(model, apiKey string, s *settings) *anthropicCompleter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(s.httpClient),
		option.WithMaxRetries(2),
	}
	if u, ok := s.baseURLs[config.ProviderAnthropic]; ok && u != "" {
		opts = append(opts, option.WithBaseURL(u))
	}
	return &anthropicCompleter{
		client:  anthropic.NewClient(opts...),
		model:   anthropicModel(model),
		limiter: s.limiterFor("anthropic"),
	}
}

func anthropicModel(model string) anthropic.Model {
	if model == "" {
		model = "haiku"
	}
	if m, ok := anthropicAliases[strings.ToLower(model)]; ok {
		return m
	}
	return anthropic.Model(model)
}

func (a *anthropicCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("anthropic: response contained no text")
	}
	return sb.String(), nil
}
