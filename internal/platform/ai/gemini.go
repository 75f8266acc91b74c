package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// DefaultModels is the fallback chain tried in order. The first entry is
// the primary model; later entries absorb rate limiting and model
// retirement.
var DefaultModels = []string{
	"gemini-2.0-flash",
	"gemini-1.5-flash",
	"gemini-1.5-pro",
}

// Gemini implements Generator over the Gemini API.
type Gemini struct {
	client *genai.Client
	models []string
	logger zerolog.Logger
}

// NewGemini builds a Gemini generator. An empty models slice uses
// DefaultModels.
func NewGemini(ctx context.Context, apiKey string, models []string, logger zerolog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	if len(models) == 0 {
		models = DefaultModels
	}
	return &Gemini{client: client, models: models, logger: logger}, nil
}

// Generate runs the request against the model chain. Models are tried in
// order; a 429 or 404 moves to the next model, any other failure stops
// immediately. Every upstream failure wraps ErrUnavailable.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" && req.Media == nil {
		return nil, fmt.Errorf("prompt or media is required")
	}

	cfg := buildConfig(req)
	contents := buildContents(req)

	var lastErr error
	for i, model := range g.models {
		resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			if shouldFallback(err) && i < len(g.models)-1 {
				g.logger.Warn().
					Str("model", model).
					Str("next_model", g.models[i+1]).
					Err(err).
					Msg("model unavailable, falling back")
				continue
			}
			return nil, fmt.Errorf("%w: model %s: %v", ErrUnavailable, model, err)
		}

		text := extractText(resp)
		if text == "" {
			return nil, fmt.Errorf("%w: model %s returned no text", ErrUnavailable, model)
		}
		return &Result{Text: text, Model: model}, nil
	}

	return nil, fmt.Errorf("%w: all models failed: %v", ErrUnavailable, lastErr)
}

func buildConfig(req Request) *genai.GenerateContentConfig {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = DefaultTemperature
	}
	topP := req.TopP
	if topP == 0 {
		topP = DefaultTopP
	}
	topK := req.TopK
	if topK == 0 {
		topK = DefaultTopK
	}
	maxTokens := req.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = DefaultMaxOutputTokens
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temperature,
		TopP:            &topP,
		TopK:            &topK,
		MaxOutputTokens: maxTokens,
	}
	if req.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.System)},
		}
	}
	return cfg
}

func buildContents(req Request) []*genai.Content {
	parts := []*genai.Part{}
	if req.Prompt != "" {
		parts = append(parts, genai.NewPartFromText(req.Prompt))
	}
	if req.Media != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Media.Data, req.Media.MIMEType))
	}
	return []*genai.Content{{Role: "user", Parts: parts}}
}

// shouldFallback reports whether the next model in the chain should be
// tried: rate limiting and model-not-found, nothing else.
func shouldFallback(err error) bool {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusNotFound
	}
	return false
}

func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(sb.String())
}

var _ Generator = (*Gemini)(nil)
