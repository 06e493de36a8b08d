package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"weave/internal/config"
)

// Gemini completes prompts with the Gemini API and requests JSON output.
type Gemini struct {
	client  *genai.Client
	model   string
	gen     genai.GenerateContentConfig
	timeout time.Duration
	log     *zap.Logger
}

func NewGemini(ctx context.Context, apiKey string, cfg config.Completion, log *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNotConfigured)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Gemini{
		client: client,
		model:  cfg.Model,
		gen: genai.GenerateContentConfig{
			Temperature:      genai.Ptr(cfg.Temperature),
			TopP:             genai.Ptr(cfg.TopP),
			TopK:             genai.Ptr(cfg.TopK),
			MaxOutputTokens:  cfg.MaxOutputTokens,
			ResponseMIMEType: "application/json",
		},
		timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		log:     log.Named("gemini"),
	}, nil
}

func (g *Gemini) Complete(ctx context.Context, prompt, systemInstruction string) Result {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	gen := g.gen
	if systemInstruction != "" {
		gen.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &gen)
	if err != nil {
		g.log.Warn("generate content failed", zap.String("model", g.model), zap.Error(err))
		return Failed(fmt.Errorf("gemini generate: %w", err))
	}
	text := resp.Text()
	if text == "" {
		return Failed(errors.New("gemini returned no text"))
	}
	res := FromText(text)
	if !res.OK() {
		g.log.Debug("unparseable completion", zap.String("model", g.model), zap.Error(res.Err))
	}
	return res
}
