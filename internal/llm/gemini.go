package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/logging"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates text with the Gemini API.
type Gemini struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, cfg Config, logger *zap.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, faults.InvalidInput("gemini api key is required")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models contentGenerator, cfg Config, logger *zap.Logger) *Gemini {
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{
		models:  models,
		model:   model,
		timeout: cfg.Timeout,
		logger:  logging.OrNop(logger).Named("llm.gemini"),
	}
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("gemini %s: %w", g.model, ctxErr)
		}
		return "", &faults.RemoteCallFailedError{Attempts: 1, Last: fmt.Errorf("gemini %s: %w", g.model, err)}
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		reason := ""
		if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
			reason = string(resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("%w: gemini %s returned no text (finish reason %q)", faults.ErrPermanentRemote, g.model, reason)
	}

	fields := []zap.Field{zap.String("model", g.model), zap.Duration("duration", time.Since(start))}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
		)
	}
	g.logger.Info("generation complete", fields...)
	return text, nil
}
