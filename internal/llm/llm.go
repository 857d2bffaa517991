// Package llm turns prompts into generated text. Gemini is reached through the genai SDK,
// OpenAI-compatible endpoints through the resilient HTTP client.
package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/httpclient"
)

// Supported providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// New builds the Generator named by cfg.Provider. client is only used by the OpenAI provider.
func New(ctx context.Context, cfg Config, client *httpclient.Client, logger *zap.Logger) (Generator, error) {
	switch cfg.Provider {
	case ProviderGemini, "":
		return NewGemini(ctx, cfg, logger)
	case ProviderOpenAI:
		return NewOpenAI(cfg, client, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q, supported: [%s %s]", cfg.Provider, ProviderGemini, ProviderOpenAI)
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
