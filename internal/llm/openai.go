package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/httpclient"
	"github.com/JakeFAU/site-rebuilder/internal/logging"
)

// Defaults for OpenAI-compatible endpoints.
const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "gpt-4o-mini"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// OpenAI calls a chat completions endpoint with a single user message.
type OpenAI struct {
	client  *httpclient.Client
	baseURL string
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewOpenAI builds an OpenAI generator. The API key is sent as a bearer token by client, so
// client must have been configured with it.
func NewOpenAI(cfg Config, client *httpclient.Client, logger *zap.Logger) (*OpenAI, error) {
	if client == nil {
		return nil, faults.InvalidInput("openai generator needs an http client")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		client:  client,
		baseURL: baseURL,
		model:   model,
		timeout: cfg.Timeout,
		logger:  logging.OrNop(logger).Named("llm.openai"),
	}, nil
}

// Generate implements Generator.
func (o *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	var out chatResponse
	err := o.client.DoJSON(ctx, http.MethodPost, "/chat/completions", httpclient.Options{
		BaseURL: o.baseURL,
		Body: chatRequest{
			Model:    o.model,
			Messages: []chatMessage{{Role: "user", Content: prompt}},
		},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("openai %s: %w", o.model, err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: openai %s returned no choices", faults.ErrPermanentRemote, o.model)
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("%w: openai %s returned empty content (finish reason %q)", faults.ErrPermanentRemote, o.model, out.Choices[0].FinishReason)
	}
	o.logger.Info("generation complete",
		zap.String("model", o.model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
	)
	return text, nil
}
