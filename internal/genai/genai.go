// Package genai provides the OpenAI-backed analysis adapters for the intake
// bot: preliminary image analysis of foot photos and triage of free-text
// symptom descriptions.
//
// Both adapters share one contract: they complete within the caller's
// deadline and always return a structured result. On any failure (error,
// timeout, malformed response) the returned value is a degraded fallback of
// the same shape, marked "unknown" and carrying a fallback disclaimer, and the
// error is returned alongside so callers can emit a soft notice. Downstream
// code never branches on success to read the result.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// Default model used for both analyses.
const DefaultModel = openai.ChatModelGPT4o

// Disclaimers attached to every successful result.
const (
	imageDisclaimer   = "This is an AI-assisted preliminary assessment only. Please consult with a qualified healthcare professional for proper diagnosis and treatment."
	symptomDisclaimer = "This analysis is for informational purposes only and does not constitute medical advice. Please consult with a qualified healthcare professional for proper diagnosis and treatment."
)

// Opts holds configuration for the Analyzer.
type Opts struct {
	APIKey string
	Model  string
}

// Option configures the Analyzer.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key explicitly instead of reading the
// OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// WithModel overrides the chat model used for analyses.
func WithModel(model string) Option {
	return func(o *Opts) {
		o.Model = model
	}
}

// Analyzer runs the clinic's AI analyses through the OpenAI chat API.
type Analyzer struct {
	client openai.Client
	model  string
}

// NewAnalyzer creates an Analyzer, reading OPENAI_API_KEY when no key option
// is provided.
func NewAnalyzer(opts ...Option) (*Analyzer, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	slog.Debug("genai.NewAnalyzer: creating analyzer", "model", cfg.Model)
	return &Analyzer{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
	}, nil
}

// completeJSON runs a chat completion in JSON mode and returns the raw content.
func (a *Analyzer) completeJSON(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion, maxTokens int64, temperature float64) (string, error) {
	resp, err := a.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    a.model,
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
		MaxTokens:   openai.Int(maxTokens),
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

// decodeResult unmarshals a JSON-mode completion into the result shape.
func decodeResult(content string, out any) error {
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return fmt.Errorf("malformed analysis response: %w", err)
	}
	return nil
}
