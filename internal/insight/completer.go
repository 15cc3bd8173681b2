package insight

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Completion settings used for every insight request.
const (
	MaxTokens   = 1000
	Temperature = 0.7

	DefaultModel   = "claude-sonnet-4-5"
	DefaultTimeout = 60 * time.Second
)

// ErrEmptyCompletion is returned when the model answers without any text.
var ErrEmptyCompletion = errors.New("model returned no text")

// Completer turns a system and user prompt into a narrative.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// AnthropicConfig holds configuration for AnthropicCompleter.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key (required).
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// Model defaults to DefaultModel.
	Model string

	// Timeout defaults to DefaultTimeout.
	Timeout time.Duration
}

// AnthropicCompleter calls the Anthropic Messages API.
type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

// NewCompleter returns an AnthropicCompleter when cfg has an API key and a
// StaticCompleter otherwise.
func NewCompleter(cfg AnthropicConfig) (Completer, error) {
	if cfg.APIKey == "" {
		return StaticCompleter{}, nil
	}
	return NewAnthropicCompleter(cfg)
}

// NewAnthropicCompleter creates a completer. Requests are never retried.
func NewAnthropicCompleter(cfg AnthropicConfig) (*AnthropicCompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicCompleter{
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

// Complete sends one user message and joins the text blocks of the reply.
func (c *AnthropicCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   MaxTokens,
		Temperature: anthropic.Float(Temperature),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return b.String(), nil
}

// StaticCompleter answers without a model. It is used when no API key is
// configured so analysis still produces a stored insight.
type StaticCompleter struct{}

// Complete echoes the metrics block of the prompt under a fixed heading.
func (StaticCompleter) Complete(_ context.Context, _, prompt string) (string, error) {
	var lines []string
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(line, "- ") {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "No model is configured; no narrative was generated.", nil
	}
	return "Automated summary (no model configured):\n" + strings.Join(lines, "\n"), nil
}
