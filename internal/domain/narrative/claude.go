package narrative

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const systemPrompt = "You assist hospital quality abstractors. Use only the facts provided. " +
	"Do not invent timestamps, findings or diagnoses."

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5-20250929"

// ClaudeGenerator implements Generator on the Anthropic Messages API.
type ClaudeGenerator struct {
	client    sdk.Client
	model     string
	maxTokens int64
	logger    zerolog.Logger
}

// NewClaudeGenerator builds a generator for apiKey. Extra request options
// (base URL, retries) are passed through to the SDK client.
func NewClaudeGenerator(apiKey, model string, logger zerolog.Logger, opts ...option.RequestOption) *ClaudeGenerator {
	if model == "" {
		model = DefaultModel
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &ClaudeGenerator{
		client:    sdk.NewClient(opts...),
		model:     model,
		maxTokens: 1024,
		logger:    logger,
	}
}

func (g *ClaudeGenerator) Summarize(ctx context.Context, in Input) (string, error) {
	return g.complete(ctx, "summary", in.Prompt)
}

func (g *ClaudeGenerator) Questions(ctx context.Context, in Input) ([]string, error) {
	text, err := g.complete(ctx, "questions", in.Prompt)
	if err != nil {
		return nil, err
	}
	return ParseQuestions(text), nil
}

func (g *ClaudeGenerator) complete(ctx context.Context, kind, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errors.New("empty prompt")
	}
	msg, err := g.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: g.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(prompt))},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic %s: %w", kind, err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	g.logger.Debug().
		Str("kind", kind).
		Str("model", string(msg.Model)).
		Int64("input_tokens", msg.Usage.InputTokens).
		Int64("output_tokens", msg.Usage.OutputTokens).
		Msg("narrative generated")
	return strings.TrimSpace(b.String()), nil
}
