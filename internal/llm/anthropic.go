package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog"
)

const (
	envAnthropicKey   = "ANTHROPIC_API_KEY"
	envAnthropicModel = "ANTHROPIC_MODEL"

	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	anthropicMaxTokens    = 600
)

type anthropicClient struct {
	client *anthropic.Client
	model  string
	logger zerolog.Logger
}

func NewAnthropic(logger zerolog.Logger) (Client, error) {
	key := strings.TrimSpace(os.Getenv(envAnthropicKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envAnthropicKey)
	}
	model := strings.Trim(strings.TrimSpace(os.Getenv(envAnthropicModel)), `"'`)
	if model == "" {
		model = defaultAnthropicModel
	}
	client := anthropic.NewClient(option.WithAPIKey(key))
	return &anthropicClient{client: &client, model: model, logger: logger}, nil
}

func (c *anthropicClient) Name() string { return c.model }

func (c *anthropicClient) Decide(ctx context.Context, req Request) (Decision, error) {
	blocks := []anthropic.ContentBlockParamUnion{}
	if len(req.Screenshot) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png",
			base64.StdEncoding.EncodeToString(req.Screenshot)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(buildUserMessage(req)))

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return Decision{}, classifyAnthropicErr(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return Decision{}, fmt.Errorf("anthropic: empty response")
	}

	dec, err := parseDecision(text.String())
	if err != nil {
		return Decision{}, fmt.Errorf("anthropic: %w", err)
	}
	c.logger.Debug().
		Str("action", dec.Action).
		Str("target", dec.Target).
		Float64("confidence", dec.Confidence).
		Msg("anthropic decision")
	return dec, nil
}

func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case 404:
			return fmt.Errorf("%w: %v", ErrModelNotFound, err)
		}
	}
	if strings.Contains(strings.ToLower(err.Error()), "model") &&
		strings.Contains(strings.ToLower(err.Error()), "not_found") {
		return fmt.Errorf("%w: %v", ErrModelNotFound, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
