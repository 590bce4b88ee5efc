package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	envOpenAIKey   = "OPENAI_API_KEY"
	envOpenAIModel = "OPENAI_MODEL"

	defaultOpenAIModel = "gpt-4o"
	openAIMaxTokens    = 600
)

type openAIClient struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

func NewOpenAI(logger zerolog.Logger) (Client, error) {
	key := strings.TrimSpace(os.Getenv(envOpenAIKey))
	if key == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIKey)
	}
	model := strings.TrimSpace(os.Getenv(envOpenAIModel))
	if model == "" {
		model = defaultOpenAIModel
	}
	return &openAIClient{client: openai.NewClient(key), model: model, logger: logger}, nil
}

func (c *openAIClient) Name() string { return c.model }

func (c *openAIClient) Decide(ctx context.Context, req Request) (Decision, error) {
	parts := []openai.ChatMessagePart{
		{Type: openai.ChatMessagePartTypeText, Text: buildUserMessage(req)},
	}
	if len(req.Screenshot) > 0 {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.Screenshot),
			},
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		MaxTokens: openAIMaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, MultiContent: parts},
		},
	})
	if err != nil {
		return Decision{}, classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return Decision{}, fmt.Errorf("openai: empty response")
	}

	dec, err := parseDecision(resp.Choices[0].Message.Content)
	if err != nil {
		return Decision{}, fmt.Errorf("openai: %w", err)
	}
	c.logger.Debug().
		Str("action", dec.Action).
		Str("target", dec.Target).
		Float64("confidence", dec.Confidence).
		Msg("openai decision")
	return dec, nil
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case 401, 403:
			return fmt.Errorf("%w: %v", ErrAuth, err)
		case 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case 404:
			return fmt.Errorf("%w: %v", ErrModelNotFound, err)
		}
		if code, ok := apiErr.Code.(string); ok && code == "model_not_found" {
			return fmt.Errorf("%w: %v", ErrModelNotFound, err)
		}
	}
	return fmt.Errorf("openai: %w", err)
}
