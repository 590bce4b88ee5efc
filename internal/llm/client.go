// Package llm is the AI decision collaborator: given a screenshot, a DOM
// summary, the objective and persona context, a provider proposes the next
// browser action. Provider failures are classified into distinguishable
// sentinel errors so the engine can tell a bad credential from a rate limit.
package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/launchcheck/funnel-harness/internal/snapshot"
)

const envProvider = "LLM_PROVIDER" // "anthropic" or "openai"

var (
	ErrAuth          = errors.New("llm: invalid credentials")
	ErrRateLimited   = errors.New("llm: rate limited")
	ErrModelNotFound = errors.New("llm: model not found")
)

// Request carries everything the provider sees for one decision.
type Request struct {
	Objective      string
	PersonaContext string
	Screenshot     []byte // PNG; omitted from the prompt when nil
	DOM            snapshot.Summary
	History        []string // most recent step lines, oldest first
}

// Decision is the provider's proposed next step.
type Decision struct {
	Action     string  `json:"action"` // click|fill|select|wait
	Target     string  `json:"target"`
	Value      string  `json:"value,omitempty"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

type Client interface {
	Decide(ctx context.Context, req Request) (Decision, error)
	Name() string
}

// NewFromEnv picks the provider from LLM_PROVIDER, defaulting to Anthropic.
func NewFromEnv(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "anthropic"
	}
	switch provider {
	case "anthropic":
		return NewAnthropic(logger)
	case "openai":
		return NewOpenAI(logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (use anthropic or openai)", provider)
	}
}
