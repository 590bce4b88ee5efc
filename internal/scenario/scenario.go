// Package scenario loads the YAML run definition: where the funnel starts,
// what the objective is, which persona to type in, and the site-specific
// success indicators and question handlers.
package scenario

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/launchcheck/funnel-harness/internal/persona"
)

const defaultMaxSteps = 50

// Objective is the run goal handed to the AI decision provider, bounded by a
// step budget.
type Objective struct {
	Text     string `yaml:"text"`
	MaxSteps int    `yaml:"max_steps,omitempty"`
}

// Handler answers a known funnel question deterministically, before pattern
// matching or the AI gets a say. Contains is matched against the visible page
// text; Choose is the option text to click.
type Handler struct {
	Contains string `yaml:"contains"`
	Choose   string `yaml:"choose"`
}

type Scenario struct {
	Name             string          `yaml:"name"`
	StartURL         string          `yaml:"start_url"`
	Objective        Objective       `yaml:"objective"`
	Persona          persona.Persona `yaml:"persona"`
	SuccessURLs      []string        `yaml:"success_urls,omitempty"`
	SuccessSelectors []string        `yaml:"success_selectors,omitempty"`
	Handlers         []Handler       `yaml:"handlers,omitempty"`
}

// Load reads and validates a scenario file, applying defaults.
func Load(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("read scenario: %w", err)
	}
	return Parse(data)
}

// Parse decodes a scenario document and applies defaults.
func Parse(data []byte) (Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("parse scenario: %w", err)
	}
	if err := s.validate(); err != nil {
		return Scenario{}, err
	}
	s.applyDefaults()
	return s, nil
}

func (s *Scenario) validate() error {
	if strings.TrimSpace(s.StartURL) == "" {
		return fmt.Errorf("scenario: start_url is required")
	}
	if !strings.HasPrefix(s.StartURL, "http://") && !strings.HasPrefix(s.StartURL, "https://") {
		return fmt.Errorf("scenario: start_url must be absolute, got %q", s.StartURL)
	}
	if strings.TrimSpace(s.Objective.Text) == "" {
		return fmt.Errorf("scenario: objective.text is required")
	}
	for i, h := range s.Handlers {
		if strings.TrimSpace(h.Contains) == "" || strings.TrimSpace(h.Choose) == "" {
			return fmt.Errorf("scenario: handler %d needs both contains and choose", i)
		}
	}
	return nil
}

func (s *Scenario) applyDefaults() {
	if s.Name == "" {
		s.Name = s.StartURL
	}
	if s.Objective.MaxSteps <= 0 {
		s.Objective.MaxSteps = defaultMaxSteps
	}
}

// Match returns the first handler whose trigger text appears in the visible
// page text. Matching is case-insensitive.
func (s Scenario) Match(visibleText string) (Handler, bool) {
	lower := strings.ToLower(visibleText)
	for _, h := range s.Handlers {
		if strings.Contains(lower, strings.ToLower(h.Contains)) {
			return h, true
		}
	}
	return Handler{}, false
}
