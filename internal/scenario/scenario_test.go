package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullDoc = `
name: llc-signup
start_url: https://example.com/start
objective:
  text: complete the LLC formation signup
  max_steps: 30
persona:
  first_name: Dana
  last_name: Reyes
  email: dana.reyes@example.test
  phone: 555-0142
  address:
    street: 742 Birch Ave
    city: Austin
    state: TX
    zip: "73301"
  business:
    name: Reyes Consulting LLC
  card:
    number: "4242424242424242"
    expiry: 12/29
    cvc: "123"
success_urls:
  - /dashboard
success_selectors:
  - '[data-testid="order-complete"]'
handlers:
  - contains: Do you already have an EIN
    choose: "No"
  - contains: registered agent
    choose: Use your service
`

func TestParseFullDocument(t *testing.T) {
	s, err := Parse([]byte(fullDoc))
	require.NoError(t, err)

	assert.Equal(t, "llc-signup", s.Name)
	assert.Equal(t, "https://example.com/start", s.StartURL)
	assert.Equal(t, 30, s.Objective.MaxSteps)
	assert.Equal(t, "Dana", s.Persona.FirstName)
	assert.Equal(t, "Reyes Consulting LLC", s.Persona.Business.Name)
	assert.Equal(t, "4242424242424242", s.Persona.Card.Number)
	assert.Equal(t, []string{"/dashboard"}, s.SuccessURLs)
	require.Len(t, s.Handlers, 2)
	assert.Equal(t, "No", s.Handlers[0].Choose)
}

func TestParseAppliesDefaults(t *testing.T) {
	s, err := Parse([]byte("start_url: https://example.com/start\nobjective:\n  text: sign up\n"))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/start", s.Name, "name defaults to the start URL")
	assert.Equal(t, defaultMaxSteps, s.Objective.MaxSteps)
}

func TestParseValidation(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"missing start url", "objective:\n  text: go\n", "start_url is required"},
		{"relative start url", "start_url: /start\nobjective:\n  text: go\n", "must be absolute"},
		{"missing objective", "start_url: https://example.com\n", "objective.text is required"},
		{"handler without choose", "start_url: https://example.com\nobjective:\n  text: go\nhandlers:\n  - contains: EIN\n", "handler 0"},
		{"bad yaml", "start_url: [unterminated", "parse scenario"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fullDoc), 0o644))

	s, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "llc-signup", s.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read scenario")
}

func TestMatch(t *testing.T) {
	s, err := Parse([]byte(fullDoc))
	require.NoError(t, err)

	h, ok := s.Match("Question 3 of 9: DO YOU ALREADY HAVE AN EIN for your business?")
	require.True(t, ok, "matching is case-insensitive")
	assert.Equal(t, "No", h.Choose)

	_, ok = s.Match("Pick your state of formation")
	assert.False(t, ok)
}

func TestMatchFirstHandlerWins(t *testing.T) {
	s, err := Parse([]byte(fullDoc))
	require.NoError(t, err)
	h, ok := s.Match("Do you already have an EIN or a registered agent?")
	require.True(t, ok)
	assert.Equal(t, "No", h.Choose)
}
