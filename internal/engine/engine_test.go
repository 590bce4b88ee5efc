package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchcheck/funnel-harness/internal/browser"
	"github.com/launchcheck/funnel-harness/internal/cache"
	"github.com/launchcheck/funnel-harness/internal/llm"
	"github.com/launchcheck/funnel-harness/internal/pattern"
	"github.com/launchcheck/funnel-harness/internal/persona"
	"github.com/launchcheck/funnel-harness/internal/runlog"
	"github.com/launchcheck/funnel-harness/internal/scenario"
	"github.com/launchcheck/funnel-harness/internal/step"
)

// navStub is a Stub whose successful clicks can advance the page, simulating
// navigation. Advancing clears frames like a real page load would.
type navStub struct {
	browser.Stub
	advanceOn map[string]string
}

func (s *navStub) Click(ctx context.Context, selector string) error {
	if err := s.Stub.Click(ctx, selector); err != nil {
		return err
	}
	if next, ok := s.advanceOn[selector]; ok {
		s.PageURL = next
		s.FrameList = nil
	}
	return nil
}

type fakeAI struct {
	decision llm.Decision
	err      error
	calls    int
	lastReq  llm.Request
}

func (f *fakeAI) Decide(ctx context.Context, req llm.Request) (llm.Decision, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return llm.Decision{}, f.err
	}
	return f.decision, nil
}

func (f *fakeAI) Name() string { return "fake" }

func testScenario() scenario.Scenario {
	return scenario.Scenario{
		Name:     "llc-signup",
		StartURL: "https://example.com/start",
		Objective: scenario.Objective{
			Text:     "complete the signup funnel",
			MaxSteps: 20,
		},
		Persona: persona.Persona{
			FirstName: "Dana",
			LastName:  "Reyes",
			Email:     "dana.reyes@example.test",
			Card:      persona.Card{Number: "4242424242424242", Expiry: "12/29", CVC: "123", Zip: "73301"},
		},
		SuccessURLs: []string{"/done"},
	}
}

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Load(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)
	return c
}

func TestRunCachedReplaySkipsAI(t *testing.T) {
	store := testCache(t)
	cached := []step.Descriptor{{Action: step.ActionClick, Target: "#next"}}
	require.NoError(t, store.RecordAttempt("example.com/start", cached, true))

	b := &navStub{advanceOn: map[string]string{"#next": "https://example.com/done"}}
	ai := &fakeAI{err: errors.New("should not be consulted")}
	eng := New(b, store, ai, testScenario(), zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 0, ai.calls, "a cache hit must not cost an AI call")

	steps := eng.Trace().Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, runlog.SourceCache, steps[0].Source)
	assert.True(t, steps[0].UsedCache)
	assert.True(t, steps[0].Success)

	e, ok := store.Lookup("example.com/start")
	require.True(t, ok)
	assert.Equal(t, 2, e.TotalAttempts, "preload plus replay")
	assert.Equal(t, 2, e.SuccessCount)
}

func TestRunCacheMissFallsThroughAndRecordsAttempt(t *testing.T) {
	store := testCache(t)
	cached := []step.Descriptor{{Action: step.ActionClick, Target: "#cached"}}
	require.NoError(t, store.RecordAttempt("example.com/start", cached, true))

	b := &navStub{advanceOn: map[string]string{"#next": "https://example.com/done"}}
	b.FailOn = map[string]error{
		"Click:#cached":     errors.New("element gone"),
		"ClickText:#cached": errors.New("text gone"),
	}
	ai := &fakeAI{decision: llm.Decision{Action: "click", Target: "#next", Reasoning: "advance"}}
	eng := New(b, store, ai, testScenario(), zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, ai.calls, "failed replay escalates to the AI")

	steps := eng.Trace().Steps()
	require.GreaterOrEqual(t, len(steps), 2)
	assert.Equal(t, runlog.SourceCache, steps[0].Source)
	assert.False(t, steps[0].Success)
	assert.Equal(t, runlog.SourceAI, steps[1].Source)

	e, _ := store.Lookup("example.com/start")
	assert.Equal(t, 3, e.TotalAttempts, "preload, failed replay, and the new AI path")
	assert.Equal(t, 2, e.SuccessCount)
}

func TestRunPatternBeatsAIAndNewPathIsCached(t *testing.T) {
	store := testCache(t)
	emailSel := `input[name="email"], input[id="email"]`
	b := &navStub{advanceOn: map[string]string{"#next": "https://example.com/done"}}
	b.Visible = map[string]bool{emailSel: true}
	ai := &fakeAI{decision: llm.Decision{Action: "click", Target: "#next"}}
	eng := New(b, store, ai, testScenario(), zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)

	steps := eng.Trace().Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, runlog.SourcePattern, steps[0].Source)
	assert.Equal(t, "fill", steps[0].Action)
	assert.Equal(t, "dana.reyes@example.test", steps[0].Value)
	assert.Equal(t, runlog.SourceAI, steps[1].Source)
	assert.Equal(t, 1, ai.calls)

	// Both newly derived steps become the page's cached path.
	e, ok := store.Lookup("example.com/start")
	require.True(t, ok)
	assert.Len(t, e.Steps, 2)
	assert.Equal(t, 1, e.SuccessCount)
}

func TestRunHandlerAnswersScriptedQuestion(t *testing.T) {
	scn := testScenario()
	scn.Handlers = []scenario.Handler{{Contains: "already have an EIN", Choose: "No"}}

	b := &navStub{advanceOn: map[string]string{`text="No"`: "https://example.com/done"}}
	b.BodyText = "Do you already have an EIN for your business?"
	ai := &fakeAI{err: errors.New("should not be consulted")}
	eng := New(b, testCache(t), ai, scn, zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 0, ai.calls)

	steps := eng.Trace().Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, runlog.SourceHandler, steps[0].Source)
	assert.Equal(t, `text="No"`, steps[0].Target)
}

func TestRunAbortsAfterConsecutiveFailures(t *testing.T) {
	b := &navStub{}
	b.FailOn = map[string]error{
		"Click":     errors.New("nothing there"),
		"ClickText": errors.New("nothing there either"),
	}
	ai := &fakeAI{decision: llm.Decision{Action: "click", Target: "#gone"}}
	eng := New(b, testCache(t), ai, testScenario(), zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Reason, "consecutive step failures")
	assert.Equal(t, maxConsecutiveFailures, eng.Trace().Len())
	for _, s := range eng.Trace().Steps() {
		assert.False(t, s.Success)
	}
}

func TestRunStepBudgetExhausted(t *testing.T) {
	scn := testScenario()
	scn.Objective.MaxSteps = 2

	// Clicks land but never navigate, so the run spins until the budget ends it.
	b := &navStub{}
	ai := &fakeAI{decision: llm.Decision{Action: "click", Target: "#noop"}}
	eng := New(b, testCache(t), ai, scn, zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Contains(t, out.Reason, "step budget")
	assert.Equal(t, 2, eng.Trace().Len())
}

func TestRunSuccessAtBudgetBoundary(t *testing.T) {
	scn := testScenario()
	scn.Objective.MaxSteps = 1

	// The single allowed step lands on the success page; the run must report
	// success, not an exhausted budget.
	b := &navStub{advanceOn: map[string]string{"#next": "https://example.com/done"}}
	ai := &fakeAI{decision: llm.Decision{Action: "click", Target: "#next"}}
	eng := New(b, testCache(t), ai, scn, zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 1, eng.Trace().Len())
}

func TestRunSessionClosedIsImmediatelyFatal(t *testing.T) {
	b := &navStub{}
	b.FailOn = map[string]error{
		"Click":     browser.ErrSessionClosed,
		"ClickText": browser.ErrSessionClosed,
	}
	ai := &fakeAI{decision: llm.Decision{Action: "click", Target: "#next"}}
	eng := New(b, testCache(t), ai, testScenario(), zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Equal(t, "browser session closed", out.Reason)
	assert.Equal(t, 1, eng.Trace().Len(), "no retries against a dead browser")
}

func TestRunAuthErrorAbortsRun(t *testing.T) {
	b := &navStub{}
	ai := &fakeAI{err: llm.ErrAuth}
	eng := New(b, testCache(t), ai, testScenario(), zerolog.Nop())

	out, err := eng.Run(context.Background())
	assert.ErrorIs(t, err, llm.ErrAuth)
	assert.False(t, out.Success)
}

func TestRunCaptchaRespectsContextCancellation(t *testing.T) {
	scn := testScenario()
	scn.StartURL = "https://example.com/captcha"
	b := &navStub{}
	ai := &fakeAI{err: errors.New("should not be consulted")}
	eng := New(b, testCache(t), ai, scn, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	out, err := eng.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, out.Success)

	steps := eng.Trace().Steps()
	require.NotEmpty(t, steps)
	assert.Equal(t, "captcha", steps[0].Target)
	assert.Equal(t, runlog.SourceTerminal, steps[0].Source)
	assert.False(t, steps[0].Success)
}

func TestRunPaymentFillsAreFrameScoped(t *testing.T) {
	submitSel := `button:has-text("Pay"), button:has-text("Submit"), button:has-text("Complete"), button[type="submit"]`
	b := &navStub{advanceOn: map[string]string{submitSel: "https://example.com/done"}}
	b.FrameList = []browser.FrameInfo{{Name: "card", URL: "https://js.stripe.com/v3/elements"}}
	ai := &fakeAI{err: errors.New("should not be consulted")}
	eng := New(b, testCache(t), ai, testScenario(), zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, 0, ai.calls)

	fills := b.CallsTo("FrameFill")
	require.Len(t, fills, 4, "number, expiry, cvc and postal code")
	for _, c := range fills {
		assert.True(t, strings.HasPrefix(c.Selector, "stripe|"), c.Selector)
	}
	assert.Equal(t, "4242424242424242", fills[0].Value)

	// The top-level page never sees card data.
	for _, c := range b.CallsTo("Fill") {
		assert.NotContains(t, c.Value, "4242")
	}
}

func TestRunPaymentSkippedWithoutCardData(t *testing.T) {
	scn := testScenario()
	scn.Persona.Card = persona.Card{}
	scn.Objective.MaxSteps = 1

	b := &navStub{}
	b.FrameList = []browser.FrameInfo{{URL: "https://js.stripe.com/v3"}}
	ai := &fakeAI{decision: llm.Decision{Action: "click", Target: "#noop"}}
	eng := New(b, testCache(t), ai, scn, zerolog.Nop())

	out, err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Success)
	assert.Empty(t, b.CallsTo("FrameFill"), "no card data, no frame fills")
	assert.Equal(t, 1, ai.calls, "payment page falls through to the normal layers")
}

func TestDescribeCandidateRadioPicksAmongFirstTwo(t *testing.T) {
	eng := New(&navStub{}, testCache(t), &fakeAI{}, testScenario(), zerolog.Nop())
	cand := pattern.Candidate{Archetype: pattern.Radio, Target: `input[type="radio"][name="plan"]`, Count: 3}

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		d, ok := eng.describeCandidate(cand)
		require.True(t, ok)
		seen[d.Target] = true
	}
	assert.Equal(t, map[string]bool{
		`input[type="radio"][name="plan"] >> nth=0`: true,
		`input[type="radio"][name="plan"] >> nth=1`: true,
	}, seen, "both options must be reachable across runs, the tail never")
}

func TestDescribeCandidateSingleRadioNeverTargetsSecondOption(t *testing.T) {
	eng := New(&navStub{}, testCache(t), &fakeAI{}, testScenario(), zerolog.Nop())
	cand := pattern.Candidate{Archetype: pattern.Radio, Target: `input[type="radio"][name="agree"]`, Count: 1}

	for i := 0; i < 50; i++ {
		d, ok := eng.describeCandidate(cand)
		require.True(t, ok)
		assert.Equal(t, `input[type="radio"][name="agree"] >> nth=0`, d.Target)
	}
}

func TestDescribeCandidateSkipsTextInputWithoutValue(t *testing.T) {
	eng := New(&navStub{}, testCache(t), &fakeAI{}, testScenario(), zerolog.Nop())
	_, ok := eng.describeCandidate(pattern.Candidate{Archetype: pattern.TextInput, Target: "#x", Name: "favoriteColor"})
	assert.False(t, ok, "never type a guess into an unrecognized field")
}

func TestAskAIIncludesScreenshotAndHistory(t *testing.T) {
	b := &navStub{}
	b.Shot = []byte("png-bytes")
	ai := &fakeAI{decision: llm.Decision{Action: "click", Target: "#a"}}
	scn := testScenario()
	scn.Objective.MaxSteps = 2
	eng := New(b, testCache(t), ai, scn, zerolog.Nop())

	_, err := eng.Run(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, ai.calls, 2)
	assert.Equal(t, []byte("png-bytes"), ai.lastReq.Screenshot)
	assert.Equal(t, "complete the signup funnel", ai.lastReq.Objective)
	require.NotEmpty(t, ai.lastReq.History, "the second decision sees the first step")
	assert.Contains(t, ai.lastReq.History[0], "#a")
}
