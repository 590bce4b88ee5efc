// Package engine drives one scenario run: a page-by-page loop that tries the
// cheapest decision layer first and escalates only when the layer below it
// has nothing to offer. Order per cycle: terminal detection, cached replay,
// scripted question handlers, archetype pattern matching, AI decision.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/launchcheck/funnel-harness/internal/browser"
	"github.com/launchcheck/funnel-harness/internal/cache"
	"github.com/launchcheck/funnel-harness/internal/executor"
	"github.com/launchcheck/funnel-harness/internal/identity"
	"github.com/launchcheck/funnel-harness/internal/llm"
	"github.com/launchcheck/funnel-harness/internal/pattern"
	"github.com/launchcheck/funnel-harness/internal/persona"
	"github.com/launchcheck/funnel-harness/internal/runlog"
	"github.com/launchcheck/funnel-harness/internal/scenario"
	"github.com/launchcheck/funnel-harness/internal/snapshot"
	"github.com/launchcheck/funnel-harness/internal/step"
	"github.com/launchcheck/funnel-harness/internal/terminal"
)

const (
	maxConsecutiveFailures = 3
	historyWindow          = 5
	snapshotDeadline       = 15 * time.Second
)

// Engine owns the step loop for a single run. It is not reusable; build a
// fresh one per scenario execution.
type Engine struct {
	browser  browser.Controller
	exec     *executor.Executor
	cache    *cache.Cache
	detector *terminal.Detector
	ai       llm.Client
	scn      scenario.Scenario
	trace    *runlog.Log
	logger   zerolog.Logger
	rng      *rand.Rand

	pageKey        string
	pageSteps      []step.Descriptor // successful non-cache steps on the current page
	cacheTried     map[string]bool
	handledPayment bool
	consecFails    int
}

func New(b browser.Controller, store *cache.Cache, ai llm.Client, scn scenario.Scenario, logger zerolog.Logger) *Engine {
	return &Engine{
		browser:    b,
		exec:       executor.New(b, logger.With().Str("comp", "executor").Logger()),
		cache:      store,
		detector:   terminal.NewDetector(scn.SuccessURLs, scn.SuccessSelectors, logger.With().Str("comp", "terminal").Logger()),
		ai:         ai,
		scn:        scn,
		trace:      runlog.New(),
		logger:     logger.With().Str("comp", "engine").Logger(),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		cacheTried: map[string]bool{},
	}
}

// Trace exposes the step log, also readable mid-run for diagnostics.
func (e *Engine) Trace() *runlog.Log { return e.trace }

// Run executes the scenario until a terminal state, the failure threshold or
// the step budget ends it. Only infrastructure-level breakage (navigation,
// provider credentials) comes back as an error; an unsuccessful funnel run is
// a normal Outcome with Success=false.
func (e *Engine) Run(ctx context.Context) (runlog.Outcome, error) {
	e.logger.Info().
		Str("run_id", e.trace.RunID()).
		Str("scenario", e.scn.Name).
		Str("provider", e.ai.Name()).
		Msg("run starting")

	if err := e.browser.Navigate(ctx, e.scn.StartURL); err != nil {
		return e.finish(false, "navigate start url: "+err.Error()), fmt.Errorf("navigate %s: %w", e.scn.StartURL, err)
	}
	e.pageKey = identity.FromURL(e.browser.URL())

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(false, "context cancelled"), err
		}
		e.observePage()

		// Success detection first: a step that lands on the success page
		// right at the budget boundary is still a success.
		state := e.detector.Check(ctx, e.browser)
		if state.Kind == terminal.Success {
			e.flushPageSteps()
			return e.finish(true, state.Reason), nil
		}

		if e.trace.Len() >= e.scn.Objective.MaxSteps {
			return e.finish(false, fmt.Sprintf("step budget of %d exhausted", e.scn.Objective.MaxSteps)), nil
		}
		if e.consecFails >= maxConsecutiveFailures {
			return e.finish(false, fmt.Sprintf("%d consecutive step failures", e.consecFails)), nil
		}

		switch state.Kind {
		case terminal.Captcha:
			e.awaitCaptcha(ctx, state)
			continue
		case terminal.Payment:
			if !e.handledPayment && e.scn.Persona.Card.Number != "" {
				e.handlePayment(ctx, state.Frame)
				continue
			}
		}

		res, handled := e.tryCache(ctx)
		if !handled {
			res, handled = e.tryHandlers(ctx)
		}
		if !handled {
			res, handled = e.tryPatterns(ctx)
		}
		if !handled {
			var err error
			res, err = e.askAI(ctx)
			if err != nil {
				return e.finish(false, "ai provider: "+err.Error()), err
			}
		}

		if browser.IsSessionClosed(res.Err) {
			return e.finish(false, "browser session closed"), nil
		}
		if res.Success {
			e.consecFails = 0
		} else {
			e.consecFails++
		}
	}
}

// observePage tracks page transitions. Steps that succeeded on the page we
// are leaving become its cached path.
func (e *Engine) observePage() {
	key := identity.FromURL(e.browser.URL())
	if key == e.pageKey {
		return
	}
	e.flushPageSteps()
	e.logger.Debug().Str("from", e.pageKey).Str("to", key).Msg("page transition")
	e.pageKey = key
	e.handledPayment = false
}

func (e *Engine) flushPageSteps() {
	if len(e.pageSteps) == 0 {
		return
	}
	if err := e.cache.RecordAttempt(e.pageKey, e.pageSteps, true); err != nil {
		e.logger.Warn().Err(err).Str("page", e.pageKey).Msg("cache write failed")
	}
	e.pageSteps = nil
}

// tryCache replays the stored path for the current page, once per run.
// Attempts are counted whether or not the replay lands; a failed replay falls
// through to the layers below.
func (e *Engine) tryCache(ctx context.Context) (executor.Result, bool) {
	if e.cacheTried[e.pageKey] {
		return executor.Result{}, false
	}
	e.cacheTried[e.pageKey] = true

	entry, ok := e.cache.Lookup(e.pageKey)
	if !ok || len(entry.Steps) == 0 {
		return executor.Result{}, false
	}
	e.logger.Info().Str("page", e.pageKey).Int("steps", len(entry.Steps)).Msg("replaying cached path")

	var last executor.Result
	for _, d := range entry.Steps {
		last = e.perform(ctx, d, runlog.SourceCache, "")
		if !last.Success {
			break
		}
	}
	if err := e.cache.RecordAttempt(e.pageKey, entry.Steps, last.Success); err != nil {
		e.logger.Warn().Err(err).Str("page", e.pageKey).Msg("cache write failed")
	}
	if !last.Success {
		e.logger.Warn().Err(last.Err).Str("page", e.pageKey).Msg("cached replay failed, falling through")
	}
	return last, true
}

// tryHandlers answers scripted funnel questions by visible-text match.
func (e *Engine) tryHandlers(ctx context.Context) (executor.Result, bool) {
	if len(e.scn.Handlers) == 0 {
		return executor.Result{}, false
	}
	text, err := e.browser.VisibleText(ctx)
	if err != nil {
		return executor.Result{Err: err}, browser.IsSessionClosed(err)
	}
	h, ok := e.scn.Match(text)
	if !ok {
		return executor.Result{}, false
	}
	d := step.Descriptor{
		Action:      step.ActionClick,
		Target:      fmt.Sprintf("text=%q", h.Choose),
		Description: "scripted answer for " + h.Contains,
	}
	return e.perform(ctx, d, runlog.SourceHandler, ""), true
}

// tryPatterns walks the archetype library in priority order and acts on the
// first detected candidate.
func (e *Engine) tryPatterns(ctx context.Context) (executor.Result, bool) {
	for _, p := range pattern.Library() {
		cand, ok := p.Detect(ctx, e.browser)
		if !ok {
			continue
		}
		d, ok := e.describeCandidate(cand)
		if !ok {
			continue
		}
		return e.perform(ctx, d, runlog.SourcePattern, ""), true
	}
	return executor.Result{}, false
}

// describeCandidate turns a detected candidate into an executable step,
// resolving the persona value for fill-type archetypes. A text input with no
// matching persona value is skipped so a blind guess never lands in a field.
func (e *Engine) describeCandidate(cand pattern.Candidate) (step.Descriptor, bool) {
	d := step.Descriptor{
		Action:    step.ActionClick,
		Target:    cand.Target,
		Archetype: string(cand.Archetype),
	}
	value, haveValue := e.scn.Persona.ValueFor(cand.Name)

	switch cand.Archetype {
	case pattern.TextInput:
		if !haveValue {
			return step.Descriptor{}, false
		}
		d.Action = step.ActionFill
		d.Value = value
	case pattern.Select:
		d.Action = step.ActionSelect
		d.Value = value
	case pattern.Combobox, pattern.Listbox:
		d.Value = value
	case pattern.Radio:
		// No signal which option is right, so pick uniformly among the first
		// two; repeated runs explore both branches. A single-option group
		// only ever has nth=0.
		options := 2
		if cand.Count == 1 {
			options = 1
		}
		d.Target = fmt.Sprintf("%s >> nth=%d", cand.Target, e.rng.Intn(options))
	}
	return d, true
}

// askAI escalates to the decision provider with a screenshot and DOM summary.
// Credential and unknown-model errors abort the run; transient provider
// errors count as a step failure like any other.
func (e *Engine) askAI(ctx context.Context) (executor.Result, error) {
	snapCtx, cancel := snapshot.WithDeadline(ctx, snapshotDeadline)
	defer cancel()

	summary, _ := snapshot.Collect(snapCtx, e.browser)
	shot, err := e.browser.Screenshot(ctx)
	if err != nil {
		e.logger.Debug().Err(err).Msg("screenshot unavailable, sending DOM only")
		shot = nil
	}

	dec, err := e.ai.Decide(ctx, llm.Request{
		Objective:      e.scn.Objective.Text,
		PersonaContext: e.scn.Persona.Summary(),
		Screenshot:     shot,
		DOM:            summary,
		History:        e.recentHistory(),
	})
	if err != nil {
		if errors.Is(err, llm.ErrAuth) || errors.Is(err, llm.ErrModelNotFound) {
			return executor.Result{Err: err}, err
		}
		e.logger.Warn().Err(err).Msg("ai decision failed")
		e.trace.Append(runlog.Step{
			URL:       e.browser.URL(),
			PageTitle: e.browser.Title(),
			Action:    "decide",
			Source:    runlog.SourceAI,
			Error:     err.Error(),
		})
		return executor.Result{Err: err}, nil
	}

	d := step.Descriptor{
		Action:      step.Action(dec.Action),
		Target:      dec.Target,
		Value:       dec.Value,
		Description: dec.Reasoning,
	}
	return e.perform(ctx, d, runlog.SourceAI, dec.Reasoning), nil
}

func (e *Engine) recentHistory() []string {
	steps := e.trace.Steps()
	if len(steps) > historyWindow {
		steps = steps[len(steps)-historyWindow:]
	}
	out := make([]string, 0, len(steps))
	for _, s := range steps {
		line := fmt.Sprintf("%s %s", s.Action, s.Target)
		if !s.Success {
			line += " (failed)"
		}
		out = append(out, line)
	}
	return out
}

// perform executes one descriptor and appends the trace entry. Successful
// non-cache steps accumulate into the current page's future cached path.
func (e *Engine) perform(ctx context.Context, d step.Descriptor, src runlog.Source, reasoning string) executor.Result {
	res := e.exec.Execute(ctx, d)

	entry := runlog.Step{
		URL:       e.browser.URL(),
		PageTitle: e.browser.Title(),
		Action:    string(d.Action),
		Target:    d.Target,
		Value:     d.Value,
		Reasoning: reasoning,
		Source:    src,
		UsedCache: src == runlog.SourceCache,
		Duration:  res.Duration,
		Success:   res.Success,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
	}
	e.trace.Append(entry)

	if res.Success && src != runlog.SourceCache {
		e.pageSteps = append(e.pageSteps, d)
	}
	return res
}

// awaitCaptcha parks the run until the challenge clears or the wait ceiling
// elapses. An elapsed ceiling is logged as a failed step and feeds the
// consecutive-failure threshold.
func (e *Engine) awaitCaptcha(ctx context.Context, state terminal.State) {
	err := e.detector.AwaitCaptcha(ctx, e.browser)
	entry := runlog.Step{
		URL:     e.browser.URL(),
		Action:  string(step.ActionWait),
		Target:  "captcha",
		Source:  runlog.SourceTerminal,
		Success: err == nil,
	}
	if err != nil {
		entry.Error = err.Error()
		e.consecFails++
	} else {
		entry.Value = state.Reason
		e.consecFails = 0
	}
	e.trace.Append(entry)
}

// paymentFields maps card data to the selectors payment iframes conventionally
// use. Every fill is scoped to the detected frame; the executor refuses these
// selectors top-level.
func paymentFields(card persona.Card) []struct{ sel, value string } {
	fields := []struct{ sel, value string }{
		{`input[name="cardnumber"], input[name="card_number"], input[autocomplete="cc-number"], input[name="number"]`, card.Number},
		{`input[name="exp-date"], input[name="expiry"], input[autocomplete="cc-exp"]`, card.Expiry},
		{`input[name="cvc"], input[name="cvv"], input[autocomplete="cc-csc"]`, card.CVC},
	}
	if card.Zip != "" {
		fields = append(fields, struct{ sel, value string }{`input[name="postal"], input[autocomplete="postal-code"]`, card.Zip})
	}
	return fields
}

// handlePayment fills the card form inside the detected payment iframe, then
// submits from the top-level page. Handled once per page; failures feed the
// normal threshold.
func (e *Engine) handlePayment(ctx context.Context, frame string) {
	e.handledPayment = true
	e.logger.Info().Str("frame", frame).Msg("payment iframe detected, filling card details")

	allOK := true
	for _, f := range paymentFields(e.scn.Persona.Card) {
		d := step.Descriptor{
			Action: step.ActionFill,
			Target: f.sel,
			Value:  f.value,
			Frame:  frame,
		}
		res := e.perform(ctx, d, runlog.SourceTerminal, "")
		if !res.Success {
			allOK = false
			e.consecFails++
			if browser.IsSessionClosed(res.Err) {
				return
			}
		}
	}
	if !allOK {
		return
	}
	e.consecFails = 0

	submit := step.Descriptor{
		Action:      step.ActionClick,
		Target:      `button:has-text("Pay"), button:has-text("Submit"), button:has-text("Complete"), button[type="submit"]`,
		Description: "submit payment",
	}
	if res := e.perform(ctx, submit, runlog.SourceTerminal, ""); !res.Success {
		e.consecFails++
	}
}

func (e *Engine) finish(success bool, reason string) runlog.Outcome {
	out := e.trace.Finish(success, e.browser.URL(), reason)
	evt := e.logger.Info()
	if !success {
		evt = e.logger.Warn()
	}
	evt.Str("run_id", out.RunID).
		Bool("success", out.Success).
		Int("steps", out.Steps).
		Str("reason", out.Reason).
		Msg("run finished")
	return out
}
