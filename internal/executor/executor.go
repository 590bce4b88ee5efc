// Package executor performs a single step descriptor against the live page,
// walking the archetype's interaction methods in priority order until one
// lands. Retry policy above the method list (re-deciding the step) belongs to
// the decision engine, not here.
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/launchcheck/funnel-harness/internal/browser"
	"github.com/launchcheck/funnel-harness/internal/pattern"
	"github.com/launchcheck/funnel-harness/internal/step"
	"github.com/launchcheck/funnel-harness/internal/terminal"
)

// Result is the outcome of one step execution.
type Result struct {
	Success  bool
	Method   string // method that landed, empty on failure
	Duration time.Duration
	Err      error // last underlying error when all methods are exhausted
}

type Executor struct {
	browser browser.Controller
	logger  zerolog.Logger
}

func New(b browser.Controller, logger zerolog.Logger) *Executor {
	return &Executor{browser: b, logger: logger}
}

var cardFieldMarkers = []string{"cardnumber", "card-number", "card_number", "cvc", "cvv", "expiry", "exp-date", "postal"}

// Execute runs one descriptor. Methods come from the step's archetype when it
// has one, otherwise from the generic per-action fallbacks; the first method
// that completes wins, and only the last method's error surfaces.
func (e *Executor) Execute(ctx context.Context, d step.Descriptor) Result {
	start := time.Now()

	if !d.Action.Valid() {
		return Result{Duration: time.Since(start), Err: fmt.Errorf("unsupported action %q", d.Action)}
	}
	target := sanitizeSelector(d.Target)
	if target == "" && d.Action != step.ActionWait {
		return Result{Duration: time.Since(start), Err: fmt.Errorf("empty target for %s step", d.Action)}
	}

	if d.Frame != "" {
		return e.executeFramed(ctx, d, target, start)
	}

	// A top-level fill of card fields while a payment iframe is live would
	// land on the wrong document; refuse rather than silently mistype.
	if d.Action == step.ActionFill && isCardField(target, d.Description) {
		if frame, ok := terminal.PaymentFrame(e.browser.Frames()); ok {
			return Result{
				Duration: time.Since(start),
				Err:      fmt.Errorf("card field fill must be scoped to payment frame %q, not the top-level page", frame),
			}
		}
	}

	methods := pattern.FallbackMethods(d.Action)
	if d.Archetype != "" {
		if m := pattern.MethodsFor(pattern.Archetype(d.Archetype)); m != nil {
			methods = m
		}
	}
	if len(methods) == 0 {
		return Result{Duration: time.Since(start), Err: fmt.Errorf("no methods for action %q", d.Action)}
	}

	var lastErr error
	for _, m := range methods {
		err := m.Run(ctx, e.browser, target, d.Value)
		if err == nil {
			e.logger.Debug().Str("method", m.Name).Str("target", target).Msg("step method succeeded")
			return Result{Success: true, Method: m.Name, Duration: time.Since(start)}
		}
		lastErr = err
		if browser.IsSessionClosed(err) || ctx.Err() != nil {
			break
		}
		// Not-found on a non-final method is expected churn; only the
		// exhausted list is a step failure.
		e.logger.Debug().Err(err).Str("method", m.Name).Msg("step method failed, trying next")
	}
	return Result{Duration: time.Since(start), Err: lastErr}
}

// executeFramed routes a frame-scoped step into the iframe's own document.
func (e *Executor) executeFramed(ctx context.Context, d step.Descriptor, target string, start time.Time) Result {
	var err error
	switch d.Action {
	case step.ActionFill:
		err = e.browser.FrameFill(ctx, d.Frame, target, d.Value)
	case step.ActionClick:
		err = e.browser.FrameClick(ctx, d.Frame, target)
	default:
		err = fmt.Errorf("action %q not supported inside a frame", d.Action)
	}
	if err != nil {
		return Result{Duration: time.Since(start), Err: err}
	}
	return Result{Success: true, Method: "frame-" + string(d.Action), Duration: time.Since(start)}
}

func isCardField(target, description string) bool {
	haystack := strings.ToLower(target + " " + description)
	for _, marker := range cardFieldMarkers {
		if strings.Contains(haystack, marker) {
			return true
		}
	}
	return false
}

// sanitizeSelector strips the control characters a model (or an old cache
// entry) sometimes leaves inside a selector string.
func sanitizeSelector(sel string) string {
	sel = strings.ReplaceAll(sel, "\n", " ")
	sel = strings.ReplaceAll(sel, "\r", " ")
	sel = strings.ReplaceAll(sel, "\t", " ")
	return strings.TrimSpace(strings.Join(strings.Fields(sel), " "))
}
