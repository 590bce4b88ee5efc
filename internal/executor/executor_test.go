package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchcheck/funnel-harness/internal/browser"
	"github.com/launchcheck/funnel-harness/internal/step"
)

func newTestExecutor(b browser.Controller) *Executor {
	return New(b, zerolog.Nop())
}

func TestExecuteRejectsInvalidAction(t *testing.T) {
	res := newTestExecutor(&browser.Stub{}).Execute(context.Background(), step.Descriptor{Action: "hover", Target: "#x"})
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "unsupported action")
}

func TestExecuteRejectsEmptyTarget(t *testing.T) {
	res := newTestExecutor(&browser.Stub{}).Execute(context.Background(), step.Descriptor{Action: step.ActionClick})
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "empty target")
}

func TestExecuteFirstMethodWins(t *testing.T) {
	b := &browser.Stub{}
	res := newTestExecutor(b).Execute(context.Background(), step.Descriptor{Action: step.ActionClick, Target: "#next"})
	require.True(t, res.Success)
	assert.Equal(t, "click-selector", res.Method)
	assert.Len(t, b.CallsTo("Click"), 1)
	assert.Empty(t, b.CallsTo("ClickText"))
}

func TestExecuteFallsThroughMethods(t *testing.T) {
	b := &browser.Stub{FailOn: map[string]error{"Click": errors.New("not found")}}
	res := newTestExecutor(b).Execute(context.Background(), step.Descriptor{Action: step.ActionClick, Target: "Continue"})
	require.True(t, res.Success)
	assert.Equal(t, "click-text", res.Method)
}

func TestExecuteSurfacesLastError(t *testing.T) {
	b := &browser.Stub{FailOn: map[string]error{
		"Click":     errors.New("selector miss"),
		"ClickText": errors.New("text miss"),
	}}
	res := newTestExecutor(b).Execute(context.Background(), step.Descriptor{Action: step.ActionClick, Target: "#gone"})
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "text miss")
}

func TestExecuteUsesArchetypeMethods(t *testing.T) {
	b := &browser.Stub{}
	d := step.Descriptor{Action: step.ActionFill, Target: `input[name="email"]`, Value: "a@b.test", Archetype: "textinput"}
	res := newTestExecutor(b).Execute(context.Background(), d)
	require.True(t, res.Success)
	assert.Equal(t, "clear-and-set", res.Method)
}

func TestExecuteArchetypeFallsToTyping(t *testing.T) {
	b := &browser.Stub{FailOn: map[string]error{"Fill": errors.New("fill blocked")}}
	d := step.Descriptor{Action: step.ActionFill, Target: `input[name="email"]`, Value: "a@b.test", Archetype: "textinput"}
	res := newTestExecutor(b).Execute(context.Background(), d)
	require.True(t, res.Success)
	assert.Equal(t, "focus-type", res.Method)
	require.Len(t, b.CallsTo("Type"), 1)
	assert.Equal(t, "a@b.test", b.CallsTo("Type")[0].Value)
}

func TestExecuteStopsOnSessionClosed(t *testing.T) {
	b := &browser.Stub{FailOn: map[string]error{"Click": browser.ErrSessionClosed}}
	res := newTestExecutor(b).Execute(context.Background(), step.Descriptor{Action: step.ActionClick, Target: "#next"})
	assert.False(t, res.Success)
	assert.True(t, browser.IsSessionClosed(res.Err))
	assert.Empty(t, b.CallsTo("ClickText"), "no further methods after the session is gone")
}

func TestExecuteFrameScopedFill(t *testing.T) {
	b := &browser.Stub{}
	d := step.Descriptor{Action: step.ActionFill, Target: `input[name="cardnumber"]`, Value: "4242", Frame: "stripe"}
	res := newTestExecutor(b).Execute(context.Background(), d)
	require.True(t, res.Success)
	assert.Equal(t, "frame-fill", res.Method)
	calls := b.CallsTo("FrameFill")
	require.Len(t, calls, 1)
	assert.Equal(t, `stripe|input[name="cardnumber"]`, calls[0].Selector)
}

func TestExecuteRefusesTopLevelCardFill(t *testing.T) {
	b := &browser.Stub{FrameList: []browser.FrameInfo{{Name: "stripe-card", URL: "https://js.stripe.com/v3"}}}
	d := step.Descriptor{Action: step.ActionFill, Target: `input[name="cardnumber"]`, Value: "4242"}
	res := newTestExecutor(b).Execute(context.Background(), d)
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "payment frame")
	assert.Empty(t, b.CallsTo("Fill"))
}

func TestExecuteAllowsCardFillWithoutPaymentFrame(t *testing.T) {
	// No payment iframe on the page means the field genuinely is top-level.
	b := &browser.Stub{}
	d := step.Descriptor{Action: step.ActionFill, Target: `input[name="cardnumber"]`, Value: "4242"}
	res := newTestExecutor(b).Execute(context.Background(), d)
	assert.True(t, res.Success)
}

func TestExecuteUnsupportedFrameAction(t *testing.T) {
	b := &browser.Stub{}
	d := step.Descriptor{Action: step.ActionSelect, Target: "select", Value: "TX", Frame: "stripe"}
	res := newTestExecutor(b).Execute(context.Background(), d)
	assert.False(t, res.Success)
	assert.ErrorContains(t, res.Err, "not supported inside a frame")
}

func TestSanitizeSelector(t *testing.T) {
	assert.Equal(t, "button .primary", sanitizeSelector("button\n\t.primary"))
	assert.Equal(t, "#next", sanitizeSelector("  #next \r\n"))
	assert.Equal(t, "", sanitizeSelector(" \n "))
}
