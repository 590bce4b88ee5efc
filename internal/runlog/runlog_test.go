package runlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsSequentialIndexes(t *testing.T) {
	l := New()
	l.Append(Step{Action: "click", Target: "#a"})
	l.Append(Step{Action: "fill", Target: "#b", Value: "x"})

	steps := l.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Index)
	assert.Equal(t, 2, steps[1].Index)
	assert.Equal(t, 2, l.Len())
}

func TestStepsReturnsCopy(t *testing.T) {
	l := New()
	l.Append(Step{Action: "click", Target: "#a"})
	steps := l.Steps()
	steps[0].Target = "mutated"
	assert.Equal(t, "#a", l.Steps()[0].Target)
}

func TestRunIDsAreUnique(t *testing.T) {
	a, b := New(), New()
	assert.NotEmpty(t, a.RunID())
	assert.NotEqual(t, a.RunID(), b.RunID())
}

func TestFinish(t *testing.T) {
	l := New()
	l.Append(Step{Action: "click", Target: "#a", Success: true})
	l.Append(Step{Action: "click", Target: "#b"})

	out := l.Finish(true, "https://example.com/dashboard", "success url /dashboard")
	assert.Equal(t, l.RunID(), out.RunID)
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Steps)
	assert.Equal(t, "https://example.com/dashboard", out.FinalURL)
	assert.Equal(t, "success url /dashboard", out.Reason)
	assert.False(t, out.StartedAt.IsZero())
	assert.False(t, out.FinishedAt.Before(out.StartedAt))
}

func TestFinishFailureNeedsNoSteps(t *testing.T) {
	out := New().Finish(false, "https://example.com/stuck", "3 consecutive step failures")
	assert.False(t, out.Success)
	assert.Zero(t, out.Steps)
	assert.WithinDuration(t, time.Now(), out.FinishedAt, time.Minute)
}
