// Package runlog accumulates the step-by-step trace of one scenario run.
// Append-only: logStep is the sole mutator, nothing is edited retroactively,
// and the reporting collaborator reads a copy at run end.
package runlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Source records which layer produced a step.
type Source string

const (
	SourceCache    Source = "cache"
	SourcePattern  Source = "pattern"
	SourceAI       Source = "ai"
	SourceHandler  Source = "handler"
	SourceTerminal Source = "terminal"
)

// Step is one log entry.
type Step struct {
	Index     int           `json:"index"`
	URL       string        `json:"url"`
	PageTitle string        `json:"page_title,omitempty"`
	Action    string        `json:"action"`
	Target    string        `json:"target,omitempty"`
	Value     string        `json:"value,omitempty"`
	Reasoning string        `json:"reasoning,omitempty"` // AI steps only
	Source    Source        `json:"source"`
	UsedCache bool          `json:"used_cache"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// Outcome is the terminal verdict handed to the reporting collaborator. No
// partial-success state exists.
type Outcome struct {
	RunID      string    `json:"run_id"`
	Success    bool      `json:"success"`
	Steps      int       `json:"steps"`
	FinalURL   string    `json:"final_url"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

type Log struct {
	mu      sync.Mutex
	runID   string
	started time.Time
	steps   []Step
}

func New() *Log {
	return &Log{
		runID:   uuid.NewString(),
		started: time.Now().UTC(),
	}
}

func (l *Log) RunID() string { return l.runID }

// Append records one step, assigning its index.
func (l *Log) Append(s Step) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.Index = len(l.steps) + 1
	l.steps = append(l.steps, s)
}

// Steps returns a copy of the trace so far. Safe to call mid-run for
// diagnostics after an abandoned session.
func (l *Log) Steps() []Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Step(nil), l.steps...)
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.steps)
}

// Finish stamps the outcome with the run identity and step count.
func (l *Log) Finish(success bool, finalURL, reason string) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Outcome{
		RunID:      l.runID,
		Success:    success,
		Steps:      len(l.steps),
		FinalURL:   finalURL,
		Reason:     reason,
		StartedAt:  l.started,
		FinishedAt: time.Now().UTC(),
	}
}
