// Package cache persists previously successful step sequences keyed by page
// identity, so later runs replay known paths instead of re-deriving them (or
// paying for an AI decision).
//
// Entries never block progress: lookups on unknown keys return a miss, and a
// failed replay falls through to pattern matching upstream.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/launchcheck/funnel-harness/internal/step"
)

// Entry is the cached record for one page identity. Steps always hold the
// most recent successful path, not the first one found.
type Entry struct {
	PageKey       string            `json:"page_key"`
	Steps         []step.Descriptor `json:"steps"`
	SuccessCount  int               `json:"success_count"`
	TotalAttempts int               `json:"total_attempts"`
	LastSuccess   time.Time         `json:"last_success,omitempty"`
}

// Stats aggregates the whole store.
type Stats struct {
	PageCount          int     `json:"page_count"`
	TotalSteps         int     `json:"total_steps"`
	TotalSuccesses     int     `json:"total_successes"`
	TotalAttempts      int     `json:"total_attempts"`
	OverallSuccessRate float64 `json:"overall_success_rate"`
}

// Cache is the in-memory view over the persisted JSON document. Counters are
// cumulative across process lifetimes and reset only by Clear.
type Cache struct {
	mu      sync.Mutex
	path    string
	entries map[string]*Entry
}

// Load reads the store at path. A missing file yields an empty cache; a
// corrupt file is an error so a bad store never silently eats history.
func Load(path string) (*Cache, error) {
	c := &Cache{path: path, entries: map[string]*Entry{}}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", path, err)
	}
	var doc persistedDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse cache %s: %w", path, err)
	}
	for i := range doc.Entries {
		e := doc.Entries[i]
		c.entries[e.PageKey] = &e
	}
	return c, nil
}

type persistedDoc struct {
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

// Lookup returns a copy of the entry for key, or ok=false on a miss. It never
// mutates state.
func (c *Cache) Lookup(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(e), true
}

// RecordAttempt updates counters for key and persists the store. The attempt
// counter always increments; steps, the success counter and the last-success
// stamp only move on success, so the entry tracks the latest path that
// actually worked.
func (c *Cache) RecordAttempt(key string, steps []step.Descriptor, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &Entry{PageKey: key}
		c.entries[key] = e
	}
	e.TotalAttempts++
	if success {
		e.SuccessCount++
		e.Steps = append([]step.Descriptor(nil), steps...)
		e.LastSuccess = time.Now().UTC()
	}
	return c.persistLocked()
}

// Stats is a pure aggregate read; calling it twice without intervening
// writes returns identical values.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var s Stats
	s.PageCount = len(c.entries)
	for _, e := range c.entries {
		s.TotalSteps += len(e.Steps)
		s.TotalSuccesses += e.SuccessCount
		s.TotalAttempts += e.TotalAttempts
	}
	if s.TotalAttempts > 0 {
		s.OverallSuccessRate = float64(s.TotalSuccesses) / float64(s.TotalAttempts)
	}
	return s
}

// Clear empties both memory and the persisted document.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*Entry{}
	return c.persistLocked()
}

// Entries returns all entries sorted by page key, for inspection tooling.
func (c *Cache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageKey < out[j].PageKey })
	return out
}

// persistLocked writes the full document via tmp+rename so a crash mid-write
// never leaves a truncated store.
func (c *Cache) persistLocked() error {
	if c.path == "" {
		return nil
	}
	doc := persistedDoc{SavedAt: time.Now().UTC()}
	for _, e := range c.entries {
		doc.Entries = append(doc.Entries, copyEntry(e))
	}
	sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].PageKey < doc.Entries[j].PageKey })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace cache: %w", err)
	}
	return nil
}

func copyEntry(e *Entry) Entry {
	out := *e
	out.Steps = append([]step.Descriptor(nil), e.Steps...)
	return out
}
