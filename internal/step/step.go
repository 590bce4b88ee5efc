// Package step defines the immutable step descriptor shared by the cache,
// the executor and the decision engine.
package step

import "fmt"

// Action is the kind of browser interaction a step performs.
type Action string

const (
	ActionClick  Action = "click"
	ActionFill   Action = "fill"
	ActionSelect Action = "select"
	ActionWait   Action = "wait"
)

// Valid reports whether a is one of the four supported actions.
func (a Action) Valid() bool {
	switch a {
	case ActionClick, ActionFill, ActionSelect, ActionWait:
		return true
	}
	return false
}

// Descriptor is a recorded action against a page. Once built it is never
// mutated; replays compare descriptors for equality to detect repeats.
type Descriptor struct {
	Action      Action `json:"action"`
	Target      string `json:"target"`
	Value       string `json:"value,omitempty"`
	Frame       string `json:"frame,omitempty"` // payment-iframe match, empty for top-level
	Archetype   string `json:"archetype,omitempty"`
	Description string `json:"description,omitempty"`
}

// Equal compares the fields that identify an interaction. Description is
// display-only and excluded.
func (d Descriptor) Equal(other Descriptor) bool {
	return d.Action == other.Action &&
		d.Target == other.Target &&
		d.Value == other.Value &&
		d.Frame == other.Frame
}

func (d Descriptor) String() string {
	if d.Value != "" {
		return fmt.Sprintf("%s %s = %q", d.Action, d.Target, d.Value)
	}
	return fmt.Sprintf("%s %s", d.Action, d.Target)
}

// EqualSteps reports whether two sequences replay the same interactions.
func EqualSteps(a, b []Descriptor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
