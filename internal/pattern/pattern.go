// Package pattern is the static knowledge of how to recognize and interact
// with each UI archetype in the funnel. Every archetype carries a detector
// and an ordered list of interaction methods; the executor walks the list
// until one method lands. New archetypes are added by appending a Pattern,
// not by growing a conditional chain.
package pattern

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/launchcheck/funnel-harness/internal/browser"
	"github.com/launchcheck/funnel-harness/internal/step"
)

// Archetype is a category of interactive UI element.
type Archetype string

const (
	Modal     Archetype = "modal"
	Combobox  Archetype = "combobox"
	Select    Archetype = "select"
	Radio     Archetype = "radio"
	Card      Archetype = "card"
	Listbox   Archetype = "listbox"
	TextInput Archetype = "textinput"
	Button    Archetype = "button"
)

// Candidate is a detected interaction target.
type Candidate struct {
	Archetype Archetype
	Target    string // selector to act on
	Name      string // field-name hint for persona value mapping, may be empty
	Count     int    // matching elements, when the detector counts them; 0 means unknown
}

// Method is one way of performing the interaction. Methods are pure apart
// from the browser side effect itself.
type Method struct {
	Name string
	Run  func(ctx context.Context, b browser.Controller, target, value string) error
}

// Pattern couples an archetype's detector with its ordered method list.
type Pattern struct {
	Archetype Archetype
	Detect    func(ctx context.Context, b browser.Controller) (Candidate, bool)
	Methods   []Method
}

const optionSel = `[role="option"]`

// Library returns the archetype patterns in detection priority order. A
// modal, if present, must be dismissed before anything else is attempted, so
// it leads; buttons close the list because advancing the page is the move of
// last resort on a page that still has unfilled inputs.
func Library() []Pattern {
	return []Pattern{
		{Archetype: Modal, Detect: detectModal, Methods: modalMethods()},
		{Archetype: Combobox, Detect: detectCombobox, Methods: comboboxMethods()},
		{Archetype: Select, Detect: detectSelect, Methods: selectMethods()},
		{Archetype: Radio, Detect: detectRadio, Methods: radioMethods()},
		{Archetype: Card, Detect: detectCard, Methods: cardMethods()},
		{Archetype: Listbox, Detect: detectListbox, Methods: listboxMethods()},
		{Archetype: TextInput, Detect: detectTextInput, Methods: textInputMethods()},
		{Archetype: Button, Detect: detectButton, Methods: buttonMethods()},
	}
}

// MethodsFor returns the ordered method list for a, or nil for an unknown
// archetype.
func MethodsFor(a Archetype) []Method {
	for _, p := range Library() {
		if p.Archetype == a {
			return p.Methods
		}
	}
	return nil
}

// FallbackMethods covers steps with no recorded archetype (cached entries
// from older stores, AI-proposed steps). The list degrades from the precise
// call to a looser one, mirroring the archetype tables.
func FallbackMethods(action step.Action) []Method {
	switch action {
	case step.ActionClick:
		return []Method{
			{Name: "click-selector", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
				return b.Click(ctx, target)
			}},
			{Name: "click-text", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
				return b.ClickText(ctx, strings.Trim(target, `"'`), false)
			}},
		}
	case step.ActionFill:
		return []Method{
			{Name: "fill", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
				return b.Fill(ctx, target, value)
			}},
			{Name: "focus-type", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
				if err := b.Focus(ctx, target); err != nil {
					return err
				}
				return b.Type(ctx, target, value, 0)
			}},
		}
	case step.ActionSelect:
		return []Method{
			{Name: "select-label", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
				return b.SelectByLabel(ctx, target, value)
			}},
			{Name: "select-value", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
				return b.SelectByValue(ctx, target, value)
			}},
		}
	case step.ActionWait:
		return []Method{
			{Name: "wait-visible", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
				return b.WaitFor(ctx, target, 5*time.Second)
			}},
		}
	}
	return nil
}

// --- modal ---

const modalSel = `[role="dialog"], [aria-modal="true"], .modal.show`

func detectModal(ctx context.Context, b browser.Controller) (Candidate, bool) {
	if !b.IsVisible(ctx, modalSel) {
		return Candidate{}, false
	}
	return Candidate{Archetype: Modal, Target: modalSel}, true
}

func modalMethods() []Method {
	return []Method{
		{Name: "close-button", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			closers := []string{
				`[aria-label="Close"]`,
				`[aria-label="close"]`,
				`button:has-text("×")`,
				`.modal-close, .close`,
				`button:has-text("Close")`,
				`button:has-text("No thanks")`,
			}
			var lastErr error
			for _, sel := range closers {
				if !b.IsVisible(ctx, sel) {
					continue
				}
				if lastErr = b.Click(ctx, sel); lastErr == nil {
					return nil
				}
			}
			if lastErr == nil {
				lastErr = fmt.Errorf("no close button visible in dialog")
			}
			return lastErr
		}},
		{Name: "escape", Run: func(ctx context.Context, b browser.Controller, _, _ string) error {
			return b.Press(ctx, "body", "Escape")
		}},
		{Name: "backdrop", Run: func(ctx context.Context, b browser.Controller, _, _ string) error {
			return b.Click(ctx, `.modal-backdrop, [data-testid="modal-overlay"], .overlay`)
		}},
	}
}

// --- combobox ---

const comboboxSel = `[role="combobox"], input[aria-autocomplete="list"]`

func detectCombobox(ctx context.Context, b browser.Controller) (Candidate, bool) {
	if !b.IsVisible(ctx, comboboxSel) {
		return Candidate{}, false
	}
	return Candidate{Archetype: Combobox, Target: comboboxSel, Name: nameHint(ctx, b, comboboxSel)}, true
}

func comboboxMethods() []Method {
	return []Method{
		{Name: "type-filter", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
			if err := b.Click(ctx, target); err != nil {
				return err
			}
			if value != "" {
				if err := b.Type(ctx, target, value, 0); err != nil {
					return err
				}
			}
			if err := b.WaitFor(ctx, optionSel, 3*time.Second); err != nil {
				return err
			}
			return b.Click(ctx, optionSel)
		}},
		{Name: "arrow-enter", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			if err := b.Click(ctx, target); err != nil {
				return err
			}
			if err := b.Press(ctx, target, "ArrowDown"); err != nil {
				return err
			}
			return b.Press(ctx, target, "Enter")
		}},
		{Name: "first-option", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			if err := b.Click(ctx, target); err != nil {
				return err
			}
			return b.Click(ctx, optionSel)
		}},
	}
}

// --- native select ---

const selectSel = `select`

func detectSelect(ctx context.Context, b browser.Controller) (Candidate, bool) {
	if !b.IsVisible(ctx, selectSel) {
		return Candidate{}, false
	}
	if v, err := b.InputValue(ctx, selectSel); err == nil && v != "" {
		// Already chosen; nothing for this archetype to do.
		return Candidate{}, false
	}
	return Candidate{Archetype: Select, Target: selectSel, Name: nameHint(ctx, b, selectSel)}, true
}

func selectMethods() []Method {
	return []Method{
		{Name: "set-by-label-or-value", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
			if err := b.SelectByLabel(ctx, target, value); err == nil {
				return nil
			}
			return b.SelectByValue(ctx, target, value)
		}},
		{Name: "click-option", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
			if err := b.Click(ctx, target); err != nil {
				return err
			}
			if value != "" {
				return b.Click(ctx, fmt.Sprintf(`%s option:has-text(%q)`, target, value))
			}
			return b.Click(ctx, target+" option")
		}},
	}
}

// --- radio group ---

const radioSel = `input[type="radio"]`

func detectRadio(ctx context.Context, b browser.Controller) (Candidate, bool) {
	n, err := b.Count(ctx, radioSel)
	if err != nil || n == 0 {
		return Candidate{}, false
	}
	if v, verr := b.InputValue(ctx, radioSel+":checked"); verr == nil && v != "" {
		return Candidate{}, false
	}
	name, _ := b.AttrValue(ctx, radioSel, "name")
	target := radioSel
	if name != "" {
		target = fmt.Sprintf(`input[type="radio"][name=%q]`, name)
	}
	return Candidate{Archetype: Radio, Target: target, Name: name, Count: n}, true
}

func radioMethods() []Method {
	return []Method{
		{Name: "click-label", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			return b.Click(ctx, fmt.Sprintf("label:has(%s)", target))
		}},
		{Name: "click-input", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			return b.Click(ctx, target)
		}},
		{Name: "keyboard", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			if err := b.Focus(ctx, target); err != nil {
				return err
			}
			if err := b.Press(ctx, target, "ArrowDown"); err != nil {
				return err
			}
			return b.Press(ctx, target, " ")
		}},
	}
}

// --- card selection ---

const cardSel = `[data-testid*="card"], [class*="plan-card"], [class*="card"][class*="option"]`

func detectCard(ctx context.Context, b browser.Controller) (Candidate, bool) {
	if !b.IsVisible(ctx, cardSel) {
		return Candidate{}, false
	}
	return Candidate{Archetype: Card, Target: cardSel}, true
}

func cardMethods() []Method {
	return []Method{
		{Name: "click-container", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			return b.Click(ctx, target)
		}},
		{Name: "click-embedded-radio", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			return b.Click(ctx, target+` input[type="radio"]`)
		}},
		{Name: "click-by-text", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			text, err := b.TextContent(ctx, target)
			if err != nil {
				return err
			}
			text = firstLine(text)
			if text == "" {
				return fmt.Errorf("card has no visible text")
			}
			return b.ClickText(ctx, text, false)
		}},
	}
}

// --- listbox ---

const listboxSel = `[role="listbox"]`

func detectListbox(ctx context.Context, b browser.Controller) (Candidate, bool) {
	if !b.IsVisible(ctx, listboxSel) {
		return Candidate{}, false
	}
	return Candidate{Archetype: Listbox, Target: listboxSel, Name: nameHint(ctx, b, listboxSel)}, true
}

func listboxMethods() []Method {
	return []Method{
		{Name: "first-option", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			return b.Click(ctx, target+" "+optionSel)
		}},
		{Name: "type-filter", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
			if value == "" {
				return fmt.Errorf("no value to filter by")
			}
			if err := b.Type(ctx, target, value, 0); err != nil {
				return err
			}
			return b.Click(ctx, fmt.Sprintf(`%s [role="option"]:has-text(%q)`, target, value))
		}},
		{Name: "arrow-enter", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			if err := b.Focus(ctx, target); err != nil {
				return err
			}
			if err := b.Press(ctx, target, "ArrowDown"); err != nil {
				return err
			}
			return b.Press(ctx, target, "Enter")
		}},
	}
}

// --- text input ---

// knownFieldNames are probed before the generic input selector so an exact
// name match wins over plain DOM order.
var knownFieldNames = []string{
	"firstName", "first_name", "lastName", "last_name",
	"email", "phone", "businessName", "business_name", "companyName",
	"address", "address1", "street", "city", "state", "zip", "postalCode",
	"name",
}

const genericInputSel = `input[type="text"], input[type="email"], input[type="tel"], input:not([type]), textarea`

func detectTextInput(ctx context.Context, b browser.Controller) (Candidate, bool) {
	for _, name := range knownFieldNames {
		sel := fmt.Sprintf(`input[name=%q], input[id=%q]`, name, name)
		if !b.IsVisible(ctx, sel) {
			continue
		}
		if v, err := b.InputValue(ctx, sel); err == nil && v != "" {
			continue
		}
		return Candidate{Archetype: TextInput, Target: sel, Name: name}, true
	}
	if !b.IsVisible(ctx, genericInputSel) {
		return Candidate{}, false
	}
	if v, err := b.InputValue(ctx, genericInputSel); err == nil && v != "" {
		return Candidate{}, false
	}
	return Candidate{Archetype: TextInput, Target: genericInputSel, Name: nameHint(ctx, b, genericInputSel)}, true
}

func textInputMethods() []Method {
	return []Method{
		{Name: "clear-and-set", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
			return b.Fill(ctx, target, value)
		}},
		{Name: "focus-type", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
			if err := b.Focus(ctx, target); err != nil {
				return err
			}
			return b.Type(ctx, target, value, 0)
		}},
		{Name: "focus-type-slow", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
			if err := b.Focus(ctx, target); err != nil {
				return err
			}
			return b.Type(ctx, target, value, 80*time.Millisecond)
		}},
	}
}

// --- button ---

// advanceTexts are the continuation labels a signup funnel uses, most
// specific first.
var advanceTexts = []string{"Continue", "Next", "Get Started", "Submit", "Save and Continue", "Agree and Continue", "Save"}

func detectButton(ctx context.Context, b browser.Controller) (Candidate, bool) {
	for _, text := range advanceTexts {
		sel := fmt.Sprintf(`button:has-text(%q), [role="button"]:has-text(%q)`, text, text)
		if b.IsVisible(ctx, sel) {
			return Candidate{Archetype: Button, Target: sel, Name: text}, true
		}
	}
	sel := `button[type="submit"]`
	if b.IsVisible(ctx, sel) {
		return Candidate{Archetype: Button, Target: sel}, true
	}
	return Candidate{}, false
}

func buttonMethods() []Method {
	return []Method{
		{Name: "click-by-text", Run: func(ctx context.Context, b browser.Controller, target, _ string) error {
			return b.Click(ctx, target)
		}},
		{Name: "click-by-role", Run: func(ctx context.Context, b browser.Controller, target, value string) error {
			name := value
			if name == "" {
				name = buttonName(target)
			}
			return b.ClickRole(ctx, "button", name)
		}},
		{Name: "click-by-position", Run: func(ctx context.Context, b browser.Controller, _, _ string) error {
			return b.Click(ctx, "form button >> nth=-1")
		}},
	}
}

// buttonName recovers the visible label embedded in a :has-text selector.
func buttonName(target string) string {
	start := strings.Index(target, `has-text("`)
	if start < 0 {
		return ""
	}
	rest := target[start+len(`has-text("`):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	return rest[:end]
}

// nameHint pulls the best available field-name signal off the first match.
func nameHint(ctx context.Context, b browser.Controller, selector string) string {
	for _, attr := range []string{"name", "id", "aria-label", "placeholder"} {
		if v, err := b.AttrValue(ctx, selector, attr); err == nil && v != "" {
			return v
		}
	}
	return ""
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:60]
	}
	return strings.TrimSpace(s)
}
