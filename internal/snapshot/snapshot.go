// Package snapshot builds a compact view of the current page for the AI
// decision provider: URL, title, a slice of visible text, and the most
// relevant interactive elements harvested from the DOM (including accessible
// iframes and shadow roots).
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Source is the subset of browser capabilities snapshotting needs. The
// browser Controller satisfies it.
type Source interface {
	URL() string
	Title() string
	VisibleText(ctx context.Context) (string, error)
	Eval(ctx context.Context, script string, arg any) (any, error)
}

// Element describes one interactive node.
type Element struct {
	Role string `json:"role"`
	Text string `json:"text"`
	Attr string `json:"attr"`
	Sel  string `json:"selector"`
}

// Summary is a compact view of the current page.
type Summary struct {
	URL      string    `json:"url"`
	Title    string    `json:"title"`
	Visible  string    `json:"visible"`
	Elements []Element `json:"elements"`
}

const (
	harvestLimit = 200
	keepTop      = 80
	visibleMax   = 1200
)

// Collect harvests the page. Harvest errors degrade to a summary with no
// elements rather than failing the caller; the AI provider can still reason
// over the screenshot.
func Collect(ctx context.Context, src Source) (Summary, error) {
	text, _ := src.VisibleText(ctx)
	if len(text) > visibleMax {
		text = text[:visibleMax]
	}

	elems, err := harvest(ctx, src, harvestLimit)
	if err != nil {
		elems = nil
	}

	return Summary{
		URL:      src.URL(),
		Title:    src.Title(),
		Visible:  strings.TrimSpace(text),
		Elements: rank(elems, keepTop),
	}, nil
}

func (s Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTITLE: %s\nTEXT: %s\nELEMENTS:\n", s.URL, s.Title, s.Visible)
	for i, el := range s.Elements {
		fmt.Fprintf(&b, "%d) role=%s text=%q attr=%s sel=%s\n", i+1, el.Role, el.Text, el.Attr, el.Sel)
	}
	return b.String()
}

// CompactJSON renders the summary for prompt embedding.
func (s Summary) CompactJSON() string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// WithDeadline shortens ctx so a slow snapshot never stalls the step loop.
func WithDeadline(ctx context.Context, dur time.Duration) (context.Context, context.CancelFunc) {
	if dur <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, dur)
}

const harvestScript = `(limit) => {
	function scan(root, pick) {
		if (!root || pick.length >= limit) return;
		try {
			const nodes = root.querySelectorAll("a,button,input,select,textarea,label,[role],[tabindex],[data-testid],[onclick]");
			for (const el of nodes) {
				if (pick.length >= limit) break;
				const rect = el.getBoundingClientRect();
				if (rect.width === 0 && rect.height === 0) continue;
				const role = el.getAttribute("role") || el.tagName.toLowerCase();
				const attrs = ["name","id","aria-label","placeholder","type","value","data-testid"]
					.map(a => a + ":" + (el.getAttribute(a) || "")).join("|");
				const text = (el.innerText || el.textContent || el.value || "").trim().slice(0, 120);
				if (!text && !attrs.replace(/[a-z-]+:/g, "").replace(/\|/g, "")) continue;

				let sel = "";
				if (el.id) {
					sel = "#" + el.id;
				} else if (el.getAttribute("name")) {
					sel = el.tagName.toLowerCase() + "[name=\"" + el.getAttribute("name") + "\"]";
				} else if (el.getAttribute("data-testid")) {
					sel = "[data-testid=\"" + el.getAttribute("data-testid") + "\"]";
				} else {
					const tag = el.tagName.toLowerCase();
					const siblings = Array.from(el.parentElement ? el.parentElement.children : []);
					const idx = siblings.filter(c => c.tagName === el.tagName).indexOf(el) + 1;
					if (idx > 0) sel = tag + ":nth-of-type(" + idx + ")";
				}
				pick.push({role, text, attr: attrs, selector: sel});
				if (el.shadowRoot) scan(el.shadowRoot, pick);
			}
		} catch (e) {}
	}

	const pick = [];
	scan(document, pick);
	for (const iframe of document.querySelectorAll("iframe")) {
		if (pick.length >= limit) break;
		try {
			const doc = iframe.contentDocument || (iframe.contentWindow && iframe.contentWindow.document);
			if (doc) scan(doc, pick);
		} catch (e) {} // cross-origin
	}
	return pick;
}`

func harvest(ctx context.Context, src Source, limit int) ([]Element, error) {
	val, err := src.Eval(ctx, harvestScript, limit)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	var elems []Element
	if err := json.Unmarshal(raw, &elems); err != nil {
		return nil, err
	}
	return elems, nil
}

// rank keeps the elements most useful for deciding the next funnel action.
// Stable over equal scores, so DOM order is preserved within a tier.
func rank(elems []Element, maxCount int) []Element {
	if len(elems) <= maxCount {
		return elems
	}
	type scored struct {
		el    Element
		score int
	}
	kept := make([]scored, 0, len(elems))
	for _, el := range elems {
		if s := score(el); s > 0 {
			kept = append(kept, scored{el, s})
		}
	}
	// Insertion sort keeps ties in DOM order.
	for i := 1; i < len(kept); i++ {
		for j := i; j > 0 && kept[j].score > kept[j-1].score; j-- {
			kept[j], kept[j-1] = kept[j-1], kept[j]
		}
	}
	out := make([]Element, 0, maxCount)
	for i := 0; i < len(kept) && i < maxCount; i++ {
		out = append(out, kept[i].el)
	}
	return out
}

func score(el Element) int {
	s := 0
	attr := strings.ToLower(el.Attr)

	switch el.Role {
	case "input", "select", "textarea", "combobox", "listbox", "radio", "checkbox":
		s += 8 // form controls are what a funnel step acts on
	case "button", "link", "a":
		s += 5
	case "generic", "presentation", "":
	default:
		s += 3
	}
	if strings.Contains(attr, "name:") && !strings.Contains(attr, "name:|") {
		s += 3
	}
	if strings.Contains(attr, "placeholder:") && !strings.Contains(attr, "placeholder:|") {
		s += 2
	}
	if len(el.Text) > 0 && len(el.Text) < 200 {
		s += 2
	}
	if el.Sel == "" {
		s -= 4
	}
	if len(el.Text) > 500 {
		s -= 3
	}
	return s
}
