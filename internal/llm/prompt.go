package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

const systemPrompt = `You are driving a browser through a business-formation signup funnel.
You receive the current page (screenshot and/or DOM summary), the objective, persona data and recent step history.
Respond with a SINGLE JSON object and NOTHING else:
{"action":"click|fill|select|wait","target":"<css selector>","value":"<input text, if any>","reasoning":"<one sentence>","confidence":0.0-1.0}
Rules:
1. Prefer selectors that appear in the DOM summary's elements.
2. "fill" and "select" need a value taken from the persona context.
3. Use "wait" with a selector only when the page is clearly still loading.
4. Never invent data that is not in the persona context.`

func buildUserMessage(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "OBJECTIVE: %s\n", req.Objective)
	if req.PersonaContext != "" {
		fmt.Fprintf(&b, "PERSONA: %s\n", req.PersonaContext)
	}
	if len(req.History) > 0 {
		b.WriteString("RECENT STEPS:\n")
		for _, h := range req.History {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}
	fmt.Fprintf(&b, "PAGE: %s\n", req.DOM.CompactJSON())
	b.WriteString("\nOUTPUT (strict JSON, no text outside the object):")
	return b.String()
}

// parseDecision extracts the first JSON object from the model output. Models
// occasionally wrap the object in prose or fences; the scanner below is
// string-aware so braces inside values do not confuse it.
func parseDecision(text string) (Decision, error) {
	jsonStr, err := extractJSON(text)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: raw=%q", err, clip(text, 200))
	}
	var dec Decision
	if err := json.Unmarshal([]byte(jsonStr), &dec); err != nil {
		return Decision{}, fmt.Errorf("decision json parse: %w", err)
	}
	dec.Action = strings.ToLower(strings.TrimSpace(dec.Action))
	dec.Target = strings.TrimSpace(dec.Target)
	if dec.Action == "" {
		return Decision{}, fmt.Errorf("decision has no action: %q", jsonStr)
	}
	return dec, nil
}

func extractJSON(text string) (string, error) {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			inStr = !inStr
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", fmt.Errorf("json object not found")
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
