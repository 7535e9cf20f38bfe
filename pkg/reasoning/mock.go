package reasoning

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MockBackend is a deterministic offline backend. Echo mode returns the
// prompt unchanged; heuristic mode produces plausible tagged plans from
// keywords so the full loop can run without network access.
type MockBackend struct {
	mode string
}

// NewMockBackend creates a mock backend in the given mode (echo or
// heuristic)
func NewMockBackend(mode string) *MockBackend {
	return &MockBackend{mode: mode}
}

// Name returns the provider name
func (m *MockBackend) Name() string {
	return "mock"
}

// Complete answers deterministically without leaving the process
func (m *MockBackend) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	switch m.mode {
	case "echo":
		return req.Prompt, nil
	case "heuristic":
		return m.heuristic(req.Prompt), nil
	default:
		return "", fmt.Errorf("unknown mock mode %q", m.mode)
	}
}

func (m *MockBackend) heuristic(prompt string) string {
	lower := strings.ToLower(prompt)

	if strings.Contains(lower, "rate the complexity") {
		return strconv.Itoa(scoreByStructure(requestLine(prompt)))
	}

	if strings.Contains(lower, `"kind": "repair"`) {
		return mustJSON(map[string]any{
			"kind":      "repair",
			"strategy":  "retry",
			"reasoning": "retrying with the same parameters",
		})
	}

	if strings.Contains(lower, `"kind": "outline"`) {
		return outlineJSON(requestLine(prompt))
	}

	request := requestLine(prompt)
	lowReq := strings.ToLower(request)

	switch {
	case containsAny(lowReq, "remind", "todo", "task", "buy"):
		return planJSON("todo", "add", map[string]any{"title": request}, 0.8)
	case containsAny(lowReq, "what time", "date", "clock", "today"):
		return planJSON("clock", "now", map[string]any{}, 0.85)
	case containsAny(lowReq, "calculate", "compute", "sum of", "how much is"):
		return planJSON("calculator", "eval", map[string]any{"expression": request}, 0.8)
	case containsAny(lowReq, "note", "write down", "remember that"):
		return planJSON("notes", "add", map[string]any{"text": request}, 0.75)
	default:
		return mustJSON(map[string]any{
			"kind":      "clarification",
			"question":  "Could you tell me more about what you need?",
			"reasoning": "no capability matched the request",
		})
	}
}

// requestLine pulls the user request out of a decision prompt; falls back
// to the whole prompt when the marker is absent
func requestLine(prompt string) string {
	for _, line := range strings.Split(prompt, "\n") {
		if rest, ok := strings.CutPrefix(line, "User request:"); ok {
			return strings.TrimSpace(rest)
		}
	}
	return strings.TrimSpace(prompt)
}

func scoreByStructure(request string) int {
	score := 2
	lower := strings.ToLower(request)
	score += 2 * strings.Count(lower, " and ")
	score += 2 * strings.Count(lower, " then ")
	if len(request) > 120 {
		score += 2
	}
	if score > 10 {
		score = 10
	}
	return score
}

func planJSON(capability, action string, params map[string]any, confidence float64) string {
	return mustJSON(map[string]any{
		"kind":       "plan",
		"confidence": confidence,
		"reasoning":  fmt.Sprintf("matched %s.%s by keyword", capability, action),
		"steps": []map[string]any{{
			"capability": capability,
			"action":     action,
			"params":     params,
			"essential":  true,
		}},
	})
}

// outlineJSON decomposes a request into sequential sub-goals by splitting
// on conjunctions, each goal depending on the previous one
func outlineJSON(request string) string {
	parts := []string{request}
	for _, sep := range []string{" and then ", ", then ", " then ", " and "} {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}

	goals := make([]map[string]any, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.Trim(p, ",."))
		if p == "" {
			continue
		}
		goal := map[string]any{
			"id":          fmt.Sprintf("g%d", len(goals)+1),
			"description": p,
		}
		if len(goals) > 0 {
			goal["depends_on"] = []string{fmt.Sprintf("g%d", len(goals))}
		}
		goals = append(goals, goal)
	}

	return mustJSON(map[string]any{
		"kind":      "outline",
		"reasoning": "split the request on conjunctions",
		"goals":     goals,
	})
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
