package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harun/nara/pkg/capability"
)

const outlineSystem = `You are the planning stage of a personal assistant. You break a complex request into small concrete sub-goals that can each be satisfied with one or two capability calls. You respond with JSON only.`

const outlineFormat = `Respond with only a JSON object:

{"kind": "outline", "reasoning": "one sentence on how you split the request", "goals": [{"id": "g1", "description": "...", "depends_on": []}]}

Rules:
- every goal needs an id and a description
- depends_on lists the ids of goals that must finish first; leave it empty when the goal can run right away
- goals that could run in any order must not depend on each other
- do not wrap the JSON in markdown fences`

func outlinePrompt(request string, catalog []capability.Descriptor, maxGoals int) string {
	var b strings.Builder

	if len(catalog) > 0 {
		b.WriteString("# Available capabilities\n")
		for _, d := range catalog {
			fmt.Fprintf(&b, "- %s: %s\n", d.Name, d.Description)
		}
		b.WriteString("\n")
	}

	b.WriteString("# Task\n")
	fmt.Fprintf(&b, "Break the request below into at most %d sub-goals. Each goal should be small enough to satisfy with the capabilities above. Keep goals concrete and ordered.\n\n", maxGoals)
	fmt.Fprintf(&b, "User request: %s\n\n", request)
	b.WriteString(outlineFormat)

	return b.String()
}

type wireOutline struct {
	Kind      string     `json:"kind"`
	Reasoning string     `json:"reasoning"`
	Goals     []wireGoal `json:"goals"`
}

type wireGoal struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on"`
}

// parseOutline decodes and validates an outline response. It auto-assigns
// missing goal IDs and rejects duplicates, unknown dependencies and cycles.
func parseOutline(raw string, maxGoals int) ([]Goal, string, error) {
	doc := firstJSON(raw)
	if doc == "" {
		return nil, "", fmt.Errorf("no JSON object in outline response")
	}

	var wire wireOutline
	if err := json.Unmarshal([]byte(doc), &wire); err != nil {
		return nil, "", fmt.Errorf("malformed outline JSON: %w", err)
	}
	if wire.Kind != "outline" {
		return nil, "", fmt.Errorf("expected kind outline, got %q", wire.Kind)
	}
	if len(wire.Goals) == 0 {
		return nil, "", fmt.Errorf("outline has no goals")
	}
	if len(wire.Goals) > maxGoals {
		return nil, "", fmt.Errorf("outline has %d goals, limit is %d", len(wire.Goals), maxGoals)
	}

	goals := make([]Goal, 0, len(wire.Goals))
	for i, wg := range wire.Goals {
		if strings.TrimSpace(wg.Description) == "" {
			return nil, "", fmt.Errorf("goal %d has no description", i+1)
		}
		id := wg.ID
		if id == "" {
			id = fmt.Sprintf("g%d", i+1)
		}
		goals = append(goals, Goal{
			ID:          id,
			Description: strings.TrimSpace(wg.Description),
			DependsOn:   wg.DependsOn,
		})
	}

	if err := validateGoals(goals); err != nil {
		return nil, "", err
	}
	return goals, strings.TrimSpace(wire.Reasoning), nil
}

func validateGoals(goals []Goal) error {
	ids := make(map[string]bool, len(goals))
	for _, g := range goals {
		if ids[g.ID] {
			return fmt.Errorf("duplicate goal ID %s", g.ID)
		}
		ids[g.ID] = true
	}

	for _, g := range goals {
		for _, dep := range g.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("goal %s depends on unknown goal %s", g.ID, dep)
			}
		}
	}

	graph := make(map[string][]string, len(goals))
	for _, g := range goals {
		graph[g.ID] = g.DependsOn
	}

	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		recStack[id] = true
		for _, dep := range graph[id] {
			if !visited[dep] {
				if hasCycle(dep) {
					return true
				}
			} else if recStack[dep] {
				return true
			}
		}
		recStack[id] = false
		return false
	}

	for _, g := range goals {
		if !visited[g.ID] {
			if hasCycle(g.ID) {
				return fmt.Errorf("circular dependency involving goal %s", g.ID)
			}
		}
	}
	return nil
}

// firstJSON slices out the outermost JSON object in a response that may
// carry prose or fences around it.
func firstJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return raw[start : end+1]
}
