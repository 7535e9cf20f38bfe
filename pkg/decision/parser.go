package decision

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/harun/nara/pkg/capability"
)

type wirePlan struct {
	Kind            string     `json:"kind"`
	Confidence      *float64   `json:"confidence"`
	ConfidenceLevel string     `json:"confidence_level"`
	Reasoning       string     `json:"reasoning"`
	NeedsInput      bool       `json:"needs_input"`
	Steps           []wireStep `json:"steps"`
	Question        string     `json:"question"`
	Final           *bool      `json:"final"`
}

type wireStep struct {
	Capability  string         `json:"capability"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
	Essential   *bool          `json:"essential"`
	Independent bool           `json:"independent"`
	Note        string         `json:"note"`
}

type wireRepair struct {
	Kind       string    `json:"kind"`
	Strategy   string    `json:"strategy"`
	Invocation *wireStep `json:"invocation"`
	Reasoning  string    `json:"reasoning"`
}

// extractJSON cuts the first JSON object out of a response that may be
// wrapped in markdown fences or prose
func extractJSON(raw string) (string, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return raw[start : end+1], nil
}

// parsePlan strictly parses a tagged plan or clarification. Any schema
// violation is a PlanParseError, never a partially-trusted plan. The
// returned bool reports a confidence level that disagreed with its score.
func parsePlan(raw string) (Plan, bool, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return Plan{}, false, &PlanParseError{Reason: err.Error(), Raw: snippet(raw)}
	}

	var wire wirePlan
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return Plan{}, false, &PlanParseError{Reason: fmt.Sprintf("malformed JSON: %v", err), Raw: snippet(raw)}
	}

	switch wire.Kind {
	case "plan":
		return planFromWire(wire, raw)
	case "clarification":
		if strings.TrimSpace(wire.Question) == "" {
			return Plan{}, false, &PlanParseError{Reason: "clarification without a question", Raw: snippet(raw)}
		}
		return Plan{
			NeedsInput: true,
			Question:   wire.Question,
			Reasoning:  wire.Reasoning,
			Level:      LevelForScore(0),
		}, false, nil
	case "":
		return Plan{}, false, &PlanParseError{Reason: "missing kind tag", Raw: snippet(raw)}
	default:
		return Plan{}, false, &PlanParseError{Reason: fmt.Sprintf("unknown kind %q", wire.Kind), Raw: snippet(raw)}
	}
}

func planFromWire(wire wirePlan, raw string) (Plan, bool, error) {
	if wire.Confidence == nil {
		return Plan{}, false, &PlanParseError{Reason: "plan without confidence", Raw: snippet(raw)}
	}
	if len(wire.Steps) == 0 && !wire.NeedsInput {
		return Plan{}, false, &PlanParseError{Reason: "plan with no steps and no input request", Raw: snippet(raw)}
	}

	steps := make([]capability.Invocation, 0, len(wire.Steps))
	for i, ws := range wire.Steps {
		if strings.TrimSpace(ws.Capability) == "" {
			return Plan{}, false, &PlanParseError{
				Reason: fmt.Sprintf("step %d has no capability", i+1),
				Raw:    snippet(raw),
			}
		}

		essential := true
		if ws.Essential != nil {
			essential = *ws.Essential
		}

		steps = append(steps, capability.Invocation{
			Capability:  ws.Capability,
			Action:      ws.Action,
			Params:      ws.Params,
			StepID:      fmt.Sprintf("step_%d", i+1),
			Essential:   essential,
			Independent: ws.Independent,
			Note:        ws.Note,
		})
	}

	confidence := clamp01(*wire.Confidence)
	level := LevelForScore(confidence)

	// Score wins on disagreement; the mismatch is reported for logging
	mismatch := wire.ConfidenceLevel != "" && ConfidenceLevel(wire.ConfidenceLevel) != level

	final := true
	if wire.Final != nil {
		final = *wire.Final
	}

	return Plan{
		Steps:      steps,
		Confidence: confidence,
		Level:      level,
		Reasoning:  wire.Reasoning,
		NeedsInput: wire.NeedsInput,
		Final:      final,
	}, mismatch, nil
}

// parseRepair strictly parses a repair directive
func parseRepair(raw string) (Repair, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return Repair{}, &PlanParseError{Reason: err.Error(), Raw: snippet(raw)}
	}

	var wire wireRepair
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return Repair{}, &PlanParseError{Reason: fmt.Sprintf("malformed JSON: %v", err), Raw: snippet(raw)}
	}

	if wire.Kind != "repair" {
		return Repair{}, &PlanParseError{Reason: fmt.Sprintf("expected repair, got kind %q", wire.Kind), Raw: snippet(raw)}
	}

	strategy := RepairStrategy(wire.Strategy)
	switch strategy {
	case RepairRetry, RepairSkip, RepairAbort:
	case RepairAlternative, RepairAdjust:
		if wire.Invocation == nil || strings.TrimSpace(wire.Invocation.Capability) == "" {
			return Repair{}, &PlanParseError{
				Reason: fmt.Sprintf("%s strategy without an invocation", strategy),
				Raw:    snippet(raw),
			}
		}
	default:
		return Repair{}, &PlanParseError{Reason: fmt.Sprintf("unknown strategy %q", wire.Strategy), Raw: snippet(raw)}
	}

	var inv *capability.Invocation
	if wire.Invocation != nil {
		essential := true
		if wire.Invocation.Essential != nil {
			essential = *wire.Invocation.Essential
		}
		inv = &capability.Invocation{
			Capability: wire.Invocation.Capability,
			Action:     wire.Invocation.Action,
			Params:     wire.Invocation.Params,
			Essential:  essential,
			Note:       wire.Invocation.Note,
		}
	}

	return Repair{
		Strategy:   strategy,
		Invocation: inv,
		Reasoning:  wire.Reasoning,
	}, nil
}

// parseComplexity pulls the first integer out of a score response and
// clamps it to the 1-10 scale
func parseComplexity(raw string) (int, error) {
	digits := ""
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits += string(r)
			continue
		}
		if digits != "" {
			break
		}
	}
	if digits == "" {
		return 0, fmt.Errorf("no integer in response %q", snippet(raw))
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("unparseable score %q", digits)
	}

	if n < 1 {
		n = 1
	}
	if n > 10 {
		n = 10
	}
	return n, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func snippet(raw string) string {
	const max = 200
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) <= max {
		return trimmed
	}
	return trimmed[:max] + "..."
}
