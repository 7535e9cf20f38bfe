package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForScore(t *testing.T) {
	tests := []struct {
		score float64
		want  ConfidenceLevel
	}{
		{score: 1.0, want: ConfidenceVeryHigh},
		{score: 0.9, want: ConfidenceVeryHigh},
		{score: 0.89, want: ConfidenceHigh},
		{score: 0.7, want: ConfidenceHigh},
		{score: 0.5, want: ConfidenceMedium},
		{score: 0.3, want: ConfidenceLow},
		{score: 0.29, want: ConfidenceVeryLow},
		{score: 0.0, want: ConfidenceVeryLow},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, LevelForScore(tt.score), "score %v", tt.score)
	}
}

func TestParsePlan_Valid(t *testing.T) {
	raw := `{
		"kind": "plan",
		"confidence": 0.8,
		"reasoning": "two steps needed",
		"needs_input": false,
		"steps": [
			{"capability": "todo", "action": "add", "params": {"title": "milk"}, "essential": true},
			{"capability": "clock", "action": "now", "essential": false, "independent": true, "note": "for the record"}
		]
	}`

	plan, mismatch, err := parsePlan(raw)

	require.NoError(t, err)
	assert.False(t, mismatch)
	assert.False(t, plan.IsClarification())
	assert.Equal(t, 0.8, plan.Confidence)
	assert.Equal(t, ConfidenceHigh, plan.Level)
	assert.Equal(t, "two steps needed", plan.Reasoning)
	assert.True(t, plan.Final, "final defaults to true when omitted")

	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "step_1", plan.Steps[0].StepID)
	assert.Equal(t, "todo", plan.Steps[0].Capability)
	assert.Equal(t, "add", plan.Steps[0].Action)
	assert.Equal(t, "milk", plan.Steps[0].Params["title"])
	assert.True(t, plan.Steps[0].Essential)
	assert.False(t, plan.Steps[0].Independent)

	assert.Equal(t, "step_2", plan.Steps[1].StepID)
	assert.False(t, plan.Steps[1].Essential)
	assert.True(t, plan.Steps[1].Independent)
	assert.Equal(t, "for the record", plan.Steps[1].Note)
}

func TestParsePlan_NonFinal(t *testing.T) {
	raw := `{"kind": "plan", "confidence": 0.6, "final": false,
		"steps": [{"capability": "notes", "action": "search", "params": {"query": "wifi"}}]}`

	plan, _, err := parsePlan(raw)

	require.NoError(t, err)
	assert.False(t, plan.Final)
}

func TestParsePlan_FencedAndProse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{
			name: "markdown fence",
			raw:  "```json\n{\"kind\": \"plan\", \"confidence\": 0.9, \"steps\": [{\"capability\": \"clock\", \"action\": \"now\"}]}\n```",
		},
		{
			name: "surrounding prose",
			raw:  "Sure! Here is the plan: {\"kind\": \"plan\", \"confidence\": 0.9, \"steps\": [{\"capability\": \"clock\", \"action\": \"now\"}]} Hope that helps.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, _, err := parsePlan(tt.raw)
			require.NoError(t, err)
			require.Len(t, plan.Steps, 1)
			assert.Equal(t, "clock", plan.Steps[0].Capability)
		})
	}
}

func TestParsePlan_Clarification(t *testing.T) {
	raw := `{"kind": "clarification", "question": "Which list?", "reasoning": "ambiguous target"}`

	plan, mismatch, err := parsePlan(raw)

	require.NoError(t, err)
	assert.False(t, mismatch)
	assert.True(t, plan.IsClarification())
	assert.True(t, plan.NeedsInput)
	assert.Equal(t, "Which list?", plan.Question)
	assert.Empty(t, plan.Steps)
}

func TestParsePlan_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "no json", raw: "I would love to help with that!"},
		{name: "malformed json", raw: `{"kind": "plan", "confidence": }`},
		{name: "missing kind", raw: `{"confidence": 0.8, "steps": []}`},
		{name: "unknown kind", raw: `{"kind": "banana", "confidence": 0.8}`},
		{name: "plan without confidence", raw: `{"kind": "plan", "steps": [{"capability": "todo"}]}`},
		{name: "step without capability", raw: `{"kind": "plan", "confidence": 0.8, "steps": [{"action": "add"}]}`},
		{name: "clarification without question", raw: `{"kind": "clarification", "reasoning": "stuck"}`},
		{name: "empty plan", raw: `{"kind": "plan", "confidence": 0.8, "steps": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := parsePlan(tt.raw)
			var parseErr *PlanParseError
			require.ErrorAs(t, err, &parseErr)
			assert.NotEmpty(t, parseErr.Reason)
		})
	}
}

func TestParsePlan_ConfidenceClamped(t *testing.T) {
	plan, _, err := parsePlan(`{"kind": "plan", "confidence": 1.7, "steps": [{"capability": "todo"}]}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, plan.Confidence)
	assert.Equal(t, ConfidenceVeryHigh, plan.Level)

	plan, _, err = parsePlan(`{"kind": "plan", "confidence": -0.4, "steps": [{"capability": "todo"}]}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, plan.Confidence)
	assert.Equal(t, ConfidenceVeryLow, plan.Level)
}

func TestParsePlan_LevelMismatchRecomputed(t *testing.T) {
	plan, mismatch, err := parsePlan(`{"kind": "plan", "confidence": 0.95, "confidence_level": "low", "steps": [{"capability": "todo"}]}`)

	require.NoError(t, err)
	assert.True(t, mismatch, "claimed level disagrees with score")
	assert.Equal(t, ConfidenceVeryHigh, plan.Level, "score wins")
}

func TestParsePlan_AgreeingLevelNotFlagged(t *testing.T) {
	_, mismatch, err := parsePlan(`{"kind": "plan", "confidence": 0.8, "confidence_level": "high", "steps": [{"capability": "todo"}]}`)

	require.NoError(t, err)
	assert.False(t, mismatch)
}

func TestParsePlan_EssentialDefaultsTrue(t *testing.T) {
	plan, _, err := parsePlan(`{"kind": "plan", "confidence": 0.8, "steps": [{"capability": "todo", "action": "add"}]}`)

	require.NoError(t, err)
	assert.True(t, plan.Steps[0].Essential)
}

func TestParseRepair_Valid(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		wantStrategy  RepairStrategy
		wantHasInvoke bool
	}{
		{
			name:         "retry without invocation",
			raw:          `{"kind": "repair", "strategy": "retry", "reasoning": "transient"}`,
			wantStrategy: RepairRetry,
		},
		{
			name:          "adjust with invocation",
			raw:           `{"kind": "repair", "strategy": "adjust", "invocation": {"capability": "todo", "action": "add", "params": {"title": "fixed"}}, "reasoning": "bad title"}`,
			wantStrategy:  RepairAdjust,
			wantHasInvoke: true,
		},
		{
			name:          "alternative",
			raw:           `{"kind": "repair", "strategy": "alternative", "invocation": {"capability": "notes", "action": "add"}, "reasoning": "todo is down"}`,
			wantStrategy:  RepairAlternative,
			wantHasInvoke: true,
		},
		{
			name:         "skip",
			raw:          `{"kind": "repair", "strategy": "skip", "reasoning": "optional step"}`,
			wantStrategy: RepairSkip,
		},
		{
			name:         "abort",
			raw:          `{"kind": "repair", "strategy": "abort", "reasoning": "hopeless"}`,
			wantStrategy: RepairAbort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := parseRepair(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStrategy, rep.Strategy)
			if tt.wantHasInvoke {
				require.NotNil(t, rep.Invocation)
				assert.NotEmpty(t, rep.Invocation.Capability)
			}
		})
	}
}

func TestParseRepair_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "adjust without invocation", raw: `{"kind": "repair", "strategy": "adjust"}`},
		{name: "alternative without capability", raw: `{"kind": "repair", "strategy": "alternative", "invocation": {"action": "x"}}`},
		{name: "unknown strategy", raw: `{"kind": "repair", "strategy": "pray"}`},
		{name: "wrong kind", raw: `{"kind": "plan", "strategy": "retry"}`},
		{name: "no json", raw: "let me think about this"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRepair(tt.raw)
			var parseErr *PlanParseError
			assert.ErrorAs(t, err, &parseErr)
		})
	}
}

func TestParseComplexity(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    int
		wantErr bool
	}{
		{name: "bare integer", raw: "7", want: 7},
		{name: "whitespace", raw: " 3 \n", want: 3},
		{name: "embedded", raw: "Complexity: 8 out of 10", want: 8},
		{name: "clamped high", raw: "42", want: 10},
		{name: "clamped low", raw: "0", want: 1},
		{name: "no digits", raw: "pretty hard", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseComplexity(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
