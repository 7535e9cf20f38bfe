package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nara/pkg/capability"
	"github.com/harun/nara/pkg/reasoning"
)

type scriptedBackend struct {
	response string
	err      error
	prompts  []string
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Complete(_ context.Context, req reasoning.Request) (string, error) {
	s.prompts = append(s.prompts, req.Prompt)
	return s.response, s.err
}

var testCatalog = []capability.Descriptor{
	{
		Name:        "todo",
		Category:    "productivity",
		Description: "Manages the todo list",
		Actions:     []capability.ActionSpec{{Name: "add"}},
	},
	{
		Name:        "weather",
		Category:    "information",
		Description: "Looks up forecasts",
		Actions:     []capability.ActionSpec{{Name: "forecast"}},
	},
}

func newTestPlanner(t *testing.T, backend reasoning.Backend) *Planner {
	t.Helper()
	p, err := New(Config{Backend: backend, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return p
}

func TestNew_RequiresBackend(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestPlanner_Decompose(t *testing.T) {
	backend := &scriptedBackend{
		response: `{"kind": "outline", "reasoning": "two independent lookups feed the summary",
			"goals": [
				{"id": "g1", "description": "check the weekend forecast"},
				{"id": "g2", "description": "list open todos"},
				{"id": "g3", "description": "add a packing todo", "depends_on": ["g1", "g2"]}
			]}`,
	}
	p := newTestPlanner(t, backend)

	outline, err := p.Decompose(context.Background(), "plan my weekend trip", testCatalog)
	require.NoError(t, err)

	assert.NotEmpty(t, outline.ID)
	assert.Equal(t, "plan my weekend trip", outline.Request)
	assert.False(t, outline.CreatedAt.IsZero())
	require.Len(t, outline.Goals, 3)
	assert.Equal(t, []string{"g1", "g2"}, outline.Goals[2].DependsOn)

	g, ok := outline.Goal("g2")
	require.True(t, ok)
	assert.Equal(t, "list open todos", g.Description)
	_, ok = outline.Goal("g9")
	assert.False(t, ok)

	require.Len(t, backend.prompts, 1)
	prompt := backend.prompts[0]
	assert.Contains(t, prompt, "User request: plan my weekend trip")
	assert.Contains(t, prompt, `"kind": "outline"`)
	assert.Contains(t, prompt, "weather: Looks up forecasts")
}

func TestPlanner_Decompose_EmptyRequest(t *testing.T) {
	p := newTestPlanner(t, &scriptedBackend{response: "{}"})

	_, err := p.Decompose(context.Background(), "   ", testCatalog)
	assert.Error(t, err)
}

func TestPlanner_Decompose_BackendError(t *testing.T) {
	backend := &scriptedBackend{err: errors.New("backend down")}
	p := newTestPlanner(t, backend)

	_, err := p.Decompose(context.Background(), "plan my trip", testCatalog)
	require.Error(t, err)
	assert.ErrorContains(t, err, "backend down")
}

func TestPlanner_Decompose_AssignsMissingIDs(t *testing.T) {
	backend := &scriptedBackend{
		response: `{"kind": "outline", "goals": [
			{"description": "first thing"},
			{"description": "second thing"}
		]}`,
	}
	p := newTestPlanner(t, backend)

	outline, err := p.Decompose(context.Background(), "do two things", testCatalog)
	require.NoError(t, err)
	assert.Equal(t, "g1", outline.Goals[0].ID)
	assert.Equal(t, "g2", outline.Goals[1].ID)
}

func TestPlanner_Decompose_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"no JSON", "I cannot plan that for you."},
		{"malformed", `{"kind": "outline", "goals": [`},
		{"wrong kind", `{"kind": "plan", "goals": [{"id": "g1", "description": "x"}]}`},
		{"no goals", `{"kind": "outline", "goals": []}`},
		{"blank description", `{"kind": "outline", "goals": [{"id": "g1", "description": "  "}]}`},
		{"duplicate IDs", `{"kind": "outline", "goals": [
			{"id": "g1", "description": "a"}, {"id": "g1", "description": "b"}]}`},
		{"unknown dependency", `{"kind": "outline", "goals": [
			{"id": "g1", "description": "a", "depends_on": ["g7"]}]}`},
		{"cycle", `{"kind": "outline", "goals": [
			{"id": "g1", "description": "a", "depends_on": ["g2"]},
			{"id": "g2", "description": "b", "depends_on": ["g1"]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPlanner(t, &scriptedBackend{response: tt.response})

			_, err := p.Decompose(context.Background(), "plan something", testCatalog)
			assert.Error(t, err)
		})
	}
}

func TestPlanner_Decompose_GoalLimit(t *testing.T) {
	backend := &scriptedBackend{
		response: `{"kind": "outline", "goals": [
			{"id": "g1", "description": "a"},
			{"id": "g2", "description": "b"},
			{"id": "g3", "description": "c"}
		]}`,
	}
	p, err := New(Config{Backend: backend, Logger: zerolog.Nop(), MaxGoals: 2})
	require.NoError(t, err)

	_, err = p.Decompose(context.Background(), "plan something big", testCatalog)
	require.Error(t, err)
	assert.ErrorContains(t, err, "limit is 2")
}

func TestPlanner_Levels(t *testing.T) {
	p := newTestPlanner(t, &scriptedBackend{})
	outline := &Outline{Goals: []Goal{
		{ID: "g1", Description: "fetch forecast"},
		{ID: "g2", Description: "list todos", DependsOn: []string{"g1"}},
		{ID: "g3", Description: "check calendar", DependsOn: []string{"g1"}},
		{ID: "g4", Description: "write summary", DependsOn: []string{"g2", "g3"}},
	}}

	levels, err := p.Levels(outline)
	require.NoError(t, err)
	require.Len(t, levels, 3)

	assert.Equal(t, []string{"g1"}, goalIDs(levels[0]))
	assert.Equal(t, []string{"g2", "g3"}, goalIDs(levels[1]))
	assert.Equal(t, []string{"g4"}, goalIDs(levels[2]))
}

func TestPlanner_Levels_IndependentGoals(t *testing.T) {
	p := newTestPlanner(t, &scriptedBackend{})
	outline := &Outline{Goals: []Goal{
		{ID: "g1", Description: "a"},
		{ID: "g2", Description: "b"},
	}}

	levels, err := p.Levels(outline)
	require.NoError(t, err)
	require.Len(t, levels, 1)
	assert.Equal(t, []string{"g1", "g2"}, goalIDs(levels[0]))
}

func TestPlanner_Levels_Cycle(t *testing.T) {
	p := newTestPlanner(t, &scriptedBackend{})
	outline := &Outline{Goals: []Goal{
		{ID: "g1", Description: "a", DependsOn: []string{"g2"}},
		{ID: "g2", Description: "b", DependsOn: []string{"g1"}},
	}}

	_, err := p.Levels(outline)
	assert.Error(t, err)
}

func TestPlanner_Decompose_WithMockHeuristic(t *testing.T) {
	p := newTestPlanner(t, reasoning.NewMockBackend("heuristic"))

	outline, err := p.Decompose(context.Background(), "check the weather and then add a packing todo", testCatalog)
	require.NoError(t, err)

	require.Len(t, outline.Goals, 2)
	assert.Equal(t, "check the weather", outline.Goals[0].Description)
	assert.Equal(t, "add a packing todo", outline.Goals[1].Description)
	assert.Equal(t, []string{"g1"}, outline.Goals[1].DependsOn)
}

func goalIDs(goals []Goal) []string {
	ids := make([]string, len(goals))
	for i, g := range goals {
		ids[i] = g.ID
	}
	return ids
}
