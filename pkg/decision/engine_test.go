package decision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nara/pkg/capability"
	"github.com/harun/nara/pkg/reasoning"
)

type scriptedBackend struct {
	responses []string
	errs      []error
	prompts   []string
	calls     int
}

func (s *scriptedBackend) Name() string { return "scripted" }

func (s *scriptedBackend) Complete(_ context.Context, req reasoning.Request) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)

	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if len(s.responses) == 0 {
		return "", nil
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

type stubRetriever struct {
	snippets []string
	err      error
	queries  []string
}

func (r *stubRetriever) Retrieve(_ context.Context, query, _ string, _ int) ([]string, error) {
	r.queries = append(r.queries, query)
	return r.snippets, r.err
}

func newTestEngine(t *testing.T, backend reasoning.Backend, retriever Retriever) *Engine {
	t.Helper()
	e, err := NewEngine(Config{
		Backend:   backend,
		Logger:    zerolog.Nop(),
		Retriever: retriever,
	})
	require.NoError(t, err)
	return e
}

func testCatalog() []capability.Descriptor {
	return []capability.Descriptor{
		{
			Name:        "todo",
			Category:    "productivity",
			Description: "manage the todo list",
			Actions: []capability.ActionSpec{
				{
					Name:        "add",
					Description: "add an item",
					Parameters: []capability.ParamSpec{
						{Name: "title", Type: "string", Description: "item text", Required: true},
					},
				},
			},
		},
	}
}

func TestNewEngine_RequiresBackend(t *testing.T) {
	_, err := NewEngine(Config{Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend is required")
}

func TestEngine_Decide(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"kind": "plan", "confidence": 0.8, "reasoning": "add it", "steps": [{"capability": "todo", "action": "add", "params": {"title": "milk"}}]}`,
	}}
	e := newTestEngine(t, backend, nil)

	plan, err := e.Decide(context.Background(), Context{
		Request: "add milk to my list",
		Catalog: testCatalog(),
	})

	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "todo", plan.Steps[0].Capability)
	assert.False(t, plan.Fallback)
	assert.Equal(t, int64(0), e.ParseFailures())

	require.Len(t, backend.prompts, 1)
	assert.Contains(t, backend.prompts[0], "User request: add milk to my list")
	assert.Contains(t, backend.prompts[0], "todo (productivity)")
	assert.Contains(t, backend.prompts[0], `"kind": "plan"`)
}

func TestEngine_Decide_BackendError(t *testing.T) {
	backend := &scriptedBackend{errs: []error{
		&reasoning.BackendUnavailableError{Provider: "scripted", Err: errors.New("connection refused")},
	}}
	e := newTestEngine(t, backend, nil)

	_, err := e.Decide(context.Background(), Context{Request: "add milk", Catalog: testCatalog()})

	var unavailable *reasoning.BackendUnavailableError
	require.ErrorAs(t, err, &unavailable, "backend failures surface for the caller's retry policy")
	assert.Equal(t, int64(0), e.ParseFailures())
}

func TestEngine_Decide_FallbackOnGarbage(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"I would be happy to help!"}}
	e := newTestEngine(t, backend, nil)

	plan, err := e.Decide(context.Background(), Context{Request: "add milk", Catalog: testCatalog()})

	require.NoError(t, err, "parse failure falls back, it does not error")
	assert.True(t, plan.Fallback)
	assert.True(t, plan.IsClarification())
	assert.NotEmpty(t, plan.Question)
	assert.Equal(t, int64(1), e.ParseFailures())
}

func TestEngine_Decide_RetrieverEnrichesPrompt(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"kind": "plan", "confidence": 0.9, "steps": [{"capability": "todo", "action": "add"}]}`,
	}}
	retriever := &stubRetriever{snippets: []string{"last week you added eggs to groceries"}}
	e := newTestEngine(t, backend, retriever)

	_, err := e.Decide(context.Background(), Context{
		Request:   "add milk",
		SessionID: "s1",
		Catalog:   testCatalog(),
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"add milk"}, retriever.queries)
	assert.Contains(t, backend.prompts[0], "added eggs to groceries")
}

func TestEngine_Decide_RetrieverFailureDegrades(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"kind": "plan", "confidence": 0.9, "steps": [{"capability": "todo", "action": "add"}]}`,
	}}
	retriever := &stubRetriever{err: errors.New("db locked")}
	e := newTestEngine(t, backend, retriever)

	plan, err := e.Decide(context.Background(), Context{Request: "add milk", Catalog: testCatalog()})

	require.NoError(t, err)
	assert.Len(t, plan.Steps, 1)
	assert.NotContains(t, backend.prompts[0], "Possibly relevant past interactions")
}

func TestEngine_Repair(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		`{"kind": "repair", "strategy": "adjust", "invocation": {"capability": "todo", "action": "add", "params": {"title": "milk"}}, "reasoning": "title was empty"}`,
	}}
	e := newTestEngine(t, backend, nil)

	rep, err := e.Repair(context.Background(), RepairRequest{
		Original: capability.Invocation{Capability: "todo", Action: "add", Params: map[string]any{}},
		Action:   testCatalog()[0].Actions[0],
		Failure:  "invalid parameters for todo.add: title is required",
		Attempt:  1,
	})

	require.NoError(t, err)
	assert.Equal(t, RepairAdjust, rep.Strategy)
	require.NotNil(t, rep.Invocation)
	assert.Equal(t, "milk", rep.Invocation.Params["title"])

	assert.Contains(t, backend.prompts[0], `"kind": "repair"`)
	assert.Contains(t, backend.prompts[0], "title is required")
}

func TestEngine_Repair_FallbackAborts(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"hmm, tricky one"}}
	e := newTestEngine(t, backend, nil)

	rep, err := e.Repair(context.Background(), RepairRequest{
		Original: capability.Invocation{Capability: "todo", Action: "add"},
		Failure:  "boom",
		Attempt:  1,
	})

	require.NoError(t, err)
	assert.Equal(t, RepairAbort, rep.Strategy)
	assert.True(t, rep.Fallback)
	assert.Equal(t, int64(1), e.ParseFailures())
}

func TestEngine_ScoreComplexity_ShortCircuit(t *testing.T) {
	backend := &scriptedBackend{}
	e := newTestEngine(t, backend, nil)

	score := e.ScoreComplexity(context.Background(), "what time is it")

	assert.Equal(t, 2, score)
	assert.Equal(t, 0, backend.calls, "plainly simple requests skip the backend")
}

func TestEngine_ScoreComplexity_Backend(t *testing.T) {
	request := "check my calendar for tomorrow and reschedule anything that clashes with the dentist, then email the summary"

	t.Run("uses backend score", func(t *testing.T) {
		backend := &scriptedBackend{responses: []string{"7"}}
		e := newTestEngine(t, backend, nil)

		assert.Equal(t, 7, e.ScoreComplexity(context.Background(), request))
		require.Equal(t, 1, backend.calls)
		assert.Contains(t, strings.ToLower(backend.prompts[0]), "rate the complexity")
		assert.Contains(t, backend.prompts[0], "User request: "+request)
	})

	t.Run("backend error lands neutral", func(t *testing.T) {
		backend := &scriptedBackend{errs: []error{errors.New("down")}}
		e := newTestEngine(t, backend, nil)

		assert.Equal(t, 5, e.ScoreComplexity(context.Background(), request))
	})

	t.Run("garbage lands neutral", func(t *testing.T) {
		backend := &scriptedBackend{responses: []string{"quite complex I reckon"}}
		e := newTestEngine(t, backend, nil)

		assert.Equal(t, 5, e.ScoreComplexity(context.Background(), request))
	})
}

func TestEngine_Decide_WithMockHeuristic(t *testing.T) {
	e := newTestEngine(t, reasoning.NewMockBackend("heuristic"), nil)

	plan, err := e.Decide(context.Background(), Context{
		Request: "remind me to buy milk",
		Catalog: testCatalog(),
	})

	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "todo", plan.Steps[0].Capability)
	assert.Equal(t, "add", plan.Steps[0].Action)
}
