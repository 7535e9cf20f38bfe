package decision

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/metrics"
	"github.com/harun/nara/pkg/reasoning"
)

// Retriever supplies snippets of past interactions for prompt context.
// A nil retriever degrades to an empty context, never an error.
type Retriever interface {
	Retrieve(ctx context.Context, query, sessionID string, limit int) ([]string, error)
}

// Config holds decision engine settings
type Config struct {
	Backend       reasoning.Backend
	Logger        zerolog.Logger
	Retriever     Retriever
	Metrics       *metrics.Metrics
	RetrieveLimit int
}

// Engine turns a request plus capability catalog into an executable
// plan by prompting the reasoning backend and strictly parsing its
// tagged response.
type Engine struct {
	backend       reasoning.Backend
	logger        zerolog.Logger
	retriever     Retriever
	metrics       *metrics.Metrics
	retrieveLimit int
	parseFailures atomic.Int64
}

// NewEngine creates a decision engine
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if cfg.RetrieveLimit <= 0 {
		cfg.RetrieveLimit = 5
	}

	return &Engine{
		backend:       cfg.Backend,
		logger:        cfg.Logger.With().Str("component", "decision").Logger(),
		retriever:     cfg.Retriever,
		metrics:       cfg.Metrics,
		retrieveLimit: cfg.RetrieveLimit,
	}, nil
}

// Decide produces the next plan. Backend unavailability comes back as an
// error for the caller's retry policy; an unparseable response comes back
// as the deterministic clarification fallback with the failure counted.
func (e *Engine) Decide(ctx context.Context, dctx Context) (Plan, error) {
	snippets := e.retrieveSnippets(ctx, dctx)

	raw, err := e.complete(ctx, reasoning.Request{
		System: decisionSystem,
		Prompt: decisionPrompt(dctx, snippets),
	})
	if err != nil {
		return Plan{}, err
	}

	plan, mismatch, err := parsePlan(raw)
	if err != nil {
		e.countParseFailure(err)
		plan = fallbackPlan()
	}
	if mismatch {
		e.logger.Warn().
			Float64("confidence", plan.Confidence).
			Str("level", string(plan.Level)).
			Msg("Confidence level disagreed with score, level recomputed")
	}

	if plan.IsClarification() {
		if e.metrics != nil {
			e.metrics.ClarificationsTotal.Inc()
		}
		e.logger.Debug().Str("question", plan.Question).Msg("Plan asks for clarification")
		return plan, nil
	}

	e.logger.Debug().
		Int("steps", len(plan.Steps)).
		Float64("confidence", plan.Confidence).
		Str("level", string(plan.Level)).
		Msg("Plan decided")

	return plan, nil
}

// Repair asks the backend how to recover one failed step. An unparseable
// response degrades to abort rather than looping on garbage.
func (e *Engine) Repair(ctx context.Context, req RepairRequest) (Repair, error) {
	raw, err := e.complete(ctx, reasoning.Request{
		System: decisionSystem,
		Prompt: repairPrompt(req),
	})
	if err != nil {
		return Repair{}, err
	}

	rep, err := parseRepair(raw)
	if err != nil {
		e.countParseFailure(err)
		rep = Repair{
			Strategy:  RepairAbort,
			Reasoning: "repair response did not parse",
			Fallback:  true,
		}
	}

	if e.metrics != nil {
		e.metrics.PlanRepairsTotal.WithLabelValues(string(rep.Strategy)).Inc()
	}

	e.logger.Debug().
		Str("capability", req.Original.Capability).
		Str("strategy", string(rep.Strategy)).
		Int("attempt", req.Attempt).
		Msg("Repair decided")

	return rep, nil
}

// ScoreComplexity rates a request 1-10 to route it between the
// single-shot, loop and planning paths. Scoring trouble never blocks a
// request: any failure lands on the neutral score.
func (e *Engine) ScoreComplexity(ctx context.Context, request string) int {
	if score, ok := obviouslySimple(request); ok {
		return score
	}

	raw, err := e.complete(ctx, reasoning.Request{
		Prompt:    complexityPrompt(request),
		MaxTokens: 8,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("Complexity scoring unavailable, using neutral score")
		return 5
	}

	score, err := parseComplexity(raw)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Complexity response unparseable, using neutral score")
		return 5
	}
	return score
}

// ParseFailures returns how many responses failed strict parsing
func (e *Engine) ParseFailures() int64 {
	return e.parseFailures.Load()
}

// obviouslySimple short-circuits scoring for short single-clause requests
func obviouslySimple(request string) (int, bool) {
	r := strings.TrimSpace(request)
	lower := strings.ToLower(r)

	if len(r) >= 40 {
		return 0, false
	}
	if strings.Contains(lower, " and ") || strings.Contains(lower, " then ") {
		return 0, false
	}
	if strings.Count(r, ",")+strings.Count(r, ";") > 0 {
		return 0, false
	}
	return 2, true
}

func (e *Engine) retrieveSnippets(ctx context.Context, dctx Context) []string {
	if e.retriever == nil {
		return nil
	}

	snippets, err := e.retriever.Retrieve(ctx, dctx.Request, dctx.SessionID, e.retrieveLimit)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Memory retrieval failed, continuing without context")
		return nil
	}
	return snippets
}

func (e *Engine) complete(ctx context.Context, req reasoning.Request) (string, error) {
	start := time.Now()
	raw, err := e.backend.Complete(ctx, req)

	if e.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		e.metrics.ReasoningCallsTotal.WithLabelValues(e.backend.Name(), status).Inc()
		e.metrics.ReasoningCallDuration.WithLabelValues(e.backend.Name()).Observe(time.Since(start).Seconds())
	}

	return raw, err
}

func (e *Engine) countParseFailure(err error) {
	e.parseFailures.Add(1)
	if e.metrics != nil {
		e.metrics.PlanParseFailuresTotal.Inc()
	}
	e.logger.Warn().Err(err).Msg("Response failed strict parsing, falling back")
}

// fallbackPlan is the deterministic conservative default for unparseable
// planning responses
func fallbackPlan() Plan {
	return Plan{
		NeedsInput: true,
		Question:   "I could not work out a safe way to act on that. Could you rephrase or add a detail?",
		Reasoning:  "fallback after unparseable planning response",
		Level:      LevelForScore(0),
		Fallback:   true,
	}
}
