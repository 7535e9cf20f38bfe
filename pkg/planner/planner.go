// Package planner decomposes complex requests into small dependency-ordered
// sub-goals before the acting loop starts. Simple requests never come here;
// the controller routes only high-complexity requests through Decompose and
// falls back to plain iteration when decomposition fails.
package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/metrics"
	"github.com/harun/nara/pkg/capability"
	"github.com/harun/nara/pkg/reasoning"
)

const defaultMaxGoals = 8

// Config carries the planner dependencies.
type Config struct {
	Backend  reasoning.Backend
	Logger   zerolog.Logger
	Metrics  *metrics.Metrics
	MaxGoals int
}

// Planner turns a request into an Outline via the reasoning backend.
type Planner struct {
	backend  reasoning.Backend
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	maxGoals int
}

// New creates a planner. The backend is required.
func New(cfg Config) (*Planner, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("reasoning backend is required")
	}
	if cfg.MaxGoals <= 0 {
		cfg.MaxGoals = defaultMaxGoals
	}
	return &Planner{
		backend:  cfg.Backend,
		logger:   cfg.Logger.With().Str("component", "planner").Logger(),
		metrics:  cfg.Metrics,
		maxGoals: cfg.MaxGoals,
	}, nil
}

// Decompose asks the backend to split the request into sub-goals and
// validates the result: unique IDs, known dependencies, no cycles. Any
// failure returns an error so the caller can degrade to the plain loop.
func (p *Planner) Decompose(ctx context.Context, request string, catalog []capability.Descriptor) (*Outline, error) {
	if strings.TrimSpace(request) == "" {
		return nil, fmt.Errorf("request is required")
	}

	raw, err := p.complete(ctx, reasoning.Request{
		System: outlineSystem,
		Prompt: outlinePrompt(request, catalog, p.maxGoals),
	})
	if err != nil {
		return nil, fmt.Errorf("decompose request: %w", err)
	}

	goals, reasoningText, err := parseOutline(raw, p.maxGoals)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Outline response did not parse")
		return nil, err
	}

	outline := &Outline{
		ID:        uuid.New().String(),
		Request:   request,
		Reasoning: reasoningText,
		Goals:     goals,
		CreatedAt: time.Now(),
	}
	p.logger.Debug().
		Str("outline_id", outline.ID).
		Int("goals", len(outline.Goals)).
		Msg("Request decomposed")
	return outline, nil
}

// Levels orders the outline's goals into groups where every goal in a group
// depends only on goals from earlier groups. Goals within a group keep the
// outline's original order.
func (p *Planner) Levels(o *Outline) ([][]Goal, error) {
	inDegree := make(map[string]int, len(o.Goals))
	for _, g := range o.Goals {
		inDegree[g.ID] = len(g.DependsOn)
	}

	emitted := make(map[string]bool, len(o.Goals))
	var levels [][]Goal
	for len(emitted) < len(o.Goals) {
		var level []Goal
		for _, g := range o.Goals {
			if !emitted[g.ID] && inDegree[g.ID] == 0 {
				level = append(level, g)
			}
		}
		if len(level) == 0 {
			return nil, fmt.Errorf("dependency cycle prevents ordering")
		}

		ready := make(map[string]bool, len(level))
		for _, g := range level {
			emitted[g.ID] = true
			ready[g.ID] = true
		}
		for _, g := range o.Goals {
			if emitted[g.ID] {
				continue
			}
			for _, dep := range g.DependsOn {
				if ready[dep] {
					inDegree[g.ID]--
				}
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}

func (p *Planner) complete(ctx context.Context, req reasoning.Request) (string, error) {
	start := time.Now()
	raw, err := p.backend.Complete(ctx, req)
	if p.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		p.metrics.ReasoningCallsTotal.WithLabelValues(p.backend.Name(), status).Inc()
		p.metrics.ReasoningCallDuration.WithLabelValues(p.backend.Name()).Observe(time.Since(start).Seconds())
	}
	return raw, err
}
