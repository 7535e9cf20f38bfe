package react

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/metrics"
	"github.com/harun/nara/pkg/capability"
	"github.com/harun/nara/pkg/decision"
	"github.com/harun/nara/pkg/executor"
	"github.com/harun/nara/pkg/normalize"
	"github.com/harun/nara/pkg/planner"
	"github.com/harun/nara/pkg/safety"
)

const (
	defaultMaxIterations     = 10
	defaultRequestTimeout    = 5 * time.Minute
	defaultMaxRepairAttempts = 2
	defaultSimpleThreshold   = 3
	defaultPlanningThreshold = 7
	defaultMaxRepeats        = 3

	healthSampleSize = 5
)

// Config holds controller dependencies and budgets. Engine, Executor and
// Registry are required; Normalizer, Gate and Planner are optional and
// their absence disables the corresponding stage.
type Config struct {
	Engine     *decision.Engine
	Executor   *executor.Executor
	Registry   *capability.Registry
	Normalizer *normalize.Normalizer
	Gate       *safety.Gate
	Planner    *planner.Planner
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics

	// MaxIterations bounds reason-act cycles per request.
	MaxIterations int
	// RequestTimeout is the wall-clock budget per request.
	RequestTimeout time.Duration
	// MaxRepairAttempts bounds repair cycles per failing step.
	MaxRepairAttempts int
	// SimpleThreshold routes scores at or below it to the single-shot path.
	SimpleThreshold int
	// PlanningThreshold routes scores at or above it through decomposition.
	PlanningThreshold int
	// MaxRepeats aborts the loop when the same invocation is proposed
	// this many times in a row.
	MaxRepeats int
}

// Controller drives the reason-act-observe loop. One Run call processes
// one request with its own state; concurrent Run calls share only the
// registry and the aggregate stats.
type Controller struct {
	engine     *decision.Engine
	exec       *executor.Executor
	registry   *capability.Registry
	normalizer *normalize.Normalizer
	gate       *safety.Gate
	planner    *planner.Planner
	logger     zerolog.Logger
	metrics    *metrics.Metrics

	maxIterations     int
	requestTimeout    time.Duration
	maxRepairAttempts int
	simpleThreshold   int
	planningThreshold int
	maxRepeats        int

	// Active runs for abort capability
	activeRuns map[string]context.CancelFunc
	runsMu     sync.Mutex

	statsMu sync.Mutex
	stats   runStats
}

type runStats struct {
	total          int64
	succeeded      int64
	clarifications int64
	failed         int64
	byRoute        map[Route]int64
	durSum         time.Duration
	durMin         time.Duration
	durMax         time.Duration
}

// New creates a controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("decision engine is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("capability registry is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxRepairAttempts <= 0 {
		cfg.MaxRepairAttempts = defaultMaxRepairAttempts
	}
	if cfg.SimpleThreshold <= 0 {
		cfg.SimpleThreshold = defaultSimpleThreshold
	}
	if cfg.PlanningThreshold <= 0 {
		cfg.PlanningThreshold = defaultPlanningThreshold
	}
	if cfg.MaxRepeats <= 0 {
		cfg.MaxRepeats = defaultMaxRepeats
	}

	return &Controller{
		engine:            cfg.Engine,
		exec:              cfg.Executor,
		registry:          cfg.Registry,
		normalizer:        cfg.Normalizer,
		gate:              cfg.Gate,
		planner:           cfg.Planner,
		logger:            cfg.Logger.With().Str("component", "react").Logger(),
		metrics:           cfg.Metrics,
		maxIterations:     cfg.MaxIterations,
		requestTimeout:    cfg.RequestTimeout,
		maxRepairAttempts: cfg.MaxRepairAttempts,
		simpleThreshold:   cfg.SimpleThreshold,
		planningThreshold: cfg.PlanningThreshold,
		maxRepeats:        cfg.MaxRepeats,
		activeRuns:        make(map[string]context.CancelFunc),
		stats:             runStats{byRoute: make(map[Route]int64)},
	}, nil
}

// Run processes one request to completion. Failures come back as outcomes
// with status failed, never as panics; Err carries the typed cause.
func (c *Controller) Run(ctx context.Context, req Request) Outcome {
	started := time.Now()
	if req.ID == "" {
		req.ID = newRequestID()
	}
	logger := c.logger.With().Str("request_id", req.ID).Logger()

	out := c.process(ctx, req, logger, started)
	out.Duration = time.Since(started)
	c.record(out)

	logger.Info().
		Str("status", string(out.Status)).
		Str("route", string(out.Route)).
		Int("iterations", out.Iterations).
		Dur("duration", out.Duration).
		Msg("Request finished")
	return out
}

func (c *Controller) process(ctx context.Context, req Request, logger zerolog.Logger, started time.Time) Outcome {
	if strings.TrimSpace(req.Text) == "" {
		return Outcome{Status: StatusFailed, Message: "request text is empty"}
	}

	if c.gate != nil {
		if err := c.gate.CheckRequest(req.Text); err != nil {
			logger.Warn().Err(err).Msg("Request rejected before reasoning")
			return Outcome{Status: StatusFailed, Message: err.Error(), Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()
	c.trackRun(req.ID, cancel)
	defer c.untrackRun(req.ID)

	score := c.engine.ScoreComplexity(ctx, req.Text)
	route := c.route(score)
	logger.Debug().Int("complexity", score).Str("route", string(route)).Msg("Request routed")

	r := &run{
		ctrl:   c,
		req:    req,
		pad:    newScratchpad(req.ID, req.Text, started.Add(c.requestTimeout)),
		logger: logger,
	}

	var out Outcome
	switch route {
	case RouteSingleShot:
		out = r.singleShot(ctx)
	case RoutePlanning:
		out = r.planning(ctx)
	default:
		out = r.loop(ctx)
	}

	out.Route = route
	out.Trace = r.pad.Entries()
	out.Iterations = r.pad.Iteration()
	return out
}

func (c *Controller) route(score int) Route {
	switch {
	case score <= c.simpleThreshold:
		return RouteSingleShot
	case score >= c.planningThreshold:
		return RoutePlanning
	default:
		return RouteLoop
	}
}

// Abort cancels the run with the given request ID. It reports whether a
// matching active run existed.
func (c *Controller) Abort(requestID string) bool {
	c.runsMu.Lock()
	defer c.runsMu.Unlock()

	cancel, ok := c.activeRuns[requestID]
	if !ok {
		return false
	}
	cancel()
	delete(c.activeRuns, requestID)
	c.logger.Info().Str("request_id", requestID).Msg("Run aborted")
	return true
}

func (c *Controller) trackRun(id string, cancel context.CancelFunc) {
	c.runsMu.Lock()
	c.activeRuns[id] = cancel
	c.runsMu.Unlock()
}

func (c *Controller) untrackRun(id string) {
	c.runsMu.Lock()
	delete(c.activeRuns, id)
	c.runsMu.Unlock()
}

func (c *Controller) record(out Outcome) {
	route := out.Route
	if route == "" {
		route = "none"
	}

	c.statsMu.Lock()
	c.stats.total++
	switch out.Status {
	case StatusSuccess:
		c.stats.succeeded++
	case StatusClarification:
		c.stats.clarifications++
	default:
		c.stats.failed++
	}
	c.stats.byRoute[route]++
	c.stats.durSum += out.Duration
	if c.stats.durMin == 0 || out.Duration < c.stats.durMin {
		c.stats.durMin = out.Duration
	}
	if out.Duration > c.stats.durMax {
		c.stats.durMax = out.Duration
	}
	c.statsMu.Unlock()

	if c.metrics != nil {
		c.metrics.RequestsTotal.WithLabelValues(string(route), string(out.Status)).Inc()
		c.metrics.RequestDuration.WithLabelValues(string(route)).Observe(out.Duration.Seconds())
		c.metrics.RequestIterations.WithLabelValues(string(route)).Observe(float64(out.Iterations))
	}
}

// Stats returns a snapshot of aggregate controller activity.
func (c *Controller) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	s := Stats{
		Total:          c.stats.total,
		Succeeded:      c.stats.succeeded,
		Clarifications: c.stats.clarifications,
		Failed:         c.stats.failed,
		ByRoute:        make(map[Route]int64, len(c.stats.byRoute)),
		MinDuration:    c.stats.durMin,
		MaxDuration:    c.stats.durMax,
	}
	for route, n := range c.stats.byRoute {
		s.ByRoute[route] = n
	}
	if c.stats.total > 0 {
		s.AvgDuration = c.stats.durSum / time.Duration(c.stats.total)
		s.SuccessRate = float64(c.stats.succeeded+c.stats.clarifications) / float64(c.stats.total)
	}
	return s
}

// Health reports degraded once enough requests have run and most of them
// failed.
func (c *Controller) Health() Health {
	s := c.Stats()
	h := Health{
		Status:        "healthy",
		Requests:      s.Total,
		SuccessRate:   s.SuccessRate,
		ParseFailures: c.engine.ParseFailures(),
	}
	if s.Total >= healthSampleSize && s.SuccessRate < 0.5 {
		h.Status = "degraded"
	}
	return h
}

func newRequestID() string {
	suffix, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + suffix
}
