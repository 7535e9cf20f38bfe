// Package assistant wires the full agent stack behind one facade:
// reasoning backend, decision engine, capability registry with built-in
// and MCP providers, executor, controller, per-session dispatch lanes,
// conversation persistence, episodic memory and maintenance scheduling.
package assistant

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/internal/logger"
	"github.com/harun/nara/internal/metrics"
	"github.com/harun/nara/pkg/capabilities"
	"github.com/harun/nara/pkg/capability"
	"github.com/harun/nara/pkg/decision"
	"github.com/harun/nara/pkg/dispatch"
	"github.com/harun/nara/pkg/executor"
	"github.com/harun/nara/pkg/memory"
	"github.com/harun/nara/pkg/normalize"
	"github.com/harun/nara/pkg/planner"
	"github.com/harun/nara/pkg/react"
	"github.com/harun/nara/pkg/reasoning"
	"github.com/harun/nara/pkg/safety"
	"github.com/harun/nara/pkg/schedule"
	"github.com/harun/nara/pkg/session"
)

// bookkeepingTimeout bounds the session and memory writes that follow a
// run, so a request nearly out of budget still gets recorded.
const bookkeepingTimeout = 5 * time.Second

// Assistant is the application facade. One instance serves many
// sessions; Process serializes requests per session.
type Assistant struct {
	cfg     *config.Config
	log     *logger.Logger
	logger  zerolog.Logger
	metrics *metrics.Metrics

	registry   *capability.Registry
	controller *react.Controller
	sessions   *session.Manager
	store      *memory.Store
	dispatcher *dispatch.Dispatcher
	scheduler  *schedule.Scheduler

	builtin *capabilities.Builtin
	mcp     []*capabilities.MCPServer

	started bool
}

// New builds the stack from configuration. Capability discovery and
// maintenance jobs start in Start.
func New(cfg *config.Config) (*Assistant, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	zl := log.GetZerolog()

	m := metrics.NewMetrics()
	registry := capability.NewRegistry(zl)

	backend, err := buildBackend(cfg.Reasoning)
	if err != nil {
		log.Close()
		return nil, err
	}

	store := openMemory(cfg, zl, m)

	var retriever decision.Retriever
	if store != nil {
		retriever = &memoryRetriever{store: store, minScore: cfg.Memory.MinScore}
	}

	engine, err := decision.NewEngine(decision.Config{
		Backend:       backend,
		Logger:        zl,
		Retriever:     retriever,
		Metrics:       m,
		RetrieveLimit: cfg.Memory.RetrieveLimit,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("decision engine: %w", err)
	}

	exec, err := executor.New(executor.Config{
		Registry:       registry,
		Logger:         zl,
		Timeout:        cfg.Executor.Timeout(),
		MaxConcurrent:  cfg.Executor.MaxConcurrent,
		MaxOutputBytes: cfg.Executor.MaxOutputBytes,
		HistoryLimit:   cfg.Executor.HistoryLimit,
		Metrics:        m,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("executor: %w", err)
	}

	mode, err := normalize.ParseMode(cfg.Normalize.Mode)
	if err != nil {
		log.Close()
		return nil, err
	}
	normalizer, err := normalize.New(normalize.Config{
		Mode:     mode,
		Timezone: cfg.Normalize.Timezone,
		MaxTitle: cfg.Normalize.MaxTitle,
		Logger:   zl,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("normalizer: %w", err)
	}

	gate, err := safety.New(cfg.Safety)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("safety gate: %w", err)
	}

	pl, err := planner.New(planner.Config{
		Backend: backend,
		Logger:  zl,
		Metrics: m,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("planner: %w", err)
	}

	controller, err := react.New(react.Config{
		Engine:            engine,
		Executor:          exec,
		Registry:          registry,
		Normalizer:        normalizer,
		Gate:              gate,
		Planner:           pl,
		Logger:            zl,
		Metrics:           m,
		MaxIterations:     cfg.Engine.MaxIterations,
		RequestTimeout:    cfg.Engine.RequestTimeout(),
		MaxRepairAttempts: cfg.Engine.MaxRepairAttempts,
		SimpleThreshold:   cfg.Engine.SimpleThreshold,
		PlanningThreshold: cfg.Engine.PlanningThreshold,
		MaxRepeats:        cfg.Engine.MaxRepeats,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("controller: %w", err)
	}

	sessions, err := session.NewManager(session.Config{
		Dir:     filepath.Join(cfg.DataDir, "sessions"),
		Logger:  zl,
		Metrics: m,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("session manager: %w", err)
	}

	builtin, err := capabilities.NewBuiltin(capabilities.Options{
		Workspace: cfg.Capabilities.Workspace,
		EnableWeb: cfg.Capabilities.EnableWeb,
		Logger:    zl,
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("builtin capabilities: %w", err)
	}

	mcpServers := make([]*capabilities.MCPServer, 0, len(cfg.MCPServers))
	for _, srv := range cfg.MCPServers {
		mcpServers = append(mcpServers, capabilities.NewMCPServer(srv.Name, srv.Command, srv.Args, zl))
	}

	dispatcher := dispatch.New(dispatch.Config{
		Logger:      zl,
		Metrics:     m,
		Concurrency: 1,
		MaxQueue:    cfg.Dispatch.QueueSize,
	})

	return &Assistant{
		cfg:        cfg,
		log:        log,
		logger:     zl.With().Str("component", "assistant").Logger(),
		metrics:    m,
		registry:   registry,
		controller: controller,
		sessions:   sessions,
		store:      store,
		dispatcher: dispatcher,
		scheduler:  schedule.New(zl),
		builtin:    builtin,
		mcp:        mcpServers,
	}, nil
}

// buildBackend constructs the configured reasoning backend, wrapped with
// retries when configured.
func buildBackend(cfg config.ReasoningConfig) (reasoning.Backend, error) {
	var backend reasoning.Backend
	switch cfg.Provider {
	case "anthropic":
		backend = reasoning.NewAnthropicBackend(cfg.APIKey, cfg.Model)
	case "openai":
		backend = reasoning.NewOpenAIBackend(cfg.APIKey, cfg.Model)
	case "mock":
		backend = reasoning.NewMockBackend(cfg.MockMode)
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
	if cfg.MaxRetries > 0 {
		backend = reasoning.NewRetryBackend(backend, cfg.MaxRetries)
	}
	return backend, nil
}

// openMemory opens the episodic store. Failure degrades to no memory
// rather than refusing to start.
func openMemory(cfg *config.Config, zl zerolog.Logger, m *metrics.Metrics) *memory.Store {
	if !cfg.Memory.Enabled {
		return nil
	}

	var embedder memory.EmbeddingProvider
	if cfg.Reasoning.Provider == "openai" && cfg.Reasoning.APIKey != "" {
		embedder = memory.NewOpenAIEmbedder(cfg.Reasoning.APIKey, "text-embedding-3-small")
	}

	store, err := memory.NewStore(memory.Config{
		DBPath:   cfg.Memory.DBPath,
		Logger:   zl,
		Embedder: embedder,
		Metrics:  m,
	})
	if err != nil {
		zl.Warn().Err(err).Str("db", cfg.Memory.DBPath).Msg("Memory store unavailable, continuing without it")
		return nil
	}
	return store
}

// memoryRetriever adapts the episodic store to the decision engine's
// retriever contract.
type memoryRetriever struct {
	store    *memory.Store
	minScore float64
}

func (r *memoryRetriever) Retrieve(ctx context.Context, query, sessionID string, limit int) ([]string, error) {
	snippets, err := r.store.Retrieve(ctx, query, &memory.RetrieveOptions{
		Limit:     limit,
		SessionID: sessionID,
		MinScore:  r.minScore,
	})
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(snippets))
	for _, s := range snippets {
		lines = append(lines, s.Content)
	}
	return lines, nil
}

// Start discovers capabilities and registers maintenance jobs.
func (a *Assistant) Start(ctx context.Context) error {
	if a.started {
		return fmt.Errorf("assistant already started")
	}

	sources := make([]capability.Source, 0, 1+len(a.mcp))
	sources = append(sources, a.builtin)
	for _, srv := range a.mcp {
		sources = append(sources, srv)
	}

	report := a.registry.Discover(ctx, sources...)
	if report.Registered == 0 {
		return fmt.Errorf("no capabilities registered")
	}
	a.logger.Info().
		Int("capabilities", report.Registered).
		Int("failures", len(report.Failures)).
		Msg("Capability discovery done")

	if err := a.registerMaintenance(); err != nil {
		return err
	}

	a.started = true
	return nil
}

// registerMaintenance schedules the recurring housekeeping jobs.
func (a *Assistant) registerMaintenance() error {
	if !a.cfg.Maintenance.Enabled {
		return nil
	}

	retention := time.Duration(a.cfg.Memory.RetentionDays) * 24 * time.Hour
	if retention > 0 {
		_, err := a.scheduler.Add("prune", schedule.Spec{
			Kind: schedule.KindCron,
			Expr: a.cfg.Maintenance.MemoryPruneCron,
		}, func(ctx context.Context) error {
			if a.store != nil {
				if n, err := a.store.Prune(ctx, retention); err != nil {
					return err
				} else if n > 0 {
					a.logger.Info().Int("episodes", n).Msg("Pruned old episodes")
				}
			}
			if n, err := a.sessions.PruneOlderThan(retention); err != nil {
				return err
			} else if n > 0 {
				a.logger.Info().Int("sessions", n).Msg("Pruned stale sessions")
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("schedule prune job: %w", err)
		}
	}

	if a.cfg.Maintenance.StatsSnapshotSec > 0 {
		_, err := a.scheduler.Add("stats-snapshot", schedule.Spec{
			Kind:  schedule.KindEvery,
			Every: time.Duration(a.cfg.Maintenance.StatsSnapshotSec) * time.Second,
		}, func(ctx context.Context) error {
			stats := a.controller.Stats()
			a.logger.Info().
				Int64("total", stats.Total).
				Int64("succeeded", stats.Succeeded).
				Int64("clarifications", stats.Clarifications).
				Int64("failed", stats.Failed).
				Msg("Request stats")
			return nil
		})
		if err != nil {
			return fmt.Errorf("schedule stats job: %w", err)
		}
	}

	return nil
}

// Process runs one request in the given session. Requests in the same
// session execute in submission order; distinct sessions run
// concurrently.
func (a *Assistant) Process(ctx context.Context, sessionID, text string) (react.Outcome, error) {
	if sessionID == "" {
		sessionID = "default"
	}

	value, err := a.dispatcher.Submit(ctx, sessionID, func(taskCtx context.Context) (any, error) {
		return a.handle(taskCtx, sessionID, text), nil
	})
	if err != nil {
		return react.Outcome{}, err
	}
	return value.(react.Outcome), nil
}

// handle runs the controller and records the exchange.
func (a *Assistant) handle(ctx context.Context, sessionID, text string) react.Outcome {
	summary := a.sessions.RecentSummary(sessionID, 3)

	out := a.controller.Run(ctx, react.Request{
		Text:      text,
		SessionID: sessionID,
		Summary:   summary,
	})

	bkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
	defer cancel()
	a.record(bkCtx, sessionID, text, out)

	return out
}

// record persists the exchange and, when memory is on, an episode.
func (a *Assistant) record(ctx context.Context, sessionID, text string, out react.Outcome) {
	if err := a.sessions.RecordExchange(sessionID, text, out.Message); err != nil {
		a.logger.Warn().Err(err).Str("session", sessionID).Msg("Cannot record exchange")
	}

	if a.store == nil {
		return
	}
	if _, err := a.store.Save(ctx, memory.Episode{
		SessionID:    sessionID,
		Request:      text,
		Response:     out.Message,
		Outcome:      string(out.Status),
		Capabilities: actionsFromTrace(out.Trace),
	}); err != nil {
		a.logger.Warn().Err(err).Msg("Cannot save episode")
	}
}

// actionsFromTrace extracts the distinct capability.action names the run
// executed, in first-use order.
func actionsFromTrace(trace []react.Entry) []string {
	var names []string
	seen := make(map[string]bool)
	for _, entry := range trace {
		if entry.Kind != react.EntryAction {
			continue
		}
		name := entry.Text
		if i := strings.IndexByte(name, ' '); i > 0 {
			name = name[:i]
		}
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Abort cancels an in-flight request by ID.
func (a *Assistant) Abort(requestID string) bool {
	return a.controller.Abort(requestID)
}

// Stats returns controller aggregates.
func (a *Assistant) Stats() react.Stats {
	return a.controller.Stats()
}

// Sessions exposes the conversation store.
func (a *Assistant) Sessions() *session.Manager {
	return a.sessions
}

// Registry exposes the capability registry.
func (a *Assistant) Registry() *capability.Registry {
	return a.registry
}

// Metrics exposes the metrics registry for serving.
func (a *Assistant) Metrics() *metrics.Metrics {
	return a.metrics
}

// Health is the aggregate health report.
type Health struct {
	Status       string             `json:"status"`
	Engine       react.Health       `json:"engine"`
	Capabilities int                `json:"capabilities"`
	Memory       *memory.Status     `json:"memory,omitempty"`
	Jobs         []schedule.JobInfo `json:"jobs,omitempty"`
}

// Health reports the state of the stack.
func (a *Assistant) Health() Health {
	h := Health{
		Engine:       a.controller.Health(),
		Capabilities: a.registry.Len(),
	}
	h.Status = h.Engine.Status
	if a.store != nil {
		status := a.store.Status()
		h.Memory = &status
	} else if a.cfg.Memory.Enabled {
		h.Status = "degraded"
	}
	if a.started {
		h.Jobs = a.scheduler.Jobs()
	}
	return h
}

// Close shuts the stack down: stops maintenance, drains in-flight
// requests, closes stores and spawned processes.
func (a *Assistant) Close() error {
	a.scheduler.Stop()
	a.dispatcher.Drain(10 * time.Second)
	a.dispatcher.Close()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, srv := range a.mcp {
		keep(srv.Close())
	}
	keep(a.builtin.Close())
	if a.store != nil {
		keep(a.store.Close())
	}
	keep(a.sessions.Close())
	keep(a.log.Close())

	a.started = false
	return firstErr
}
