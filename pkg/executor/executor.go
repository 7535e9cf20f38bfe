package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/nara/internal/metrics"
	"github.com/harun/nara/pkg/capability"
)

// Config holds executor settings
type Config struct {
	Registry       *capability.Registry
	Logger         zerolog.Logger
	Timeout        time.Duration // per-call budget
	MaxConcurrent  int           // concurrent capability calls across all requests
	MaxOutputBytes int           // result payload ceiling before truncation
	HistoryLimit   int           // retained execution records
	Metrics        *metrics.Metrics
}

// Record is one entry in the execution history. Every call produces one,
// success or not.
type Record struct {
	ID         string            `json:"id"`
	Capability string            `json:"capability"`
	Action     string            `json:"action,omitempty"`
	Status     capability.Status `json:"status"`
	Error      string            `json:"error,omitempty"`
	Duration   time.Duration     `json:"duration"`
	StartedAt  time.Time         `json:"started_at"`
}

// Stats aggregates the execution history
type Stats struct {
	Total       int64         `json:"total"`
	Succeeded   int64         `json:"succeeded"`
	Failed      int64         `json:"failed"`
	TimedOut    int64         `json:"timed_out"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Executor runs capability invocations behind a timeout and resource
// ceiling. It is the failure boundary: faults inside a capability come
// back as error results, never as panics or raised errors.
type Executor struct {
	registry  *capability.Registry
	logger    zerolog.Logger
	timeout   time.Duration
	maxOutput int
	metrics   *metrics.Metrics
	sem       chan struct{}

	mu         sync.Mutex
	history    []Record
	historyCap int
	inFlight   map[string]context.CancelFunc
	totals     Stats
	durSum     time.Duration
}

// New creates an executor bound to a registry
func New(cfg Config) (*Executor, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = 10 * 1024
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 1000
	}

	return &Executor{
		registry:   cfg.Registry,
		logger:     cfg.Logger.With().Str("component", "executor").Logger(),
		timeout:    cfg.Timeout,
		maxOutput:  cfg.MaxOutputBytes,
		metrics:    cfg.Metrics,
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		history:    make([]Record, 0, 64),
		historyCap: cfg.HistoryLimit,
		inFlight:   make(map[string]context.CancelFunc),
	}, nil
}

// Execute runs one invocation. Capability faults are folded into the
// result; the returned error is reserved for executor-level failures:
// unknown capability, parameter validation, timeout and cancellation.
// A result is returned in every case so the loop can observe it.
func (e *Executor) Execute(ctx context.Context, inv capability.Invocation) (capability.Result, error) {
	started := time.Now()
	id := newID(inv.Capability)

	provider, err := e.registry.Provider(inv.Capability)
	if err != nil {
		result := failure(err, time.Since(started))
		e.record(id, inv, result, started)
		return result, err
	}

	desc, err := e.registry.Resolve(inv.Capability)
	if err != nil {
		result := failure(err, time.Since(started))
		e.record(id, inv, result, started)
		return result, err
	}

	action, ok := desc.Action(inv.Action)
	if !ok {
		verr := &ParameterValidationError{
			Capability: inv.Capability,
			Action:     inv.Action,
			Problems:   []string{fmt.Sprintf("unknown action %q (have %v)", inv.Action, desc.ActionNames())},
		}
		result := failure(verr, time.Since(started))
		e.record(id, inv, result, started)
		return result, verr
	}

	if err := validateParams(inv, action); err != nil {
		e.logger.Warn().
			Str("capability", inv.Capability).
			Str("action", action.Name).
			Err(err).
			Msg("Parameter validation failed")
		result := failure(err, time.Since(started))
		e.record(id, inv, result, started)
		return result, err
	}

	// Concurrency ceiling across all controllers
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		result := failure(ctx.Err(), time.Since(started))
		e.record(id, inv, result, started)
		return result, ctx.Err()
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	e.track(id, cancel)
	defer e.untrack(id)

	e.logger.Debug().
		Str("id", id).
		Str("capability", inv.Capability).
		Str("action", action.Name).
		Msg("Executing capability")

	dataChan := make(chan map[string]any, 1)
	errChan := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				errChan <- fmt.Errorf("capability panicked: %v", rec)
			}
		}()
		data, err := provider.Execute(timeoutCtx, action.Name, inv.Params)
		if err != nil {
			errChan <- err
		} else {
			dataChan <- data
		}
	}()

	var result capability.Result
	var execErr error

	select {
	case data := <-dataChan:
		data, truncated := e.truncate(data)
		result = capability.Result{
			Status:    capability.StatusSuccess,
			Data:      data,
			Duration:  time.Since(started),
			Truncated: truncated,
		}

	case err := <-errChan:
		result = failure(err, time.Since(started))

	case <-timeoutCtx.Done():
		switch {
		case ctx.Err() != nil:
			// Cancelled from above, not a per-call timeout
			execErr = ctx.Err()
		case timeoutCtx.Err() == context.DeadlineExceeded:
			execErr = &ExecutionTimeoutError{Capability: inv.Capability, Timeout: e.timeout}
		default:
			// Cancel() aborted this call
			execErr = context.Canceled
		}
		result = failure(execErr, time.Since(started))
	}

	e.record(id, inv, result, started)

	if result.OK() {
		e.logger.Debug().
			Str("id", id).
			Str("capability", inv.Capability).
			Dur("duration", result.Duration).
			Bool("truncated", result.Truncated).
			Msg("Capability call completed")
	} else {
		e.logger.Warn().
			Str("id", id).
			Str("capability", inv.Capability).
			Dur("duration", result.Duration).
			Str("error", result.Error).
			Msg("Capability call failed")
	}

	return result, execErr
}

// Cancel aborts an in-flight execution by record ID
func (e *Executor) Cancel(id string) bool {
	e.mu.Lock()
	cancel, ok := e.inFlight[id]
	e.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}

// InFlight returns the number of currently running calls
func (e *Executor) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inFlight)
}

// Running returns the IDs of in-flight executions, sorted
func (e *Executor) Running() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, 0, len(e.inFlight))
	for id := range e.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// History returns a copy of the retained execution records, oldest first
func (e *Executor) History() []Record {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Record, len(e.history))
	copy(out, e.history)
	return out
}

// Stats returns aggregate counters over all recorded executions
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.totals
	if stats.Total > 0 {
		stats.AvgDuration = e.durSum / time.Duration(stats.Total)
	}
	return stats
}

func newID(capName string) string {
	suffix, _ := gonanoid.New()
	return fmt.Sprintf("%s_%s", capName, suffix)
}

func (e *Executor) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.inFlight[id] = cancel
	e.mu.Unlock()
}

func (e *Executor) untrack(id string) {
	e.mu.Lock()
	delete(e.inFlight, id)
	e.mu.Unlock()
}

func (e *Executor) record(id string, inv capability.Invocation, result capability.Result, started time.Time) {
	rec := Record{
		ID:         id,
		Capability: inv.Capability,
		Action:     inv.Action,
		Status:     result.Status,
		Error:      result.Error,
		Duration:   result.Duration,
		StartedAt:  started,
	}

	e.mu.Lock()
	e.history = append(e.history, rec)
	if len(e.history) > e.historyCap {
		e.history = e.history[len(e.history)-e.historyCap:]
	}

	e.totals.Total++
	e.durSum += result.Duration
	if result.OK() {
		e.totals.Succeeded++
	} else {
		e.totals.Failed++
		if isTimeout(result.Error) {
			e.totals.TimedOut++
		}
	}
	e.mu.Unlock()

	e.registry.RecordUse(inv.Capability, result.OK())

	if e.metrics != nil {
		status := string(result.Status)
		e.metrics.CapabilityCallsTotal.WithLabelValues(inv.Capability, status).Inc()
		e.metrics.CapabilityCallDuration.WithLabelValues(inv.Capability).Observe(result.Duration.Seconds())
		if !result.OK() {
			e.metrics.CapabilityErrorsTotal.WithLabelValues(inv.Capability, errorType(result.Error)).Inc()
		}
	}
}

func (e *Executor) truncate(data map[string]any) (map[string]any, bool) {
	if data == nil {
		return nil, false
	}

	truncated := false
	out := make(map[string]any, len(data))
	for k, v := range data {
		if s, ok := v.(string); ok && len(s) > e.maxOutput {
			out[k] = s[:e.maxOutput] + "\n... [output truncated]"
			truncated = true
			continue
		}
		out[k] = v
	}

	if truncated {
		e.logger.Warn().Int("limit", e.maxOutput).Msg("Output truncated")
	}

	return out, truncated
}

func validateParams(inv capability.Invocation, action capability.ActionSpec) error {
	params := inv.Params
	if params == nil {
		params = map[string]any{}
	}

	schemaLoader := gojsonschema.NewGoLoader(action.JSONSchema())
	paramsLoader := gojsonschema.NewGoLoader(params)

	result, err := gojsonschema.Validate(schemaLoader, paramsLoader)
	if err != nil {
		return &ParameterValidationError{
			Capability: inv.Capability,
			Action:     action.Name,
			Problems:   []string{err.Error()},
		}
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			problems = append(problems, verr.String())
		}
		return &ParameterValidationError{
			Capability: inv.Capability,
			Action:     action.Name,
			Problems:   problems,
		}
	}

	return nil
}

func failure(err error, duration time.Duration) capability.Result {
	return capability.Result{
		Status:   capability.StatusError,
		Error:    err.Error(),
		Duration: duration,
	}
}

func isTimeout(msg string) bool {
	return strings.Contains(msg, "timed out") || msg == context.DeadlineExceeded.Error()
}

func errorType(msg string) string {
	switch {
	case strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "invalid parameters"):
		return "validation"
	case strings.Contains(msg, "panicked"):
		return "panic"
	case strings.Contains(msg, "not found"):
		return "not_found"
	default:
		return "fault"
	}
}
