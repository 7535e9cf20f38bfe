package react

import (
	"fmt"
	"time"
)

// Status classifies how a request ended.
type Status string

const (
	StatusSuccess       Status = "success"
	StatusClarification Status = "clarification"
	StatusFailed        Status = "failed"
)

// Route names the execution path complexity scoring picked.
type Route string

const (
	// RouteSingleShot decides and executes once, no loop.
	RouteSingleShot Route = "single_shot"
	// RouteLoop runs the full reason-act-observe loop.
	RouteLoop Route = "loop"
	// RoutePlanning decomposes the request into sub-goals first.
	RoutePlanning Route = "planning"
)

// Request is one natural-language request bound to a session.
type Request struct {
	ID        string
	Text      string
	SessionID string
	Summary   string
}

// Outcome is the result of one run: a status, a user-facing message and
// the full scratchpad trace for observability.
type Outcome struct {
	Status     Status        `json:"status"`
	Message    string        `json:"message"`
	Trace      []Entry       `json:"trace,omitempty"`
	Route      Route         `json:"route,omitempty"`
	Iterations int           `json:"iterations"`
	Duration   time.Duration `json:"duration"`

	// Err carries the typed cause for failed outcomes.
	Err error `json:"-"`
}

// Stats aggregates controller activity since construction.
type Stats struct {
	Total          int64
	Succeeded      int64
	Clarifications int64
	Failed         int64
	ByRoute        map[Route]int64
	AvgDuration    time.Duration
	MinDuration    time.Duration
	MaxDuration    time.Duration

	// SuccessRate counts clarifications as handled, not failed.
	SuccessRate float64
}

// Health reports whether the controller is fit to take requests.
type Health struct {
	Status        string  `json:"status"` // healthy or degraded
	Requests      int64   `json:"requests"`
	SuccessRate   float64 `json:"success_rate"`
	ParseFailures int64   `json:"parse_failures"`
}

// BudgetExhaustedError reports an exhausted iteration or wall-clock budget.
// The request terminates with whatever partial trace it accumulated.
type BudgetExhaustedError struct {
	Kind       string // iterations or deadline
	Iterations int
	Elapsed    time.Duration
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("%s budget exhausted after %d iteration(s) in %s",
		e.Kind, e.Iterations, e.Elapsed.Round(time.Millisecond))
}
