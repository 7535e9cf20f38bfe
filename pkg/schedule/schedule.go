// Package schedule runs recurring maintenance work: memory pruning,
// session cleanup, stats snapshots. Jobs are registered in code at
// startup and fire on at/every/cron schedules.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Kind selects how a schedule is interpreted.
type Kind string

const (
	// KindAt fires once at a fixed time.
	KindAt Kind = "at"
	// KindEvery fires on a fixed interval.
	KindEvery Kind = "every"
	// KindCron fires per a 5-field cron expression.
	KindCron Kind = "cron"
)

// Spec is one schedule definition.
type Spec struct {
	Kind Kind `json:"kind"`

	// At is an RFC 3339 timestamp for KindAt.
	At string `json:"at,omitempty"`

	// Every is the interval for KindEvery.
	Every time.Duration `json:"every,omitempty"`

	// Expr and TZ apply to KindCron.
	Expr string `json:"expr,omitempty"`
	TZ   string `json:"tz,omitempty"`
}

// NextRun computes when the spec fires next, strictly after from.
func NextRun(spec Spec, from time.Time) (time.Time, error) {
	switch spec.Kind {
	case KindAt:
		if spec.At == "" {
			return time.Time{}, fmt.Errorf("'at' schedule requires a timestamp")
		}
		t, err := time.Parse(time.RFC3339, spec.At)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		return t, nil

	case KindEvery:
		if spec.Every <= 0 {
			return time.Time{}, fmt.Errorf("'every' schedule requires a positive interval")
		}
		return from.Add(spec.Every), nil

	case KindCron:
		if spec.Expr == "" {
			return time.Time{}, fmt.Errorf("'cron' schedule requires an expression")
		}
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
		sched, err := parser.Parse(spec.Expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		if spec.TZ != "" {
			loc, err := time.LoadLocation(spec.TZ)
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid timezone: %w", err)
			}
			from = from.In(loc)
		}
		return sched.Next(from), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind %q", spec.Kind)
	}
}

// recurs reports whether the spec fires more than once.
func recurs(spec Spec) bool {
	return spec.Kind != KindAt
}
