package decision

import (
	"github.com/harun/nara/pkg/capability"
)

// ConfidenceLevel is the discrete band a confidence score falls into
type ConfidenceLevel string

const (
	ConfidenceVeryHigh ConfidenceLevel = "very_high"
	ConfidenceHigh     ConfidenceLevel = "high"
	ConfidenceMedium   ConfidenceLevel = "medium"
	ConfidenceLow      ConfidenceLevel = "low"
	ConfidenceVeryLow  ConfidenceLevel = "very_low"
)

// LevelForScore maps a clamped score onto its band
func LevelForScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.9:
		return ConfidenceVeryHigh
	case score >= 0.7:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	case score >= 0.3:
		return ConfidenceLow
	default:
		return ConfidenceVeryLow
	}
}

// Plan is one reasoning step's output: the invocations to run next,
// or a clarification question when the backend needs more input.
type Plan struct {
	Steps      []capability.Invocation `json:"steps"`
	Confidence float64                 `json:"confidence"`
	Level      ConfidenceLevel         `json:"level"`
	Reasoning  string                  `json:"reasoning"`
	NeedsInput bool                    `json:"needs_input"`
	Question   string                  `json:"question,omitempty"`
	Fallback   bool                    `json:"fallback,omitempty"`

	// Final is true when these steps complete the request. A plan with
	// Final false asks the controller to reason again after observing
	// the results.
	Final bool `json:"final"`
}

// IsClarification reports whether the plan asks the user instead of acting
func (p Plan) IsClarification() bool {
	return p.NeedsInput && len(p.Steps) == 0
}

// RepairStrategy says how to handle a failed step
type RepairStrategy string

const (
	// RepairRetry reruns the invocation, corrected or as-is
	RepairRetry RepairStrategy = "retry"
	// RepairAlternative swaps in a different capability
	RepairAlternative RepairStrategy = "alternative"
	// RepairSkip drops the step and moves on
	RepairSkip RepairStrategy = "skip"
	// RepairAdjust reruns with adjusted parameters
	RepairAdjust RepairStrategy = "adjust"
	// RepairAbort gives up on the request
	RepairAbort RepairStrategy = "abort"
)

// Repair is the corrective move for one failed invocation
type Repair struct {
	Strategy   RepairStrategy         `json:"strategy"`
	Invocation *capability.Invocation `json:"invocation,omitempty"`
	Reasoning  string                 `json:"reasoning"`
	Fallback   bool                   `json:"fallback,omitempty"`
}

// Context carries everything one decision gets to see
type Context struct {
	Request   string
	SessionID string
	Summary   string
	History   []string
	Catalog   []capability.Descriptor
}

// RepairRequest describes a failed step for the repair prompt
type RepairRequest struct {
	Original capability.Invocation
	Action   capability.ActionSpec
	Failure  string
	Attempt  int
	Catalog  []capability.Descriptor
}
