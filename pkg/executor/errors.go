package executor

import (
	"fmt"
	"strings"
	"time"
)

// ParameterValidationError is returned when invocation parameters do not
// satisfy the capability's declared schema
type ParameterValidationError struct {
	Capability string
	Action     string
	Problems   []string
}

func (e *ParameterValidationError) Error() string {
	return fmt.Sprintf("invalid parameters for %s.%s: %s",
		e.Capability, e.Action, strings.Join(e.Problems, "; "))
}

// ExecutionTimeoutError is returned when a capability call exceeds the
// per-call budget. The underlying call is cancelled, not abandoned.
type ExecutionTimeoutError struct {
	Capability string
	Timeout    time.Duration
}

func (e *ExecutionTimeoutError) Error() string {
	return fmt.Sprintf("capability %s timed out after %v", e.Capability, e.Timeout)
}
