package decision

import "fmt"

// PlanParseError reports a backend response that did not conform to the
// expected tagged schema. It is counted, never silently accepted.
type PlanParseError struct {
	Reason string
	Raw    string
}

func (e *PlanParseError) Error() string {
	return fmt.Sprintf("plan parse failed: %s", e.Reason)
}
