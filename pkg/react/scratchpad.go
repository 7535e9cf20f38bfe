package react

import (
	"time"
)

// EntryKind tags a scratchpad entry.
type EntryKind string

const (
	EntryThought     EntryKind = "thought"
	EntryAction      EntryKind = "action"
	EntryObservation EntryKind = "observation"
)

// Entry is one line of a request's reasoning trace.
type Entry struct {
	Kind      EntryKind `json:"kind"`
	Text      string    `json:"text"`
	Iteration int       `json:"iteration"`
	At        time.Time `json:"at"`
}

// Scratchpad is the transient working state of one request: the ordered
// thought/action/observation history, the iteration counter and the
// wall-clock deadline. One run owns it exclusively; it is discarded when
// the request finishes, never persisted.
type Scratchpad struct {
	requestID string
	request   string
	started   time.Time
	deadline  time.Time
	iteration int
	entries   []Entry
}

func newScratchpad(requestID, request string, deadline time.Time) *Scratchpad {
	return &Scratchpad{
		requestID: requestID,
		request:   request,
		started:   time.Now(),
		deadline:  deadline,
	}
}

// Thought records a reasoning step.
func (s *Scratchpad) Thought(text string) {
	s.append(EntryThought, text)
}

// Action records an attempted invocation.
func (s *Scratchpad) Action(text string) {
	s.append(EntryAction, text)
}

// Observation records an invocation's outcome.
func (s *Scratchpad) Observation(text string) {
	s.append(EntryObservation, text)
}

func (s *Scratchpad) append(kind EntryKind, text string) {
	s.entries = append(s.entries, Entry{
		Kind:      kind,
		Text:      text,
		Iteration: s.iteration,
		At:        time.Now(),
	})
}

// NextIteration advances the iteration counter and returns the new value.
func (s *Scratchpad) NextIteration() int {
	s.iteration++
	return s.iteration
}

// Iteration returns the current iteration count.
func (s *Scratchpad) Iteration() int {
	return s.iteration
}

// Expired reports whether the wall-clock deadline has passed.
func (s *Scratchpad) Expired() bool {
	return time.Now().After(s.deadline)
}

// Elapsed returns the time spent on the request so far.
func (s *Scratchpad) Elapsed() time.Duration {
	return time.Since(s.started)
}

// Entries returns a copy of the trace.
func (s *Scratchpad) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lines renders the trace as prompt-ready history lines.
func (s *Scratchpad) Lines() []string {
	lines := make([]string, len(s.entries))
	for i, e := range s.entries {
		lines[i] = entryLabel(e.Kind) + ": " + e.Text
	}
	return lines
}

// Count returns how many entries of the given kind the trace holds.
func (s *Scratchpad) Count(kind EntryKind) int {
	n := 0
	for _, e := range s.entries {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func entryLabel(kind EntryKind) string {
	switch kind {
	case EntryThought:
		return "Thought"
	case EntryAction:
		return "Action"
	case EntryObservation:
		return "Observation"
	default:
		return string(kind)
	}
}
