package planner

import "time"

// Goal is one sub-objective of a decomposed request. DependsOn lists the
// IDs of goals that must complete before this one starts.
type Goal struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Outline is a dependency-ordered decomposition of a complex request,
// produced before the acting loop starts.
type Outline struct {
	ID        string    `json:"id"`
	Request   string    `json:"request"`
	Reasoning string    `json:"reasoning,omitempty"`
	Goals     []Goal    `json:"goals"`
	CreatedAt time.Time `json:"created_at"`
}

// Goal returns the goal with the given ID.
func (o *Outline) Goal(id string) (Goal, bool) {
	for _, g := range o.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return Goal{}, false
}
