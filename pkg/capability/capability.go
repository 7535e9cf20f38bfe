package capability

import (
	"context"
	"fmt"
	"time"
)

// ParamSpec describes a single parameter of a capability action
type ParamSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, number, integer, boolean, array, object
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// ActionSpec describes one action a capability exposes
type ActionSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  []ParamSpec `json:"parameters,omitempty"`
}

// JSONSchema builds a JSON Schema object for validating this action's
// parameters. Unknown parameters are rejected.
func (a ActionSpec) JSONSchema() map[string]any {
	properties := make(map[string]any, len(a.Parameters))
	var required []string

	for _, p := range a.Parameters {
		prop := map[string]any{
			"type": p.Type,
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// Descriptor describes a capability: its identity, the actions it exposes
// and the parameter schema of each action. Descriptors are immutable once
// registered.
type Descriptor struct {
	Name        string       `json:"name"`
	Version     string       `json:"version,omitempty"`
	Category    string       `json:"category,omitempty"`
	Description string       `json:"description"`
	Actions     []ActionSpec `json:"actions"`
}

// Action returns the action spec for the given name. An empty name resolves
// to the action when the capability exposes exactly one.
func (d Descriptor) Action(name string) (ActionSpec, bool) {
	if name == "" {
		if len(d.Actions) == 1 {
			return d.Actions[0], true
		}
		return ActionSpec{}, false
	}
	for _, a := range d.Actions {
		if a.Name == name {
			return a, true
		}
	}
	return ActionSpec{}, false
}

// ActionNames returns the declared action names in order
func (d Descriptor) ActionNames() []string {
	names := make([]string, len(d.Actions))
	for i, a := range d.Actions {
		names[i] = a.Name
	}
	return names
}

// Validate checks the descriptor for structural problems
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("capability name is required")
	}
	if len(d.Actions) == 0 {
		return fmt.Errorf("capability %s declares no actions", d.Name)
	}

	seen := make(map[string]bool, len(d.Actions))
	for _, a := range d.Actions {
		if a.Name == "" {
			return fmt.Errorf("capability %s has an unnamed action", d.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("capability %s declares action %s twice", d.Name, a.Name)
		}
		seen[a.Name] = true

		params := make(map[string]bool, len(a.Parameters))
		for _, p := range a.Parameters {
			if p.Name == "" {
				return fmt.Errorf("capability %s action %s has an unnamed parameter", d.Name, a.Name)
			}
			if params[p.Name] {
				return fmt.Errorf("capability %s action %s declares parameter %s twice", d.Name, a.Name, p.Name)
			}
			params[p.Name] = true

			switch p.Type {
			case "string", "number", "integer", "boolean", "array", "object":
			default:
				return fmt.Errorf("capability %s action %s parameter %s has unknown type %q", d.Name, a.Name, p.Name, p.Type)
			}
		}
	}

	return nil
}

// Invocation is one requested capability call. It is produced by the
// decision engine and adjusted only by the normalizer before execution.
type Invocation struct {
	Capability string         `json:"capability"`
	Action     string         `json:"action,omitempty"`
	Params     map[string]any `json:"params,omitempty"`

	// StepID links the invocation to a plan step
	StepID string `json:"step_id,omitempty"`

	// Essential steps abort the request when they cannot be repaired;
	// non-essential steps are skipped instead.
	Essential bool `json:"essential"`

	// Independent steps may execute concurrently with other independent
	// steps of the same plan.
	Independent bool `json:"independent,omitempty"`

	// Note carries the decision engine's short rationale for this step
	Note string `json:"note,omitempty"`
}

// Clone returns a deep-enough copy: the params map is copied, values are
// shared. Normalizers operate on clones so the original plan stays intact.
func (inv Invocation) Clone() Invocation {
	out := inv
	if inv.Params != nil {
		out.Params = make(map[string]any, len(inv.Params))
		for k, v := range inv.Params {
			out.Params[k] = v
		}
	}
	return out
}

// Status of a capability call
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the immutable outcome of one executed invocation
type Result struct {
	Status    Status         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Truncated bool           `json:"truncated,omitempty"`
}

// OK reports whether the call succeeded
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}

// Provider is the contract a capability implementation fulfills. Execute
// must return a validation error for bad parameters instead of panicking;
// the executor still guards against panics.
type Provider interface {
	Describe() Descriptor
	Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error)
}

// Source yields providers during discovery. A source that fails is skipped
// without aborting the scan.
type Source interface {
	Name() string
	Provide(ctx context.Context) ([]Provider, error)
}
