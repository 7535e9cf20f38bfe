package safety

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/nara/internal/config"
	"github.com/harun/nara/pkg/capability"
)

// RejectionError reports a request or plan stopped before execution
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected by safety gate: %s", e.Reason)
}

// Gate checks requests and planned invocations against configured
// keywords, patterns and protected capability actions.
type Gate struct {
	enabled   bool
	keywords  []string
	patterns  []*regexp.Regexp
	protected map[string]bool
}

// New creates a gate from configuration
func New(cfg config.SafetyConfig) (*Gate, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	protected := make(map[string]bool, len(cfg.Protected))
	for _, p := range cfg.Protected {
		protected[strings.ToLower(p)] = true
	}

	return &Gate{
		enabled:   cfg.Enabled,
		keywords:  cfg.BlockedKeywords,
		patterns:  patterns,
		protected: protected,
	}, nil
}

// CheckRequest returns an error if the raw request contains blocked content
func (g *Gate) CheckRequest(text string) error {
	if !g.enabled {
		return nil
	}
	if reason, blocked := g.scan(text); blocked {
		return &RejectionError{Reason: "request " + reason}
	}
	return nil
}

func (g *Gate) scan(text string) (string, bool) {
	normalized := strings.ToLower(text)
	for _, kw := range g.keywords {
		if strings.Contains(normalized, strings.ToLower(kw)) {
			return fmt.Sprintf("contains blocked keyword %q", kw), true
		}
	}
	for i, re := range g.patterns {
		if re.MatchString(text) {
			return fmt.Sprintf("matches blocked pattern #%d", i+1), true
		}
	}
	return "", false
}

// CheckPlan rejects planned invocations that target a protected
// capability action or smuggle blocked content in their parameters.
// Protected actions need explicit user confirmation, which the planner
// cannot grant on its own.
func (g *Gate) CheckPlan(steps []capability.Invocation) error {
	if !g.enabled {
		return nil
	}

	for _, step := range steps {
		pair := strings.ToLower(step.Capability + "." + step.Action)
		if g.protected[strings.ToLower(step.Capability)] || g.protected[pair] {
			return &RejectionError{
				Reason: fmt.Sprintf("%s.%s requires explicit confirmation", step.Capability, step.Action),
			}
		}

		for key, value := range step.Params {
			s, ok := value.(string)
			if !ok {
				continue
			}
			if reason, blocked := g.scan(s); blocked {
				return &RejectionError{
					Reason: fmt.Sprintf("parameter %q of %s.%s %s", key, step.Capability, step.Action, reason),
				}
			}
		}
	}
	return nil
}
