package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/capability"
)

// Mode selects how much parameter correction is applied before execution
type Mode string

const (
	// ModeOff passes invocations through untouched
	ModeOff Mode = "off"
	// ModeMinimal corrects only non-interpretive issues: key aliases,
	// missing timezone, timezone-less dates, declared defaults
	ModeMinimal Mode = "minimal"
	// ModeFull additionally maps free-text values onto enumerated ones.
	// It can silently change intent, so it stays opt-in.
	ModeFull Mode = "full"
)

// ParseMode validates a mode string from configuration
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, ModeMinimal, ModeFull:
		return Mode(s), nil
	case "":
		return ModeMinimal, nil
	default:
		return "", fmt.Errorf("unknown normalization mode %q (want off, minimal or full)", s)
	}
}

// Config holds normalizer settings
type Config struct {
	Mode     Mode
	Timezone string // IANA zone applied to timezone-less dates
	MaxTitle int    // rune cap for title values in full mode
	Logger   zerolog.Logger
}

// Normalizer rewrites invocation parameters into the canonical shape a
// capability declares. It never invents a required value it cannot
// derive deterministically; missing parameters stay missing.
type Normalizer struct {
	mode     Mode
	loc      *time.Location
	maxTitle int
	logger   zerolog.Logger
}

// New creates a normalizer. An empty timezone falls back to the local zone.
func New(cfg Config) (*Normalizer, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeMinimal
	}
	if _, err := ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
	}

	if cfg.MaxTitle <= 0 {
		cfg.MaxTitle = 200
	}

	return &Normalizer{
		mode:     cfg.Mode,
		loc:      loc,
		maxTitle: cfg.MaxTitle,
		logger:   cfg.Logger.With().Str("component", "normalizer").Logger(),
	}, nil
}

// Mode returns the active mode
func (n *Normalizer) Mode() Mode {
	return n.mode
}

// keyAliases maps common parameter spellings to their canonical names.
// A rename happens only when the capability declares the canonical name
// and the caller did not already set it.
var keyAliases = map[string]string{
	"name":       "title",
	"subject":    "title",
	"date":       "when",
	"datetime":   "when",
	"time":       "when",
	"content":    "body",
	"text":       "body",
	"message":    "body",
	"tz":         "timezone",
	"zone":       "timezone",
	"prio":       "priority",
	"importance": "priority",
}

// prioritySynonyms maps free-text urgency words onto the usual enum
var prioritySynonyms = map[string]string{
	"urgent":    "high",
	"critical":  "high",
	"asap":      "high",
	"important": "high",
	"normal":    "medium",
	"moderate":  "medium",
	"later":     "low",
	"whenever":  "low",
	"someday":   "low",
}

// dateLayouts are accepted timezone-less forms, most specific first
var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Apply normalizes an invocation against the action it targets. The
// input is never mutated; a list of human-readable changes accompanies
// the rewritten invocation for the trace.
func (n *Normalizer) Apply(inv capability.Invocation, action capability.ActionSpec) (capability.Invocation, []string) {
	if n.mode == ModeOff || len(inv.Params) == 0 && !hasDefaults(action) {
		return inv, nil
	}

	out := inv.Clone()
	if out.Params == nil {
		out.Params = map[string]any{}
	}

	var changes []string

	changes = append(changes, n.renameAliases(out.Params, action)...)
	changes = append(changes, n.fillTimezone(out.Params, action)...)
	changes = append(changes, n.coerceDates(out.Params, action)...)
	changes = append(changes, n.fillDefaults(out.Params, action)...)

	if n.mode == ModeFull {
		changes = append(changes, n.mapPriorities(out.Params, action)...)
		changes = append(changes, n.tidyTitles(out.Params, action)...)
	}

	if len(changes) > 0 {
		n.logger.Debug().
			Str("capability", inv.Capability).
			Str("action", action.Name).
			Strs("changes", changes).
			Msg("Parameters normalized")
	}

	return out, changes
}

func (n *Normalizer) renameAliases(params map[string]any, action capability.ActionSpec) []string {
	declared := declaredNames(action)

	var changes []string
	for key, value := range params {
		if declared[key] {
			continue
		}
		canonical, ok := keyAliases[key]
		if !ok || !declared[canonical] {
			continue
		}
		if _, taken := params[canonical]; taken {
			continue
		}
		params[canonical] = value
		delete(params, key)
		changes = append(changes, fmt.Sprintf("renamed %q to %q", key, canonical))
	}
	return changes
}

func (n *Normalizer) fillTimezone(params map[string]any, action capability.ActionSpec) []string {
	if !declaredNames(action)["timezone"] {
		return nil
	}
	if _, ok := params["timezone"]; ok {
		return nil
	}
	params["timezone"] = n.loc.String()
	return []string{fmt.Sprintf("filled timezone with %q", n.loc.String())}
}

func (n *Normalizer) coerceDates(params map[string]any, action capability.ActionSpec) []string {
	var changes []string
	for _, spec := range action.Parameters {
		if spec.Type != "string" || !isDateParam(spec.Name) {
			continue
		}
		raw, ok := params[spec.Name].(string)
		if !ok || raw == "" {
			continue
		}
		coerced, ok := n.coerceDate(raw)
		if !ok || coerced == raw {
			continue
		}
		params[spec.Name] = coerced
		changes = append(changes, fmt.Sprintf("coerced %q to %q", spec.Name, coerced))
	}
	return changes
}

// coerceDate rewrites a timezone-less date string into RFC 3339 in the
// configured zone. Values that already carry a zone pass through.
func (n *Normalizer) coerceDate(value string) (string, bool) {
	trimmed := strings.TrimSpace(value)

	if _, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return value, false
	}

	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, trimmed, n.loc)
		if err != nil {
			continue
		}
		return t.Format(time.RFC3339), true
	}
	return "", false
}

func (n *Normalizer) fillDefaults(params map[string]any, action capability.ActionSpec) []string {
	var changes []string
	for _, spec := range action.Parameters {
		if spec.Default == nil {
			continue
		}
		if _, ok := params[spec.Name]; ok {
			continue
		}
		params[spec.Name] = spec.Default
		changes = append(changes, fmt.Sprintf("defaulted %q to %v", spec.Name, spec.Default))
	}
	return changes
}

func (n *Normalizer) mapPriorities(params map[string]any, action capability.ActionSpec) []string {
	var changes []string
	for _, spec := range action.Parameters {
		if spec.Name != "priority" {
			continue
		}
		raw, ok := params[spec.Name].(string)
		if !ok {
			continue
		}
		mapped, ok := prioritySynonyms[strings.ToLower(strings.TrimSpace(raw))]
		if !ok || mapped == raw {
			continue
		}
		if len(spec.Enum) > 0 && !inEnum(spec.Enum, mapped) {
			continue
		}
		params[spec.Name] = mapped
		changes = append(changes, fmt.Sprintf("mapped priority %q to %q", raw, mapped))
	}
	return changes
}

func (n *Normalizer) tidyTitles(params map[string]any, action capability.ActionSpec) []string {
	var changes []string
	for _, spec := range action.Parameters {
		if spec.Name != "title" || spec.Type != "string" {
			continue
		}
		raw, ok := params[spec.Name].(string)
		if !ok {
			continue
		}
		tidy := strings.TrimSpace(raw)
		if runes := []rune(tidy); len(runes) > n.maxTitle {
			tidy = string(runes[:n.maxTitle])
		}
		if tidy == raw {
			continue
		}
		params[spec.Name] = tidy
		changes = append(changes, fmt.Sprintf("tidied %q (%d chars)", spec.Name, len(tidy)))
	}
	return changes
}

func declaredNames(action capability.ActionSpec) map[string]bool {
	names := make(map[string]bool, len(action.Parameters))
	for _, p := range action.Parameters {
		names[p.Name] = true
	}
	return names
}

func isDateParam(name string) bool {
	switch name {
	case "when", "date", "datetime", "time", "due", "start", "end", "deadline", "at":
		return true
	}
	return strings.HasSuffix(name, "_at") ||
		strings.HasSuffix(name, "_date") ||
		strings.HasSuffix(name, "_time")
}

func inEnum(enum []string, value string) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}

func hasDefaults(action capability.ActionSpec) bool {
	for _, p := range action.Parameters {
		if p.Default != nil {
			return true
		}
	}
	return false
}
