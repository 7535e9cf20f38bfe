package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Stats tracks usage of one registered capability
type Stats struct {
	Calls    int64     `json:"calls"`
	Errors   int64     `json:"errors"`
	LastUsed time.Time `json:"last_used"`
}

type entry struct {
	descriptor Descriptor
	provider   Provider
	enabled    bool
	stats      Stats
}

// Registry holds the registered capabilities. Lookups are concurrent;
// registration takes exclusive access only for the map insert so readers
// never observe a partially built entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With().Str("component", "registry").Logger(),
	}
}

// Register adds a provider's capability. Registering a name that already
// exists fails with DuplicateCapabilityError; use Replace to swap a
// provider out deliberately.
func (r *Registry) Register(p Provider) error {
	return r.register(p, false)
}

// Replace registers a provider, replacing any existing capability with the
// same name
func (r *Registry) Replace(p Provider) error {
	return r.register(p, true)
}

func (r *Registry) register(p Provider, replace bool) error {
	if p == nil {
		return fmt.Errorf("provider is nil")
	}

	desc, err := safeDescribe(p)
	if err != nil {
		return err
	}
	if err := desc.Validate(); err != nil {
		return err
	}

	e := &entry{
		descriptor: desc,
		provider:   p,
		enabled:    true,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; exists && !replace {
		return &DuplicateCapabilityError{Name: desc.Name}
	}

	r.entries[desc.Name] = e

	r.logger.Debug().
		Str("capability", desc.Name).
		Str("category", desc.Category).
		Strs("actions", desc.ActionNames()).
		Msg("Capability registered")

	return nil
}

// safeDescribe shields the registry from a provider that panics while
// describing itself
func safeDescribe(p Provider) (desc Descriptor, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("describe panicked: %v", rec)
		}
	}()
	desc = p.Describe()
	return desc, nil
}

// Resolve returns the descriptor registered under name
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Descriptor{}, &CapabilityNotFoundError{Name: name}
	}
	return e.descriptor, nil
}

// Provider returns the provider for an enabled capability
func (r *Registry) Provider(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok || !e.enabled {
		return nil, &CapabilityNotFoundError{Name: name}
	}
	return e.provider, nil
}

// List returns the descriptors of all enabled capabilities sorted by name.
// This is the catalog the decision engine builds its prompt from.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.descriptor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns the names of all enabled capabilities sorted
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, d := range list {
		names[i] = d.Name
	}
	return names
}

// Categories returns the distinct categories of enabled capabilities sorted
func (r *Registry) Categories() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, e := range r.entries {
		if e.enabled && e.descriptor.Category != "" {
			seen[e.descriptor.Category] = true
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Enable makes a capability visible to the catalog and executable again
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable hides a capability from the catalog and blocks execution. The
// descriptor stays resolvable.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return &CapabilityNotFoundError{Name: name}
	}
	e.enabled = enabled

	r.logger.Info().Str("capability", name).Bool("enabled", enabled).Msg("Capability toggled")
	return nil
}

// RecordUse updates the usage counters for a capability after a call
func (r *Registry) RecordUse(name string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, exists := r.entries[name]
	if !exists {
		return
	}
	e.stats.Calls++
	if !ok {
		e.stats.Errors++
	}
	e.stats.LastUsed = time.Now()
}

// Stats returns a snapshot of per-capability usage counters
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]Stats, len(r.entries))
	for name, e := range r.entries {
		out[name] = e.stats
	}
	return out
}

// Len returns the number of registered capabilities, enabled or not
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// DiscoveryFailure records one provider or source that could not be
// registered during a scan
type DiscoveryFailure struct {
	Source string `json:"source"`
	Reason string `json:"reason"`
}

// DiscoveryReport summarizes one discovery scan
type DiscoveryReport struct {
	Registered int                `json:"registered"`
	Skipped    int                `json:"skipped"`
	Failures   []DiscoveryFailure `json:"failures,omitempty"`
}

// Discover scans the given sources and registers every capability they
// yield. A failing source or provider is logged and skipped; the scan
// always runs to completion.
func (r *Registry) Discover(ctx context.Context, sources ...Source) DiscoveryReport {
	var report DiscoveryReport

	for _, src := range sources {
		if ctx.Err() != nil {
			report.Failures = append(report.Failures, DiscoveryFailure{
				Source: src.Name(),
				Reason: ctx.Err().Error(),
			})
			break
		}

		providers, err := src.Provide(ctx)
		if err != nil {
			r.logger.Warn().
				Str("source", src.Name()).
				Err(err).
				Msg("Capability source failed, skipping")
			report.Failures = append(report.Failures, DiscoveryFailure{
				Source: src.Name(),
				Reason: err.Error(),
			})
			continue
		}

		for _, p := range providers {
			if err := r.Register(p); err != nil {
				r.logger.Warn().
					Str("source", src.Name()).
					Err(err).
					Msg("Provider rejected, skipping")
				report.Skipped++
				report.Failures = append(report.Failures, DiscoveryFailure{
					Source: src.Name(),
					Reason: err.Error(),
				})
				continue
			}
			report.Registered++
		}
	}

	r.logger.Info().
		Int("registered", report.Registered).
		Int("skipped", report.Skipped).
		Int("failures", len(report.Failures)).
		Msg("Capability discovery finished")

	return report
}
