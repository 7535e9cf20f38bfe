// Package capabilities ships the built-in capability providers: clock,
// calculator, todo list, notes, workspace file operations and a web page
// reader. Each provider is self-contained; Builtin bundles them as a
// discovery source for the registry.
package capabilities

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/capability"
)

// Options configures the built-in providers.
type Options struct {
	// Workspace is the directory file-backed providers operate under.
	// Defaults to ~/.nara/workspace.
	Workspace string

	// EnableWeb controls whether the browser-backed web reader is
	// included. It spawns a headless Chromium on first use.
	EnableWeb bool

	Logger zerolog.Logger
}

// Builtin is a capability.Source that yields the default provider set.
type Builtin struct {
	opts    Options
	closers []io.Closer
}

// NewBuiltin prepares the built-in source. The workspace directory is
// created on Provide, not here.
func NewBuiltin(opts Options) (*Builtin, error) {
	if opts.Workspace == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		opts.Workspace = filepath.Join(home, ".nara", "workspace")
	}
	return &Builtin{opts: opts}, nil
}

func (b *Builtin) Name() string { return "builtin" }

// Provide builds the provider set. File-backed providers share the
// workspace root.
func (b *Builtin) Provide(ctx context.Context) ([]capability.Provider, error) {
	if err := os.MkdirAll(b.opts.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", b.opts.Workspace, err)
	}

	providers := []capability.Provider{
		NewClock(),
		NewCalculator(),
		NewTodo(filepath.Join(b.opts.Workspace, "todos.json"), b.opts.Logger),
		NewNotes(filepath.Join(b.opts.Workspace, "notes.jsonl"), b.opts.Logger),
		NewFiles(b.opts.Workspace, b.opts.Logger),
	}

	if b.opts.EnableWeb {
		web := NewWebReader(b.opts.Logger)
		providers = append(providers, web)
		b.closers = append(b.closers, web)
	}

	return providers, nil
}

// Close releases resources held by providers, currently the headless
// browser if one was started.
func (b *Builtin) Close() error {
	var firstErr error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.closers = nil
	return firstErr
}

// stringParam extracts a string parameter, distinguishing absent from
// present-but-wrong-type.
func stringParam(params map[string]any, name string) (string, bool) {
	v, ok := params[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intParam accepts both float64 (JSON numbers) and int.
func intParam(params map[string]any, name string) (int, bool) {
	switch v := params[name].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	case int64:
		return int(v), true
	default:
		return 0, false
	}
}

func boolParam(params map[string]any, name string) (bool, bool) {
	v, ok := params[name].(bool)
	return v, ok
}

// requireString returns a validation error naming the parameter when it
// is missing or empty.
func requireString(params map[string]any, name string) (string, error) {
	s, ok := stringParam(params, name)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q is required", name)
	}
	return s, nil
}
