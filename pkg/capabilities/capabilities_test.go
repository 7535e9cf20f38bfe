package capabilities

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/nara/pkg/capability"
)

func TestBuiltin_ProvidesDefaultSet(t *testing.T) {
	src, err := NewBuiltin(Options{
		Workspace: t.TempDir(),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.Equal(t, "builtin", src.Name())

	providers, err := src.Provide(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 5)

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		desc := p.Describe()
		require.NoError(t, desc.Validate())
		names = append(names, desc.Name)
	}
	assert.ElementsMatch(t, []string{"clock", "calculator", "todo", "notes", "files"}, names)
}

func TestBuiltin_WebOptIn(t *testing.T) {
	src, err := NewBuiltin(Options{
		Workspace: t.TempDir(),
		EnableWeb: true,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	providers, err := src.Provide(context.Background())
	require.NoError(t, err)
	require.Len(t, providers, 6)
	assert.Equal(t, "web", providers[5].Describe().Name)

	require.NoError(t, src.Close())
}

func TestBuiltin_CreatesWorkspace(t *testing.T) {
	workspace := filepath.Join(t.TempDir(), "nested", "workspace")
	src, err := NewBuiltin(Options{Workspace: workspace, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = src.Provide(context.Background())
	require.NoError(t, err)
	assert.DirExists(t, workspace)
}

func TestBuiltin_RegistersWithRegistry(t *testing.T) {
	src, err := NewBuiltin(Options{Workspace: t.TempDir(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	registry := capability.NewRegistry(zerolog.Nop())
	report := registry.Discover(context.Background(), src)

	assert.Equal(t, 5, report.Registered)
	assert.Equal(t, 0, report.Skipped)
	assert.Empty(t, report.Failures)

	desc, err := registry.Resolve("todo")
	require.NoError(t, err)
	_, ok := desc.Action("add")
	assert.True(t, ok)
}

func TestParamHelpers(t *testing.T) {
	params := map[string]any{
		"name":    "milk",
		"count":   float64(3),
		"exact":   7,
		"flag":    true,
		"blank":   "",
		"numlike": "12",
	}

	s, ok := stringParam(params, "name")
	assert.True(t, ok)
	assert.Equal(t, "milk", s)

	_, ok = stringParam(params, "count")
	assert.False(t, ok)

	n, ok := intParam(params, "count")
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	n, ok = intParam(params, "exact")
	assert.True(t, ok)
	assert.Equal(t, 7, n)

	_, ok = intParam(params, "numlike")
	assert.False(t, ok)

	b, ok := boolParam(params, "flag")
	assert.True(t, ok)
	assert.True(t, b)

	_, err := requireString(params, "blank")
	require.Error(t, err)

	_, err = requireString(params, "absent")
	require.Error(t, err)

	got, err := requireString(params, "name")
	require.NoError(t, err)
	assert.Equal(t, "milk", got)
}
