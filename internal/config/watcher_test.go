package config

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnChange(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nara.json")

	err := os.WriteFile(configPath, []byte(`{"engine": {"max_iterations": 5}}`), 0644)
	require.NoError(t, err)

	loader := NewLoader(configPath)

	var got atomic.Value
	watcher, err := NewWatcher(loader, zerolog.Nop(), func(cfg *Config) {
		got.Store(cfg)
	})
	require.NoError(t, err)
	defer watcher.Stop()

	err = os.WriteFile(configPath, []byte(`{"engine": {"max_iterations": 20}}`), 0644)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		cfg, ok := got.Load().(*Config)
		return ok && cfg.Engine.MaxIterations == 20
	}, 3*time.Second, 50*time.Millisecond)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nara.json")

	err := os.WriteFile(configPath, []byte(`{}`), 0644)
	require.NoError(t, err)

	loader := NewLoader(configPath)

	var calls atomic.Int32
	watcher, err := NewWatcher(loader, zerolog.Nop(), func(cfg *Config) {
		calls.Add(1)
	})
	require.NoError(t, err)
	defer watcher.Stop()

	err = os.WriteFile(filepath.Join(tmpDir, "unrelated.txt"), []byte("x"), 0644)
	require.NoError(t, err)

	time.Sleep(time.Second)
	assert.Equal(t, int32(0), calls.Load())
}
