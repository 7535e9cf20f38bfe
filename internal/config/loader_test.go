package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/nara.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/nara.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nonexistent.json")

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.NotNil(t, cfg)
		assert.Equal(t, 3, cfg.Engine.SimpleThreshold)
		assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
	})

	t.Run("load config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nara.json")

		testConfig := `{
			"engine": {
				"simple_threshold": 2,
				"planning_threshold": 8
			},
			"reasoning": {
				"provider": "mock",
				"mock_mode": "heuristic"
			},
			"normalize": {
				"mode": "full"
			}
		}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, 2, cfg.Engine.SimpleThreshold)
		assert.Equal(t, 8, cfg.Engine.PlanningThreshold)
		assert.Equal(t, "mock", cfg.Reasoning.Provider)
		assert.Equal(t, "heuristic", cfg.Reasoning.MockMode)
		assert.Equal(t, "full", cfg.Normalize.Mode)

		// Unset fields keep their defaults
		assert.Equal(t, 10, cfg.Engine.MaxIterations)
		assert.Equal(t, "Asia/Seoul", cfg.Normalize.Timezone)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nara.json")

		testConfig := `{"data_dir": "` + tmpDir + `"}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "nara.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "memory.db"), cfg.Memory.DBPath)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "invalid.json")

		err := os.WriteFile(configPath, []byte("invalid json"), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()

		assert.Error(t, err)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nara.json")

		testConfig := `{"reasoning": {"provider": "watson"}}`
		err := os.WriteFile(configPath, []byte(testConfig), 0644)
		require.NoError(t, err)

		loader := NewLoader(configPath)
		_, err = loader.Load()

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid config")
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("save config to file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "nara.json")

		cfg := DefaultConfig()
		cfg.Engine.MaxIterations = 15
		cfg.Normalize.Timezone = "UTC"

		loader := NewLoader(configPath)
		err := loader.Save(cfg)

		require.NoError(t, err)

		_, err = os.Stat(configPath)
		assert.NoError(t, err)

		loader2 := NewLoader(configPath)
		loadedCfg, err := loader2.Load()
		require.NoError(t, err)
		assert.Equal(t, 15, loadedCfg.Engine.MaxIterations)
		assert.Equal(t, "UTC", loadedCfg.Normalize.Timezone)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "subdir", "nara.json")

		loader := NewLoader(configPath)
		err := loader.Save(DefaultConfig())

		require.NoError(t, err)

		_, err = os.Stat(filepath.Dir(configPath))
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/nara.json")
		path := loader.GetConfigPath()
		assert.Equal(t, "/custom/path/nara.json", path)
	})

	t.Run("default path", func(t *testing.T) {
		loader := NewLoader("")
		path := loader.GetConfigPath()
		assert.NotEmpty(t, path)
		assert.Contains(t, path, ".nara")
	})
}
