package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 3, cfg.Engine.SimpleThreshold)
	assert.Equal(t, 7, cfg.Engine.PlanningThreshold)
	assert.Equal(t, 10, cfg.Engine.MaxIterations)
	assert.Equal(t, 2, cfg.Engine.MaxRepairAttempts)
	assert.Equal(t, 5*time.Minute, cfg.Engine.RequestTimeout())
	assert.Equal(t, "anthropic", cfg.Reasoning.Provider)
	assert.Equal(t, 0.1, cfg.Reasoning.Temperature)
	assert.Equal(t, 4096, cfg.Reasoning.MaxTokens)
	assert.Equal(t, 30*time.Second, cfg.Executor.Timeout())
	assert.Equal(t, 8, cfg.Executor.MaxConcurrent)
	assert.Equal(t, 1000, cfg.Executor.HistoryLimit)
	assert.Equal(t, "minimal", cfg.Normalize.Mode)
	assert.True(t, cfg.Memory.Enabled)
	assert.Equal(t, 5, cfg.Memory.RetrieveLimit)
	assert.True(t, cfg.Safety.Enabled)
	assert.Equal(t, 64, cfg.Dispatch.QueueSize)
	assert.Equal(t, "0 4 * * *", cfg.Maintenance.MemoryPruneCron)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid default config", func(t *testing.T) {
		cfg := DefaultConfig()
		err := cfg.Validate()
		assert.NoError(t, err)
	})

	t.Run("thresholds must be ordered", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Engine.SimpleThreshold = 7
		cfg.Engine.PlanningThreshold = 3

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "simple_threshold must be below")
	})

	t.Run("threshold out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Engine.SimpleThreshold = 0

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "simple_threshold")
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Reasoning.Provider = "gemini"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "reasoning.provider")
	})

	t.Run("mock provider requires mock mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Reasoning.Provider = "mock"
		cfg.Reasoning.MockMode = "off"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "mock_mode")

		cfg.Reasoning.MockMode = "heuristic"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("temperature out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Reasoning.Temperature = 2.5

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "temperature")
	})

	t.Run("invalid normalize mode", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Normalize.Mode = "aggressive"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "normalize.mode")
	})

	t.Run("invalid timezone", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Normalize.Timezone = "Mars/Olympus"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "timezone")
	})

	t.Run("invalid maintenance cron", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Maintenance.MemoryPruneCron = "every tuesday"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "memory_prune_cron")
	})

	t.Run("cron ignored when maintenance disabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Maintenance.Enabled = false
		cfg.Maintenance.MemoryPruneCron = "not a cron"

		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Logging.Level = "verbose"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "logging.level")
	})

	t.Run("mcp server requires name and command", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.MCPServers = []MCPServerConfig{{Name: "files"}}

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "command is required")
	})
}

func TestValidator(t *testing.T) {
	v := NewValidator()

	t.Run("api key formats", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-abc123", "anthropic"))
		assert.Error(t, v.ValidateAPIKey("sk-abc123", "anthropic"))
		assert.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
		assert.Error(t, v.ValidateAPIKey("", "openai"))
	})

	t.Run("cron specs", func(t *testing.T) {
		assert.NoError(t, v.ValidateCronSpec("0 4 * * *"))
		assert.NoError(t, v.ValidateCronSpec("*/15 * * * *"))
		assert.Error(t, v.ValidateCronSpec(""))
		assert.Error(t, v.ValidateCronSpec("0 4 * *"))
	})

	t.Run("max tokens bounds", func(t *testing.T) {
		assert.NoError(t, v.ValidateMaxTokens(4096))
		assert.Error(t, v.ValidateMaxTokens(0))
		assert.Error(t, v.ValidateMaxTokens(300000))
	})

	t.Run("timezones", func(t *testing.T) {
		assert.NoError(t, v.ValidateTimezone("Asia/Seoul"))
		assert.NoError(t, v.ValidateTimezone(""))
		assert.Error(t, v.ValidateTimezone("Nowhere/Nothing"))
	})
}
