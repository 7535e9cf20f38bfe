package config

import (
	"fmt"
	"time"
)

// Config represents the main Nara configuration
type Config struct {
	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Engine drives the ReAct controller
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Reasoning backend
	Reasoning ReasoningConfig `json:"reasoning" mapstructure:"reasoning"`

	// Executor limits
	Executor ExecutorConfig `json:"executor" mapstructure:"executor"`

	// Normalization
	Normalize NormalizeConfig `json:"normalize" mapstructure:"normalize"`

	// Memory store
	Memory MemoryConfig `json:"memory" mapstructure:"memory"`

	// Safety gate
	Safety SafetyConfig `json:"safety" mapstructure:"safety"`

	// Built-in capability providers
	Capabilities CapabilitiesConfig `json:"capabilities" mapstructure:"capabilities"`

	// Request dispatch
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`

	// Maintenance scheduling
	Maintenance MaintenanceConfig `json:"maintenance" mapstructure:"maintenance"`

	// MCP capability servers
	MCPServers []MCPServerConfig `json:"mcp_servers" mapstructure:"mcp_servers"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// EngineConfig holds ReAct controller settings
type EngineConfig struct {
	// Complexity routing: scores at or below SimpleThreshold take the
	// single-shot path, scores at or above PlanningThreshold get a
	// decomposition pre-pass, everything between runs the loop.
	SimpleThreshold   int `json:"simple_threshold" mapstructure:"simple_threshold"`
	PlanningThreshold int `json:"planning_threshold" mapstructure:"planning_threshold"`

	MaxIterations     int `json:"max_iterations" mapstructure:"max_iterations"`
	RequestTimeoutSec int `json:"request_timeout_sec" mapstructure:"request_timeout_sec"`
	MaxRepairAttempts int `json:"max_repair_attempts" mapstructure:"max_repair_attempts"`
	MaxRepeats        int `json:"max_repeats" mapstructure:"max_repeats"`
}

// RequestTimeout returns the per-request wall-clock budget
func (c EngineConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// ReasoningConfig holds reasoning backend settings
type ReasoningConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai, mock
	Model       string  `json:"model" mapstructure:"model"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`

	// MockMode selects behavior when Provider is "mock": echo returns the
	// prompt back, heuristic produces deterministic plans from keywords.
	MockMode string `json:"mock_mode" mapstructure:"mock_mode"` // off, echo, heuristic
}

// ExecutorConfig holds tool execution limits
type ExecutorConfig struct {
	TimeoutSec     int `json:"timeout_sec" mapstructure:"timeout_sec"`
	MaxConcurrent  int `json:"max_concurrent" mapstructure:"max_concurrent"`
	MaxOutputBytes int `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	HistoryLimit   int `json:"history_limit" mapstructure:"history_limit"`
}

// Timeout returns the per-call execution budget
func (c ExecutorConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// NormalizeConfig holds parameter normalization settings
type NormalizeConfig struct {
	Mode     string `json:"mode" mapstructure:"mode"` // off, minimal, full
	Timezone string `json:"timezone" mapstructure:"timezone"`
	MaxTitle int    `json:"max_title" mapstructure:"max_title"`
}

// MemoryConfig holds memory store settings
type MemoryConfig struct {
	Enabled       bool    `json:"enabled" mapstructure:"enabled"`
	DBPath        string  `json:"db_path" mapstructure:"db_path"`
	RetrieveLimit int     `json:"retrieve_limit" mapstructure:"retrieve_limit"`
	MinScore      float64 `json:"min_score" mapstructure:"min_score"`
	RetentionDays int     `json:"retention_days" mapstructure:"retention_days"`
}

// SafetyConfig holds safety gate settings
type SafetyConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
	// Protected entries are "capability" or "capability.action" pairs that
	// are rejected unless the request carries prior confirmation.
	Protected []string `json:"protected" mapstructure:"protected"`
}

// CapabilitiesConfig holds built-in capability provider settings
type CapabilitiesConfig struct {
	// Workspace is the directory file-backed providers operate under
	Workspace string `json:"workspace" mapstructure:"workspace"`
	// EnableWeb includes the headless-browser page reader
	EnableWeb bool `json:"enable_web" mapstructure:"enable_web"`
}

// DispatchConfig holds request dispatch settings. Each session gets a
// serial lane; QueueSize bounds how many requests may wait per lane.
type DispatchConfig struct {
	QueueSize int `json:"queue_size" mapstructure:"queue_size"`
}

// MaintenanceConfig holds maintenance scheduler settings
type MaintenanceConfig struct {
	Enabled          bool   `json:"enabled" mapstructure:"enabled"`
	MemoryPruneCron  string `json:"memory_prune_cron" mapstructure:"memory_prune_cron"`
	StatsSnapshotSec int    `json:"stats_snapshot_sec" mapstructure:"stats_snapshot_sec"`
}

// MCPServerConfig describes one MCP server to discover capabilities from
type MCPServerConfig struct {
	Name    string   `json:"name" mapstructure:"name"`
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args" mapstructure:"args"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			SimpleThreshold:   3,
			PlanningThreshold: 7,
			MaxIterations:     10,
			RequestTimeoutSec: 300,
			MaxRepairAttempts: 2,
			MaxRepeats:        3,
		},
		Reasoning: ReasoningConfig{
			Provider:    "anthropic",
			Model:       "claude-3-5-sonnet-20241022",
			Temperature: 0.1,
			MaxTokens:   4096,
			MaxRetries:  3,
			MockMode:    "off",
		},
		Executor: ExecutorConfig{
			TimeoutSec:     30,
			MaxConcurrent:  8,
			MaxOutputBytes: 10 * 1024,
			HistoryLimit:   1000,
		},
		Normalize: NormalizeConfig{
			Mode:     "minimal",
			Timezone: "Asia/Seoul",
			MaxTitle: 200,
		},
		Memory: MemoryConfig{
			Enabled:       true,
			RetrieveLimit: 5,
			MinScore:      0.1,
			RetentionDays: 90,
		},
		Safety: SafetyConfig{
			Enabled: true,
		},
		Dispatch: DispatchConfig{
			QueueSize: 64,
		},
		Maintenance: MaintenanceConfig{
			Enabled:          true,
			MemoryPruneCron:  "0 4 * * *",
			StatsSnapshotSec: 3600,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	v := NewValidator()

	if c.Engine.SimpleThreshold < 1 || c.Engine.SimpleThreshold > 10 {
		return fmt.Errorf("engine.simple_threshold must be in 1..10, got %d", c.Engine.SimpleThreshold)
	}
	if c.Engine.PlanningThreshold < 1 || c.Engine.PlanningThreshold > 10 {
		return fmt.Errorf("engine.planning_threshold must be in 1..10, got %d", c.Engine.PlanningThreshold)
	}
	if c.Engine.SimpleThreshold >= c.Engine.PlanningThreshold {
		return fmt.Errorf("engine.simple_threshold must be below engine.planning_threshold")
	}
	if c.Engine.MaxIterations < 1 {
		return fmt.Errorf("engine.max_iterations must be positive, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.RequestTimeoutSec < 1 {
		return fmt.Errorf("engine.request_timeout_sec must be positive, got %d", c.Engine.RequestTimeoutSec)
	}
	if c.Engine.MaxRepairAttempts < 0 {
		return fmt.Errorf("engine.max_repair_attempts cannot be negative, got %d", c.Engine.MaxRepairAttempts)
	}

	switch c.Reasoning.Provider {
	case "anthropic", "openai", "mock":
	default:
		return fmt.Errorf("reasoning.provider must be anthropic, openai or mock, got %q", c.Reasoning.Provider)
	}
	if c.Reasoning.Provider == "mock" {
		switch c.Reasoning.MockMode {
		case "echo", "heuristic":
		default:
			return fmt.Errorf("reasoning.mock_mode must be echo or heuristic when provider is mock, got %q", c.Reasoning.MockMode)
		}
	}
	if err := v.ValidateModel(c.Reasoning.Model); err != nil {
		return fmt.Errorf("reasoning.model: %w", err)
	}
	if err := v.ValidateTemperature(c.Reasoning.Temperature); err != nil {
		return fmt.Errorf("reasoning.temperature: %w", err)
	}
	if err := v.ValidateMaxTokens(c.Reasoning.MaxTokens); err != nil {
		return fmt.Errorf("reasoning.max_tokens: %w", err)
	}

	switch c.Normalize.Mode {
	case "off", "minimal", "full":
	default:
		return fmt.Errorf("normalize.mode must be off, minimal or full, got %q", c.Normalize.Mode)
	}
	if err := v.ValidateTimezone(c.Normalize.Timezone); err != nil {
		return fmt.Errorf("normalize.timezone: %w", err)
	}

	if c.Executor.TimeoutSec < 1 {
		return fmt.Errorf("executor.timeout_sec must be positive, got %d", c.Executor.TimeoutSec)
	}
	if c.Executor.MaxConcurrent < 1 {
		return fmt.Errorf("executor.max_concurrent must be positive, got %d", c.Executor.MaxConcurrent)
	}

	if c.Dispatch.QueueSize < 1 {
		return fmt.Errorf("dispatch.queue_size must be positive, got %d", c.Dispatch.QueueSize)
	}

	if c.Maintenance.Enabled {
		if err := v.ValidateCronSpec(c.Maintenance.MemoryPruneCron); err != nil {
			return fmt.Errorf("maintenance.memory_prune_cron: %w", err)
		}
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	for i, srv := range c.MCPServers {
		if srv.Name == "" {
			return fmt.Errorf("mcp_servers[%d].name is required", i)
		}
		if srv.Command == "" {
			return fmt.Errorf("mcp_servers[%d].command is required", i)
		}
	}

	return nil
}
