package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Budget      BudgetConfig    `toml:"budget"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	LLM         LLMConfig       `toml:"llm"`
	Claude      ClaudeConfig    `toml:"claude"`
	Gemini      GeminiConfig    `toml:"gemini"`
	Logging     LoggingConfig   `toml:"logging"`
	Auth        AuthConfig      `toml:"auth"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// SchedulerConfig controls the dispatch loop and watchdog.
type SchedulerConfig struct {
	Concurrency      int    `toml:"concurrency"`       // Max concurrently running jobs; <= 0 means unlimited
	PollInterval     string `toml:"poll_interval"`     // e.g. "500ms" - how often the loop polls for eligible jobs
	WatchdogSchedule string `toml:"watchdog_schedule"` // Cron expression for the deadline watchdog sweep
	StatsSchedule    string `toml:"stats_schedule"`    // Cron expression for the periodic queue-stats broadcast
	WorkerID         string `toml:"worker_id"`         // Stamped on claimed jobs; defaults to hostname
}

// BudgetConfig controls ledger defaults.
type BudgetConfig struct {
	DefaultWarningThresholdPercent float64 `toml:"default_warning_threshold_percent"` // Warn at this % of a limit (default 80)
}

// WebSocketConfig contains configuration for the realtime channel.
type WebSocketConfig struct {
	// Throttle interval for job_progress events per job room. Empty disables
	// throttling. Terminal events are never throttled.
	ProgressThrottle string `toml:"progress_throttle"`
	// AllowAnonymous accepts unauthenticated connections in a degraded
	// anonymous mode instead of rejecting them.
	AllowAnonymous bool `toml:"allow_anonymous"`
}

// AuthConfig holds the bearer-token verification settings.
type AuthConfig struct {
	JWTSecret string `toml:"jwt_secret"` // HS256 secret for websocket bearer tokens
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
)

// LLMConfig selects the content generator provider.
type LLMConfig struct {
	Provider LLMProvider `toml:"provider"` // "claude" (default) or "gemini"
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`     // Anthropic API key
	Model       string  `toml:"model"`       // Model name (default: "claude-sonnet-4-20250514")
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`     // Google Gemini API key
	Model       string  `toml:"model"`       // Model name (default: "gemini-2.5-flash")
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.7)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// DefaultConfig returns the built-in defaults applied before any config
// file or environment override.
func DefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "0.0.0.0",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/maestro",
			},
		},
		Scheduler: SchedulerConfig{
			Concurrency:      4,
			PollInterval:     "500ms",
			WatchdogSchedule: "@every 30s",
			StatsSchedule:    "@every 15s",
			WorkerID:         defaultWorkerID(),
		},
		Budget: BudgetConfig{
			DefaultWarningThresholdPercent: 80.0,
		},
		WebSocket: WebSocketConfig{
			ProgressThrottle: "250ms",
			AllowAnonymous:   true,
		},
		LLM: LLMConfig{
			Provider: LLMProviderClaude,
		},
		Claude: ClaudeConfig{
			Model:       "claude-sonnet-4-20250514",
			MaxTokens:   8192,
			Timeout:     "5m",
			Temperature: 0.7,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-2.5-flash",
			Timeout:     "5m",
			Temperature: 0.7,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// defaultWorkerID identifies this process's claims in the job store.
func defaultWorkerID() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "maestro"
	}
	return hostname
}

// LoadFromFiles loads configuration with precedence:
// defaults -> file1 -> file2 -> ... -> environment variables.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies MAESTRO_* environment variables on top of the
// file configuration.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("MAESTRO_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("MAESTRO_SERVER_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("MAESTRO_STORAGE_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("MAESTRO_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("MAESTRO_LLM_PROVIDER"); v != "" {
		config.LLM.Provider = LLMProvider(v)
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.Claude.APIKey == "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" && config.Gemini.APIKey == "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("MAESTRO_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks the configuration for values that would fail later in
// startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.Badger.Path == "" {
		return fmt.Errorf("storage.badger.path is required")
	}
	if _, err := time.ParseDuration(c.Scheduler.PollInterval); err != nil {
		return fmt.Errorf("invalid scheduler.poll_interval %q: %w", c.Scheduler.PollInterval, err)
	}
	if c.WebSocket.ProgressThrottle != "" {
		if _, err := time.ParseDuration(c.WebSocket.ProgressThrottle); err != nil {
			return fmt.Errorf("invalid websocket.progress_throttle %q: %w", c.WebSocket.ProgressThrottle, err)
		}
	}
	switch c.LLM.Provider {
	case LLMProviderClaude, LLMProviderGemini:
	default:
		return fmt.Errorf("unknown llm.provider: %s", c.LLM.Provider)
	}
	return nil
}

// PollIntervalDuration returns the parsed scheduler poll interval.
func (c *SchedulerConfig) PollIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}
