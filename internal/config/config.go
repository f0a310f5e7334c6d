package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/kosmo/pkg/sandbox"
)

// Config represents the main Kosmo configuration
type Config struct {
	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// AI configuration
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Session persistence
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Sandbox for code-executing tools
	Sandbox sandbox.Config `json:"sandbox" mapstructure:"sandbox"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig holds the query loop limits
type AgentConfig struct {
	MaxIterations        int           `json:"max_iterations" mapstructure:"max_iterations"`
	MaxTransientAttempts int           `json:"max_transient_attempts" mapstructure:"max_transient_attempts"`
	MaxReasoningRetries  int           `json:"max_reasoning_retries" mapstructure:"max_reasoning_retries"`
	BackoffBase          time.Duration `json:"backoff_base" mapstructure:"backoff_base"`
	BackoffMax           time.Duration `json:"backoff_max" mapstructure:"backoff_max"`
	ReasoningTimeout     time.Duration `json:"reasoning_timeout" mapstructure:"reasoning_timeout"`
	ToolTimeout          time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	HistoryWindow        int           `json:"history_window" mapstructure:"history_window"`
	// QueueWarnAfter reports a query still waiting behind an earlier one of its session.
	QueueWarnAfter       time.Duration `json:"queue_warn_after" mapstructure:"queue_warn_after"`
	SystemPrompt         string        `json:"system_prompt,omitempty" mapstructure:"system_prompt"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
	// Cooldown benches a failing profile while others remain.
	Cooldown time.Duration `json:"cooldown" mapstructure:"cooldown"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID          string  `json:"id" mapstructure:"id"`
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url,omitempty" mapstructure:"base_url"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	Priority    int     `json:"priority" mapstructure:"priority"`
}

// ToolsConfig holds built-in tool configuration
type ToolsConfig struct {
	// Enabled lists the tools to register; empty enables every configured tool.
	Enabled        []string      `json:"enabled" mapstructure:"enabled"`
	SearchProvider string        `json:"search_provider" mapstructure:"search_provider"` // tavily, searxng
	TavilyAPIKey   string        `json:"tavily_api_key" mapstructure:"tavily_api_key"`
	TavilyURL      string        `json:"tavily_url,omitempty" mapstructure:"tavily_url"`
	SearXNGURL     string        `json:"searxng_url,omitempty" mapstructure:"searxng_url"`
	MaxResults     int           `json:"max_results" mapstructure:"max_results"`
	WikipediaURL   string        `json:"wikipedia_url" mapstructure:"wikipedia_url"`
	Python         string        `json:"python" mapstructure:"python"`
	OutputDir      string        `json:"output_dir" mapstructure:"output_dir"`
	ComputeTimeout time.Duration `json:"compute_timeout" mapstructure:"compute_timeout"`
}

// SessionConfig selects where sessions are persisted
type SessionConfig struct {
	Backend string `json:"backend" mapstructure:"backend"` // memory, jsonl, sqlite
	Dir     string `json:"dir" mapstructure:"dir"`         // jsonl directory
	DSN     string `json:"dsn" mapstructure:"dsn"`         // sqlite database path
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	// AuditFile receives one JSON line per tool invocation.
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// MetricsConfig holds the Prometheus endpoint settings
type MetricsConfig struct {
	// Addr enables the /metrics listener when set, e.g. "127.0.0.1:9090".
	Addr string `json:"addr" mapstructure:"addr"`
}

// Session backends
const (
	BackendMemory = "memory"
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

var (
	validProviders       = []string{"anthropic", "openai"}
	validBackends        = []string{BackendMemory, BackendJSONL, BackendSQLite}
	validSearchProviders = []string{"", "tavily", "searxng"}
	validTools           = []string{"web_search", "search_wikipedia", "execute_code", "create_plot"}
)

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations:        10,
			MaxTransientAttempts: 3,
			MaxReasoningRetries:  1,
			BackoffBase:          time.Second,
			BackoffMax:           8 * time.Second,
			ReasoningTimeout:     60 * time.Second,
			ToolTimeout:          45 * time.Second,
			HistoryWindow:        20,
			QueueWarnAfter:       2 * time.Second,
		},
		AI: AIConfig{
			Profiles: []AIProfile{},
			Cooldown: time.Minute,
		},
		Tools: ToolsConfig{
			Enabled:        []string{},
			MaxResults:     5,
			WikipediaURL:   "https://en.wikipedia.org",
			Python:         "python3",
			ComputeTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			Backend: BackendJSONL,
		},
		Sandbox: sandbox.DefaultConfig(),
		Logging: LoggingConfig{
			Level:     "warn",
			Pretty:    true,
			Redaction: true,
		},
		DataDir: "",
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Require at least one AI profile
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY, or add an AI profile")
	}

	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", profile.ID)
		}
		seen[profile.ID] = true

		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if !contains(validProviders, profile.Provider) {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		if profile.Model == "" {
			return fmt.Errorf("AI profile %s: model is required", profile.ID)
		}
	}

	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.MaxTransientAttempts < 0 {
		return fmt.Errorf("agent.max_transient_attempts must be >= 0")
	}
	if c.Agent.MaxReasoningRetries < 0 {
		return fmt.Errorf("agent.max_reasoning_retries must be >= 0")
	}
	if c.Agent.BackoffMax > 0 && c.Agent.BackoffBase > c.Agent.BackoffMax {
		return fmt.Errorf("agent.backoff_base must not exceed agent.backoff_max")
	}

	if !contains(validBackends, c.Session.Backend) {
		return fmt.Errorf("invalid session backend %s (must be: memory, jsonl, sqlite)", c.Session.Backend)
	}

	if !contains(validSearchProviders, c.Tools.SearchProvider) {
		return fmt.Errorf("invalid search provider %s (must be: tavily, searxng)", c.Tools.SearchProvider)
	}
	if c.Tools.SearchProvider == "searxng" && c.Tools.SearXNGURL == "" {
		return fmt.Errorf("tools.searxng_url is required for the searxng provider")
	}
	for _, name := range c.Tools.Enabled {
		if !contains(validTools, name) {
			return fmt.Errorf("unknown tool %s", name)
		}
	}

	if err := sandbox.ValidateConfig(c.Sandbox); err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
