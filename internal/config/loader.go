package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. KOSMO_AGENT_MAX_ITERATIONS
	EnvPrefix = "KOSMO"

	// DefaultOpenAIModel is used for profiles seeded from OPENAI_API_KEY
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultAnthropicModel is used for profiles seeded from ANTHROPIC_API_KEY
	DefaultAnthropicModel = "claude-sonnet-4-20250514"
)

// envKeys are the settings that may be overridden through KOSMO_* variables
var envKeys = []string{
	"agent.max_iterations",
	"agent.max_transient_attempts",
	"agent.max_reasoning_retries",
	"agent.backoff_base",
	"agent.backoff_max",
	"agent.reasoning_timeout",
	"agent.tool_timeout",
	"agent.history_window",
	"agent.queue_warn_after",
	"ai.cooldown",
	"tools.enabled",
	"tools.search_provider",
	"tools.tavily_api_key",
	"tools.tavily_url",
	"tools.searxng_url",
	"tools.max_results",
	"tools.wikipedia_url",
	"tools.python",
	"tools.output_dir",
	"tools.compute_timeout",
	"session.backend",
	"session.dir",
	"session.dsn",
	"sandbox.runtime",
	"sandbox.scratch_root",
	"sandbox.resource_limits.timeout",
	"sandbox.resource_limits.max_output_bytes",
	"sandbox.resource_limits.max_memory_mb",
	"sandbox.docker.image",
	"logging.level",
	"logging.file",
	"logging.pretty",
	"logging.redaction",
	"logging.audit_file",
	"metrics.addr",
	"data_dir",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	getenv     func(string) string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		getenv:     os.Getenv,
	}
}

// Load reads the config file, applies KOSMO_* overrides and fills derived
// paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	// Setup viper
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		_, err := os.Stat(configPath)
		switch {
		case err == nil:
			v.SetConfigFile(configPath)
			v.SetConfigType(configType(configPath))
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	// Unmarshal into config struct
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.seedCredentials(cfg)

	if err := fillPaths(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// seedCredentials adds profiles from provider environment variables when
// none are configured, and fills the Tavily key.
func (l *Loader) seedCredentials(cfg *Config) {
	if len(cfg.AI.Profiles) == 0 {
		if key := l.getenv("OPENAI_API_KEY"); key != "" {
			cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
				ID:       "openai",
				Provider: "openai",
				APIKey:   key,
				Model:    DefaultOpenAIModel,
				Priority: len(cfg.AI.Profiles),
			})
		}
		if key := l.getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
				ID:       "anthropic",
				Provider: "anthropic",
				APIKey:   key,
				Model:    DefaultAnthropicModel,
				Priority: len(cfg.AI.Profiles),
			})
		}
	}

	for i := range cfg.AI.Profiles {
		profile := &cfg.AI.Profiles[i]
		if profile.APIKey != "" {
			continue
		}
		switch profile.Provider {
		case "openai":
			profile.APIKey = l.getenv("OPENAI_API_KEY")
		case "anthropic":
			profile.APIKey = l.getenv("ANTHROPIC_API_KEY")
		}
	}

	if cfg.Tools.TavilyAPIKey == "" {
		cfg.Tools.TavilyAPIKey = l.getenv("TAVILY_API_KEY")
	}
}

func fillPaths(cfg *Config) error {
	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".kosmo")
	}

	if cfg.Session.Dir == "" {
		cfg.Session.Dir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Session.DSN == "" {
		cfg.Session.DSN = filepath.Join(cfg.DataDir, "sessions.db")
	}
	if cfg.Tools.OutputDir == "" {
		cfg.Tools.OutputDir = filepath.Join(cfg.DataDir, "outputs")
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "kosmo.log")
	}
	if cfg.Logging.AuditFile == "" {
		cfg.Logging.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}

	return nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// Save writes the configuration as JSON or YAML, by file extension
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("no config path")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Go through JSON so both formats use the json tag names
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	var settings map[string]interface{}
	if err := json.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	v := viper.New()
	v.SetConfigType(configType(configPath))
	for key, value := range settings {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path, ~/.kosmo/kosmo.json by default
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".kosmo", "kosmo.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
