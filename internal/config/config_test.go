package config

import (
	"strings"
	"testing"
	"time"

	"github.com/harun/kosmo/pkg/sandbox"
	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{
		{
			ID:       "test-profile",
			Provider: "anthropic",
			APIKey:   "sk-ant-test123",
			Model:    "claude-sonnet-4-20250514",
			Priority: 1,
		},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 10, cfg.Agent.MaxIterations)
	assert.Equal(t, 3, cfg.Agent.MaxTransientAttempts)
	assert.Equal(t, 1, cfg.Agent.MaxReasoningRetries)
	assert.Equal(t, time.Second, cfg.Agent.BackoffBase)
	assert.Equal(t, 20, cfg.Agent.HistoryWindow)
	assert.Equal(t, 2*time.Second, cfg.Agent.QueueWarnAfter)
	assert.Equal(t, time.Minute, cfg.AI.Cooldown)
	assert.Empty(t, cfg.AI.Profiles)
	assert.Equal(t, BackendJSONL, cfg.Session.Backend)
	assert.Equal(t, "python3", cfg.Tools.Python)
	assert.Equal(t, sandbox.RuntimeHost, cfg.Sandbox.Runtime)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Less(t, int64(cfg.Tools.ComputeTimeout), int64(cfg.Agent.ToolTimeout))
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing API keys", func(t *testing.T) {
		cfg := DefaultConfig()

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no AI credentials")
	})

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"profile missing ID", func(c *Config) { c.AI.Profiles[0].ID = "" }, "ID is required"},
		{"duplicate profile", func(c *Config) { c.AI.Profiles = append(c.AI.Profiles, c.AI.Profiles[0]) }, "duplicate ID"},
		{"invalid provider", func(c *Config) { c.AI.Profiles[0].Provider = "gemini" }, "invalid provider"},
		{"missing api key", func(c *Config) { c.AI.Profiles[0].APIKey = "" }, "api_key is required"},
		{"missing model", func(c *Config) { c.AI.Profiles[0].Model = "" }, "model is required"},
		{"zero iterations", func(c *Config) { c.Agent.MaxIterations = 0 }, "max_iterations"},
		{"negative retries", func(c *Config) { c.Agent.MaxReasoningRetries = -1 }, "max_reasoning_retries"},
		{"backoff base above max", func(c *Config) { c.Agent.BackoffBase = time.Hour }, "backoff_base"},
		{"invalid backend", func(c *Config) { c.Session.Backend = "redis" }, "invalid session backend"},
		{"invalid search provider", func(c *Config) { c.Tools.SearchProvider = "bing" }, "invalid search provider"},
		{"searxng without url", func(c *Config) { c.Tools.SearchProvider = "searxng" }, "searxng_url"},
		{"unknown tool", func(c *Config) { c.Tools.Enabled = []string{"browser"} }, "unknown tool"},
		{"invalid sandbox", func(c *Config) { c.Sandbox.Runtime = "vm" }, "sandbox"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConfigString(t *testing.T) {
	cfg := validConfig()

	s := cfg.String()
	assert.True(t, strings.HasPrefix(s, "{"))
	assert.Contains(t, s, `"max_iterations": 10`)
	assert.Contains(t, s, `"backend": "jsonl"`)
}
