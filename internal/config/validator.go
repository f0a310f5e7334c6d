package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "tavily":
		if !strings.HasPrefix(key, "tvly-") {
			return fmt.Errorf("invalid Tavily API key format (should start with tvly-)")
		}
	}

	return nil
}

// ValidateProvider validates an AI provider name
func (v *Validator) ValidateProvider(provider string) error {
	if contains(validProviders, provider) {
		return nil
	}
	return fmt.Errorf("invalid provider: %s (must be one of: %s)", provider, strings.Join(validProviders, ", "))
}

// ValidateModel validates a model name. Any non-empty name is accepted.
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateDuration requires a positive duration
func (v *Validator) ValidateDuration(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %v", name, d)
	}
	return nil
}

// ValidateURL requires an absolute http or https URL
func (v *Validator) ValidateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL, got %q", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host: %q", name, raw)
	}
	return nil
}

// ValidateConfig performs comprehensive validation and reports every problem
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if err := v.ValidateProvider(profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			continue
		}
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
		if err := v.ValidateModel(profile.Model); err != nil {
			errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
		if profile.Temperature != 0 {
			if err := v.ValidateTemperature(profile.Temperature); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
		if profile.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(profile.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
		if profile.BaseURL != "" {
			if err := v.ValidateURL("base_url", profile.BaseURL); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"agent.backoff_base", cfg.Agent.BackoffBase},
		{"agent.backoff_max", cfg.Agent.BackoffMax},
		{"agent.reasoning_timeout", cfg.Agent.ReasoningTimeout},
		{"agent.tool_timeout", cfg.Agent.ToolTimeout},
		{"agent.queue_warn_after", cfg.Agent.QueueWarnAfter},
		{"tools.compute_timeout", cfg.Tools.ComputeTimeout},
	}
	for _, d := range durations {
		if err := v.ValidateDuration(d.name, d.value); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Tools.ComputeTimeout >= cfg.Agent.ToolTimeout && cfg.Agent.ToolTimeout > 0 {
		errors = append(errors, fmt.Errorf("tools.compute_timeout (%v) should be below agent.tool_timeout (%v)",
			cfg.Tools.ComputeTimeout, cfg.Agent.ToolTimeout))
	}
	if cfg.Agent.HistoryWindow < 0 {
		errors = append(errors, fmt.Errorf("agent.history_window must be >= 0"))
	}

	if cfg.Tools.TavilyAPIKey != "" {
		if err := v.ValidateAPIKey(cfg.Tools.TavilyAPIKey, "tavily"); err != nil {
			errors = append(errors, err)
		}
	}
	urls := map[string]string{
		"tools.tavily_url":    cfg.Tools.TavilyURL,
		"tools.searxng_url":   cfg.Tools.SearXNGURL,
		"tools.wikipedia_url": cfg.Tools.WikipediaURL,
	}
	for _, name := range []string{"tools.tavily_url", "tools.searxng_url", "tools.wikipedia_url"} {
		if urls[name] == "" {
			continue
		}
		if err := v.ValidateURL(name, urls[name]); err != nil {
			errors = append(errors, err)
		}
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
