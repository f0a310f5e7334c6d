package tools

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/harun/kosmo/pkg/sandbox"
	"github.com/harun/kosmo/pkg/toolregistry"
	"github.com/rs/zerolog"
)

// Names of the built-in tools
const (
	WebSearchName   = "web_search"
	WikipediaName   = "search_wikipedia"
	ExecuteCodeName = "execute_code"
	CreatePlotName  = "create_plot"
)

const (
	defaultPython         = "python3"
	defaultOutputDir      = "outputs"
	defaultComputeTimeout = 30 * time.Second
	defaultHTTPTimeout    = 15 * time.Second
	userAgent             = "Kosmo/1.0 (Cosmology Research Agent)"
)

// SearchOptions selects and configures the web_search backend
type SearchOptions struct {
	// Provider is "tavily" or "searxng". Empty picks tavily when a key is set,
	// otherwise searxng when a URL is set.
	Provider       string
	TavilyAPIKey   string
	TavilyURL      string
	SearXNGURL     string
	MaxResults     int
	Depth          string
	IncludeDomains []string
}

// Options configures the built-in tools. A zero Logger discards output.
type Options struct {
	// Enabled lists the tools to register. Empty registers every tool whose
	// backend is configured.
	Enabled []string

	Search       SearchOptions
	WikipediaURL string

	// Sandbox runs execute_code and create_plot. Those tools are skipped when nil.
	Sandbox        sandbox.Sandbox
	Python         string
	OutputDir      string
	ComputeTimeout time.Duration

	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Register adds the enabled built-in tools to reg
func Register(reg *toolregistry.Registry, opts Options) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}
	opts = withDefaults(opts)

	enabled := make(map[string]bool, len(opts.Enabled))
	for _, name := range opts.Enabled {
		switch name {
		case WebSearchName, WikipediaName, ExecuteCodeName, CreatePlotName:
			enabled[name] = true
		default:
			return fmt.Errorf("unknown built-in tool %q", name)
		}
	}
	wants := func(name string) bool {
		return len(enabled) == 0 || enabled[name]
	}

	var specs []toolregistry.ToolSpec

	if wants(WebSearchName) {
		searcher, err := newSearcher(opts.Search, opts.HTTPClient)
		switch {
		case err != nil:
			return err
		case searcher == nil:
			opts.Logger.Warn().Str("tool", WebSearchName).Msg("No search provider configured, tool disabled")
		default:
			specs = append(specs, webSearchSpec(searcher, opts.Search.MaxResults))
		}
	}

	if wants(WikipediaName) {
		specs = append(specs, wikipediaSpec(NewWikipedia(opts.WikipediaURL, opts.HTTPClient)))
	}

	if wants(ExecuteCodeName) || wants(CreatePlotName) {
		if opts.Sandbox == nil {
			opts.Logger.Warn().Msg("No sandbox configured, code tools disabled")
		} else {
			runner := &pythonRunner{
				sandbox: opts.Sandbox,
				python:  opts.Python,
				timeout: opts.ComputeTimeout,
			}
			if wants(ExecuteCodeName) {
				specs = append(specs, executeCodeSpec(runner))
			}
			if wants(CreatePlotName) {
				specs = append(specs, createPlotSpec(runner, opts.OutputDir))
			}
		}
	}

	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", spec.Name, err)
		}
	}

	opts.Logger.Debug().Int("count", len(specs)).Msg("Built-in tools registered")
	return nil
}

func withDefaults(opts Options) Options {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if opts.Python == "" {
		opts.Python = defaultPython
	}
	if opts.OutputDir == "" {
		opts.OutputDir = defaultOutputDir
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = defaultComputeTimeout
	}
	if opts.Search.MaxResults <= 0 {
		opts.Search.MaxResults = defaultMaxResults
	}
	return opts
}

func stringArg(args map[string]interface{}, name string) string {
	value, _ := args[name].(string)
	return value
}

// intArg reads a numeric argument. JSON decoding yields float64.
func intArg(args map[string]interface{}, name string, fallback int) int {
	switch v := args[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	default:
		return fallback
	}
}
