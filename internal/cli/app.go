package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/harun/kosmo/internal/config"
	"github.com/harun/kosmo/internal/logger"
	"github.com/harun/kosmo/internal/observability"
	"github.com/harun/kosmo/internal/tracing"
	"github.com/harun/kosmo/pkg/agent"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/reasoning"
	"github.com/harun/kosmo/pkg/sandbox"
	"github.com/harun/kosmo/pkg/session"
	"github.com/harun/kosmo/pkg/toolregistry"
	"github.com/harun/kosmo/pkg/tools"
	"github.com/rs/zerolog"
)

// newOracle builds the reasoning oracle. Tests replace it with a scripted one.
var newOracle = func(cfg *config.Config, log zerolog.Logger) (reasoning.Oracle, error) {
	profiles := make([]reasoning.Profile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, reasoning.Profile{
			ID:          p.ID,
			Provider:    p.Provider,
			APIKey:      p.APIKey,
			BaseURL:     p.BaseURL,
			Model:       p.Model,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			Priority:    p.Priority,
		})
	}

	oracle, err := reasoning.NewLLMOracle(reasoning.LLMConfig{
		Profiles:      profiles,
		SystemPrompt:  cfg.Agent.SystemPrompt,
		HistoryWindow: cfg.Agent.HistoryWindow,
		Cooldown:      cfg.AI.Cooldown,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	return oracle, nil
}

// App holds the wired components of one CLI invocation
type App struct {
	Config *config.Config
	Agent  *agent.Agent
	Store  *session.Store
	Logger zerolog.Logger

	log     *logger.Logger
	audit   *observability.AuditLog
	metrics *http.Server
}

// loadConfig loads the config file and applies the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, nil
}

// newApp wires logging, metrics, tracing and the session store. The agent is
// only built when withAgent is set, so session commands work without AI
// credentials.
func newApp(ctx context.Context, cfg *config.Config, withAgent bool) (*App, error) {
	if withAgent {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app := &App{
		Config: cfg,
		Logger: log.Zerolog(),
		log:    log,
	}

	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		app.Logger.Warn().Err(problem).Msg("Configuration warning")
	}

	if err := tracing.InitOpenTelemetry("kosmo", version); err != nil {
		app.Logger.Warn().Err(err).Msg("Tracing disabled")
	}

	if cfg.Metrics.Addr != "" {
		app.startMetrics(cfg.Metrics.Addr)
	}

	if withAgent && cfg.Logging.AuditFile != "" {
		audit, err := observability.OpenAuditLog(cfg.Logging.AuditFile)
		if err != nil {
			app.Logger.Warn().Err(err).Msg("Tool audit disabled")
		} else {
			app.audit = audit
			observability.SetAuditLog(audit)
		}
	}

	store, err := openStore(ctx, cfg, log.Component("session"))
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Store = store

	if !withAgent {
		return app, nil
	}

	a, err := buildAgent(ctx, cfg, store, log)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Agent = a

	return app, nil
}

// openStore opens the configured session backend and replays it
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*session.Store, error) {
	var journal session.Journal

	switch cfg.Session.Backend {
	case config.BackendMemory:
	case config.BackendJSONL:
		j, err := session.NewJSONLJournal(cfg.Session.Dir, log)
		if err != nil {
			return nil, err
		}
		journal = j
	case config.BackendSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.Session.DSN), 0700); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		j, err := session.NewSQLiteJournal(cfg.Session.DSN)
		if err != nil {
			return nil, err
		}
		journal = j
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
	}

	store, err := session.NewStore(ctx, session.StoreConfig{Journal: journal, Logger: log})
	if err != nil {
		if journal != nil {
			_ = journal.Close()
		}
		return nil, fmt.Errorf("failed to open sessions: %w", err)
	}
	return store, nil
}

func buildAgent(ctx context.Context, cfg *config.Config, store *session.Store, log *logger.Logger) (*agent.Agent, error) {
	registry := toolregistry.New(toolregistry.Config{
		Timeout: cfg.Agent.ToolTimeout,
		Logger:  log.Component("toolregistry"),
	})

	sbCfg := cfg.Sandbox
	sbCfg.Logger = log.Component("sandbox")
	if sbCfg.Runtime == sandbox.RuntimeDocker {
		if err := sandbox.CheckDocker(ctx); err != nil {
			return nil, err
		}
	}
	sb, err := sandbox.New(sbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}

	err = tools.Register(registry, tools.Options{
		Enabled: cfg.Tools.Enabled,
		Search: tools.SearchOptions{
			Provider:     cfg.Tools.SearchProvider,
			TavilyAPIKey: cfg.Tools.TavilyAPIKey,
			TavilyURL:    cfg.Tools.TavilyURL,
			SearXNGURL:   cfg.Tools.SearXNGURL,
			MaxResults:   cfg.Tools.MaxResults,
		},
		WikipediaURL:   cfg.Tools.WikipediaURL,
		Sandbox:        sb,
		Python:         cfg.Tools.Python,
		OutputDir:      cfg.Tools.OutputDir,
		ComputeTimeout: cfg.Tools.ComputeTimeout,
		Logger:         log.Component("tools"),
	})
	if err != nil {
		return nil, err
	}

	if registry.Len() == 0 {
		agentLog := log.Component("agent")
		agentLog.Warn().Msg("No tools enabled, answers rely on the model alone")
	}

	oracle, err := newOracle(cfg, log.Component("reasoning"))
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning oracle: %w", err)
	}

	return agent.New(agent.Config{
		Registry: registry,
		Reasoner: reasoning.NewExecutor(oracle, reasoning.ExecutorConfig{
			Timeout: cfg.Agent.ReasoningTimeout,
			Logger:  log.Component("reasoning"),
		}),
		Store:               store,
		MaxIterations:       cfg.Agent.MaxIterations,
		MaxReasoningRetries: cfg.Agent.MaxReasoningRetries,
		QueueWarnAfter:      cfg.Agent.QueueWarnAfter,
		Policy: errclass.Policy{
			MaxTransientAttempts: cfg.Agent.MaxTransientAttempts,
			BackoffBase:          cfg.Agent.BackoffBase,
			BackoffMax:           cfg.Agent.BackoffMax,
		},
		Logger: log.Component("agent"),
	})
}

func (a *App) startMetrics(addr string) {
	observability.EnsureRegistered()

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	a.metrics = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	a.Logger.Info().Str("addr", addr).Msg("Serving metrics")
}

// Close releases everything the app opened
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.Agent != nil {
		if err := a.Agent.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop agent")
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close session store")
		}
	}
	if a.audit != nil {
		observability.SetAuditLog(nil)
		_ = a.audit.Close()
	}
	if a.metrics != nil {
		_ = a.metrics.Shutdown(ctx)
	}
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		a.Logger.Debug().Err(err).Msg("Tracing shutdown failed")
	}
	_ = a.log.Close()
}
