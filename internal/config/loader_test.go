package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader(path string, env map[string]string) *Loader {
	loader := NewLoader(path)
	loader.getenv = func(key string) string { return env[key] }
	return loader
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		tmpDir := t.TempDir()

		cfg, err := testLoader(filepath.Join(tmpDir, "nonexistent.json"), nil).Load()

		require.NoError(t, err)
		assert.Equal(t, 10, cfg.Agent.MaxIterations)
		assert.Empty(t, cfg.AI.Profiles)
	})

	t.Run("load json config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")

		testConfig := `{
			"agent": {"max_iterations": 6, "backoff_base": "250ms"},
			"ai": {"profiles": [
				{"id": "primary", "provider": "openai", "api_key": "sk-test", "model": "gpt-4o", "priority": 0}
			]},
			"session": {"backend": "sqlite"},
			"tools": {"enabled": ["execute_code"]},
			"data_dir": "` + tmpDir + `"
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := testLoader(configPath, nil).Load()

		require.NoError(t, err)
		assert.Equal(t, 6, cfg.Agent.MaxIterations)
		assert.Equal(t, 250*time.Millisecond, cfg.Agent.BackoffBase)
		assert.Equal(t, 3, cfg.Agent.MaxTransientAttempts)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "gpt-4o", cfg.AI.Profiles[0].Model)
		assert.Equal(t, BackendSQLite, cfg.Session.Backend)
		assert.Equal(t, []string{"execute_code"}, cfg.Tools.Enabled)
		assert.Equal(t, filepath.Join(tmpDir, "sessions.db"), cfg.Session.DSN)
	})

	t.Run("load yaml config from file", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "kosmo.yaml")

		testConfig := "agent:\n  history_window: 4\nlogging:\n  level: debug\n"
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := testLoader(configPath, nil).Load()

		require.NoError(t, err)
		assert.Equal(t, 4, cfg.Agent.HistoryWindow)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("set default paths", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"data_dir": "`+tmpDir+`"}`), 0644))

		cfg, err := testLoader(configPath, nil).Load()

		require.NoError(t, err)
		assert.Equal(t, tmpDir, cfg.DataDir)
		assert.Equal(t, filepath.Join(tmpDir, "sessions"), cfg.Session.Dir)
		assert.Equal(t, filepath.Join(tmpDir, "outputs"), cfg.Tools.OutputDir)
		assert.Equal(t, filepath.Join(tmpDir, "kosmo.log"), cfg.Logging.File)
		assert.Equal(t, filepath.Join(tmpDir, "audit.log"), cfg.Logging.AuditFile)
	})

	t.Run("invalid json", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"agent": `), 0644))

		_, err := testLoader(configPath, nil).Load()
		assert.Error(t, err)
	})
}

func TestLoaderEnvOverrides(t *testing.T) {
	t.Setenv("KOSMO_AGENT_MAX_ITERATIONS", "3")
	t.Setenv("KOSMO_SESSION_BACKEND", "memory")
	t.Setenv("KOSMO_TOOLS_COMPUTE_TIMEOUT", "5s")
	t.Setenv("KOSMO_DATA_DIR", t.TempDir())

	cfg, err := testLoader(filepath.Join(t.TempDir(), "missing.json"), nil).Load()

	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Agent.MaxIterations)
	assert.Equal(t, BackendMemory, cfg.Session.Backend)
	assert.Equal(t, 5*time.Second, cfg.Tools.ComputeTimeout)
}

func TestLoaderSeedsCredentials(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":    "sk-openai",
		"ANTHROPIC_API_KEY": "sk-ant-key",
		"TAVILY_API_KEY":    "tvly-key",
	}
	dataDir := t.TempDir()
	t.Setenv("KOSMO_DATA_DIR", dataDir)

	t.Run("profiles from environment", func(t *testing.T) {
		cfg, err := testLoader(filepath.Join(dataDir, "missing.json"), env).Load()

		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 2)
		assert.Equal(t, "openai", cfg.AI.Profiles[0].Provider)
		assert.Equal(t, DefaultOpenAIModel, cfg.AI.Profiles[0].Model)
		assert.Equal(t, 0, cfg.AI.Profiles[0].Priority)
		assert.Equal(t, "anthropic", cfg.AI.Profiles[1].Provider)
		assert.Equal(t, 1, cfg.AI.Profiles[1].Priority)
		assert.Equal(t, "tvly-key", cfg.Tools.TavilyAPIKey)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("configured profile gets its key", func(t *testing.T) {
		configPath := filepath.Join(dataDir, "config.json")
		testConfig := `{"ai": {"profiles": [{"id": "main", "provider": "anthropic", "model": "claude-x"}]}}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := testLoader(configPath, env).Load()

		require.NoError(t, err)
		require.Len(t, cfg.AI.Profiles, 1)
		assert.Equal(t, "sk-ant-key", cfg.AI.Profiles[0].APIKey)
	})
}

func TestLoaderSave(t *testing.T) {
	for _, name := range []string{"kosmo.json", "kosmo.yaml"} {
		t.Run(name, func(t *testing.T) {
			tmpDir := t.TempDir()
			configPath := filepath.Join(tmpDir, "nested", name)

			cfg := validConfig()
			cfg.Agent.MaxIterations = 7
			cfg.DataDir = tmpDir

			loader := testLoader(configPath, nil)
			require.NoError(t, loader.Save(cfg))

			loaded, err := loader.Load()
			require.NoError(t, err)
			assert.Equal(t, 7, loaded.Agent.MaxIterations)
			assert.Equal(t, cfg.Agent.BackoffMax, loaded.Agent.BackoffMax)
			require.Len(t, loaded.AI.Profiles, 1)
			assert.Equal(t, "test-profile", loaded.AI.Profiles[0].ID)
		})
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("KOSMO_DATA_DIR", t.TempDir())

	cfg, err := Load(filepath.Join(t.TempDir(), "none.json"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
