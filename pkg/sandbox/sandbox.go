package sandbox

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Runtime selects how commands are isolated
type Runtime string

const (
	// RuntimeHost runs commands as host processes in a scratch directory with
	// a minimal environment.
	RuntimeHost Runtime = "host"
	// RuntimeDocker runs commands in an ephemeral container without network.
	RuntimeDocker Runtime = "docker"
)

// Config defines sandbox configuration
type Config struct {
	Runtime        Runtime        `json:"runtime" mapstructure:"runtime"`
	ResourceLimits ResourceLimits `json:"resource_limits" mapstructure:"resource_limits"`
	// ScratchRoot holds the per-execution working directories. Defaults to the
	// system temp directory.
	ScratchRoot string         `json:"scratch_root,omitempty" mapstructure:"scratch_root"`
	Docker      DockerConfig   `json:"docker" mapstructure:"docker"`
	Logger      zerolog.Logger `json:"-" mapstructure:"-"`
}

// ResourceLimits defines resource constraints for sandboxed execution
type ResourceLimits struct {
	// MaxCPU limits CPU usage (percentage of one core, 0-100). Docker only.
	MaxCPU int `json:"max_cpu" mapstructure:"max_cpu"`
	// MaxMemoryMB limits memory usage in megabytes. Docker only.
	MaxMemoryMB int `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	// MaxProcesses limits number of processes. Docker only.
	MaxProcesses int `json:"max_processes" mapstructure:"max_processes"`
	// MaxOutputBytes caps captured stdout and stderr each.
	MaxOutputBytes int `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	// Timeout is the wall-clock ceiling of one execution.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DockerConfig holds docker runtime settings
type DockerConfig struct {
	Image       string   `json:"image" mapstructure:"image"`
	User        string   `json:"user,omitempty" mapstructure:"user"`
	SecurityOpt []string `json:"security_opt,omitempty" mapstructure:"security_opt"`
	CapDrop     []string `json:"cap_drop,omitempty" mapstructure:"cap_drop"`
}

// ExecuteRequest represents a sandbox execution request
type ExecuteRequest struct {
	Command string
	Args    []string
	Env     map[string]string
	Stdin   []byte
	// Timeout overrides the configured ceiling when positive and lower.
	Timeout time.Duration
	// Files are written into the scratch directory before the command runs.
	Files map[string][]byte
	// Collect names scratch files whose contents are returned after the run.
	Collect []string
}

// ExecuteResult represents a sandbox execution result
type ExecuteResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
	// Truncated is set when stdout or stderr hit MaxOutputBytes.
	Truncated bool
	// Files holds the collected scratch files that exist after the run.
	Files map[string][]byte
}

// Sandbox runs one command in isolation. The scratch directory exists only
// for the duration of Execute.
type Sandbox interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
	Runtime() Runtime
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Runtime: RuntimeHost,
		ResourceLimits: ResourceLimits{
			MaxCPU:         50,
			MaxMemoryMB:    512,
			MaxProcesses:   32,
			MaxOutputBytes: 64 * 1024,
			Timeout:        30 * time.Second,
		},
		Docker: DockerConfig{
			Image:   "python:3.12-slim",
			User:    "65534:65534",
			CapDrop: []string{"ALL"},
			SecurityOpt: []string{
				"no-new-privileges",
			},
		},
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	switch cfg.Runtime {
	case RuntimeHost:
	case RuntimeDocker:
		if cfg.Docker.Image == "" {
			return ErrDockerImageRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRuntime, cfg.Runtime)
	}

	if cfg.ResourceLimits.MaxCPU < 0 || cfg.ResourceLimits.MaxCPU > 100 {
		return ErrInvalidCPULimit
	}
	if cfg.ResourceLimits.MaxMemoryMB < 0 {
		return ErrInvalidMemoryLimit
	}
	if cfg.ResourceLimits.MaxProcesses < 0 {
		return ErrInvalidProcessLimit
	}
	if cfg.ResourceLimits.Timeout <= 0 {
		return ErrInvalidTimeout
	}

	return nil
}

// New creates the sandbox for cfg.Runtime
func New(cfg Config) (Sandbox, error) {
	if cfg.ScratchRoot == "" {
		cfg.ScratchRoot = os.TempDir()
	}
	switch cfg.Runtime {
	case RuntimeDocker:
		return NewDockerSandbox(cfg)
	default:
		return NewHostSandbox(cfg)
	}
}

func effectiveTimeout(cfg Config, req ExecuteRequest) time.Duration {
	timeout := cfg.ResourceLimits.Timeout
	if req.Timeout > 0 && req.Timeout < timeout {
		timeout = req.Timeout
	}
	return timeout
}
