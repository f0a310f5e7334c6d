package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// HostSandbox runs commands as host processes. Each run gets an empty scratch
// directory as working directory and HOME, and an environment holding only
// PATH and the request's variables. It does not block network access on its
// own; callers that need that use RuntimeDocker or restrict the interpreter.
type HostSandbox struct {
	config Config
}

// NewHostSandbox creates a new host-based sandbox
func NewHostSandbox(config Config) (*HostSandbox, error) {
	config.Runtime = RuntimeHost
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &HostSandbox{config: config}, nil
}

// Runtime returns RuntimeHost
func (h *HostSandbox) Runtime() Runtime {
	return RuntimeHost
}

// Execute runs a command in a fresh scratch directory
func (h *HostSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return ExecuteResult{}, ErrCommandRequired
	}

	sc, err := newScratch(h.config.ScratchRoot)
	if err != nil {
		return ExecuteResult{}, err
	}
	defer sc.remove()

	if err := sc.write(req.Files); err != nil {
		return ExecuteResult{}, err
	}

	timeout := effectiveTimeout(h.config, req)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, req.Command, req.Args...)
	cmd.Dir = sc.dir
	cmd.Env = h.buildEnvironment(sc.dir, req.Env)

	return run(execCtx, cmd, req, sc, h.config, h.config.Logger.With().Str("runtime", string(RuntimeHost)).Logger())
}

// buildEnvironment builds the environment variables for the command
func (h *HostSandbox) buildEnvironment(home string, env map[string]string) []string {
	result := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + home,
		"TMPDIR=" + home,
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		result = append(result, fmt.Sprintf("%s=%s", key, env[key]))
	}

	return result
}

// run executes cmd with capped output and collects the requested files
func run(execCtx context.Context, cmd *exec.Cmd, req ExecuteRequest, sc *scratch, cfg Config, logger zerolog.Logger) (ExecuteResult, error) {
	stdout := &limitedBuffer{max: cfg.ResourceLimits.MaxOutputBytes}
	stderr := &limitedBuffer{max: cfg.ResourceLimits.MaxOutputBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(req.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(req.Stdin)
	}

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	result := ExecuteResult{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Duration:  duration,
		Truncated: stdout.truncated || stderr.truncated,
	}

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		result.ExitCode = -1
		logger.Debug().Str("command", req.Command).Dur("duration", duration).Msg("Sandboxed command timed out")
		return result, ErrExecutionTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return result, fmt.Errorf("failed to run %s: %w", req.Command, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	files, err := sc.collect(req.Collect)
	if err != nil {
		return result, err
	}
	result.Files = files

	logger.Debug().
		Str("command", req.Command).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Command executed in sandbox")

	return result, nil
}
