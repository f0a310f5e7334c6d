package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"
)

const containerWorkDir = "/work"

// CheckDocker verifies that the Docker daemon is available and responsive.
func CheckDocker(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "ps", "-q")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("docker is not available or not running: %w", err)
	}
	return nil
}

// DockerSandbox runs commands in ephemeral containers with networking
// disabled, a read-only root filesystem and the scratch directory mounted as
// the only writable path.
type DockerSandbox struct {
	config Config
}

// NewDockerSandbox creates a new Docker-based sandbox.
func NewDockerSandbox(config Config) (*DockerSandbox, error) {
	config.Runtime = RuntimeDocker
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &DockerSandbox{config: config}, nil
}

// Runtime returns RuntimeDocker
func (d *DockerSandbox) Runtime() Runtime {
	return RuntimeDocker
}

// Execute runs a command inside an ephemeral Docker container.
func (d *DockerSandbox) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if strings.TrimSpace(req.Command) == "" {
		return ExecuteResult{}, ErrCommandRequired
	}

	sc, err := newScratch(d.config.ScratchRoot)
	if err != nil {
		return ExecuteResult{}, err
	}
	defer sc.remove()

	// The container user is unprivileged and must be able to write results.
	if err := os.Chmod(sc.dir, 0o777); err != nil {
		return ExecuteResult{}, fmt.Errorf("failed to open scratch dir: %w", err)
	}
	if err := sc.write(req.Files); err != nil {
		return ExecuteResult{}, err
	}

	timeout := effectiveTimeout(d.config, req)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "docker", d.buildDockerRunArgs(sc.dir, req)...)

	logger := d.config.Logger.With().
		Str("runtime", string(RuntimeDocker)).
		Str("image", d.config.Docker.Image).
		Logger()
	return run(execCtx, cmd, req, sc, d.config, logger)
}

func (d *DockerSandbox) buildDockerRunArgs(scratchDir string, req ExecuteRequest) []string {
	cfg := d.config
	args := []string{
		"run", "--rm", "--init",
		"--network", "none",
		"--read-only",
		"--tmpfs", "/tmp:rw,size=64m",
	}

	if cfg.ResourceLimits.MaxCPU > 0 {
		cpus := float64(cfg.ResourceLimits.MaxCPU) / 100.0
		args = append(args, "--cpus", strconv.FormatFloat(cpus, 'f', 2, 64))
	}
	if cfg.ResourceLimits.MaxMemoryMB > 0 {
		args = append(args, "--memory", fmt.Sprintf("%dm", cfg.ResourceLimits.MaxMemoryMB))
	}
	if cfg.ResourceLimits.MaxProcesses > 0 {
		args = append(args, "--pids-limit", strconv.Itoa(cfg.ResourceLimits.MaxProcesses))
	}

	if user := strings.TrimSpace(cfg.Docker.User); user != "" {
		args = append(args, "--user", user)
	}
	for _, secOpt := range cfg.Docker.SecurityOpt {
		if trimmed := strings.TrimSpace(secOpt); trimmed != "" {
			args = append(args, "--security-opt", trimmed)
		}
	}
	for _, capability := range cfg.Docker.CapDrop {
		if trimmed := strings.TrimSpace(capability); trimmed != "" {
			args = append(args, "--cap-drop", trimmed)
		}
	}

	args = append(args,
		"-v", fmt.Sprintf("%s:%s:rw", scratchDir, containerWorkDir),
		"-w", containerWorkDir,
		"-e", "HOME="+containerWorkDir,
	)

	envKeys := make([]string, 0, len(req.Env))
	for key := range req.Env {
		envKeys = append(envKeys, key)
	}
	sort.Strings(envKeys)
	for _, key := range envKeys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", key, req.Env[key]))
	}

	if len(req.Stdin) > 0 {
		args = append(args, "-i")
	}

	args = append(args, cfg.Docker.Image, req.Command)
	args = append(args, req.Args...)

	return args
}
