package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) Config {
	cfg := DefaultConfig()
	cfg.ScratchRoot = t.TempDir()
	cfg.ResourceLimits.Timeout = 5 * time.Second
	return cfg
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"default", func(*Config) {}, nil},
		{"bad runtime", func(c *Config) { c.Runtime = "vm" }, ErrInvalidRuntime},
		{"docker without image", func(c *Config) { c.Runtime = RuntimeDocker; c.Docker.Image = "" }, ErrDockerImageRequired},
		{"cpu", func(c *Config) { c.ResourceLimits.MaxCPU = 101 }, ErrInvalidCPULimit},
		{"memory", func(c *Config) { c.ResourceLimits.MaxMemoryMB = -1 }, ErrInvalidMemoryLimit},
		{"processes", func(c *Config) { c.ResourceLimits.MaxProcesses = -1 }, ErrInvalidProcessLimit},
		{"timeout", func(c *Config) { c.ResourceLimits.Timeout = 0 }, ErrInvalidTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewPicksRuntime(t *testing.T) {
	cfg := testConfig(t)
	sb, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, RuntimeHost, sb.Runtime())

	cfg.Runtime = RuntimeDocker
	sb, err = New(cfg)
	require.NoError(t, err)
	assert.Equal(t, RuntimeDocker, sb.Runtime())
}

func TestHostSandbox_Execute(t *testing.T) {
	sb, err := NewHostSandbox(testConfig(t))
	require.NoError(t, err)

	result, err := sb.Execute(context.Background(), ExecuteRequest{
		Command: "echo",
		Args:    []string{"hello", "world"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Contains(t, string(result.Stdout), "hello world")
	assert.Empty(t, result.Stderr)
}

func TestHostSandbox_ExitCodeAndStdin(t *testing.T) {
	sb, err := NewHostSandbox(testConfig(t))
	require.NoError(t, err)

	result, err := sb.Execute(context.Background(), ExecuteRequest{
		Command: "sh",
		Stdin:   []byte("cat; echo oops >&2; exit 3"),
		Args:    []string{"-c", "read line; echo \"$line\"; echo oops >&2; exit 3"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Contains(t, string(result.Stderr), "oops")
}

func TestHostSandbox_MinimalEnvironment(t *testing.T) {
	t.Setenv("KOSMO_SECRET_FOR_TEST", "leak")
	sb, err := NewHostSandbox(testConfig(t))
	require.NoError(t, err)

	result, err := sb.Execute(context.Background(), ExecuteRequest{
		Command: "sh",
		Args:    []string{"-c", "env"},
		Env:     map[string]string{"MPLBACKEND": "Agg"},
	})
	require.NoError(t, err)
	out := string(result.Stdout)
	assert.NotContains(t, out, "KOSMO_SECRET_FOR_TEST")
	assert.Contains(t, out, "MPLBACKEND=Agg")
}

func TestHostSandbox_Timeout(t *testing.T) {
	cfg := testConfig(t)
	sb, err := NewHostSandbox(cfg)
	require.NoError(t, err)

	start := time.Now()
	result, err := sb.Execute(context.Background(), ExecuteRequest{
		Command: "sleep",
		Args:    []string{"5"},
		Timeout: 100 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrExecutionTimeout)
	assert.Equal(t, -1, result.ExitCode)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestHostSandbox_FilesAndCollect(t *testing.T) {
	cfg := testConfig(t)
	sb, err := NewHostSandbox(cfg)
	require.NoError(t, err)

	result, err := sb.Execute(context.Background(), ExecuteRequest{
		Command: "sh",
		Args:    []string{"-c", "cat input.txt > out.txt; echo more >> out.txt"},
		Files:   map[string][]byte{"input.txt": []byte("data\n")},
		Collect: []string{"out.txt", "missing.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "data\nmore\n", string(result.Files["out.txt"]))
	assert.NotContains(t, result.Files, "missing.png")

	// scratch directories are removed after the run
	entries, err := os.ReadDir(cfg.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHostSandbox_RejectsEscapingFiles(t *testing.T) {
	sb, err := NewHostSandbox(testConfig(t))
	require.NoError(t, err)

	_, err = sb.Execute(context.Background(), ExecuteRequest{
		Command: "true",
		Files:   map[string][]byte{"../evil": []byte("x")},
	})
	assert.Error(t, err)

	_, err = sb.Execute(context.Background(), ExecuteRequest{
		Command: "true",
		Collect: []string{filepath.Join("/", "etc", "passwd")},
	})
	assert.Error(t, err)

	_, err = sb.Execute(context.Background(), ExecuteRequest{})
	assert.ErrorIs(t, err, ErrCommandRequired)
}

func TestHostSandbox_OutputCap(t *testing.T) {
	cfg := testConfig(t)
	cfg.ResourceLimits.MaxOutputBytes = 16
	sb, err := NewHostSandbox(cfg)
	require.NoError(t, err)

	result, err := sb.Execute(context.Background(), ExecuteRequest{
		Command: "sh",
		Args:    []string{"-c", "printf '%0100d' 0"},
	})
	require.NoError(t, err)
	assert.Len(t, result.Stdout, 16)
	assert.True(t, result.Truncated)
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", string(b.Bytes()))
	assert.True(t, b.truncated)

	unlimited := &limitedBuffer{}
	_, _ = unlimited.Write([]byte(strings.Repeat("x", 100)))
	assert.Len(t, unlimited.Bytes(), 100)
}

func TestDockerRunArgs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResourceLimits.MaxCPU = 50
	cfg.ResourceLimits.MaxMemoryMB = 256
	cfg.ResourceLimits.MaxProcesses = 16
	sb, err := NewDockerSandbox(cfg)
	require.NoError(t, err)

	args := sb.buildDockerRunArgs("/tmp/scratch", ExecuteRequest{
		Command: "python3",
		Args:    []string{"-I", "main.py"},
		Env:     map[string]string{"B": "2", "A": "1"},
		Stdin:   []byte("x"),
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "--network none")
	assert.Contains(t, joined, "--read-only")
	assert.Contains(t, joined, "--cpus 0.50")
	assert.Contains(t, joined, "--memory 256m")
	assert.Contains(t, joined, "--pids-limit 16")
	assert.Contains(t, joined, "--cap-drop ALL")
	assert.Contains(t, joined, "-v /tmp/scratch:/work:rw")
	assert.Contains(t, joined, "-e A=1 -e B=2")
	assert.Contains(t, joined, "-i python:3.12-slim python3 -I main.py")
}
