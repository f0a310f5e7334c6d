package tools

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/sandbox"
	"github.com/harun/kosmo/pkg/toolregistry"
)

const (
	scriptFile = "main.py"
	codeFile   = "agent_code.py"
)

// ComputeModules are the modules agent code may import in execute_code
var ComputeModules = []string{
	"math", "numpy", "sympy", "scipy",
	"datetime", "collections", "itertools", "functools",
}

// PlotModules are the modules agent code may import in create_plot
var PlotModules = append([]string{"matplotlib"}, ComputeModules...)

// physicsPreamble makes the common constants available and cuts socket
// access before agent code runs.
const physicsPreamble = `import math
try:
    import numpy
    import numpy as np
    pi = np.pi
except ImportError:
    pi = math.pi
try:
    import sympy
    import sympy as sp
except ImportError:
    pass

import socket as _socket
def _network_disabled(*args, **kwargs):
    raise PermissionError("network access is disabled in the sandbox")
for _name in ("socket", "create_connection", "getaddrinfo", "socketpair", "fromfd"):
    setattr(_socket, _name, _network_disabled)
del _socket, _name

G = 6.67430e-11
c = 299792458
M_sun = 1.989e30
M_earth = 5.972e24
R_earth = 6.371e6
AU = 1.496e11
pc = 3.086e16
h = 6.62607e-34
k_B = 1.38065e-23
`

const runAgentCode = `
with open("` + codeFile + `") as _f:
    _source = _f.read()
del _f
exec(compile(_source, "<agent_code>", "exec"), globals())
`

var (
	importPattern     = regexp.MustCompile(`(?m)^\s*import\s+([\w\.]+(?:\s+as\s+\w+)?(?:\s*,\s*[\w\.]+(?:\s+as\s+\w+)?)*)`)
	fromImportPattern = regexp.MustCompile(`(?m)^\s*from\s+([\w\.]+)\s+import\b`)
	forbiddenCalls    = regexp.MustCompile(`\b(__import__|importlib|eval|exec|open|compile|globals|breakpoint)\s*\(`)
)

// checkCode rejects imports outside allowed and dynamic import or I/O builtins
func checkCode(tool, code string, allowed []string) error {
	permitted := make(map[string]bool, len(allowed))
	for _, m := range allowed {
		permitted[m] = true
	}

	var modules []string
	for _, match := range importPattern.FindAllStringSubmatch(code, -1) {
		for _, part := range strings.Split(match[1], ",") {
			fields := strings.Fields(part)
			if len(fields) > 0 {
				modules = append(modules, fields[0])
			}
		}
	}
	for _, match := range fromImportPattern.FindAllStringSubmatch(code, -1) {
		modules = append(modules, match[1])
	}

	var rejected []string
	for _, module := range modules {
		root := strings.SplitN(module, ".", 2)[0]
		if !permitted[root] {
			rejected = append(rejected, root)
		}
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		names := append([]string(nil), allowed...)
		sort.Strings(names)
		e := errclass.New(errclass.CategoryValidation, "module %s is not allowed (allowed: %s)",
			strings.Join(rejected, ", "), strings.Join(names, ", "))
		e.Tool = tool
		return e
	}

	if match := forbiddenCalls.FindStringSubmatch(code); match != nil {
		e := errclass.New(errclass.CategoryValidation, "%s() is not allowed in agent code", match[1])
		e.Tool = tool
		return e
	}

	return nil
}

// pythonRunner runs agent code behind the physics preamble in a sandbox
type pythonRunner struct {
	sandbox sandbox.Sandbox
	python  string
	timeout time.Duration
}

// run executes code. setup runs between the preamble and the agent code,
// epilogue after it.
func (p *pythonRunner) run(ctx context.Context, tool, code, setup, epilogue string, env map[string]string, collect []string) (sandbox.ExecuteResult, error) {
	script := physicsPreamble + setup + runAgentCode + epilogue

	result, err := p.sandbox.Execute(ctx, sandbox.ExecuteRequest{
		Command: p.python,
		Args:    []string{"-I", "-B", scriptFile},
		Env:     env,
		Timeout: p.timeout,
		Files: map[string][]byte{
			scriptFile: []byte(script),
			codeFile:   []byte(code),
		},
		Collect: collect,
	})
	if err != nil {
		return result, sandboxError(tool, p.timeout, err)
	}

	if result.ExitCode != 0 {
		stderr := strings.TrimSpace(string(result.Stderr))
		msg := fmt.Sprintf("Execution Error (exit code %d)", result.ExitCode)
		switch {
		case strings.Contains(stderr, "SyntaxError"):
			msg = "Syntax Error:\n" + stderr
		case stderr != "":
			msg += ":\n" + stderr
		}
		e := errclass.New(errclass.CategoryExecution, "%s", msg)
		e.Tool = tool
		return result, e
	}

	return result, nil
}

func sandboxError(tool string, timeout time.Duration, err error) error {
	switch {
	case errors.Is(err, sandbox.ErrExecutionTimeout):
		return &errclass.Error{
			Category: errclass.CategoryTimeout,
			Tool:     tool,
			Message:  fmt.Sprintf("code execution exceeded %v", timeout),
			Err:      err,
		}
	case errors.Is(err, exec.ErrNotFound):
		return &errclass.Error{
			Category: errclass.CategoryUnavailable,
			Tool:     tool,
			Message:  "python interpreter unavailable",
			Err:      err,
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return &errclass.Error{
			Category: errclass.CategoryExecution,
			Tool:     tool,
			Message:  err.Error(),
			Err:      err,
		}
	}
}

// formatRun renders captured output the way execute_code reports it
func formatRun(result sandbox.ExecuteResult) string {
	stdout := string(result.Stdout)
	stderr := string(result.Stderr)

	var out string
	if stdout != "" {
		out += "Output:\n" + stdout
	}
	if stderr != "" {
		out += "\nWarnings:\n" + stderr
	}
	if result.Truncated {
		out += "\n[output truncated]"
	}
	if out == "" {
		out = "Code executed successfully (no output)"
	}
	return out
}

func executeCodeSpec(p *pythonRunner) toolregistry.ToolSpec {
	return toolregistry.ToolSpec{
		Name: ExecuteCodeName,
		Description: "Execute Python code for physics calculations. numpy (np), sympy (sp) and math are available, " +
			"as are the constants G, c, M_sun, M_earth, R_earth, AU, pc, h and k_B in SI units. Print results to see them.",
		Parameters: []toolregistry.Parameter{
			{Name: "code", Type: "string", Description: "Python source to execute", Required: true},
		},
		Suggestions: map[errclass.Category]string{
			errclass.CategoryExecution:  "Fix the error shown in the traceback and run the code again.",
			errclass.CategoryValidation: "Use only the allowed modules; the physics constants are predefined.",
			errclass.CategoryTimeout:    "Simplify the calculation or reduce the problem size.",
		},
		Tool: toolregistry.ToolFunc(func(ctx context.Context, args map[string]interface{}) (string, error) {
			code := stringArg(args, "code")
			if strings.TrimSpace(code) == "" {
				e := errclass.New(errclass.CategoryValidation, "code cannot be empty")
				e.Tool = ExecuteCodeName
				return "", e
			}
			if err := checkCode(ExecuteCodeName, code, ComputeModules); err != nil {
				return "", err
			}

			result, err := p.run(ctx, ExecuteCodeName, code, "", "", nil, nil)
			if err != nil {
				return "", err
			}
			return formatRun(result), nil
		}),
	}
}
