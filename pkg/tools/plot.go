package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/toolregistry"
)

const plotFile = "plot.png"

const plotSetup = `
import matplotlib
matplotlib.use("Agg")
import matplotlib.pyplot as plt
plt.close("all")
`

const plotEpilogue = `
_fig = plt.gcf()
if _fig.get_axes():
    _fig.savefig("` + plotFile + `", dpi=150, bbox_inches="tight", facecolor="white", edgecolor="none")
plt.close("all")
`

// plotter renders matplotlib figures and stores them under dir
type plotter struct {
	runner *pythonRunner
	dir    string
}

func (p *plotter) plot(ctx context.Context, code string) (string, error) {
	result, err := p.runner.run(ctx, CreatePlotName, code, plotSetup, plotEpilogue,
		map[string]string{"MPLBACKEND": "Agg"}, []string{plotFile})
	if err != nil {
		return "", err
	}

	image, ok := result.Files[plotFile]
	if !ok || len(image) == 0 {
		e := errclass.New(errclass.CategoryExecution, "no plot was created; make sure the code calls plt.plot() or similar")
		e.Tool = CreatePlotName
		return "", e
	}

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	name := fmt.Sprintf("plot_%s.png", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	path := filepath.Join(p.dir, name)
	if err := os.WriteFile(path, image, 0644); err != nil {
		return "", fmt.Errorf("failed to save plot: %w", err)
	}

	return "Plot saved successfully: " + path, nil
}

func createPlotSpec(runner *pythonRunner, outputDir string) toolregistry.ToolSpec {
	p := &plotter{runner: runner, dir: outputDir}

	return toolregistry.ToolSpec{
		Name: CreatePlotName,
		Description: "Create a plot with matplotlib. plt, np and the physics constants are available; " +
			"draw on the current figure and it is saved as a PNG. Returns the file path.",
		Parameters: []toolregistry.Parameter{
			{Name: "code", Type: "string", Description: "Python code that draws a matplotlib figure", Required: true},
		},
		Suggestions: map[errclass.Category]string{
			errclass.CategoryExecution:  "Fix the plotting code; it must draw on the current matplotlib figure.",
			errclass.CategoryValidation: "Use only matplotlib, numpy and the other allowed modules.",
			errclass.CategoryTimeout:    "Plot fewer points or simplify the figure.",
		},
		Tool: toolregistry.ToolFunc(func(ctx context.Context, args map[string]interface{}) (string, error) {
			code := stringArg(args, "code")
			if strings.TrimSpace(code) == "" {
				e := errclass.New(errclass.CategoryValidation, "code cannot be empty")
				e.Tool = CreatePlotName
				return "", e
			}
			if err := checkCode(CreatePlotName, code, PlotModules); err != nil {
				return "", err
			}
			return p.plot(ctx, code)
		}),
	}
}
