package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/harun/kosmo/pkg/agent"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/trace"
)

const maxShownObservation = 400

// progressPrinter renders agent transitions as they happen
type progressPrinter struct {
	out io.Writer
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out}
}

// Listen is an agent.Listener
func (p *progressPrinter) Listen(ev agent.Event) {
	switch ev.To {
	case agent.StateReasoning:
		if ev.Step == nil {
			return
		}
		if ev.Record != nil {
			fmt.Fprintf(p.out, "[step %d] reasoning failed: %s\n", ev.Step.Index+1, ev.Record.Message)
			return
		}
		p.thought(ev.Step)
	case agent.StateActing:
		p.thought(ev.Step)
		if ev.Step != nil {
			fmt.Fprintf(p.out, "Action: %s(%s)\n", ev.Step.Action.Tool, formatArguments(ev.Step.Action.Arguments))
		}
	case agent.StateObserving:
		if ev.Step == nil || ev.Step.Observation == nil {
			return
		}
		label := "Observation"
		if ev.Step.Observation.Failed {
			label = "Observation (failed)"
		}
		fmt.Fprintf(p.out, "%s: %s\n\n", label, shorten(ev.Step.Observation.Content, maxShownObservation))
	case agent.StateAborted:
		if ev.Record != nil {
			fmt.Fprintf(p.out, "Aborted: %s\n", ev.Record.Message)
		}
	}
}

func (p *progressPrinter) thought(step *trace.Step) {
	if step == nil || strings.TrimSpace(step.Thought) == "" {
		return
	}
	fmt.Fprintf(p.out, "Thought: %s\n", strings.TrimSpace(step.Thought))
}

// waitNotice reports a query held back by an earlier one of its session
func waitNotice(out io.Writer) func(time.Duration, int) {
	return func(wait time.Duration, ahead int) {
		if ahead > 0 {
			fmt.Fprintf(out, "Waiting for %d earlier queries in this session (%s)...\n", ahead+1, formatDuration(wait))
			return
		}
		fmt.Fprintf(out, "Waiting for the previous query in this session (%s)...\n", formatDuration(wait))
	}
}

// printResult writes the answer followed by any notes about its quality
func printResult(out io.Writer, res agent.Result) {
	fmt.Fprintln(out, res.Answer)

	if res.Truncated {
		fmt.Fprintln(out, "\nNote: the step limit was reached; this answer is a summary of what was found.")
	}
	if !res.Aborted() && len(res.FailedTools) > 0 {
		fmt.Fprintf(out, "\nNote: %s unavailable, answer may be incomplete\n", strings.Join(res.FailedTools, ", "))
	}
	if res.Aborted() && res.Diagnostic != "" {
		fmt.Fprintf(out, "\nDetails: %s\n", res.Diagnostic)
	}
}

// printErrors writes the classified failures of a query, one per line
func printErrors(out io.Writer, records []errclass.Record) {
	if len(records) == 0 {
		return
	}
	fmt.Fprintf(out, "\nErrors (%d):\n", len(records))
	for _, rec := range records {
		fmt.Fprintf(out, "  step %d  %s/%s  %s  attempts=%d: %s\n",
			rec.Step+1, rec.Kind, rec.Category, rec.Origin, rec.Attempts, rec.Message)
	}
}

func formatArguments(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return shorten(string(data), 200)
}

func shorten(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return trace.Clip(s, max) + "..."
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
