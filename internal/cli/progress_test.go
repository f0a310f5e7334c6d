package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/harun/kosmo/pkg/agent"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/trace"
	"github.com/stretchr/testify/assert"
)

func TestProgressPrinter(t *testing.T) {
	var out bytes.Buffer
	p := newProgressPrinter(&out)

	step := &trace.Step{
		Index:   0,
		Thought: "I should look up the Hubble constant.",
		Action: trace.Action{
			Kind:      trace.ActionInvoke,
			Tool:      "search_wikipedia",
			Arguments: map[string]interface{}{"query": "Hubble constant"},
		},
	}

	p.Listen(agent.Event{From: agent.StateIdle, To: agent.StateReasoning})
	p.Listen(agent.Event{From: agent.StateReasoning, To: agent.StateActing, Step: step})

	observed := step.Clone()
	observed.Observation = &trace.Observation{Content: "H0 is about 70 km/s/Mpc"}
	p.Listen(agent.Event{From: agent.StateActing, To: agent.StateObserving, Step: &observed})

	failed := trace.Step{Index: 1}
	p.Listen(agent.Event{
		From:   agent.StateReasoning,
		To:     agent.StateReasoning,
		Step:   &failed,
		Record: &errclass.Record{Message: "malformed reasoning output"},
	})

	text := out.String()
	assert.Contains(t, text, "Thought: I should look up the Hubble constant.")
	assert.Contains(t, text, `Action: search_wikipedia({"query":"Hubble constant"})`)
	assert.Contains(t, text, "Observation: H0 is about 70 km/s/Mpc")
	assert.Contains(t, text, "[step 2] reasoning failed: malformed reasoning output")
}

func TestProgressPrinterFailedObservation(t *testing.T) {
	var out bytes.Buffer
	p := newProgressPrinter(&out)

	step := &trace.Step{
		Action:      trace.Action{Kind: trace.ActionInvoke, Tool: "web_search"},
		Observation: &trace.Observation{Content: strings.Repeat("x", 1000), Failed: true},
	}
	p.Listen(agent.Event{To: agent.StateObserving, Step: step})

	text := out.String()
	assert.Contains(t, text, "Observation (failed): ")
	assert.Contains(t, text, "...")
	assert.Less(t, len(text), 500)
}

func TestPrintResult(t *testing.T) {
	tests := []struct {
		name     string
		result   agent.Result
		contains []string
		excludes []string
	}{
		{
			name:     "plain answer",
			result:   agent.Result{Answer: "About 13.8 billion years.", Status: agent.StatusConcluded},
			contains: []string{"About 13.8 billion years."},
			excludes: []string{"Note:"},
		},
		{
			name:     "truncated",
			result:   agent.Result{Answer: "partial", Status: agent.StatusConcluded, Truncated: true},
			contains: []string{"step limit"},
		},
		{
			name: "degraded tools",
			result: agent.Result{
				Answer:      "answer",
				Status:      agent.StatusConcluded,
				FailedTools: []string{"web_search", "execute_code"},
			},
			contains: []string{"Note: web_search, execute_code unavailable, answer may be incomplete"},
		},
		{
			name: "aborted",
			result: agent.Result{
				Answer:      agent.CriticalFailureMessage,
				Status:      agent.StatusAborted,
				AbortReason: agent.AbortCritical,
				Diagnostic:  "openai: invalid API key",
				FailedTools: []string{"web_search"},
			},
			contains: []string{agent.CriticalFailureMessage, "Details: openai: invalid API key"},
			excludes: []string{"unavailable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			printResult(&out, tt.result)
			for _, s := range tt.contains {
				assert.Contains(t, out.String(), s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, out.String(), s)
			}
		})
	}
}

func TestPrintErrors(t *testing.T) {
	var out bytes.Buffer
	printErrors(&out, nil)
	assert.Empty(t, out.String())

	printErrors(&out, []errclass.Record{
		{Kind: errclass.KindRecoverable, Category: errclass.CategoryRateLimit, Origin: "web_search", Step: 0, Attempts: 4, Message: "429 Too Many Requests", Downgraded: true},
		{Kind: errclass.KindRecoverable, Category: errclass.CategoryMalformedOutput, Origin: "reasoning", Step: 2, Attempts: 1, Message: "empty reply"},
	})

	text := out.String()
	assert.Contains(t, text, "Errors (2):")
	assert.Contains(t, text, "step 1  recoverable/rate_limit  web_search  attempts=4: 429 Too Many Requests")
	assert.Contains(t, text, "step 3  recoverable/malformed_output  reasoning")
}

func TestWaitNotice(t *testing.T) {
	var out bytes.Buffer
	notify := waitNotice(&out)

	notify(2*time.Second, 0)
	notify(3*time.Second, 2)

	text := out.String()
	assert.Contains(t, text, "Waiting for the previous query in this session (2s)...")
	assert.Contains(t, text, "Waiting for 3 earlier queries in this session (3s)...")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		expected string
	}{
		{"seconds only", 45 * time.Second, "45s"},
		{"minutes and seconds", 2*time.Minute + 30*time.Second, "2m30s"},
		{"hours minutes seconds", 3*time.Hour + 15*time.Minute + 20*time.Second, "3h15m20s"},
		{"zero", 0, "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatDuration(tt.duration))
		})
	}
}
