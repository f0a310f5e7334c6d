package agent

import (
	"fmt"
	"strings"

	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/trace"
)

// Status is the terminal state of a query
type Status string

const (
	StatusConcluded Status = "concluded"
	StatusAborted   Status = "aborted"
)

// AbortReason tells why a query was aborted
type AbortReason string

const (
	AbortNone AbortReason = ""
	// AbortCritical follows a critical failure of a tool or the reasoning oracle.
	AbortCritical AbortReason = "critical"
	// AbortReasoning follows too many consecutive reasoning failures.
	AbortReasoning AbortReason = "reasoning_failed"
	// AbortCancelled follows cancellation of the caller's context.
	AbortCancelled AbortReason = "cancelled"
)

// User-visible answers of aborted queries
const (
	CriticalFailureMessage  = "I couldn't complete this request because of an unrecoverable error. Please check the configuration and try again."
	ReasoningFailureMessage = "I couldn't complete this request because the reasoning step kept failing. Please try again or rephrase the question."
	CancelledMessage        = "The request was cancelled before it could finish."
)

// Result is the outcome of one query
type Result struct {
	SessionID string
	QueryID   string
	Answer    string
	Trace     []trace.Step
	// Truncated marks an answer synthesized after the iteration budget ran out.
	Truncated   bool
	Status      Status
	AbortReason AbortReason
	// Diagnostic explains an abort; empty otherwise.
	Diagnostic string
	// FailedTools lists tools whose invocations ended in a failure observation.
	FailedTools []string
	// Errors holds the classified failures of the query, in step order.
	Errors []errclass.Record
}

// Aborted reports whether the query was aborted
func (r Result) Aborted() bool {
	return r.Status == StatusAborted
}

func (r Result) metricStatus() string {
	switch {
	case r.Aborted():
		return "aborted"
	case r.Truncated:
		return "truncated"
	default:
		return "concluded"
	}
}

func abortMessage(reason AbortReason) string {
	switch reason {
	case AbortCancelled:
		return CancelledMessage
	case AbortReasoning:
		return ReasoningFailureMessage
	default:
		return CriticalFailureMessage
	}
}

const maxSynthesizedObservation = 500

// synthesize builds the best-effort answer of a budget-truncated query from
// the observations gathered so far. The result is never empty.
func synthesize(steps []trace.Step) string {
	var b strings.Builder
	b.WriteString("I reached the step limit before reaching a final conclusion.")

	found := 0
	for _, step := range steps {
		if !step.Invoked() || step.Observation == nil || step.Observation.Failed {
			continue
		}
		content := strings.TrimSpace(step.Observation.Content)
		if content == "" {
			continue
		}
		if found == 0 {
			b.WriteString(" Here is what I found so far:\n")
		}
		found++
		if len(content) > maxSynthesizedObservation {
			content = trace.Clip(content, maxSynthesizedObservation) + "..."
		}
		fmt.Fprintf(&b, "\n- %s: %s", step.Action.Tool, content)
	}

	if found > 0 {
		return b.String()
	}

	for i := len(steps) - 1; i >= 0; i-- {
		if thought := strings.TrimSpace(steps[i].Thought); thought != "" {
			fmt.Fprintf(&b, " No tool returned usable results. My last reasoning was: %s", thought)
			return b.String()
		}
	}

	b.WriteString(" No tool returned usable results.")
	return b.String()
}
