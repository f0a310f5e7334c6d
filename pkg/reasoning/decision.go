package reasoning

import (
	"context"

	"github.com/harun/kosmo/pkg/session"
	"github.com/harun/kosmo/pkg/toolregistry"
	"github.com/harun/kosmo/pkg/trace"
)

// DecisionKind is the structured outcome of one reasoning pass
type DecisionKind string

const (
	// DecisionAction asks the controller to invoke a tool.
	DecisionAction DecisionKind = "action"
	// DecisionThought needs another reasoning pass before acting.
	DecisionThought DecisionKind = "thought"
	// DecisionConclude carries the final answer.
	DecisionConclude DecisionKind = "conclude"
)

// Decision is exactly one of action, thought or conclude
type Decision struct {
	Kind      DecisionKind
	Thought   string
	CallID    string
	Tool      string
	Arguments map[string]interface{}
	Answer    string
}

// Action returns the trace action recorded for the decision
func (d Decision) Action() trace.Action {
	switch d.Kind {
	case DecisionAction:
		return trace.Action{
			Kind:      trace.ActionInvoke,
			CallID:    d.CallID,
			Tool:      d.Tool,
			Arguments: trace.CloneArguments(d.Arguments),
		}
	case DecisionConclude:
		return trace.Action{Kind: trace.ActionConclude, Answer: d.Answer}
	default:
		return trace.Action{Kind: trace.ActionNone}
	}
}

// Request is the input of one reasoning pass
type Request struct {
	Query   string
	History []session.Turn
	Trace   []trace.Step
	Tools   []toolregistry.Definition
}

// ToolCall is a native tool call returned by a model
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Output is the raw reply of the reasoning oracle, before parsing
type Output struct {
	Content   string
	ToolCalls []ToolCall
}

// Oracle produces the raw output of one reasoning pass. Failures should be
// *errclass.Error values so they classify precisely; other errors fall back
// to message patterns.
type Oracle interface {
	Reason(ctx context.Context, req Request) (*Output, error)
}

// OracleFunc adapts a function to Oracle
type OracleFunc func(ctx context.Context, req Request) (*Output, error)

// Reason calls f
func (f OracleFunc) Reason(ctx context.Context, req Request) (*Output, error) {
	return f(ctx, req)
}
