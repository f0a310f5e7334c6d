// Package trace defines the step record produced by the agent loop.
//
// A trace is the ordered list of steps for one query. Steps are append-only:
// once a step is appended its fields are never rewritten. The same record is
// handed to the reasoning oracle as input, to progress listeners as output and
// to the session store as part of a completed turn.
package trace

import "time"

// Status is the outcome of a single step
type Status string

const (
	StatusSuccess            Status = "success"
	StatusRecoverableFailure Status = "recoverable_failure"
	StatusFatalFailure       Status = "fatal_failure"
)

// ActionKind identifies what the step decided to do
type ActionKind string

const (
	// ActionNone marks a thought-only step that needs another reasoning pass.
	ActionNone     ActionKind = ""
	ActionInvoke   ActionKind = "invoke"
	ActionConclude ActionKind = "conclude"
)

// Action is the decision taken by a step
type Action struct {
	Kind      ActionKind             `json:"kind,omitempty"`
	CallID    string                 `json:"call_id,omitempty"`
	Tool      string                 `json:"tool,omitempty"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
	Answer    string                 `json:"answer,omitempty"`
}

// Observation is the result of an invoked tool, or the failure notice that replaced it
type Observation struct {
	Content string `json:"content"`
	Failed  bool   `json:"failed,omitempty"`
}

// Step is one iteration of the reasoning loop
type Step struct {
	Index       int          `json:"index"`
	Thought     string       `json:"thought,omitempty"`
	Action      Action       `json:"action"`
	Observation *Observation `json:"observation,omitempty"`
	Status      Status       `json:"status"`
	Error       string       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
}

// Invoked reports whether the step dispatched a tool
func (s Step) Invoked() bool {
	return s.Action.Kind == ActionInvoke
}

// Clone returns a deep copy of the step
func (s Step) Clone() Step {
	out := s
	out.Action.Arguments = CloneArguments(s.Action.Arguments)
	if s.Observation != nil {
		obs := *s.Observation
		out.Observation = &obs
	}
	return out
}

// Clone returns a deep copy of a trace
func Clone(steps []Step) []Step {
	if steps == nil {
		return nil
	}
	out := make([]Step, len(steps))
	for i := range steps {
		out[i] = steps[i].Clone()
	}
	return out
}

// CloneArguments deep-copies a decoded JSON argument map
func CloneArguments(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneArguments(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	default:
		return val
	}
}
