package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/reasoning"
	"github.com/harun/kosmo/pkg/session"
	"github.com/harun/kosmo/pkg/toolregistry"
	"github.com/harun/kosmo/pkg/trace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, d time.Duration) error { return nil }

// countingTool returns a tool spec whose invocations are counted
type countingTool struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, args map[string]interface{}) (string, error)
}

func (c *countingTool) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *countingTool) spec(name string, retryable bool) toolregistry.ToolSpec {
	return toolregistry.ToolSpec{
		Name:        name,
		Description: "test tool " + name,
		Parameters: []toolregistry.Parameter{
			{Name: "code", Type: "string", Description: "input", Required: true},
		},
		Retryable: retryable,
		Suggestions: map[errclass.Category]string{
			errclass.CategoryNotFound: "Try search_wikipedia instead.",
		},
		Tool: toolregistry.ToolFunc(func(ctx context.Context, args map[string]interface{}) (string, error) {
			c.mu.Lock()
			c.calls++
			call := c.calls
			c.mu.Unlock()
			return c.fn(call, args)
		}),
	}
}

// recorder collects listener events
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.events))
	for i, e := range r.events {
		out[i] = e.To
	}
	return out
}

type harness struct {
	controller *Controller
	store      *session.Store
	events     *recorder
	sessionID  string
}

func newHarness(t *testing.T, oracle reasoning.Oracle, mutate func(*ControllerConfig), specs ...toolregistry.ToolSpec) *harness {
	t.Helper()

	reg := toolregistry.New(toolregistry.Config{Timeout: time.Second})
	for _, spec := range specs {
		require.NoError(t, reg.Register(spec))
	}

	store, err := session.NewStore(context.Background(), session.StoreConfig{})
	require.NoError(t, err)
	id, err := store.Create(context.Background())
	require.NoError(t, err)

	events := &recorder{}
	cfg := ControllerConfig{
		Registry: reg,
		Reasoner: reasoning.NewExecutor(oracle, reasoning.ExecutorConfig{Timeout: time.Second}),
		Store:    store,
		Policy:   errclass.Policy{MaxTransientAttempts: 2},
		Sleep:    noSleep,
		Listener: events.listen,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	controller, err := NewController(cfg)
	require.NoError(t, err)

	return &harness{controller: controller, store: store, events: events, sessionID: id}
}

func (h *harness) run(ctx context.Context, query string) Result {
	return h.controller.Run(ctx, h.sessionID, "q1", query, nil)
}

func callTool(name string, args map[string]interface{}) *reasoning.Output {
	return &reasoning.Output{ToolCalls: []reasoning.ToolCall{{ID: "call-" + name, Name: name, Arguments: args}}}
}

// oneToolThenAnswer calls the tool on the first pass and concludes with the
// last observation afterwards
func oneToolThenAnswer(tool string) reasoning.OracleFunc {
	return func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		if len(req.Trace) == 0 {
			return callTool(tool, map[string]interface{}{"code": "print(1)"}), nil
		}
		last := req.Trace[len(req.Trace)-1]
		return &reasoning.Output{Content: "Final Answer: based on " + last.Observation.Content}, nil
	}
}

func TestEscapeVelocitySingleToolCall(t *testing.T) {
	tool := &countingTool{fn: func(int, map[string]interface{}) (string, error) {
		return "11.19 km/s", nil
	}}
	h := newHarness(t, oneToolThenAnswer("execute_code"), nil, tool.spec("execute_code", true))

	res := h.run(context.Background(), "Calculate escape velocity")

	assert.Equal(t, StatusConcluded, res.Status)
	assert.False(t, res.Truncated)
	assert.Equal(t, "based on 11.19 km/s", res.Answer)
	require.Len(t, res.Trace, 2)

	acting := res.Trace[0]
	assert.True(t, acting.Invoked())
	assert.Equal(t, "execute_code", acting.Action.Tool)
	require.NotNil(t, acting.Observation)
	assert.Equal(t, "11.19 km/s", acting.Observation.Content)
	assert.Equal(t, trace.StatusSuccess, acting.Status)
	assert.Equal(t, trace.ActionConclude, res.Trace[1].Action.Kind)

	assert.Equal(t, []State{
		StateReasoning, StateActing, StateObserving, StateReasoning, StateConcluded,
	}, h.events.states())
	assert.Equal(t, 1, tool.Calls())

	turns, err := h.store.Resume(context.Background(), h.sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, session.TurnConcluded, turns[0].Status)
	assert.Len(t, turns[0].Trace, 2)
}

func TestLargeMultibyteObservationStaysValidUTF8(t *testing.T) {
	tool := &countingTool{fn: func(int, map[string]interface{}) (string, error) {
		return "a" + strings.Repeat("é", 6000), nil
	}}
	h := newHarness(t, oneToolThenAnswer("execute_code"), nil, tool.spec("execute_code", true))

	res := h.run(context.Background(), "Print the spectrum")

	require.Equal(t, StatusConcluded, res.Status)
	require.NotNil(t, res.Trace[0].Observation)
	content := res.Trace[0].Observation.Content
	assert.True(t, utf8.ValidString(content))
	assert.Contains(t, content, "[output truncated]")

	turns, err := h.store.Resume(context.Background(), h.sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, utf8.ValidString(turns[0].Trace[0].Observation.Content))
	assert.True(t, utf8.ValidString(turns[0].Answer))
}

func TestTransientToolDowngradedAfterMaxAttempts(t *testing.T) {
	tool := &countingTool{fn: func(int, map[string]interface{}) (string, error) {
		return "", &errclass.Error{Category: errclass.CategoryTimeout, Message: "computation timed out"}
	}}
	h := newHarness(t, oneToolThenAnswer("execute_code"), nil, tool.spec("execute_code", true))

	res := h.run(context.Background(), "Integrate the Friedmann equation")

	assert.Equal(t, 3, tool.Calls())
	assert.Equal(t, StatusConcluded, res.Status)
	require.Len(t, res.Trace, 2)

	failed := res.Trace[0]
	assert.Equal(t, trace.StatusRecoverableFailure, failed.Status)
	require.NotNil(t, failed.Observation)
	assert.True(t, failed.Observation.Failed)
	assert.Contains(t, failed.Observation.Content, "timeout")
	assert.Contains(t, failed.Observation.Content, "Gave up after 3 attempts")

	require.Len(t, res.Errors, 1)
	assert.Equal(t, errclass.KindRecoverable, res.Errors[0].Kind)
	assert.True(t, res.Errors[0].Downgraded)
	assert.Equal(t, []string{"execute_code"}, res.FailedTools)

	// the loop went back to reasoning after the failure observation
	assert.Equal(t, []State{
		StateReasoning, StateActing, StateObserving, StateReasoning, StateConcluded,
	}, h.events.states())
}

func TestMalformedReasoningTwiceAborts(t *testing.T) {
	calls := 0
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		calls++
		return &reasoning.Output{Content: "   "}, nil
	})
	h := newHarness(t, oracle, nil)

	res := h.run(context.Background(), "What is dark matter?")

	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, AbortReasoning, res.AbortReason)
	assert.Equal(t, ReasoningFailureMessage, res.Answer)
	assert.NotEmpty(t, res.Diagnostic)
	assert.Len(t, res.Trace, 2)
	assert.Equal(t, 2, calls)
	for _, step := range res.Trace {
		assert.Equal(t, trace.StatusRecoverableFailure, step.Status)
		assert.NotEmpty(t, step.Error)
	}

	turns, err := h.store.Resume(context.Background(), h.sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, session.TurnAborted, turns[0].Status)
	assert.Len(t, turns[0].Trace, 2)
}

func TestSingleReasoningFailureIsRetried(t *testing.T) {
	calls := 0
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		calls++
		if calls == 1 {
			return &reasoning.Output{}, nil
		}
		return &reasoning.Output{Content: "Final Answer: 42"}, nil
	})
	h := newHarness(t, oracle, nil)

	res := h.run(context.Background(), "q")
	assert.Equal(t, StatusConcluded, res.Status)
	assert.Equal(t, "42", res.Answer)
	assert.Len(t, res.Trace, 2)

	// the failed step re-enters reasoning once
	assert.Equal(t, []State{StateReasoning, StateReasoning, StateConcluded}, h.events.states())
	failed := h.events.events[1]
	require.NotNil(t, failed.Step)
	require.NotNil(t, failed.Record)
	assert.Equal(t, 0, failed.Step.Index)
}

func TestRecoverableToolFailureContinues(t *testing.T) {
	tool := &countingTool{fn: func(int, map[string]interface{}) (string, error) {
		return "", errclass.New(errclass.CategoryNotFound, "no results")
	}}

	var secondTrace []trace.Step
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		if len(req.Trace) == 0 {
			return callTool("web_search", map[string]interface{}{"code": "x"}), nil
		}
		secondTrace = req.Trace
		return &reasoning.Output{Content: "Final Answer: from memory"}, nil
	})
	h := newHarness(t, oracle, nil, tool.spec("web_search", true))

	res := h.run(context.Background(), "q")

	assert.Equal(t, StatusConcluded, res.Status)
	assert.Equal(t, 1, tool.Calls())
	require.Len(t, secondTrace, 1)
	require.NotNil(t, secondTrace[0].Observation)
	assert.True(t, secondTrace[0].Observation.Failed)
	assert.Contains(t, secondTrace[0].Observation.Content, "Try search_wikipedia instead.")
}

func TestUnknownToolAndBadArgumentsAreRecoverable(t *testing.T) {
	tool := &countingTool{fn: func(int, map[string]interface{}) (string, error) { return "ok", nil }}

	pass := 0
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		pass++
		switch pass {
		case 1:
			return callTool("telescope", map[string]interface{}{}), nil
		case 2:
			return callTool("execute_code", map[string]interface{}{"code": 7}), nil
		default:
			return &reasoning.Output{Content: "Final Answer: done"}, nil
		}
	})
	h := newHarness(t, oracle, nil, tool.spec("execute_code", true))

	res := h.run(context.Background(), "q")

	assert.Equal(t, StatusConcluded, res.Status)
	require.Len(t, res.Trace, 3)
	assert.Equal(t, 0, tool.Calls())
	require.Len(t, res.Errors, 2)
	assert.Equal(t, errclass.CategoryNotFound, res.Errors[0].Category)
	assert.Equal(t, errclass.CategoryValidation, res.Errors[1].Category)
	assert.ElementsMatch(t, []string{"telescope", "execute_code"}, res.FailedTools)
}

func TestCriticalToolFailureAborts(t *testing.T) {
	tool := &countingTool{fn: func(int, map[string]interface{}) (string, error) {
		return "", errclass.New(errclass.CategoryAuthentication, "invalid api key")
	}}
	calls := 0
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		calls++
		return callTool("web_search", map[string]interface{}{"code": "x"}), nil
	})
	h := newHarness(t, oracle, nil, tool.spec("web_search", true))

	res := h.run(context.Background(), "q")

	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, AbortCritical, res.AbortReason)
	assert.Equal(t, CriticalFailureMessage, res.Answer)
	require.Len(t, res.Trace, 1)
	assert.Equal(t, trace.StatusFatalFailure, res.Trace[0].Status)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, tool.Calls())

	states := h.events.states()
	assert.Equal(t, StateAborted, states[len(states)-1])
}

func TestCriticalReasoningFailureAborts(t *testing.T) {
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		return nil, errclass.New(errclass.CategoryAuthentication, "invalid api key")
	})
	h := newHarness(t, oracle, nil)

	res := h.run(context.Background(), "q")
	assert.Equal(t, AbortCritical, res.AbortReason)
	require.Len(t, res.Trace, 1)
	assert.Equal(t, trace.StatusFatalFailure, res.Trace[0].Status)
}

func TestTransientReasoningRetriedInPlace(t *testing.T) {
	calls := 0
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		calls++
		if calls < 3 {
			return nil, errclass.New(errclass.CategoryRateLimit, "rate limit")
		}
		return &reasoning.Output{Content: "Final Answer: ok"}, nil
	})
	h := newHarness(t, oracle, nil)

	res := h.run(context.Background(), "q")
	assert.Equal(t, StatusConcluded, res.Status)
	assert.Len(t, res.Trace, 1)
	assert.Equal(t, 3, calls)
}

func TestIterationBudgetTruncates(t *testing.T) {
	tool := &countingTool{fn: func(call int, _ map[string]interface{}) (string, error) {
		return fmt.Sprintf("partial result %d", call), nil
	}}
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		return callTool("execute_code", map[string]interface{}{"code": "x"}), nil
	})
	h := newHarness(t, oracle, func(cfg *ControllerConfig) { cfg.MaxIterations = 3 }, tool.spec("execute_code", true))

	res := h.run(context.Background(), "q")

	assert.Equal(t, StatusConcluded, res.Status)
	assert.True(t, res.Truncated)
	assert.Len(t, res.Trace, 3)
	assert.NotEmpty(t, res.Answer)
	assert.Contains(t, res.Answer, "partial result 3")

	reasoningEntries := 0
	for _, s := range h.events.states() {
		if s == StateReasoning {
			reasoningEntries++
		}
	}
	assert.LessOrEqual(t, reasoningEntries, 3)

	turns, err := h.store.Resume(context.Background(), h.sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.True(t, turns[0].Truncated)
}

func TestThoughtsCountTowardBudget(t *testing.T) {
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		return &reasoning.Output{Content: fmt.Sprintf("Thought: still thinking %d", len(req.Trace))}, nil
	})
	h := newHarness(t, oracle, func(cfg *ControllerConfig) { cfg.MaxIterations = 2 })

	res := h.run(context.Background(), "q")

	assert.True(t, res.Truncated)
	assert.Len(t, res.Trace, 2)
	assert.Contains(t, res.Answer, "still thinking 1")

	// one reasoning entry per pass: the start, then one per thought
	assert.Equal(t, []State{StateReasoning, StateReasoning, StateReasoning, StateConcluded}, h.events.states())
	assert.Nil(t, h.events.events[0].Step)
	for i, e := range h.events.events[1:3] {
		require.NotNil(t, e.Step)
		assert.Equal(t, i, e.Step.Index)
		assert.Nil(t, e.Record)
		assert.Equal(t, StateReasoning, e.From)
	}
}

func TestCancellationBetweenSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tool := &countingTool{fn: func(int, map[string]interface{}) (string, error) {
		cancel()
		return "finished anyway", nil
	}}
	h := newHarness(t, oneToolThenAnswer("execute_code"), nil, tool.spec("execute_code", true))

	res := h.run(ctx, "q")

	assert.Equal(t, StatusAborted, res.Status)
	assert.Equal(t, AbortCancelled, res.AbortReason)
	assert.Equal(t, CancelledMessage, res.Answer)
	require.Len(t, res.Trace, 1)
	// the step in flight completed
	assert.Equal(t, "finished anyway", res.Trace[0].Observation.Content)

	turns, err := h.store.Resume(context.Background(), h.sessionID)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, session.TurnAborted, turns[0].Status)
}

func TestListenerCannotAffectControlFlow(t *testing.T) {
	tool := &countingTool{fn: func(int, map[string]interface{}) (string, error) { return "ok", nil }}
	h := newHarness(t, oneToolThenAnswer("execute_code"), func(cfg *ControllerConfig) {
		cfg.Listener = func(e Event) {
			if e.Step != nil {
				e.Step.Thought = "tampered"
				e.Step.Action.Tool = "tampered"
			}
			panic("listener bug")
		}
	}, tool.spec("execute_code", true))

	res := h.run(context.Background(), "q")

	assert.Equal(t, StatusConcluded, res.Status)
	require.Len(t, res.Trace, 2)
	assert.Equal(t, "execute_code", res.Trace[0].Action.Tool)
}

func TestPerRunListenerOverridesDefault(t *testing.T) {
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		return &reasoning.Output{Content: "Final Answer: hi"}, nil
	})
	h := newHarness(t, oracle, nil)

	own := &recorder{}
	res := h.controller.Run(context.Background(), h.sessionID, "q2", "hello", own.listen)

	assert.Equal(t, "hi", res.Answer)
	assert.Equal(t, []State{StateReasoning, StateConcluded}, own.states())
	assert.Empty(t, h.events.states())
	assert.Equal(t, "hi", own.events[1].Answer)
}

func TestHistoryIsPassedToReasoning(t *testing.T) {
	var seen []session.Turn
	oracle := reasoning.OracleFunc(func(ctx context.Context, req reasoning.Request) (*reasoning.Output, error) {
		seen = req.History
		return &reasoning.Output{Content: "Final Answer: " + strings.ToUpper(req.Query)}, nil
	})
	h := newHarness(t, oracle, nil)

	h.run(context.Background(), "first")
	h.run(context.Background(), "second")

	require.Len(t, seen, 1)
	assert.Equal(t, "first", seen[0].Query)
	assert.Equal(t, "FIRST", seen[0].Answer)
}

func TestSynthesize(t *testing.T) {
	assert.NotEmpty(t, synthesize(nil))

	steps := []trace.Step{
		{Thought: "check the data", Action: trace.Action{Kind: trace.ActionInvoke, Tool: "web_search"},
			Observation: &trace.Observation{Content: "Error (web_search, timeout)", Failed: true}},
	}
	out := synthesize(steps)
	assert.Contains(t, out, "check the data")
	assert.NotContains(t, out, "Error (web_search")

	long := strings.Repeat("x", 2*maxSynthesizedObservation)
	steps = append(steps, trace.Step{
		Action:      trace.Action{Kind: trace.ActionInvoke, Tool: "search_wikipedia"},
		Observation: &trace.Observation{Content: long},
	})
	out = synthesize(steps)
	assert.Contains(t, out, "search_wikipedia")
	assert.Less(t, len(out), len(long))

	wide := "a" + strings.Repeat("é", maxSynthesizedObservation)
	out = synthesize([]trace.Step{{
		Action:      trace.Action{Kind: trace.ActionInvoke, Tool: "search_wikipedia"},
		Observation: &trace.Observation{Content: wide},
	}})
	assert.True(t, utf8.ValidString(out))
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	_, err := NewController(ControllerConfig{})
	assert.Error(t, err)

	_, err = NewController(ControllerConfig{Registry: toolregistry.New(toolregistry.Config{})})
	assert.Error(t, err)
}
