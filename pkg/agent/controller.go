package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/kosmo/internal/observability"
	"github.com/harun/kosmo/internal/tracing"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/reasoning"
	"github.com/harun/kosmo/pkg/session"
	"github.com/harun/kosmo/pkg/toolregistry"
	"github.com/harun/kosmo/pkg/trace"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultMaxIterations is the default iteration budget
	DefaultMaxIterations = 10
	// DefaultMaxReasoningRetries is the number of consecutive reasoning
	// failures tolerated before the query is aborted.
	DefaultMaxReasoningRetries = 1
)

// Reasoner runs one reasoning pass. *reasoning.Executor implements it.
type Reasoner interface {
	Step(ctx context.Context, req reasoning.Request) (reasoning.Decision, error)
}

// ControllerConfig holds loop configuration. A zero Logger discards output.
type ControllerConfig struct {
	Registry *toolregistry.Registry
	Reasoner Reasoner
	// Store loads history and receives the completed turn. Nil runs the
	// query without session memory.
	Store *session.Store

	MaxIterations       int
	MaxReasoningRetries int
	Policy              errclass.Policy
	// Sleep replaces the backoff wait, for tests.
	Sleep errclass.SleepFunc

	Listener Listener
	Logger   zerolog.Logger
	Now      func() time.Time
}

// Controller is the agent loop state machine
type Controller struct {
	registry            *toolregistry.Registry
	reasoner            Reasoner
	store               *session.Store
	maxIterations       int
	maxReasoningRetries int
	retrier             *errclass.Retrier
	classifier          *errclass.Classifier
	listener            Listener
	logger              zerolog.Logger
	now                 func() time.Time
}

// NewController creates a controller
func NewController(cfg ControllerConfig) (*Controller, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	if cfg.Reasoner == nil {
		return nil, fmt.Errorf("reasoner is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.MaxReasoningRetries < 0 {
		cfg.MaxReasoningRetries = 0
	}
	if cfg.Policy == (errclass.Policy{}) {
		cfg.Policy = errclass.DefaultPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	retrier := errclass.NewRetrier(cfg.Policy, cfg.Logger)
	if cfg.Sleep != nil {
		retrier.Sleep = cfg.Sleep
	}

	return &Controller{
		registry:            cfg.Registry,
		reasoner:            cfg.Reasoner,
		store:               cfg.Store,
		maxIterations:       cfg.MaxIterations,
		maxReasoningRetries: cfg.MaxReasoningRetries,
		retrier:             retrier,
		classifier:          retrier.Classifier,
		listener:            cfg.Listener,
		logger:              cfg.Logger,
		now:                 cfg.Now,
	}, nil
}

// run holds the state of one query
type run struct {
	c        *Controller
	ctx      context.Context
	logger   zerolog.Logger
	listener Listener

	queryID   string
	sessionID string
	query     string
	history   []session.Turn
	tools     []toolregistry.Definition

	state  State
	steps  []trace.Step
	result Result
	failed map[string]bool
}

// Run executes one query to a terminal state and appends the turn to the
// session. The returned Result is always well formed. Cancellation of ctx is
// honored between steps; a step in flight runs to completion under its own
// timeout.
func (c *Controller) Run(ctx context.Context, sessionID, queryID, query string, listener Listener) Result {
	if listener == nil {
		listener = c.listener
	}
	ctx = tracing.NewQueryContext(ctx, queryID, sessionID)
	ctx, span := tracing.StartSpan(ctx, "kosmo/agent", "agent.query",
		attribute.String("session_id", sessionID),
		attribute.String("query_id", queryID),
	)
	logger := tracing.LoggerFromContext(ctx, c.logger)
	started := c.now()

	r := &run{
		c:         c,
		ctx:       ctx,
		logger:    logger,
		listener:  listener,
		queryID:   queryID,
		sessionID: sessionID,
		query:     query,
		tools:     c.registry.Definitions(),
		state:     StateIdle,
		failed:    make(map[string]bool),
		result: Result{
			SessionID: sessionID,
			QueryID:   queryID,
		},
	}

	if c.store != nil && sessionID != "" {
		history, err := c.store.Resume(tracing.Detach(ctx), sessionID)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to load session history, continuing without it")
		}
		r.history = history
	}

	logger.Info().Int("history_turns", len(r.history)).Msg("Query started")
	r.loop()

	res := r.finish(started)
	span.SetAttributes(
		attribute.String("status", res.metricStatus()),
		attribute.Int("steps", len(res.Trace)),
	)
	tracing.EndSpan(span, nil)
	return res
}

func (r *run) loop() {
	consecutiveReasoningFailures := 0

	for len(r.steps) < r.c.maxIterations {
		if err := r.ctx.Err(); err != nil {
			r.abort(AbortCancelled, fmt.Sprintf("cancelled after %d steps: %v", len(r.steps), err), nil)
			return
		}

		// a thought or failed reasoning step already re-entered REASONING
		if r.state != StateReasoning {
			r.transition(StateReasoning, nil, nil, "")
		}

		step := trace.Step{Index: len(r.steps), StartedAt: r.c.now()}
		decision, rec := r.reason(step.Index)

		if rec != nil {
			step.Status = trace.StatusRecoverableFailure
			step.Error = rec.Message
			step.FinishedAt = r.c.now()
			r.result.Errors = append(r.result.Errors, *rec)

			if rec.Kind == errclass.KindCritical {
				step.Status = trace.StatusFatalFailure
				r.steps = append(r.steps, step)
				r.abort(AbortCritical, fmt.Sprintf("reasoning failed critically (%s): %s", rec.Category, rec.Message), rec)
				return
			}

			r.steps = append(r.steps, step)
			consecutiveReasoningFailures++
			r.logger.Warn().
				Int("step", step.Index).
				Str("category", string(rec.Category)).
				Int("consecutive", consecutiveReasoningFailures).
				Msg("Reasoning step failed")

			if consecutiveReasoningFailures > r.c.maxReasoningRetries {
				r.abort(AbortReasoning, fmt.Sprintf("reasoning failed %d consecutive times, last error (%s): %s",
					consecutiveReasoningFailures, rec.Category, rec.Message), rec)
				return
			}
			r.transition(StateReasoning, &step, rec, "")
			continue
		}
		consecutiveReasoningFailures = 0

		step.Thought = decision.Thought
		step.Action = decision.Action()

		switch decision.Kind {
		case reasoning.DecisionConclude:
			step.Status = trace.StatusSuccess
			step.FinishedAt = r.c.now()
			r.steps = append(r.steps, step)
			r.conclude(decision.Answer, false, &step)
			return

		case reasoning.DecisionThought:
			step.Status = trace.StatusSuccess
			step.FinishedAt = r.c.now()
			r.steps = append(r.steps, step)
			r.transition(StateReasoning, &step, nil, "")

		case reasoning.DecisionAction:
			r.transition(StateActing, &step, nil, "")
			if aborted := r.act(&step); aborted {
				return
			}
		}
	}

	r.logger.Info().Int("steps", len(r.steps)).Msg("Iteration budget reached, synthesizing answer")
	r.conclude(synthesize(r.steps), true, nil)
}

// reason runs the reasoning pass with the retry policy. The call runs on a
// context detached from caller cancellation.
func (r *run) reason(index int) (reasoning.Decision, *errclass.Record) {
	req := reasoning.Request{
		Query:   r.query,
		History: r.history,
		Trace:   trace.Clone(r.steps),
		Tools:   r.tools,
	}

	var decision reasoning.Decision
	rec := r.c.retrier.Do(tracing.Detach(r.ctx), errclass.ReasoningOrigin(), index, func(ctx context.Context) error {
		d, err := r.c.reasoner.Step(ctx, req)
		if err != nil {
			return err
		}
		decision = d
		return nil
	})
	return decision, rec
}

// act resolves and invokes the tool of step, then records the observation.
// It reports whether the query was aborted.
func (r *run) act(step *trace.Step) bool {
	tool := step.Action.Tool
	logger := r.logger.With().Int("step", step.Index).Str("tool", tool).Logger()

	handle, err := r.c.registry.Resolve(tool, step.Action.Arguments)
	var rec *errclass.Record
	var output string
	suggestion := ""

	if err != nil {
		classified := r.c.classifier.Classify(err, errclass.ToolOrigin(tool, false), step.Index)
		rec = &classified
		observability.RecordClassifiedError(string(rec.Kind), string(rec.Category), rec.Origin)
	} else {
		rec = r.c.retrier.Do(tracing.Detach(r.ctx), handle.Origin(), step.Index, func(ctx context.Context) error {
			out, err := handle.Invoke(ctx)
			if err != nil {
				return err
			}
			output = out
			return nil
		})
		if rec != nil {
			suggestion = handle.Suggestion(rec.Category)
		}
	}

	if rec == nil {
		step.Observation = &trace.Observation{Content: output}
		step.Status = trace.StatusSuccess
		step.FinishedAt = r.c.now()
		r.steps = append(r.steps, *step)
		logger.Debug().Msg("Tool observation recorded")
		r.transition(StateObserving, step, nil, "")
		return false
	}

	r.result.Errors = append(r.result.Errors, *rec)

	if rec.Kind == errclass.KindCritical {
		step.Status = trace.StatusFatalFailure
		step.Error = rec.Message
		step.FinishedAt = r.c.now()
		r.steps = append(r.steps, *step)
		logger.Error().Str("category", string(rec.Category)).Msg("Critical tool failure, aborting")
		r.abort(AbortCritical, fmt.Sprintf("tool %s failed critically (%s): %s", tool, rec.Category, rec.Message), rec)
		return true
	}

	step.Observation = &trace.Observation{
		Content: errclass.FailureNotice(*rec, suggestion),
		Failed:  true,
	}
	step.Status = trace.StatusRecoverableFailure
	step.Error = rec.Message
	step.FinishedAt = r.c.now()
	r.steps = append(r.steps, *step)
	if !r.failed[tool] {
		r.failed[tool] = true
		r.result.FailedTools = append(r.result.FailedTools, tool)
	}

	logger.Warn().
		Str("category", string(rec.Category)).
		Int("attempts", rec.Attempts).
		Bool("downgraded", rec.Downgraded).
		Msg("Tool failed, continuing with failure observation")
	r.transition(StateObserving, step, rec, "")
	return false
}

func (r *run) conclude(answer string, truncated bool, step *trace.Step) {
	r.result.Status = StatusConcluded
	r.result.Answer = answer
	r.result.Truncated = truncated
	r.transition(StateConcluded, step, nil, answer)
}

func (r *run) abort(reason AbortReason, diagnostic string, rec *errclass.Record) {
	r.result.Status = StatusAborted
	r.result.AbortReason = reason
	r.result.Answer = abortMessage(reason)
	r.result.Diagnostic = diagnostic

	var last *trace.Step
	if n := len(r.steps); n > 0 {
		last = &r.steps[n-1]
	}
	r.logger.Warn().Str("reason", string(reason)).Str("diagnostic", diagnostic).Msg("Query aborted")
	r.transition(StateAborted, last, rec, r.result.Answer)
}

func (r *run) transition(to State, step *trace.Step, rec *errclass.Record, answer string) {
	event := Event{
		QueryID:   r.queryID,
		SessionID: r.sessionID,
		From:      r.state,
		To:        to,
		Answer:    answer,
	}
	if step != nil {
		cp := step.Clone()
		event.Step = &cp
	}
	if rec != nil {
		cp := *rec
		event.Record = &cp
	}
	r.state = to
	notify(r.listener, r.logger, event)
}

// finish appends the turn to the session and records metrics
func (r *run) finish(started time.Time) Result {
	r.result.Trace = trace.Clone(r.steps)
	completed := r.c.now()

	if r.c.store != nil && r.sessionID != "" {
		status := session.TurnConcluded
		if r.result.Aborted() {
			status = session.TurnAborted
		}
		turn := session.Turn{
			QueryID:     r.queryID,
			Query:       r.query,
			Answer:      r.result.Answer,
			Status:      status,
			Truncated:   r.result.Truncated,
			Trace:       trace.Clone(r.steps),
			StartedAt:   started,
			CompletedAt: completed,
		}
		// The turn is appended even when the caller has gone away.
		if err := r.c.store.Append(tracing.Detach(r.ctx), r.sessionID, turn); err != nil {
			if errors.Is(err, session.ErrNotFound) {
				r.logger.Warn().Msg("Session vanished before the turn could be appended")
			} else {
				r.logger.Error().Err(err).Msg("Failed to append turn")
			}
		}
	}

	observability.RecordQuery(r.result.metricStatus(), completed.Sub(started), len(r.steps))
	r.logger.Info().
		Str("status", r.result.metricStatus()).
		Int("steps", len(r.steps)).
		Strs("failed_tools", r.result.FailedTools).
		Msg("Query finished")

	return r.result
}
