package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/kosmo/internal/tracing"
	"github.com/harun/kosmo/pkg/commandqueue"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/session"
	"github.com/harun/kosmo/pkg/toolregistry"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

// ErrEmptyQuery is returned by Query for blank query text
var ErrEmptyQuery = errors.New("query cannot be empty")

// Config holds agent configuration. A zero Logger discards output.
type Config struct {
	Registry *toolregistry.Registry
	Reasoner Reasoner
	Store    *session.Store
	// Queue serializes queries per session. A private queue is created when nil.
	Queue *commandqueue.CommandQueue
	// QueueWarnAfter is how long a query may wait behind earlier queries of
	// its session before a warning is logged. Zero disables the warning.
	QueueWarnAfter time.Duration

	MaxIterations       int
	MaxReasoningRetries int
	Policy              errclass.Policy
	Sleep               errclass.SleepFunc

	// Listener receives the transitions of every query unless a query
	// supplies its own with WithListener.
	Listener Listener
	Logger   zerolog.Logger
}

// Agent is the caller-facing API: queries and the session boundary
type Agent struct {
	controller *Controller
	store      *session.Store
	queue      *commandqueue.CommandQueue
	ownsQueue  bool
	warnAfter  time.Duration
	logger     zerolog.Logger
}

// New creates an agent. The registry is sealed; no tool can be added afterwards.
func New(cfg Config) (*Agent, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}

	controller, err := NewController(ControllerConfig{
		Registry:            cfg.Registry,
		Reasoner:            cfg.Reasoner,
		Store:               cfg.Store,
		MaxIterations:       cfg.MaxIterations,
		MaxReasoningRetries: cfg.MaxReasoningRetries,
		Policy:              cfg.Policy,
		Sleep:               cfg.Sleep,
		Listener:            cfg.Listener,
		Logger:              cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	cfg.Registry.Seal()

	queue := cfg.Queue
	ownsQueue := false
	if queue == nil {
		queue = commandqueue.New(commandqueue.Config{Logger: cfg.Logger})
		ownsQueue = true
	}

	return &Agent{
		controller: controller,
		store:      cfg.Store,
		queue:      queue,
		ownsQueue:  ownsQueue,
		warnAfter:  cfg.QueueWarnAfter,
		logger:     cfg.Logger,
	}, nil
}

type queryOptions struct {
	listener Listener
	onWait   func(wait time.Duration, ahead int)
}

// QueryOption configures a single query
type QueryOption func(*queryOptions)

// WithListener sets the progress listener of one query
func WithListener(listener Listener) QueryOption {
	return func(o *queryOptions) {
		o.listener = listener
	}
}

// WithWaitNotice sets a callback invoked once when the query is still queued
// behind earlier queries of its session after Config.QueueWarnAfter. ahead is
// the number of queued queries in front of it.
func WithWaitNotice(fn func(wait time.Duration, ahead int)) QueryOption {
	return func(o *queryOptions) {
		o.onWait = fn
	}
}

// Query answers text within a session. An empty sessionID starts a new
// session; an unknown one is created. Queries of the same session run one at
// a time, in arrival order.
//
// The error is non-nil only when the query could not be started. Aborted and
// truncated queries are reported through the Result.
func (a *Agent) Query(ctx context.Context, text, sessionID string, opts ...QueryOption) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, ErrEmptyQuery
	}

	var options queryOptions
	for _, opt := range opts {
		opt(&options)
	}

	if sessionID == "" {
		id, err := a.store.Create(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = id
	} else if created, err := a.store.Ensure(ctx, sessionID); err != nil {
		return Result{}, fmt.Errorf("failed to open session: %w", err)
	} else if created {
		a.logger.Debug().Str("session_id", sessionID).Msg("Session created for query")
	}

	queryID, err := gonanoid.New()
	if err != nil {
		return Result{}, fmt.Errorf("failed to generate query id: %w", err)
	}
	ctx = tracing.NewQueryContext(ctx, queryID, sessionID)

	taskOpts := &commandqueue.TaskOptions{
		WarnAfter: a.warnAfter,
		OnWait:    options.onWait,
	}
	value, err := a.queue.Enqueue(ctx, commandqueue.SessionLane(sessionID), func(taskCtx context.Context) (interface{}, error) {
		return a.controller.Run(taskCtx, sessionID, queryID, text, options.listener), nil
	}, taskOpts)
	if err != nil {
		return Result{}, fmt.Errorf("query %s was not run: %w", queryID, err)
	}

	return value.(Result), nil
}

// CreateSession starts a new empty session
func (a *Agent) CreateSession(ctx context.Context) (string, error) {
	return a.store.Create(ctx)
}

// ResumeSession returns the turns of a session in append order. Unknown ids
// yield an error matching session.ErrNotFound.
func (a *Agent) ResumeSession(ctx context.Context, id string) ([]session.Turn, error) {
	return a.store.Resume(ctx, id)
}

// ClearSession empties a session. Queries still queued on the session are
// dropped and fail with an error matching commandqueue.ErrLaneCleared; a
// running query finishes first so a clear never lands in the middle of it.
func (a *Agent) ClearSession(ctx context.Context, id string) error {
	lane := commandqueue.SessionLane(id)
	if dropped := a.queue.ClearLane(lane); dropped > 0 {
		a.logger.Info().Str("session_id", id).Int("dropped", dropped).Msg("Dropped queued queries of cleared session")
	}

	_, err := a.queue.Enqueue(ctx, lane, func(taskCtx context.Context) (interface{}, error) {
		return nil, a.store.Clear(tracing.Detach(taskCtx), id)
	}, nil)
	return err
}

// ListSessions returns session ids ordered by creation time
func (a *Agent) ListSessions(ctx context.Context) []string {
	return a.store.List(ctx)
}

// SessionInfo returns timestamps and turn count of a session
func (a *Agent) SessionInfo(ctx context.Context, id string) (session.Info, error) {
	return a.store.Info(ctx, id)
}

// Close stops the agent's queue. The store is owned by the caller.
func (a *Agent) Close() error {
	if a.ownsQueue {
		return a.queue.Close()
	}
	return nil
}
