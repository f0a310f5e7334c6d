package reasoning

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/kosmo/internal/tracing"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds a single reasoning call
const DefaultTimeout = 60 * time.Second

// ExecutorConfig holds executor configuration. A zero Logger discards output.
type ExecutorConfig struct {
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Executor wraps one call to the oracle and parses its reply
type Executor struct {
	oracle  Oracle
	timeout time.Duration
	logger  zerolog.Logger
}

// NewExecutor creates a reasoning step executor
func NewExecutor(oracle Oracle, cfg ExecutorConfig) *Executor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Executor{
		oracle:  oracle,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// Step runs one reasoning pass. Expiry of the per-call timeout is reported as
// a timeout category error; unparseable replies match ErrMalformedOutput.
func (e *Executor) Step(ctx context.Context, req Request) (Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "kosmo/reasoning", "reasoning.step",
		attribute.Int("trace_len", len(req.Trace)),
		attribute.Int("history_len", len(req.History)),
	)
	logger := tracing.LoggerFromContext(ctx, e.logger)

	out, err := e.call(ctx, req)
	if err != nil {
		tracing.EndSpan(span, err)
		logger.Debug().Err(err).Msg("Reasoning call failed")
		return Decision{}, err
	}

	decision, err := Parse(out)
	tracing.EndSpan(span, err)
	if err != nil {
		logger.Debug().Err(err).Msg("Reasoning output rejected")
		return Decision{}, err
	}

	logger.Debug().
		Str("decision", string(decision.Kind)).
		Str("tool", decision.Tool).
		Msg("Reasoning step decided")

	return decision, nil
}

func (e *Executor) call(ctx context.Context, req Request) (*Output, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type result struct {
		out *Output
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("reasoning oracle panicked: %v", r)}
			}
		}()
		out, err := e.oracle.Reason(timeoutCtx, req)
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		return res.out, res.err
	case <-timeoutCtx.Done():
		return nil, &errclass.Error{
			Category: errclass.CategoryTimeout,
			Message:  fmt.Sprintf("reasoning call timeout after %v", e.timeout),
			Err:      timeoutCtx.Err(),
		}
	}
}
