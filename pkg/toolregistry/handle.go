package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/kosmo/internal/observability"
	"github.com/harun/kosmo/internal/tracing"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/trace"
	"go.opentelemetry.io/otel/attribute"
)

const truncationMarker = "\n... [output truncated]"

// Handle is a resolved, validated tool call ready to be invoked
type Handle struct {
	spec     *ToolSpec
	args     map[string]interface{}
	registry *Registry
}

// Origin returns the classifier origin for failures of this call
func (h *Handle) Origin() errclass.Origin {
	return errclass.ToolOrigin(h.spec.Name, h.spec.Retryable)
}

// Suggestion returns the tool's fallback suggestion for a failure category
func (h *Handle) Suggestion(category errclass.Category) string {
	return h.spec.Suggestions[category]
}

// Invoke runs the tool under the registry timeout. Expiry is reported as a
// timeout category error. Output beyond the registry limit is truncated.
func (h *Handle) Invoke(ctx context.Context) (string, error) {
	cfg := h.registry.config
	startTime := time.Now()

	ctx, span := tracing.StartSpan(ctx, "kosmo/toolregistry", "tool.invoke",
		attribute.String("tool", h.spec.Name),
	)
	logger := tracing.LoggerFromContext(ctx, cfg.Logger)

	timeoutCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errclass.New(errclass.CategoryExecution, "tool panicked: %v", r)}
			}
		}()
		output, err := h.spec.Tool.Invoke(timeoutCtx, trace.CloneArguments(h.args))
		done <- outcome{output: output, err: err}
	}()

	var res outcome
	select {
	case res = <-done:
	case <-timeoutCtx.Done():
		res.err = &errclass.Error{
			Category: errclass.CategoryTimeout,
			Tool:     h.spec.Name,
			Message:  fmt.Sprintf("tool execution timeout after %v", cfg.Timeout),
			Err:      timeoutCtx.Err(),
		}
	}

	duration := time.Since(startTime)
	observability.RecordToolExecution(h.spec.Name, duration, res.err == nil)
	h.audit(ctx, duration, res.err)
	tracing.EndSpan(span, res.err)

	if res.err != nil {
		logger.Debug().
			Str("tool", h.spec.Name).
			Dur("duration", duration).
			Err(res.err).
			Msg("Tool invocation failed")
		return "", res.err
	}

	output := res.output
	if len(output) > cfg.MaxOutput {
		logger.Warn().
			Str("tool", h.spec.Name).
			Int("original", len(output)).
			Int("truncated", cfg.MaxOutput).
			Msg("Output truncated")
		output = trace.Clip(output, cfg.MaxOutput) + truncationMarker
	}

	logger.Debug().
		Str("tool", h.spec.Name).
		Dur("duration", duration).
		Msg("Tool invocation completed")

	return output, nil
}

func (h *Handle) audit(ctx context.Context, duration time.Duration, err error) {
	event := observability.ToolAuditEvent{
		Tool:      h.spec.Name,
		SessionID: tracing.GetSessionID(ctx),
		QueryID:   tracing.GetQueryID(ctx),
		Status:    "success",
		Duration:  duration,
		Arguments: h.args,
	}
	if err != nil {
		event.Status = "failure"
		event.Category = string(errclass.CategoryUnknown)
		var classified *errclass.Error
		if errors.As(err, &classified) && classified.Category != "" {
			event.Category = string(classified.Category)
		}
	}
	observability.RecordToolAudit(ctx, event)
}
