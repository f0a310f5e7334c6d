package observability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ToolAuditEvent is one line of the tool audit trail
type ToolAuditEvent struct {
	Tool      string
	SessionID string
	QueryID   string
	// Status is "success" or "failure".
	Status    string
	Category  string
	Duration  time.Duration
	Arguments map[string]interface{}
}

// AuditLog appends tool invocations to a JSON lines file
type AuditLog struct {
	mu     sync.Mutex
	logger zerolog.Logger
	file   *os.File
}

var (
	auditMu   sync.RWMutex
	auditInst *AuditLog
)

// OpenAuditLog opens (or creates) the audit file at path
func OpenAuditLog(path string) (*AuditLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}

	return &AuditLog{
		logger: zerolog.New(file).With().Timestamp().Logger(),
		file:   file,
	}, nil
}

// SetAuditLog installs the process-wide audit log. nil disables auditing.
func SetAuditLog(a *AuditLog) {
	auditMu.Lock()
	auditInst = a
	auditMu.Unlock()
}

// Record writes one event and mirrors it onto the active span
func (a *AuditLog) Record(ctx context.Context, event ToolAuditEvent) {
	traceID := ""
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		traceID = span.SpanContext().TraceID().String()
		span.AddEvent("audit.tool", trace.WithAttributes(
			attribute.String("audit.tool", event.Tool),
			attribute.String("audit.status", event.Status),
		))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	entry := a.logger.Log().
		Str("type", "tool").
		Str("tool", event.Tool).
		Str("session_id", event.SessionID).
		Str("query_id", event.QueryID).
		Str("status", event.Status).
		Dur("duration", event.Duration)

	if event.Category != "" {
		entry.Str("category", event.Category)
	}
	if traceID != "" {
		entry.Str("trace_id", traceID)
	}
	if len(event.Arguments) > 0 {
		entry.Interface("arguments", event.Arguments)
	}

	entry.Msg("")
}

// Close closes the audit file
func (a *AuditLog) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		err := a.file.Close()
		a.file = nil
		return err
	}
	return nil
}

// RecordToolAudit writes event to the installed audit log, if any
func RecordToolAudit(ctx context.Context, event ToolAuditEvent) {
	auditMu.RLock()
	a := auditInst
	auditMu.RUnlock()
	if a == nil {
		return
	}
	a.Record(ctx, event)
}
