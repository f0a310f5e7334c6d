package errclass

import (
	"fmt"
	"time"
)

// Kind is the recovery class of a failure
type Kind string

const (
	// KindTransient failures are retried in place after a backoff delay.
	KindTransient Kind = "transient"
	// KindRecoverable failures become a failure observation and the loop continues.
	KindRecoverable Kind = "recoverable"
	// KindCritical failures abort the whole query.
	KindCritical Kind = "critical"
)

// Category is the fine-grained failure tag carried by collaborator errors
type Category string

const (
	CategoryRateLimit       Category = "rate_limit"
	CategoryTimeout         Category = "timeout"
	CategoryNetwork         Category = "network"
	CategoryUnavailable     Category = "unavailable"
	CategoryAuthentication  Category = "authentication"
	CategoryConfiguration   Category = "configuration"
	CategoryValidation      Category = "validation"
	CategoryNotFound        Category = "not_found"
	CategoryExecution       Category = "execution"
	CategoryMalformedOutput Category = "malformed_output"
	CategoryUnknown         Category = "unknown"
)

// KindOf maps a category to its recovery class. Unknown categories are recoverable.
func KindOf(category Category) Kind {
	switch category {
	case CategoryRateLimit, CategoryTimeout, CategoryNetwork, CategoryUnavailable:
		return KindTransient
	case CategoryAuthentication, CategoryConfiguration:
		return KindCritical
	default:
		return KindRecoverable
	}
}

// Error is a categorized failure reported by the reasoning oracle or a tool
type Error struct {
	Category   Category
	Tool       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

// New creates a categorized error
func New(category Category, format string, args ...interface{}) *Error {
	return &Error{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// Wrap attaches a category to an existing error
func Wrap(category Category, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Category: category,
		Message:  err.Error(),
		Err:      err,
	}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Tool != "" {
		return fmt.Sprintf("%s: %s", e.Tool, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Record is the classified view of one failure, used to drive retry decisions.
// Records are never persisted.
type Record struct {
	Kind       Kind          `json:"kind"`
	Category   Category      `json:"category"`
	Origin     string        `json:"origin"`
	Step       int           `json:"step"`
	Message    string        `json:"message"`
	Attempts   int           `json:"attempts"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Downgraded bool          `json:"downgraded,omitempty"`
}

// DefaultSuggestion is offered when a tool has no suggestion for a category
const DefaultSuggestion = "Try an alternative approach or rephrase your query."

// FailureNotice renders the observation that replaces a failed tool result
func FailureNotice(rec Record, suggestion string) string {
	if suggestion == "" {
		suggestion = DefaultSuggestion
	}
	msg := fmt.Sprintf("Error (%s, %s): %s.", rec.Origin, rec.Category, rec.Message)
	if rec.Attempts > 1 {
		msg = fmt.Sprintf("%s Gave up after %d attempts.", msg, rec.Attempts)
	}
	return fmt.Sprintf("%s Suggestion: %s", msg, suggestion)
}
