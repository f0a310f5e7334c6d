package errclass

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// OriginReasoning is the origin label of failures raised by the reasoning oracle
const OriginReasoning = "reasoning"

// Origin identifies the step that produced a failure
type Origin struct {
	// Tool is empty for reasoning failures.
	Tool string
	// Retryable is the tool's capability flag. Transient failures from a tool
	// that is not retryable are classified recoverable right away.
	Retryable bool
}

// ReasoningOrigin is the origin of a reasoning oracle call
func ReasoningOrigin() Origin {
	return Origin{Retryable: true}
}

// ToolOrigin is the origin of a named tool invocation
func ToolOrigin(name string, retryable bool) Origin {
	return Origin{Tool: name, Retryable: retryable}
}

// Label returns the origin name used in records and failure notices
func (o Origin) Label() string {
	if o.Tool == "" {
		return OriginReasoning
	}
	return o.Tool
}

type pattern struct {
	category Category
	needles  []string
}

// defaultPatterns are matched in order against the lowercased message of
// failures that carry no category of their own.
var defaultPatterns = []pattern{
	{CategoryRateLimit, []string{"rate limit", "too many requests", "quota exceeded", "429"}},
	{CategoryTimeout, []string{"timeout", "timed out", "deadline exceeded", "etimedout"}},
	{CategoryNetwork, []string{"connection error", "network error", "unreachable", "connection refused", "connection reset", "econnreset", "dns resolution", "no such host"}},
	{CategoryUnavailable, []string{"service unavailable", "bad gateway", "overloaded", "502", "503", "504"}},
	{CategoryAuthentication, []string{"api key not found", "unauthorized", "authentication failed", "invalid api key", "forbidden", "permission denied", "403", "401"}},
	{CategoryConfiguration, []string{"invalid configuration", "misconfigured", "missing configuration"}},
	{CategoryNotFound, []string{"not found", "404", "no results", "does not exist"}},
	{CategoryExecution, []string{"syntax error", "execution error", "runtime error", "name error", "type error", "traceback"}},
	{CategoryValidation, []string{"validation", "invalid argument", "invalid input"}},
}

// Categorized is implemented by typed errors of other packages that know
// their own category, such as registry lookup failures.
type Categorized interface {
	error
	ErrorCategory() Category
}

// Classifier maps failures to a kind. Classification is total: every failure
// yields exactly one kind, unclassifiable failures are recoverable.
type Classifier struct {
	patterns []pattern
}

// NewClassifier creates a classifier with the default pattern table
func NewClassifier() *Classifier {
	return &Classifier{patterns: defaultPatterns}
}

// Categorize returns the category of a failure
func (c *Classifier) Categorize(err error) Category {
	if err == nil {
		return CategoryUnknown
	}

	var classified *Error
	if errors.As(err, &classified) && classified.Category != "" {
		return classified.Category
	}
	var categorized Categorized
	if errors.As(err, &categorized) {
		if category := categorized.ErrorCategory(); category != "" {
			return category
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}
	var opErr *net.OpError
	var dnsErr *net.DNSError
	if errors.As(err, &opErr) || errors.As(err, &dnsErr) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return CategoryNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, p := range c.patterns {
		for _, needle := range p.needles {
			if strings.Contains(msg, needle) {
				return p.category
			}
		}
	}

	return CategoryUnknown
}

// Classify builds the record for the first failed attempt of a step
func (c *Classifier) Classify(err error, origin Origin, step int) Record {
	category := c.Categorize(err)
	kind := KindOf(category)
	if kind == KindTransient && !origin.Retryable {
		kind = KindRecoverable
	}

	rec := Record{
		Kind:     kind,
		Category: category,
		Origin:   origin.Label(),
		Step:     step,
		Attempts: 1,
	}
	if err != nil {
		rec.Message = err.Error()
	}

	var classified *Error
	if errors.As(err, &classified) {
		rec.RetryAfter = classified.RetryAfter
	}

	return rec
}
