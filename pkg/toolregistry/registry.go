package toolregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/trace"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

const (
	// DefaultTimeout bounds a single tool invocation
	DefaultTimeout = 30 * time.Second
	// DefaultMaxOutput is the largest observation kept from a tool, in bytes
	DefaultMaxOutput = 10 * 1024
)

// Tool is the uniform invocation contract every registered tool satisfies
type Tool interface {
	Invoke(ctx context.Context, args map[string]interface{}) (string, error)
}

// ToolFunc adapts a function to Tool
type ToolFunc func(ctx context.Context, args map[string]interface{}) (string, error)

// Invoke calls f
func (f ToolFunc) Invoke(ctx context.Context, args map[string]interface{}) (string, error) {
	return f(ctx, args)
}

// Parameter describes one argument of a tool
type Parameter struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Default     interface{}   `json:"default,omitempty"`
	Enum        []interface{} `json:"enum,omitempty"`
}

// ToolSpec is a tool's registration record. It is immutable once registered.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	// Retryable allows transient failures of this tool to be retried in place.
	Retryable bool `json:"retryable"`
	// Suggestions are appended to failure observations, keyed by failure category.
	Suggestions map[errclass.Category]string `json:"-"`
	Tool        Tool                         `json:"-"`
}

// Definition is the view of a tool handed to the reasoning oracle
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Config holds registry configuration. A zero Logger discards output.
type Config struct {
	Timeout   time.Duration
	MaxOutput int
	Logger    zerolog.Logger
}

type entry struct {
	spec      ToolSpec
	schemaMap map[string]interface{}
	schema    *gojsonschema.Schema
}

// Registry maps tool names to their invocation contract
type Registry struct {
	tools  map[string]*entry
	order  []string
	sealed bool
	config Config
	mu     sync.RWMutex
}

// New creates an empty registry
func New(cfg Config) *Registry {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = DefaultMaxOutput
	}

	return &Registry{
		tools:  make(map[string]*entry),
		config: cfg,
	}
}

// Register adds a tool. Registering a name twice fails with *DuplicateToolError.
func (r *Registry) Register(spec ToolSpec) error {
	if err := validateSpec(spec); err != nil {
		return fmt.Errorf("invalid tool spec: %w", err)
	}

	schemaMap := generateSchemaMap(spec)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	if _, exists := r.tools[spec.Name]; exists {
		return &DuplicateToolError{Name: spec.Name}
	}

	spec.Parameters = append([]Parameter(nil), spec.Parameters...)
	if spec.Suggestions != nil {
		suggestions := make(map[errclass.Category]string, len(spec.Suggestions))
		for k, v := range spec.Suggestions {
			suggestions[k] = v
		}
		spec.Suggestions = suggestions
	}

	r.tools[spec.Name] = &entry{spec: spec, schemaMap: schemaMap, schema: schema}
	r.order = append(r.order, spec.Name)

	r.config.Logger.Debug().Str("tool", spec.Name).Bool("retryable", spec.Retryable).Msg("Tool registered")

	return nil
}

// Seal stops further registration. Lookups never race with registration afterwards.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve looks a tool up, fills omitted parameters from their declared
// defaults and validates the result against the tool's schema. The caller's
// map is never modified.
func (r *Registry) Resolve(name string, args map[string]interface{}) (*Handle, error) {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return nil, &UnknownToolError{Name: name, Available: r.Names()}
	}

	resolved := trace.CloneArguments(args)
	if resolved == nil {
		resolved = map[string]interface{}{}
	}
	applyDefaults(e.spec.Parameters, resolved)
	if err := validateArguments(e.schema, name, resolved); err != nil {
		return nil, err
	}

	return &Handle{
		spec:     &e.spec,
		args:     resolved,
		registry: r,
	}, nil
}

func applyDefaults(params []Parameter, args map[string]interface{}) {
	for _, param := range params {
		if param.Default == nil {
			continue
		}
		if _, set := args[param.Name]; !set {
			args[param.Name] = param.Default
		}
	}
}

// Names returns tool names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Definitions returns tool definitions for the reasoning oracle in registration order
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		e := r.tools[name]
		defs = append(defs, Definition{
			Name:        e.spec.Name,
			Description: e.spec.Description,
			Parameters:  e.schemaMap,
		})
	}
	return defs
}

func validateSpec(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if spec.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if spec.Tool == nil {
		return fmt.Errorf("tool %s has no implementation", spec.Name)
	}

	seen := make(map[string]bool, len(spec.Parameters))
	for _, param := range spec.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true

		switch param.Type {
		case "string", "number", "integer", "boolean", "object", "array":
		case "":
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		default:
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

func generateSchemaMap(spec ToolSpec) map[string]interface{} {
	properties := make(map[string]interface{}, len(spec.Parameters))
	required := []string{}

	for _, param := range spec.Parameters {
		paramSchema := map[string]interface{}{
			"type": param.Type,
		}
		if param.Description != "" {
			paramSchema["description"] = param.Description
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}

	return schemaMap
}

func validateArguments(schema *gojsonschema.Schema, tool string, args map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return &ArgumentShapeError{Tool: tool, Problems: []string{err.Error()}}
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return &ArgumentShapeError{Tool: tool, Problems: problems}
	}

	return nil
}
