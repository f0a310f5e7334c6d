package toolregistry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/harun/kosmo/pkg/errclass"
)

var (
	// ErrDuplicateTool is matched by *DuplicateToolError
	ErrDuplicateTool = errors.New("tool already registered")
	// ErrUnknownTool is matched by *UnknownToolError
	ErrUnknownTool = errors.New("unknown tool")
	// ErrArgumentShape is matched by *ArgumentShapeError
	ErrArgumentShape = errors.New("invalid tool arguments")
	// ErrSealed is returned by Register once the registry is sealed
	ErrSealed = errors.New("tool registry is sealed")
)

// DuplicateToolError is returned when a name is registered twice
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

func (e *DuplicateToolError) Is(target error) bool {
	return target == ErrDuplicateTool
}

// UnknownToolError is returned when an action names a tool that does not exist
type UnknownToolError struct {
	Name      string
	Available []string
}

func (e *UnknownToolError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("unknown tool %q", e.Name)
	}
	return fmt.Sprintf("unknown tool %q (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownToolError) Is(target error) bool {
	return target == ErrUnknownTool
}

// ErrorCategory lets the classifier treat unknown tools as recoverable
func (e *UnknownToolError) ErrorCategory() errclass.Category {
	return errclass.CategoryNotFound
}

// ArgumentShapeError is returned when arguments violate a tool's schema
type ArgumentShapeError struct {
	Tool     string
	Problems []string
}

func (e *ArgumentShapeError) Error() string {
	return fmt.Sprintf("arguments for %s do not match its schema: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func (e *ArgumentShapeError) Is(target error) bool {
	return target == ErrArgumentShape
}

func (e *ArgumentShapeError) ErrorCategory() errclass.Category {
	return errclass.CategoryValidation
}
