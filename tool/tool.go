// Package tool implements the function / tool calling subsystem that lets agents
// invoke structured capabilities (APIs, computations, side-effects) with schema
// validated arguments and consistent error handling.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/model"
)

// Tool is an externally invocable capability exposed to a model.
//
// A tool does not carry its own name: the key under which it is registered in
// a Set is the name the model sees. Implementations must be safe for
// concurrent use because sibling tool calls of one model turn run in parallel.
type Tool interface {
	// Description tells the model when and how to use the tool.
	Description() string

	// Parameters returns the JSON schema of the accepted arguments.
	Parameters() map[string]any

	// Execute runs the tool with decoded arguments. The result must be JSON
	// serializable.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Set maps tool names to executable tools.
type Set map[string]Tool

// Names returns the tool names in lexical order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Definitions converts the set into model tool definitions, ordered by name.
func (s Set) Definitions() []model.ToolDefinition {
	if len(s) == 0 {
		return nil
	}

	defs := make([]model.ToolDefinition, 0, len(s))
	for _, name := range s.Names() {
		t := s[name]

		params := t.Parameters()
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}

		defs = append(defs, model.ToolDefinition{
			Name:        name,
			Description: t.Description(),
			Parameters:  params,
		})
	}

	return defs
}

// ValidationError is the argument error carried by CodeValidation failures.
type ValidationError = util.ValidationError

// Error codes of ToolError.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
)

// ToolError is a tool failure that is reported back to the model as an error
// tool result instead of aborting the run.
type ToolError struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`

	cause error
}

func (e *ToolError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("tool %s: %s", e.Tool, e.Message)
	}

	return fmt.Sprintf("tool %s [%s]: %s", e.Tool, e.Code, e.Message)
}

// Unwrap returns the error the tool failed with, if any.
func (e *ToolError) Unwrap() error { return e.cause }

// NewToolError creates a ToolError without an underlying cause.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{Tool: tool, Message: message, Code: code}
}

// WrapError converts err into a ToolError of tool. A *ToolError anywhere in
// the chain of err is returned unchanged.
func WrapError(tool, code string, err error) *ToolError {
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}

	return &ToolError{Tool: tool, Message: err.Error(), Code: code, cause: err}
}
