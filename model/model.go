package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentflow/core"
)

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoiceMode is the tool selection policy of a request.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceTool     ToolChoiceMode = "tool"
)

// ToolChoice is auto, required, none, or a specific named tool. The zero
// value means auto.
type ToolChoice struct {
	Mode     ToolChoiceMode `json:"type,omitempty"`
	ToolName string         `json:"tool_name,omitempty"`
}

// Auto lets the model decide whether to call tools.
func Auto() ToolChoice { return ToolChoice{Mode: ToolChoiceAuto} }

// Required forces the model to call at least one tool.
func Required() ToolChoice { return ToolChoice{Mode: ToolChoiceRequired} }

// None disables tool calls.
func None() ToolChoice { return ToolChoice{Mode: ToolChoiceNone} }

// SpecificTool forces a call to the named tool.
func SpecificTool(name string) ToolChoice { return ToolChoice{Mode: ToolChoiceTool, ToolName: name} }

// Effective returns the mode with the zero value resolved to auto.
func (c ToolChoice) Effective() ToolChoiceMode {
	if c.Mode == "" {
		return ToolChoiceAuto
	}

	return c.Mode
}

// Validate checks that a named choice references one of the given tools.
func (c ToolChoice) Validate(tools []ToolDefinition) error {
	switch c.Effective() {
	case ToolChoiceAuto, ToolChoiceRequired, ToolChoiceNone:
		return nil
	case ToolChoiceTool:
		for _, t := range tools {
			if t.Name == c.ToolName {
				return nil
			}
		}

		return fmt.Errorf("tool choice references unknown tool %q", c.ToolName)
	default:
		return fmt.Errorf("unknown tool choice mode %q", c.Mode)
	}
}

// ResponseFormat asks the model for a single JSON value matching Schema.
type ResponseFormat struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema"`
}

// Request captures the normalized model input produced by the generation loop.
type Request struct {
	System         string           `json:"system,omitempty"`
	Messages       []core.Message   `json:"messages"`
	Tools          []ToolDefinition `json:"tools,omitempty"`
	ToolChoice     ToolChoice       `json:"tool_choice,omitempty"`
	ResponseFormat *ResponseFormat  `json:"response_format,omitempty"`
	Stream         bool             `json:"stream,omitempty"`
}

// ToolCallDelta is an incremental fragment of a streamed tool call. Index
// identifies the call within the current response.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"args_delta,omitempty"`
}

// Response is a partial or final chunk emitted by a model.
//
// Partial chunks carry deltas (Text, Reasoning, ToolCallDeltas, Sources).
// Exactly one final chunk closes a generation. It carries the complete
// assistant text, the complete tool calls, the finish reason and usage.
type Response struct {
	ID             string          `json:"id,omitempty"`
	Partial        bool            `json:"partial"`
	Text           string          `json:"text,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty"`
	ToolCallDeltas []ToolCallDelta `json:"tool_call_deltas,omitempty"`
	ToolCalls      []core.ToolCall `json:"tool_calls,omitempty"`
	Sources        []core.Source   `json:"sources,omitempty"`
	FinishReason   string          `json:"finish_reason,omitempty"` // "stop", "length", "tool_calls", ...
	Usage          *core.Usage     `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", ...
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the provider primitive driven by the generation loop. One call to
// Generate performs one model turn. Both channels are closed when the turn
// ends; at most one error is sent.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}
