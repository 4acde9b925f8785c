package agent

import (
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
)

// ReasoningField is the argument name a tool call may use to explain itself.
const ReasoningField = "reasoning"

// Prompt is the input of a non-chat generation: one text or a message list.
type Prompt struct {
	text       string
	messages   []core.Message
	isMessages bool
}

// TextPrompt creates a single text prompt.
func TextPrompt(text string) Prompt { return Prompt{text: text} }

// MessagesPrompt creates a message list prompt.
func MessagesPrompt(msgs []core.Message) Prompt {
	return Prompt{messages: msgs, isMessages: true}
}

// IsMessages reports whether the prompt is a message list.
func (p Prompt) IsMessages() bool { return p.isMessages }

// Text returns the text of a text prompt.
func (p Prompt) Text() string { return p.text }

// Messages returns the messages of a message list prompt.
func (p Prompt) Messages() []core.Message { return p.messages }

// ToMessages returns the prompt as a message list. A text prompt becomes a
// single user message with a fresh id.
func (p Prompt) ToMessages() []core.Message {
	if p.isMessages {
		return p.messages
	}

	return []core.Message{core.NewUserMessage(p.text)}
}

// AsTool adapts an agent so that a parent agent can call it as a tool.
type AsTool struct {
	// Input is the JSON schema of the tool arguments.
	Input map[string]any
	// GetPrompt maps validated arguments to the prompt of the nested run.
	GetPrompt func(args map[string]any) (Prompt, error)
}

// WithReasoningParameter returns a copy of schema with an optional string
// "reasoning" property. Agent tools forward that argument to the client as a
// reasoning annotation.
func WithReasoningParameter(schema map[string]any) map[string]any {
	out := util.CopySchema(schema)
	out["properties"].(map[string]any)[ReasoningField] = map[string]any{
		"type":        "string",
		"description": `Provide explanation for the tool call in form of progress. For example: "analyzing user profile" or "searching for relevant information"`,
	}

	return out
}

// OutputSchema declares the structured output of an agent.
type OutputSchema struct {
	Name        string
	Description string
	Schema      map[string]any
}
