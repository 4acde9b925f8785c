package generate

import (
	"strings"

	"github.com/hupe1980/agentflow/core"
)

// StepType describes why a step was started.
type StepType string

const (
	// StepInitial is the first model call of a generation.
	StepInitial StepType = "initial"
	// StepToolResult is a model call continuing after tool results.
	StepToolResult StepType = "tool-result"
)

// Step is the record of one model call and the tool calls it triggered.
type Step struct {
	StepType     StepType          `json:"step_type"`
	Text         string            `json:"text"`
	Reasoning    string            `json:"reasoning,omitempty"`
	ToolCalls    []core.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults  []core.ToolResult `json:"tool_results,omitempty"`
	Sources      []core.Source     `json:"sources,omitempty"`
	FinishReason string            `json:"finish_reason"`
	Usage        core.Usage        `json:"usage"`
	// Messages are the response messages of this step: the assistant turn
	// and, when tools ran, the tool turn.
	Messages []core.Message `json:"messages"`
}

// FinishEvent summarizes a completed generation.
type FinishEvent struct {
	// Text is the text of the last step.
	Text         string
	FinishReason string
	// Usage is the sum over all steps.
	Usage core.Usage
	Steps []Step
	// Messages are the response messages of all steps in order.
	Messages []core.Message
}

func newFinishEvent(steps []Step) FinishEvent {
	ev := FinishEvent{Steps: steps}

	for _, s := range steps {
		ev.Usage = ev.Usage.Add(s.Usage)
		ev.Messages = append(ev.Messages, s.Messages...)
	}

	if n := len(steps); n > 0 {
		ev.Text = steps[n-1].Text
		ev.FinishReason = steps[n-1].FinishReason
	}

	return ev
}

// TextResult is the outcome of GenerateText.
type TextResult struct {
	Text         string
	Reasoning    string
	ToolCalls    []core.ToolCall
	ToolResults  []core.ToolResult
	FinishReason string
	Usage        core.Usage
	Steps        []Step
	Messages     []core.Message
}

func newTextResult(steps []Step) *TextResult {
	ev := newFinishEvent(steps)
	res := &TextResult{
		Text:         ev.Text,
		FinishReason: ev.FinishReason,
		Usage:        ev.Usage,
		Steps:        steps,
		Messages:     ev.Messages,
	}

	if n := len(steps); n > 0 {
		last := steps[n-1]
		res.Reasoning = last.Reasoning
		res.ToolCalls = last.ToolCalls
		res.ToolResults = last.ToolResults
	}

	return res
}

// AllText concatenates the text of every step.
func (r *TextResult) AllText() string {
	var sb strings.Builder
	for _, s := range r.Steps {
		sb.WriteString(s.Text)
	}

	return sb.String()
}
