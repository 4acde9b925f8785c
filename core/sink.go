package core

// PartType discriminates the frames written to a Sink.
type PartType string

const (
	PartTextDelta              PartType = "text-delta"
	PartReasoning              PartType = "reasoning"
	PartSource                 PartType = "source"
	PartToolCallStreamingStart PartType = "tool-call-streaming-start"
	PartToolCallDelta          PartType = "tool-call-delta"
	PartToolCall               PartType = "tool-call"
	PartToolResult             PartType = "tool-result"
	PartStepStart              PartType = "step-start"
	PartStepFinish             PartType = "step-finish"
	PartFinish                 PartType = "finish"
	PartError                  PartType = "error"
)

// Usage captures token accounting reported by a model.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Source is a citation surfaced by a model (e.g. a web search hit).
type Source struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// StreamPart is one framed event written to a Sink. Only the fields relevant
// to Type are populated.
type StreamPart struct {
	Type         PartType `json:"type"`
	Text         string   `json:"text,omitempty"`
	ToolCallID   string   `json:"tool_call_id,omitempty"`
	ToolName     string   `json:"tool_name,omitempty"`
	ArgsDelta    string   `json:"args_delta,omitempty"`
	Args         string   `json:"args,omitempty"`
	Result       any      `json:"result,omitempty"`
	Source       *Source  `json:"source,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
	Usage        *Usage   `json:"usage,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Sink is an append-only channel towards a client. The wire format is owned by
// the implementation.
//
// Write must be safe for concurrent use: merged streams are written from
// their own goroutine while agent tools running in parallel write reasoning
// parts from theirs.
type Sink interface {
	Write(part StreamPart) error
}

// SinkFunc adapts an ordinary function to the Sink interface.
type SinkFunc func(part StreamPart) error

// Write implements Sink.
func (f SinkFunc) Write(part StreamPart) error { return f(part) }

// MergeOptions select which side-channel annotations are forwarded when a
// result is merged into a sink.
type MergeOptions struct {
	SendReasoning bool
	SendUsage     bool
	SendSources   bool
}

// Mergeable is a generation result that can forward its parts into a sink.
// MergeInto must not block; the returned channel closes once every part has
// been forwarded.
type Mergeable interface {
	MergeInto(sink Sink, opts MergeOptions) <-chan struct{}
}
