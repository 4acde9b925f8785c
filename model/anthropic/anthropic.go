// Package anthropic provides a model wrapper for the Anthropic Claude API.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

// Options configures the Anthropic model adapter (temperature, model id,
// max tokens, API key).
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
	// BaseURL targets a proxy or compatible endpoint.
	BaseURL string
	// ClientOptions are passed to the SDK client as is.
	ClientOptions []option.RequestOption
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	clientOpts := append([]option.RequestOption(nil), opts.ClientOptions...)
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	return &Model{
		client: &client,
		opts:   opts,
	}
}

// NewModelFromClient creates a new Anthropic model from an existing client.
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := defaultOptions()

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{
		client: client,
		opts:   opts,
	}
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// Generate implements model.Model.
//
// A request with a ResponseFormat is served by forcing a tool named after the
// format whose input schema is the requested schema; the tool input becomes
// the response text.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params, err := m.buildParams(req)
		if err != nil {
			errCh <- err
			return
		}

		var structured string
		if req.ResponseFormat != nil {
			structured = formatToolName(req.ResponseFormat)
		}

		if req.Stream {
			m.handleStreaming(ctx, params, structured, out, errCh)
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		send(ctx, out, convertMessage(resp, structured))
	}()

	return out, errCh
}

func (m *Model) buildParams(req model.Request) (anthropic.MessageNewParams, error) {
	messages, system, err := buildMessages(req)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	params := anthropic.MessageNewParams{
		Model:       m.opts.Model,
		Messages:    messages,
		MaxTokens:   m.opts.MaxTokens,
		Temperature: anthropic.Float(m.opts.Temperature),
	}

	if len(system) > 0 {
		params.System = system
	}

	if rf := req.ResponseFormat; rf != nil {
		name := formatToolName(rf)
		params.Tools = []anthropic.ToolUnionParam{toolParam(name, rf.Description, rf.Schema)}
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: name}}

		return params, nil
	}

	// Tool choice none is expressed by withholding the tools.
	if len(req.Tools) == 0 || req.ToolChoice.Effective() == model.ToolChoiceNone {
		return params, nil
	}

	tools := make([]anthropic.ToolUnionParam, len(req.Tools))
	for i, t := range req.Tools {
		tools[i] = toolParam(t.Name, t.Description, t.Parameters)
	}

	params.Tools = tools

	switch req.ToolChoice.Effective() {
	case model.ToolChoiceRequired:
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
	case model.ToolChoiceTool:
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: req.ToolChoice.ToolName}}
	default:
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}

	return params, nil
}

func formatToolName(rf *model.ResponseFormat) string {
	if rf.Name == "" {
		return "object"
	}

	return rf.Name
}

// buildMessages converts agentflow messages to Anthropic message format.
// System turns are lifted into system blocks and tool turns become user
// messages carrying tool_result blocks.
func buildMessages(req model.Request) ([]anthropic.MessageParam, []anthropic.TextBlockParam, error) {
	var (
		messages []anthropic.MessageParam
		system   []anthropic.TextBlockParam
	)

	if req.System != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.System})
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case core.RoleSystem:
			if msg.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: msg.Content})
			}
		case core.RoleAssistant:
			content, err := assistantContent(msg)
			if err != nil {
				return nil, nil, err
			}

			if len(content) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(content...))
			}
		case core.RoleTool:
			content := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults))

			for _, tr := range msg.ToolResults {
				text, err := resultText(tr.Result)
				if err != nil {
					return nil, nil, fmt.Errorf("tool result %s: %w", tr.CallID, err)
				}

				content = append(content, anthropic.NewToolResultBlock(tr.CallID, text, tr.IsError))
			}

			if len(content) > 0 {
				messages = append(messages, anthropic.NewUserMessage(content...))
			}
		default:
			if msg.Content != "" {
				messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
			}
		}
	}

	return messages, system, nil
}

func assistantContent(msg core.Message) ([]anthropic.ContentBlockParamUnion, error) {
	var content []anthropic.ContentBlockParamUnion

	if msg.Content != "" {
		content = append(content, anthropic.NewTextBlock(msg.Content))
	}

	for _, tc := range msg.ToolCalls {
		args, err := tc.DecodeArguments()
		if err != nil {
			return nil, fmt.Errorf("tool call %s: %w", tc.ID, err)
		}

		content = append(content, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
	}

	return content, nil
}

func resultText(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}

	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}

	return string(b), nil
}

// toolParam converts a JSON schema object into an Anthropic tool.
func toolParam(name, description string, schema map[string]any) anthropic.ToolUnionParam {
	inputSchema := anthropic.ToolInputSchemaParam{}

	if properties, ok := schema["properties"]; ok {
		inputSchema.Properties = properties
	}

	switch req := schema["required"].(type) {
	case []string:
		inputSchema.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				inputSchema.Required = append(inputSchema.Required, s)
			}
		}
	}

	tool := anthropic.ToolParam{
		Name:        name,
		InputSchema: inputSchema,
	}

	if description != "" {
		tool.Description = anthropic.String(description)
	}

	return anthropic.ToolUnionParam{OfTool: &tool}
}

// handleStreaming forwards text, thinking and tool input deltas and emits the
// accumulated message as the final response.
func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	structured string,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var final anthropic.Message

	// Content block index to tool call ordinal.
	toolIndex := map[int64]int{}

	for stream.Next() {
		event := stream.Current()
		if err := final.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("anthropic accumulate stream: %w", err)
			return
		}

		var partial model.Response

		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type != "tool_use" || ev.ContentBlock.Name == structured {
				continue
			}

			idx := len(toolIndex)
			toolIndex[ev.Index] = idx
			partial = model.Response{Partial: true, ToolCallDeltas: []model.ToolCallDelta{{
				Index: idx, ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name,
			}}}
		case anthropic.ContentBlockDeltaEvent:
			switch ev.Delta.Type {
			case "text_delta":
				partial = model.Response{Partial: true, Text: ev.Delta.Text}
			case "thinking_delta":
				partial = model.Response{Partial: true, Reasoning: ev.Delta.Thinking}
			case "input_json_delta":
				idx, ok := toolIndex[ev.Index]
				if !ok {
					continue
				}

				partial = model.Response{Partial: true, ToolCallDeltas: []model.ToolCallDelta{{
					Index: idx, ArgsDelta: ev.Delta.PartialJSON,
				}}}
			default:
				continue
			}
		default:
			continue
		}

		if !send(ctx, out, partial) {
			errCh <- ctx.Err()
			return
		}
	}

	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}

	send(ctx, out, convertMessage(&final, structured))
}

// convertMessage maps a complete Anthropic message onto a final response. The
// input of the structured output tool, when named, becomes the text.
func convertMessage(msg *anthropic.Message, structured string) model.Response {
	var (
		text      strings.Builder
		reasoning strings.Builder
		calls     []core.ToolCall
	)

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "thinking":
			reasoning.WriteString(block.Thinking)
		case "tool_use":
			args := string(block.Input)
			if args == "" {
				args = "{}"
			}

			if structured != "" && block.Name == structured {
				text.Reset()
				text.WriteString(args)

				continue
			}

			calls = append(calls, core.ToolCall{ID: block.ID, Name: block.Name, Arguments: args})
		}
	}

	finish := "stop"

	switch msg.StopReason {
	case anthropic.StopReasonToolUse:
		if len(calls) > 0 {
			finish = "tool_calls"
		}
	case anthropic.StopReasonMaxTokens:
		finish = "length"
	case "":
	default:
		finish = string(msg.StopReason)
	}

	return model.Response{
		ID:           msg.ID,
		Text:         text.String(),
		Reasoning:    reasoning.String(),
		ToolCalls:    calls,
		FinishReason: finish,
		Usage: &core.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

func send(ctx context.Context, out chan<- model.Response, r model.Response) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          string(m.opts.Model),
		Provider:      "anthropic",
		SupportsTools: true,
	}
}

var _ model.Model = (*Model)(nil)
