package generate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

// ErrNoFinalResponse is returned when a model closes its response channel
// without a final chunk.
var ErrNoFinalResponse = errors.New("model returned no final response")

// Params configure a text generation.
type Params struct {
	Model    model.Model
	System   string
	Messages []core.Message
	Tools    tool.Set
	// ToolChoice defaults to auto.
	ToolChoice model.ToolChoice
	// MaxSteps bounds the model calls. Values below one mean one.
	MaxSteps int
	// ToolCallStreaming emits tool call argument deltas while streaming.
	ToolCallStreaming bool
	// Transforms rewrite the streamed parts. Ignored by GenerateText.
	Transforms []Transform
	// OnStepFinish is called after every step.
	OnStepFinish func(step Step)
	// OnFinish is called once after the last step of a successful stream.
	OnFinish func(event FinishEvent)

	// Executor runs tool calls. Defaults to a parallel executor bounded by
	// MaxParallelTools.
	Executor         ToolExecutor
	MaxParallelTools int

	Logger    logging.Logger
	Telemetry *telemetry.Settings
	Tracer    trace.Tracer
}

func (p *Params) executor() ToolExecutor {
	if p.Executor != nil {
		return p.Executor
	}

	return NewParallelExecutor(ExecutorConfig{
		MaxParallel: p.MaxParallelTools,
		Logger:      p.Logger,
		Telemetry:   p.Telemetry,
		Tracer:      p.Tracer,
	})
}

// GenerateText runs the multi-step tool loop without streaming and returns
// once every step and tool call has completed.
func GenerateText(ctx context.Context, p Params) (*TextResult, error) {
	if p.Model == nil {
		return nil, errors.New("generate: model is required")
	}

	ctx, span := telemetry.StartSpan(ctx, p.Tracer, p.Telemetry, "ai.generateText", modelAttrs(p.Model)...)
	recordPrompt(span, p.System, p.Messages)

	steps, err := runSteps(ctx, &p, false, func(core.StreamPart) {})
	if err != nil {
		span.End(err)
		return nil, err
	}

	res := newTextResult(steps)

	span.RecordOutput("ai.response.text", res.Text)
	span.RecordUsage(res.Usage)
	span.SetAttributes(attribute.String("ai.response.finishReason", res.FinishReason))
	span.End(nil)

	return res, nil
}

// runSteps is the multi-step loop shared by StreamText and GenerateText.
// emit receives the stream parts of every step; it is never nil.
func runSteps(ctx context.Context, p *Params, stream bool, emit func(core.StreamPart)) ([]Step, error) {
	logger := logging.OrNoOp(p.Logger)
	defs := p.Tools.Definitions()

	if err := p.ToolChoice.Validate(defs); err != nil {
		return nil, err
	}

	limiter := core.NewStepLimiter(p.MaxSteps)
	messages := core.CloneMessages(p.Messages)
	executor := p.executor()

	var steps []Step

	for {
		if err := limiter.Increment(); err != nil {
			return steps, err
		}

		stepType := StepInitial
		if len(steps) > 0 {
			stepType = StepToolResult
		}

		emit(core.StreamPart{Type: core.PartStepStart})

		req := model.Request{
			System:     p.System,
			Messages:   core.CloneMessages(messages),
			Tools:      defs,
			ToolChoice: p.ToolChoice,
			Stream:     stream,
		}

		resp, err := callModel(ctx, p.Model, req, p.ToolCallStreaming, emit)
		if err != nil {
			logger.Error("generate.step.error", "step", len(steps), "error", err.Error())
			return steps, err
		}

		step := Step{
			StepType:     stepType,
			Text:         resp.Text,
			Reasoning:    resp.Reasoning,
			ToolCalls:    resp.ToolCalls,
			Sources:      resp.Sources,
			FinishReason: resp.FinishReason,
		}

		if resp.Usage != nil {
			step.Usage = *resp.Usage
		}

		assistant := core.Message{
			ID:        core.NewID(),
			Role:      core.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		}
		step.Messages = append(step.Messages, assistant)
		messages = append(messages, assistant)

		for _, tc := range resp.ToolCalls {
			emit(core.StreamPart{Type: core.PartToolCall, ToolCallID: tc.ID, ToolName: tc.Name, Args: tc.Arguments})
		}

		if len(resp.ToolCalls) > 0 {
			step.ToolResults = executor.Execute(ctx, p.Tools, resp.ToolCalls)

			for _, tr := range step.ToolResults {
				emit(core.StreamPart{Type: core.PartToolResult, ToolCallID: tr.CallID, ToolName: tr.Name, Result: tr.Result})
			}

			toolMsg := core.Message{ID: core.NewID(), Role: core.RoleTool, ToolResults: step.ToolResults}
			step.Messages = append(step.Messages, toolMsg)
			messages = append(messages, toolMsg)
		}

		usage := step.Usage
		emit(core.StreamPart{Type: core.PartStepFinish, FinishReason: step.FinishReason, Usage: &usage})

		steps = append(steps, step)

		logger.Debug("generate.step.finish",
			"step", len(steps),
			"step_type", string(stepType),
			"tool_calls", len(step.ToolCalls),
			"finish_reason", step.FinishReason,
		)

		if p.OnStepFinish != nil {
			p.OnStepFinish(step)
		}

		if len(step.ToolCalls) == 0 || limiter.Remaining() <= 0 {
			return steps, nil
		}
	}
}

// callModel performs one model turn. In streaming mode partial chunks are
// translated into stream parts.
func callModel(ctx context.Context, m model.Model, req model.Request, toolCallStreaming bool, emit func(core.StreamPart)) (*model.Response, error) {
	respCh, errCh := m.Generate(ctx, req)

	var (
		final     *model.Response
		text      string
		reasoning string
		sources   []core.Source
		started   = map[int]bool{}
		callIDs   = map[int]string{}
	)

	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}

			if err != nil {
				return nil, err
			}
		case r, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}

			if !r.Partial {
				resp := r
				final = &resp

				continue
			}

			if r.Reasoning != "" {
				reasoning += r.Reasoning
				emit(core.StreamPart{Type: core.PartReasoning, Text: r.Reasoning})
			}

			if r.Text != "" {
				text += r.Text
				emit(core.StreamPart{Type: core.PartTextDelta, Text: r.Text})
			}

			for i := range r.Sources {
				src := r.Sources[i]
				sources = append(sources, src)
				emit(core.StreamPart{Type: core.PartSource, Source: &src})
			}

			if !toolCallStreaming {
				continue
			}

			for _, d := range r.ToolCallDeltas {
				if d.ID != "" {
					callIDs[d.Index] = d.ID
				}

				if !started[d.Index] {
					started[d.Index] = true
					emit(core.StreamPart{Type: core.PartToolCallStreamingStart, ToolCallID: callIDs[d.Index], ToolName: d.Name})
				}

				if d.ArgsDelta != "" {
					emit(core.StreamPart{Type: core.PartToolCallDelta, ToolCallID: callIDs[d.Index], ArgsDelta: d.ArgsDelta})
				}
			}
		}
	}

	if final == nil {
		return nil, ErrNoFinalResponse
	}

	if final.Text == "" {
		final.Text = text
	}

	if final.Reasoning == "" {
		final.Reasoning = reasoning
	}

	final.Sources = append(sources, final.Sources...)

	final.ToolCalls = append([]core.ToolCall(nil), final.ToolCalls...)
	for i := range final.ToolCalls {
		if final.ToolCalls[i].ID == "" {
			final.ToolCalls[i].ID = core.NewID()
		}
	}

	return final, nil
}

func modelAttrs(m model.Model) []attribute.KeyValue {
	info := m.Info()

	return []attribute.KeyValue{
		attribute.String("ai.model.id", info.Name),
		attribute.String("ai.model.provider", info.Provider),
	}
}

func recordPrompt(span *telemetry.Span, system string, messages []core.Message) {
	if span == nil {
		return
	}

	prompt, err := json.Marshal(struct {
		System   string         `json:"system,omitempty"`
		Messages []core.Message `json:"messages"`
	}{system, messages})
	if err != nil {
		span.RecordInput("ai.prompt", fmt.Sprintf("unencodable prompt: %v", err))
		return
	}

	span.RecordInput("ai.prompt", string(prompt))
}
