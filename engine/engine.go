package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/generate"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/telemetry"
)

// StepsDataKey is the scratch data key under which StreamChat stores the
// steps of a finished run on its context node.
const StepsDataKey = "steps"

// ErrNilAgent is returned when an operation is called without an agent.
var ErrNilAgent = errors.New("agent is nil")

// Options configures an Engine instance using the functional options pattern.
//
// Example:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Logger = logger
//	    o.MaxParallelTools = 4
//	})
type Options struct {
	// Logger provides structured logging. Defaults to a no-op logger.
	Logger logging.Logger

	// Telemetry is the engine-level tracing policy. The zero value disables
	// tracing; hosts resolve a default once at startup (see package config).
	Telemetry telemetry.Policy

	// Tracer receives the spans. Defaults to the global otel tracer.
	Tracer trace.Tracer

	// OnChatStepFinish is notified of every step of a StreamChat run.
	OnChatStepFinish StepFinishCallback

	// OnChatFinish is notified once a StreamChat run has completed.
	OnChatFinish ChatFinishCallback

	// MaxParallelTools bounds the concurrent tool calls of one model turn.
	// Zero means unbounded.
	MaxParallelTools int

	// SerializeMemoryKeys holds a per-key lock across the load, generate and
	// save of an agent tool call. Without it concurrent calls of one agent
	// tool race and the last save wins.
	SerializeMemoryKeys bool
}

// Engine runs agents. It holds no per-run state and is safe for concurrent
// use by independent runs.
type Engine struct {
	opts   Options
	logger logging.Logger
	locks  *keyLocks
}

// New creates an Engine.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Engine{
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger),
		locks:  newKeyLocks(),
	}
}

// Logger returns the engine logger.
func (e *Engine) Logger() logging.Logger { return e.logger }

// StreamChat streams an agent over the history of ec.
//
// The stream is produced to completion whether or not the caller reads it,
// and it is merged into ec.Writer() exactly once. result.Merged() closes
// when that merge has delivered its last part. When the run finishes its
// steps are stored on ec under StepsDataKey before OnChatFinish is called.
// A configuration error of the tool map is returned before any model call.
func (e *Engine) StreamChat(ctx context.Context, a *agent.Agent, ec core.ExecutionContext) (*generate.StreamResult, error) {
	if a == nil {
		return nil, ErrNilAgent
	}

	tools, err := e.GetTools(a.Tools(), ec)
	if err != nil {
		return nil, err
	}

	label := agentLabel(a)
	start := time.Now()

	e.logger.Info("engine.stream_chat.start", "agent", label, "history", len(ec.History()), "tools", len(tools))

	result := generate.StreamText(ctx, generate.Params{
		Model:             a.Model(),
		System:            a.System().Resolve(ec.Environment()),
		Messages:          ec.History(),
		Tools:             tools,
		ToolChoice:        a.ToolChoice(),
		MaxSteps:          a.MaxSteps(),
		ToolCallStreaming: a.ToolCallStreaming(),
		Transforms:        []generate.Transform{generate.SmoothWords()},
		OnStepFinish: func(step generate.Step) {
			if e.opts.OnChatStepFinish != nil {
				e.opts.OnChatStepFinish(step, ec)
			}
		},
		OnFinish: func(ev generate.FinishEvent) {
			ec.SetData(map[string]any{StepsDataKey: ev.Steps})

			e.logger.Info("engine.stream_chat.finish",
				"agent", label,
				"steps", len(ev.Steps),
				"total_tokens", ev.Usage.TotalTokens,
				"duration_ms", time.Since(start).Milliseconds(),
			)

			if e.opts.OnChatFinish != nil {
				e.opts.OnChatFinish(ev, ec)
			}
		},
		MaxParallelTools: e.opts.MaxParallelTools,
		Logger:           e.logger,
		Telemetry:        e.resolveTelemetry(a, ec),
		Tracer:           e.opts.Tracer,
	})

	ec.Writer().MergeResult(result)

	return result, nil
}

// GenerateText runs prompt through the multi-step tool loop of a without
// streaming. onStepFinish may be nil.
func (e *Engine) GenerateText(
	ctx context.Context,
	a *agent.Agent,
	ec core.ExecutionContext,
	prompt agent.Prompt,
	onStepFinish func(step generate.Step),
) (*generate.TextResult, error) {
	if a == nil {
		return nil, ErrNilAgent
	}

	tools, err := e.GetTools(a.Tools(), ec)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("engine.generate_text.start", "agent", agentLabel(a), "tools", len(tools))

	return generate.GenerateText(ctx, generate.Params{
		Model:             a.Model(),
		System:            a.System().Resolve(ec.Environment()),
		Messages:          prompt.ToMessages(),
		Tools:             tools,
		ToolChoice:        a.ToolChoice(),
		MaxSteps:          a.MaxSteps(),
		ToolCallStreaming: a.ToolCallStreaming(),
		OnStepFinish:      onStepFinish,
		MaxParallelTools:  e.opts.MaxParallelTools,
		Logger:            e.logger,
		Telemetry:         e.resolveTelemetry(a, ec),
		Tracer:            e.opts.Tracer,
	})
}

// GenerateObject produces one value matching the output schema of a. It
// returns agent.ErrMissingOutputSchema when a declares none.
func (e *Engine) GenerateObject(
	ctx context.Context,
	a *agent.Agent,
	ec core.ExecutionContext,
	prompt agent.Prompt,
) (*generate.ObjectResult, error) {
	if a == nil {
		return nil, ErrNilAgent
	}

	out := a.Output()
	if out == nil {
		return nil, agent.ErrMissingOutputSchema
	}

	e.logger.Debug("engine.generate_object.start", "agent", agentLabel(a), "schema", out.Name)

	return generate.GenerateObject(ctx, generate.ObjectParams{
		Model:             a.Model(),
		System:            a.System().Resolve(ec.Environment()),
		Messages:          prompt.ToMessages(),
		Schema:            out.Schema,
		SchemaName:        out.Name,
		SchemaDescription: out.Description,
		Logger:            e.logger,
		Telemetry:         e.resolveTelemetry(a, ec),
		Tracer:            e.opts.Tracer,
	})
}

func (e *Engine) resolveTelemetry(a *agent.Agent, ec core.ExecutionContext) *telemetry.Settings {
	return telemetry.Resolve(e.opts.Telemetry, a.Telemetry(), a, ec)
}

// agentLabel identifies an agent in logs.
func agentLabel(a *agent.Agent) string {
	if a.Name() != "" {
		return a.Name()
	}

	return a.Description()
}
