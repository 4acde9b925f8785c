// Package agentflow provides a high-level façade over the engine for running
// agents that call tools and other agents. Most applications interact with
// this package by:
//  1. Building agents with agent.New
//  2. Creating an AgentFlow via New (optionally overriding the memory store,
//     logger or telemetry policy)
//  3. Running a root agent over an environment with Run or RunSync
//
// Each call to Run is an independent top-level run with its own context tree.
package agentflow

import (
	"context"

	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/engine"
	"github.com/hupe1980/agentflow/generate"
	"github.com/hupe1980/agentflow/logging"
	"github.com/hupe1980/agentflow/telemetry"
)

// Options configures the AgentFlow instance.
type Options struct {
	// MemoryStore backs agent tool memory for environments that do not bring
	// their own. Nil by default: runs are memoryless unless a store is set
	// here or on the Environment.
	MemoryStore core.MemoryStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger

	// Telemetry is the engine-level tracing policy.
	Telemetry telemetry.Policy
	Tracer    trace.Tracer

	MaxParallelTools    int
	SerializeMemoryKeys bool

	OnChatStepFinish engine.StepFinishCallback
	OnChatFinish     engine.ChatFinishCallback

	// EngineOptions are applied after the fields above.
	EngineOptions []func(o *engine.Options)
}

// AgentFlow aggregates an engine and its default services.
type AgentFlow struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new AgentFlow instance.
func New(optFns ...func(o *Options)) *AgentFlow {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	engineOpts := append([]func(o *engine.Options){func(o *engine.Options) {
		o.Logger = opts.Logger
		o.Telemetry = opts.Telemetry
		o.Tracer = opts.Tracer
		o.MaxParallelTools = opts.MaxParallelTools
		o.SerializeMemoryKeys = opts.SerializeMemoryKeys
		o.OnChatStepFinish = opts.OnChatStepFinish
		o.OnChatFinish = opts.OnChatFinish
	}}, opts.EngineOptions...)

	return &AgentFlow{opts: opts, engine: engine.New(engineOpts...)}
}

// Engine returns the underlying engine.
func (f *AgentFlow) Engine() *engine.Engine { return f.engine }

// Run starts a top-level chat run of a over env. The returned RunContext is
// the root of the run's context tree; the stream is rooted at its first step.
func (f *AgentFlow) Run(ctx context.Context, a *agent.Agent, env *core.Environment) (*core.RunContext, *generate.StreamResult, error) {
	rc := core.NewRunContext(f.environment(env))

	result, err := f.engine.StreamChat(ctx, a, rc.Step())
	if err != nil {
		return nil, nil, err
	}

	return rc, result, nil
}

// RunSync is a synchronous helper that waits for the run to complete and for
// its output to reach the environment's sink, then returns its steps.
func (f *AgentFlow) RunSync(ctx context.Context, a *agent.Agent, env *core.Environment) (*core.RunContext, []generate.Step, error) {
	rc, result, err := f.Run(ctx, a, env)
	if err != nil {
		return nil, nil, err
	}

	select {
	case <-ctx.Done():
		return rc, nil, ctx.Err()
	case <-result.Merged():
	}

	return rc, result.Steps(), result.Err()
}

func (f *AgentFlow) environment(env *core.Environment) *core.Environment {
	if env == nil {
		env = &core.Environment{}
	}

	if env.Memory != nil || f.opts.MemoryStore == nil {
		return env
	}

	cp := *env
	cp.Memory = f.opts.MemoryStore

	return &cp
}
