package agent

import (
	"maps"

	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
)

// Options configures an Agent. Use functional options with New to override
// defaults.
type Options struct {
	// Name identifies the agent. It is the memory key of the agent when used
	// as a tool.
	Name string
	// Description is shown to a parent model when the agent is used as a
	// tool, and is the memory key fallback.
	Description string
	System      SystemPrompt
	Tools       map[string]ToolEntry
	Output      *OutputSchema
	ToolChoice  model.ToolChoice
	// MaxSteps bounds the model calls of one generation. Defaults to 1.
	MaxSteps int
	// ToolCallStreaming streams tool call arguments as they are generated.
	// Defaults to true.
	ToolCallStreaming bool
	AsTool            *AsTool
	Telemetry         telemetry.Policy
}

// Agent is an immutable description of one LLM-backed unit of work.
type Agent struct {
	name              string
	description       string
	model             model.Model
	system            SystemPrompt
	tools             map[string]ToolEntry
	output            *OutputSchema
	toolChoice        model.ToolChoice
	maxSteps          int
	toolCallStreaming bool
	asTool            *AsTool
	telemetry         telemetry.Policy
}

// New creates an Agent backed by m.
//
//	calc := agent.New(llm, func(o *agent.Options) {
//	  o.Name = "calc"
//	  o.Description = "Answers arithmetic questions"
//	  o.System = agent.Static("You are a calculator.")
//	  o.Output = &agent.OutputSchema{Name: "answer", Schema: answerSchema}
//	  o.AsTool = &agent.AsTool{Input: questionSchema, GetPrompt: questionPrompt}
//	})
func New(m model.Model, optFns ...func(o *Options)) *Agent {
	opts := Options{
		MaxSteps:          1,
		ToolCallStreaming: true,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxSteps < 1 {
		opts.MaxSteps = 1
	}

	var output *OutputSchema
	if opts.Output != nil {
		o := *opts.Output
		output = &o
	}

	var asTool *AsTool
	if opts.AsTool != nil {
		at := *opts.AsTool
		asTool = &at
	}

	return &Agent{
		name:              opts.Name,
		description:       opts.Description,
		model:             m,
		system:            opts.System,
		tools:             maps.Clone(opts.Tools),
		output:            output,
		toolChoice:        opts.ToolChoice,
		maxSteps:          opts.MaxSteps,
		toolCallStreaming: opts.ToolCallStreaming,
		asTool:            asTool,
		telemetry:         opts.Telemetry,
	}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent description.
func (a *Agent) Description() string { return a.description }

// Model returns the backing model.
func (a *Agent) Model() model.Model { return a.model }

// System returns the system prompt.
func (a *Agent) System() SystemPrompt { return a.system }

// Tools returns a copy of the tool map. It is nil when the agent has no tools.
func (a *Agent) Tools() map[string]ToolEntry { return maps.Clone(a.tools) }

// HasTools reports whether the tool map is non-empty.
func (a *Agent) HasTools() bool { return len(a.tools) > 0 }

// Output returns the structured output schema, or nil.
func (a *Agent) Output() *OutputSchema { return a.output }

// ToolChoice returns the tool selection policy.
func (a *Agent) ToolChoice() model.ToolChoice { return a.toolChoice }

// MaxSteps returns the step bound of one generation.
func (a *Agent) MaxSteps() int { return a.maxSteps }

// ToolCallStreaming reports whether tool call arguments are streamed.
func (a *Agent) ToolCallStreaming() bool { return a.toolCallStreaming }

// AsTool returns the tool adapter, or nil.
func (a *Agent) AsTool() *AsTool { return a.asTool }

// Telemetry returns the agent telemetry policy.
func (a *Agent) Telemetry() telemetry.Policy { return a.telemetry }

// MemoryKey returns the key under which the agent's tool memory is stored:
// the name, else the description.
func (a *Agent) MemoryKey() string {
	if a.name != "" {
		return a.name
	}

	return a.description
}

// ValidateAsTool checks that the agent can be exposed as a tool.
func (a *Agent) ValidateAsTool() error {
	if a.asTool == nil || a.asTool.GetPrompt == nil {
		return ErrMissingAsTool
	}

	if a.description == "" {
		return ErrMissingDescription
	}

	return nil
}

var _ telemetry.AgentInfo = (*Agent)(nil)
