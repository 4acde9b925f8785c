// Package orchestrator implements a planner driven flow: a planner agent
// turns a request into a prioritized task plan, then the named agents run the
// tasks in priority order once their dependencies have completed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/engine"
	"github.com/hupe1980/agentflow/logging"
)

// ErrOrchestration wraps every failure of Run.
var ErrOrchestration = errors.New("failed to complete orchestrator processing")

// MaxPriority is the lowest task priority of a plan.
const MaxPriority = 3

// Task is one unit of a plan.
type Task struct {
	Agent       string `json:"agent"`
	Priority    int    `json:"priority"`
	Description string `json:"description"`
	// Dependencies lists descriptions of tasks that must complete first.
	Dependencies []string `json:"dependencies,omitempty"`
}

// Plan is the structured output of the planner.
type Plan struct {
	Reasoning string `json:"reasoning"`
	Tasks     []Task `json:"tasks"`
}

// Result is the outcome of Run.
type Result struct {
	Plan Plan
	// Results holds the response messages of each executed agent.
	Results map[string][]core.Message
	// Messages are the response messages of all executed agents in
	// execution order.
	Messages []core.Message
}

// Options configure a Flow.
type Options struct {
	Logger logging.Logger
	// OnFinish receives the combined messages of a successful run.
	OnFinish func(ctx context.Context, messages []core.Message) error
}

// Flow runs plans produced by a planner agent.
type Flow struct {
	engine  *engine.Engine
	planner *agent.Agent
	agents  map[string]*agent.Agent
	opts    Options
	logger  logging.Logger
}

// New creates a Flow. When planner declares no output schema it is given
// PlanSchema over the names of agents.
func New(eng *engine.Engine, planner *agent.Agent, agents map[string]*agent.Agent, optFns ...func(o *Options)) *Flow {
	opts := Options{Logger: eng.Logger()}

	for _, fn := range optFns {
		fn(&opts)
	}

	if planner.Output() == nil {
		planner = withPlanSchema(planner, slices.Sorted(maps.Keys(agents)))
	}

	return &Flow{
		engine:  eng,
		planner: planner,
		agents:  maps.Clone(agents),
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

func withPlanSchema(p *agent.Agent, names []string) *agent.Agent {
	return agent.New(p.Model(), func(o *agent.Options) {
		o.Name = p.Name()
		o.Description = p.Description()
		o.System = p.System()
		o.Telemetry = p.Telemetry()
		o.Output = &agent.OutputSchema{
			Name:        "plan",
			Description: "Tasks to run and the agents to run them",
			Schema:      PlanSchema(names),
		}
	})
}

// PlanSchema returns the JSON schema of a Plan restricted to the given agent
// names.
func PlanSchema(agentNames []string) map[string]any {
	enum := make([]any, len(agentNames))
	for i, n := range agentNames {
		enum[i] = n
	}

	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reasoning": map[string]any{"type": "string"},
			"tasks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"agent":        map[string]any{"type": "string", "enum": enum},
						"priority":     map[string]any{"type": "integer", "minimum": 1, "maximum": MaxPriority},
						"description":  map[string]any{"type": "string"},
						"dependencies": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
					},
					"required": []string{"agent", "priority", "description"},
				},
			},
		},
		"required": []string{"reasoning", "tasks"},
	}
}

// Run plans prompt and executes the plan. Every agent runs on a fresh step
// of ec with the run history, the results of its dependencies and its task
// description.
func (f *Flow) Run(ctx context.Context, ec core.ExecutionContext, prompt string) (*Result, error) {
	res, err := f.run(ctx, ec, prompt)
	if err != nil {
		f.logger.Error("orchestrator.run.error", "error", err.Error())
		return nil, fmt.Errorf("%w: %w", ErrOrchestration, err)
	}

	return res, nil
}

func (f *Flow) run(ctx context.Context, ec core.ExecutionContext, prompt string) (*Result, error) {
	planned, err := f.engine.GenerateObject(ctx, f.planner, ec.Step(), agent.TextPrompt(prompt))
	if err != nil {
		return nil, fmt.Errorf("plan: %w", err)
	}

	var plan Plan
	if err := planned.Decode(&plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}

	f.logger.Info("orchestrator.plan", "tasks", len(plan.Tasks), "reasoning", plan.Reasoning)

	results := make(map[string][]core.Message)
	executed := make(map[string]bool)

	var order []string

	for priority := 1; priority <= MaxPriority; priority++ {
		for _, task := range plan.Tasks {
			if task.Priority != priority || !canExecute(task, plan.Tasks, executed) {
				continue
			}

			a, ok := f.agents[task.Agent]
			if !ok {
				f.logger.Warn("orchestrator.task.unknown_agent", "agent", task.Agent, "task", task.Description)
				continue
			}

			f.logger.Info("orchestrator.task.start", "agent", task.Agent, "priority", task.Priority)

			out, err := f.engine.GenerateText(ctx, a, ec.Step(), agent.MessagesPrompt(taskContext(ec.History(), task, plan.Tasks, results)), nil)
			if err != nil {
				return nil, fmt.Errorf("task %q: %w", task.Description, err)
			}

			if _, seen := results[task.Agent]; !seen {
				order = append(order, task.Agent)
			}

			results[task.Agent] = toConversation(out.Messages)
			executed[task.Agent] = true
		}
	}

	var messages []core.Message
	for _, name := range order {
		messages = append(messages, results[name]...)
	}

	if f.opts.OnFinish != nil {
		if err := f.opts.OnFinish(ctx, messages); err != nil {
			return nil, fmt.Errorf("finish: %w", err)
		}
	}

	return &Result{Plan: plan, Results: results, Messages: messages}, nil
}

// canExecute reports whether every dependency of task names a task whose
// agent has already run.
func canExecute(task Task, all []Task, executed map[string]bool) bool {
	for _, dep := range task.Dependencies {
		d, ok := findTask(all, dep)
		if !ok || !executed[d.Agent] {
			return false
		}
	}

	return true
}

func findTask(all []Task, description string) (Task, bool) {
	for _, t := range all {
		if t.Description == description {
			return t, true
		}
	}

	return Task{}, false
}

func taskContext(history []core.Message, task Task, all []Task, results map[string][]core.Message) []core.Message {
	msgs := core.CloneMessages(history)

	for _, dep := range task.Dependencies {
		if d, ok := findTask(all, dep); ok {
			msgs = append(msgs, results[d.Agent]...)
		}
	}

	return append(msgs, core.Message{
		ID:      "task-" + task.Agent,
		Role:    core.RoleSystem,
		Content: "Task: " + task.Description,
	})
}

// toConversation keeps the assistant text turns of a response.
func toConversation(msgs []core.Message) []core.Message {
	var out []core.Message

	for _, m := range msgs {
		if m.Role != core.RoleAssistant || m.Content == "" {
			continue
		}

		out = append(out, core.Message{ID: m.ID, Role: m.Role, Content: m.Content})
	}

	return out
}
