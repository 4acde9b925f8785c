package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
	"github.com/hupe1980/agentflow/tool"
)

// ToolResponse is the result of an agent tool without an output schema, and
// of every failed agent tool call.
type ToolResponse struct {
	Response string `json:"response"`
	Success  bool   `json:"success"`
}

const unknownErrorMessage = "Unknown error occurred"

// llmTool exposes a nested agent as a tool bound to one step of the run.
type llmTool struct {
	engine *Engine
	agent  *agent.Agent
	ec     core.ExecutionContext
}

// CreateLLMTool turns a into a tool bound to ec. It returns
// agent.ErrMissingAsTool or agent.ErrMissingDescription when a cannot be
// used as a tool.
func (e *Engine) CreateLLMTool(a *agent.Agent, ec core.ExecutionContext) (tool.Tool, error) {
	if a == nil {
		return nil, agent.ErrMissingAsTool
	}

	if err := validateNested(a, map[*agent.Agent]bool{}); err != nil {
		return nil, err
	}

	return &llmTool{engine: e, agent: a, ec: ec}, nil
}

// validateNested checks a and, recursively, every agent in its tool map, so
// that misconfigured grandchildren fail at resolution time too.
func validateNested(a *agent.Agent, seen map[*agent.Agent]bool) error {
	if seen[a] {
		return nil
	}

	seen[a] = true

	if err := a.ValidateAsTool(); err != nil {
		return err
	}

	for name, entry := range a.Tools() {
		if entry.Kind() != agent.KindAgent {
			continue
		}

		if entry.Agent() == nil {
			return fmt.Errorf("tool %q: %w", name, agent.ErrMissingAsTool)
		}

		if err := validateNested(entry.Agent(), seen); err != nil {
			return fmt.Errorf("tool %q: %w", name, err)
		}
	}

	return nil
}

// Description implements tool.Tool.
func (t *llmTool) Description() string { return t.agent.Description() }

// Parameters implements tool.Tool.
func (t *llmTool) Parameters() map[string]any { return t.agent.AsTool().Input }

// Execute implements tool.Tool. It never returns an error: failures are
// reported to the calling model as an unsuccessful ToolResponse.
func (t *llmTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	t.ec.Writer().Reasoning(args[agent.ReasoningField])

	result, err := t.run(ctx, args)
	if err != nil {
		t.engine.logger.Error("agent.tool.error",
			"agent", t.agent.Name(),
			"description", t.agent.Description(),
			"error", err.Error(),
		)

		msg := err.Error()
		if msg == "" {
			msg = unknownErrorMessage
		}

		return ToolResponse{Response: msg, Success: false}, nil
	}

	return result, nil
}

func (t *llmTool) run(ctx context.Context, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent tool panicked: %v", r)
		}
	}()

	a := t.agent
	key := a.MemoryKey()
	store := t.ec.Environment().Memory

	if store != nil && t.engine.opts.SerializeMemoryKeys {
		unlock := t.engine.locks.Lock(key)
		defer unlock()
	}

	var prior []core.Message

	if store != nil {
		prior, _, err = store.Load(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load memory: %w", err)
		}
	}

	if err := util.ValidateParameters(args, a.AsTool().Input); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	prompt, err := a.AsTool().GetPrompt(args)
	if err != nil {
		return nil, err
	}

	input := prompt.ToMessages()
	if len(input) == 0 {
		return nil, errors.New("prompt is empty")
	}

	messages := append(core.CloneMessages(prior), input...)

	var reply string

	if !a.HasTools() && a.Output() != nil {
		res, err := t.engine.GenerateObject(ctx, a, t.ec, agent.MessagesPrompt(messages))
		if err != nil {
			return nil, err
		}

		encoded, err := json.Marshal(res.Object)
		if err != nil {
			return nil, fmt.Errorf("encode object: %w", err)
		}

		result, reply = res.Object, string(encoded)
	} else {
		res, err := t.engine.GenerateText(ctx, a, t.ec, agent.MessagesPrompt(messages), nil)
		if err != nil {
			return nil, err
		}

		reply = res.Text

		if a.Output() != nil {
			result = res.Text
		} else {
			result = ToolResponse{Response: res.Text, Success: true}
		}
	}

	if store != nil {
		saved := append(core.CloneMessages(prior), input[len(input)-1], core.NewAssistantMessage(reply))
		if err := store.Save(ctx, key, saved); err != nil {
			return nil, fmt.Errorf("save memory: %w", err)
		}
	}

	return result, nil
}

var _ tool.Tool = (*llmTool)(nil)
