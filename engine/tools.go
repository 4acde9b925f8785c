package engine

import (
	"fmt"
	"maps"
	"slices"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/tool"
)

// GetTools resolves a tool map into a flat tool.Set with the same keys.
//
// Plain tools pass through. A factory is called with a fresh child step of
// ec, and a nested agent becomes an agent tool bound to its own fresh child
// step. Entries are resolved in key order, so step creation is
// deterministic. An empty map yields a nil set.
func (e *Engine) GetTools(entries map[string]agent.ToolEntry, ec core.ExecutionContext) (tool.Set, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	set := make(tool.Set, len(entries))

	for _, name := range slices.Sorted(maps.Keys(entries)) {
		entry := entries[name]

		switch entry.Kind() {
		case agent.KindTool:
			if entry.Tool() == nil {
				return nil, fmt.Errorf("tool %q: tool is nil", name)
			}

			set[name] = entry.Tool()
		case agent.KindFactory:
			if entry.Factory() == nil {
				return nil, fmt.Errorf("tool %q: factory is nil", name)
			}

			t, err := entry.Factory()(ec.Step())
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", name, err)
			}

			if t == nil {
				return nil, fmt.Errorf("tool %q: factory returned no tool", name)
			}

			set[name] = t
		case agent.KindAgent:
			t, err := e.CreateLLMTool(entry.Agent(), ec.Step())
			if err != nil {
				return nil, fmt.Errorf("tool %q: %w", name, err)
			}

			set[name] = t
		default:
			return nil, fmt.Errorf("tool %q: unknown tool entry kind %s", name, entry.Kind())
		}
	}

	return set, nil
}
