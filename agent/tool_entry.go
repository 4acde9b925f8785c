package agent

import (
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/tool"
)

// ToolKind discriminates the variants of a ToolEntry.
type ToolKind int

const (
	// KindTool is a plain tool forwarded as-is.
	KindTool ToolKind = iota + 1
	// KindAgent is a nested agent executed through the engine.
	KindAgent
	// KindFactory builds a tool bound to a fresh step of the run.
	KindFactory
)

func (k ToolKind) String() string {
	switch k {
	case KindTool:
		return "tool"
	case KindAgent:
		return "agent"
	case KindFactory:
		return "factory"
	default:
		return "unknown"
	}
}

// Factory builds a tool for one step of a run. It allows a tool to capture
// the step it executes in, e.g. to record scratch data.
type Factory func(ec core.ExecutionContext) (tool.Tool, error)

// ToolEntry is one value of an agent's tool map.
type ToolEntry struct {
	kind    ToolKind
	tool    tool.Tool
	agent   *Agent
	factory Factory
}

// ToolOf wraps a plain tool.
func ToolOf(t tool.Tool) ToolEntry { return ToolEntry{kind: KindTool, tool: t} }

// AgentOf wraps a nested agent. The agent needs an AsTool adapter and a
// description.
func AgentOf(a *Agent) ToolEntry { return ToolEntry{kind: KindAgent, agent: a} }

// FactoryOf wraps a tool factory.
func FactoryOf(f Factory) ToolEntry { return ToolEntry{kind: KindFactory, factory: f} }

// Kind returns the variant of the entry.
func (e ToolEntry) Kind() ToolKind { return e.kind }

// Tool returns the plain tool of a KindTool entry.
func (e ToolEntry) Tool() tool.Tool { return e.tool }

// Agent returns the nested agent of a KindAgent entry.
func (e ToolEntry) Agent() *Agent { return e.agent }

// Factory returns the factory of a KindFactory entry.
func (e ToolEntry) Factory() Factory { return e.factory }
