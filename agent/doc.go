// Package agent describes agents declaratively.
//
// An Agent is an immutable value: a model reference, a system prompt, an
// optional tool map, an optional structured output schema, an optional
// adapter that lets a parent agent call it as a tool, and execution tuning.
// Agents hold no run state and are safe to share across concurrent runs; the
// engine package executes them.
//
// Union-shaped fields are explicit tagged variants decided at construction:
//   - SystemPrompt: Static text or a function of the run Environment
//   - ToolEntry: a plain tool, a nested agent, or a tool factory
//   - Prompt: a single text or a message list
package agent
