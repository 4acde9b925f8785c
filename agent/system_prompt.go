package agent

import (
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/internal/util"
)

// SystemPrompt is either static text or derived from the run Environment.
type SystemPrompt struct {
	text   string
	derive func(env *core.Environment) string
}

// Static creates a SystemPrompt from fixed text.
func Static(text string) SystemPrompt { return SystemPrompt{text: text} }

// Derived creates a SystemPrompt computed from the Environment of each run.
// fn must be pure.
func Derived(fn func(env *core.Environment) string) SystemPrompt {
	return SystemPrompt{derive: fn}
}

// Template creates a Derived prompt that renders text with text/template
// against Environment.Values. The text is parsed once. If parsing or
// rendering fails the raw text is used.
func Template(text string) SystemPrompt {
	tmpl, err := util.ParseTemplate(text)
	if err != nil {
		return Derived(func(*core.Environment) string { return text })
	}

	return Derived(func(env *core.Environment) string {
		var values map[string]any
		if env != nil {
			values = env.Values
		}

		out, err := tmpl.Render(values)
		if err != nil {
			return text
		}

		return out
	})
}

// IsStatic reports whether the prompt is fixed text.
func (p SystemPrompt) IsStatic() bool { return p.derive == nil }

// Resolve returns the prompt text for env.
func (p SystemPrompt) Resolve(env *core.Environment) string {
	if p.derive != nil {
		return p.derive(env)
	}

	return p.text
}
