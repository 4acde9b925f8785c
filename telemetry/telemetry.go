package telemetry

import "github.com/hupe1980/agentflow/core"

// Settings configure tracing of one generation call.
type Settings struct {
	// Enabled turns span recording on. Nil means unset.
	Enabled *bool
	// FunctionID groups spans of one logical function, e.g. "stream-text".
	FunctionID string
	// Metadata is attached to every span as ai.telemetry.metadata.<key>.
	Metadata map[string]any
	// RecordInputs controls recording of prompts. Nil means record.
	RecordInputs *bool
	// RecordOutputs controls recording of generated text. Nil means record.
	RecordOutputs *bool
}

// IsEnabled reports whether spans should be recorded.
func (s *Settings) IsEnabled() bool { return s != nil && s.Enabled != nil && *s.Enabled }

func (s *Settings) recordsInputs() bool { return s.RecordInputs == nil || *s.RecordInputs }

func (s *Settings) recordsOutputs() bool { return s.RecordOutputs == nil || *s.RecordOutputs }

// Clone returns a copy with its own metadata map.
func (s Settings) Clone() Settings {
	if s.Metadata != nil {
		md := make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			md[k] = v
		}

		s.Metadata = md
	}

	return s
}

// Merge returns base with every field set in over replacing the value of
// base. Metadata maps are merged key by key, over winning.
func Merge(base, over Settings) Settings {
	out := base.Clone()

	if over.Enabled != nil {
		out.Enabled = over.Enabled
	}

	if over.FunctionID != "" {
		out.FunctionID = over.FunctionID
	}

	if len(over.Metadata) > 0 {
		if out.Metadata == nil {
			out.Metadata = make(map[string]any, len(over.Metadata))
		}

		for k, v := range over.Metadata {
			out.Metadata[k] = v
		}
	}

	if over.RecordInputs != nil {
		out.RecordInputs = over.RecordInputs
	}

	if over.RecordOutputs != nil {
		out.RecordOutputs = over.RecordOutputs
	}

	return out
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// AgentInfo is the part of an agent visible to per-call policies.
type AgentInfo interface {
	Name() string
	Description() string
}

// Func decides the settings of one call. Returning nil disables tracing.
type Func func(agent AgentInfo, ec core.ExecutionContext) *Settings

// PolicyKind discriminates the variants of a Policy.
type PolicyKind int

const (
	// PolicyUnset is the zero Policy.
	PolicyUnset PolicyKind = iota
	// PolicyBool switches tracing on or off.
	PolicyBool
	// PolicySettings carries explicit settings.
	PolicySettings
	// PolicyFunc computes settings per call.
	PolicyFunc
)

// Policy is a boolean, a settings object, or a per-call function.
type Policy struct {
	kind     PolicyKind
	enabled  bool
	settings Settings
	fn       Func
}

// Enabled creates a boolean policy.
func Enabled(b bool) Policy { return Policy{kind: PolicyBool, enabled: b} }

// WithSettings creates a policy with explicit settings.
func WithSettings(s Settings) Policy { return Policy{kind: PolicySettings, settings: s.Clone()} }

// PerCall creates a policy computed for each call.
func PerCall(fn Func) Policy { return Policy{kind: PolicyFunc, fn: fn} }

// Kind returns the variant of the policy.
func (p Policy) Kind() PolicyKind { return p.kind }

// IsDisabled reports whether the policy is Enabled(false).
func (p Policy) IsDisabled() bool { return p.kind == PolicyBool && !p.enabled }

// settingsFor evaluates p for one call. The unset policy evaluates to def.
func (p Policy) settingsFor(a AgentInfo, ec core.ExecutionContext, def *Settings) *Settings {
	switch p.kind {
	case PolicyBool:
		if !p.enabled {
			return nil
		}

		return &Settings{Enabled: Bool(true)}
	case PolicySettings:
		s := p.settings.Clone()
		return &s
	case PolicyFunc:
		if p.fn == nil {
			return nil
		}

		return p.fn(a, ec)
	default:
		return def
	}
}

// Resolve computes the settings of one call from the engine policy and the
// agent policy:
//
//   - an unset or disabled engine policy disables tracing
//   - a per-call engine policy decides alone
//   - otherwise the engine settings are merged over the agent settings
//
// An unset agent policy contributes empty settings; a disabled agent policy
// disables tracing for that agent.
func Resolve(engine, agent Policy, a AgentInfo, ec core.ExecutionContext) *Settings {
	switch engine.kind {
	case PolicyUnset:
		return nil
	case PolicyFunc:
		return engine.settingsFor(a, ec, nil)
	}

	if engine.IsDisabled() {
		return nil
	}

	base := agent.settingsFor(a, ec, &Settings{})
	if base == nil {
		return nil
	}

	over := engine.settingsFor(a, ec, nil)
	merged := Merge(*base, *over)

	return &merged
}
