package agent

import (
	"context"
	"testing"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	m := model.NewMockModel("test-model", "mock")
	a := New(m, func(o *Options) { o.System = Static("You are a test agent") })

	assert.Same(t, m, a.Model().(*model.MockModel))
	assert.Equal(t, 1, a.MaxSteps())
	assert.True(t, a.ToolCallStreaming())
	assert.Nil(t, a.Tools())
	assert.False(t, a.HasTools())
	assert.Nil(t, a.Output())
	assert.Nil(t, a.AsTool())
	assert.Equal(t, model.ToolChoiceAuto, a.ToolChoice().Effective())
	assert.Equal(t, telemetry.PolicyUnset, a.Telemetry().Kind())
}

func TestNew_AllOptions(t *testing.T) {
	a := New(model.NewMockModel("m", "mock"), func(o *Options) {
		o.Name = "Test Agent"
		o.Description = "A test agent for testing"
		o.ToolCallStreaming = false
		o.Telemetry = telemetry.WithSettings(telemetry.Settings{Enabled: telemetry.Bool(false)})
		o.MaxSteps = 5
		o.ToolChoice = model.SpecificTool("search")
	})

	assert.Equal(t, "Test Agent", a.Name())
	assert.Equal(t, "A test agent for testing", a.Description())
	assert.False(t, a.ToolCallStreaming())
	assert.Equal(t, 5, a.MaxSteps())
	assert.Equal(t, telemetry.PolicySettings, a.Telemetry().Kind())
	assert.Equal(t, "search", a.ToolChoice().ToolName)
}

func TestNew_ClampsMaxSteps(t *testing.T) {
	a := New(nil, func(o *Options) { o.MaxSteps = 0 })
	assert.Equal(t, 1, a.MaxSteps())
}

func TestNew_IsolatedFromOptions(t *testing.T) {
	tools := map[string]ToolEntry{"a": ToolOf(nil)}
	a := New(nil, func(o *Options) { o.Tools = tools })

	tools["b"] = ToolOf(nil)
	assert.Len(t, a.Tools(), 1)

	got := a.Tools()
	got["c"] = ToolOf(nil)
	assert.Len(t, a.Tools(), 1)
}

func TestSystemPrompt(t *testing.T) {
	env := &core.Environment{Values: map[string]any{"name": "Ada"}}

	static := Static("Static system prompt")
	assert.True(t, static.IsStatic())
	assert.Equal(t, "Static system prompt", static.Resolve(env))

	derived := Derived(func(e *core.Environment) string {
		v, _ := e.Value("name")
		return "Hello " + v.(string)
	})
	assert.False(t, derived.IsStatic())
	assert.Equal(t, "Hello Ada", derived.Resolve(env))

	tmpl := Template("Hello {{ .name }}")
	assert.Equal(t, "Hello Ada", tmpl.Resolve(env))

	broken := Template("Hello {{ .name ")
	assert.Equal(t, "Hello {{ .name ", broken.Resolve(env))
}

func TestToolEntry(t *testing.T) {
	ft := tool.NewFunctionTool("noop", nil, func(context.Context, map[string]any) (any, error) { return nil, nil })
	nested := New(nil)
	factory := func(core.ExecutionContext) (tool.Tool, error) { return ft, nil }

	assert.Equal(t, KindTool, ToolOf(ft).Kind())
	assert.Same(t, ft, ToolOf(ft).Tool().(*tool.FunctionTool))
	assert.Equal(t, KindAgent, AgentOf(nested).Kind())
	assert.Same(t, nested, AgentOf(nested).Agent())
	assert.Equal(t, KindFactory, FactoryOf(factory).Kind())
	assert.NotNil(t, FactoryOf(factory).Factory())
	assert.Equal(t, "factory", KindFactory.String())
}

func TestMemoryKey(t *testing.T) {
	assert.Equal(t, "calc", New(nil, func(o *Options) { o.Name = "calc"; o.Description = "d" }).MemoryKey())
	assert.Equal(t, "calc", New(nil, func(o *Options) { o.Description = "calc" }).MemoryKey())
	assert.Equal(t, "", New(nil).MemoryKey())
}

func TestValidateAsTool(t *testing.T) {
	getPrompt := func(map[string]any) (Prompt, error) { return TextPrompt("x"), nil }

	assert.ErrorIs(t, New(nil, func(o *Options) { o.Description = "d" }).ValidateAsTool(), ErrMissingAsTool)
	assert.ErrorIs(t, New(nil, func(o *Options) { o.AsTool = &AsTool{GetPrompt: getPrompt} }).ValidateAsTool(), ErrMissingDescription)
	assert.NoError(t, New(nil, func(o *Options) {
		o.Description = "d"
		o.AsTool = &AsTool{GetPrompt: getPrompt}
	}).ValidateAsTool())
}

func TestPrompt(t *testing.T) {
	p := TextPrompt("Search for: go")
	assert.False(t, p.IsMessages())
	msgs := p.ToMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "Search for: go", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID)

	in := []core.Message{{ID: "1", Role: core.RoleUser, Content: "hi"}}
	mp := MessagesPrompt(in)
	assert.True(t, mp.IsMessages())
	assert.Equal(t, in, mp.ToMessages())
}

func TestWithReasoningParameter(t *testing.T) {
	input := map[string]any{
		"type":       "object",
		"properties": map[string]any{"query": map[string]any{"type": "string"}},
		"required":   []string{"query"},
	}

	out := WithReasoningParameter(input)
	props := out["properties"].(map[string]any)
	assert.Contains(t, props, ReasoningField)
	assert.Contains(t, props, "query")
	assert.NotContains(t, input["properties"], ReasoningField)
	assert.Equal(t, []string{"query"}, out["required"])
}
