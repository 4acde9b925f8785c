package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/generate"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/memory"
	"github.com/hupe1980/agentflow/model"
	"github.com/hupe1980/agentflow/telemetry"
	"github.com/hupe1980/agentflow/tool"
)

var (
	questionSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"question": map[string]any{"type": "string"}},
		"required":   []string{"question"},
	}
	answerSchema = map[string]any{
		"type":       "object",
		"properties": map[string]any{"answer": map[string]any{"type": "string"}},
		"required":   []string{"answer"},
	}
)

func questionPrompt(args map[string]any) (agent.Prompt, error) {
	q, _ := args["question"].(string)
	return agent.TextPrompt("Question: " + q), nil
}

func calcAgent(m model.Model, optFns ...func(o *agent.Options)) *agent.Agent {
	return agent.New(m, append([]func(o *agent.Options){func(o *agent.Options) {
		o.Description = "calc"
		o.System = agent.Static("You are a calculator.")
		o.Output = &agent.OutputSchema{Name: "answer", Schema: answerSchema}
		o.AsTool = &agent.AsTool{Input: agent.WithReasoningParameter(questionSchema), GetPrompt: questionPrompt}
	}}, optFns...)...)
}

func answeringModel() *model.MockModel {
	m := model.NewMockModel("calc-model", "mock")
	m.SetHandler(func(model.Request) model.MockTurn { return model.MockTurn{Text: `{"answer":"4"}`} })

	return m
}

func countToolTurns(msgs []core.Message) int {
	n := 0

	for _, m := range msgs {
		if m.Role == core.RoleTool {
			n++
		}
	}

	return n
}

// callingModel calls the "calc" tool once per turn until it has seen calls
// tool turns, then answers.
func callingModel(calls int) *model.MockModel {
	m := model.NewMockModel("root-model", "mock")
	m.SetHandler(func(req model.Request) model.MockTurn {
		if countToolTurns(req.Messages) >= calls {
			return model.MockTurn{Text: "All done."}
		}

		return model.MockTurn{ToolCalls: []core.ToolCall{{ID: core.NewID(), Name: "calc", Arguments: `{"question":"2+2"}`}}}
	})

	return m
}

func TestStreamChat_ScenarioA(t *testing.T) {
	sink := testutil.NewRecordingSink()
	rc := core.NewRunContext(testutil.NewHistory().User("Hi").Env(sink, nil))
	step := rc.Step()

	m := model.NewMockModel("root-model", "mock")
	m.Enqueue(model.MockTurn{Text: "Hello! How can I help you today?"})

	var finishedOn core.ExecutionContext

	eng := New(func(o *Options) {
		o.OnChatFinish = func(_ generate.FinishEvent, ec core.ExecutionContext) { finishedOn = ec }
	})

	res, err := eng.StreamChat(context.Background(), agent.New(m), step)
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())

	steps := res.Steps()
	require.Len(t, steps, 1)
	assert.NotEmpty(t, steps[0].Text)
	assert.Same(t, step, finishedOn.(*core.StepContext))

	stored, ok := step.Data()[StepsDataKey].([]generate.Step)
	require.True(t, ok)
	assert.Len(t, stored, 1)

	req := m.Requests()[0]
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "1", req.Messages[0].ID)

	assert.Eventually(t, func() bool { return len(sink.OfType(core.PartFinish)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sink.OfType(core.PartStepStart), 1, "result merged exactly once")
	assert.Equal(t, "Hello! How can I help you today?", sink.Text())
}

func TestStreamChat_ScenarioB(t *testing.T) {
	calcModel := answeringModel()
	rootModel := callingModel(1)

	root := agent.New(rootModel, func(o *agent.Options) {
		o.MaxSteps = 2
		o.Tools = map[string]agent.ToolEntry{"calc": agent.AgentOf(calcAgent(calcModel))}
	})

	rc := core.NewRunContext(testutil.NewHistory().User("What is 2+2?").Env(nil, nil))

	res, err := New().StreamChat(context.Background(), root, rc.Step())
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())

	steps := res.Steps()
	require.Len(t, steps, 2)
	require.Len(t, steps[0].ToolResults, 1)

	obj, ok := steps[0].ToolResults[0].Result.(map[string]any)
	require.True(t, ok, "structured output is returned directly")
	assert.Equal(t, "4", obj["answer"])
	assert.NotContains(t, obj, "success")

	calcReq := calcModel.Requests()[0]
	require.NotNil(t, calcReq.ResponseFormat)
	assert.Equal(t, "You are a calculator.", calcReq.System)
	require.Len(t, calcReq.Messages, 1)
	assert.Equal(t, "Question: 2+2", calcReq.Messages[0].Content)
	assert.Equal(t, "All done.", res.Text())
}

func TestStreamChat_ScenarioC(t *testing.T) {
	store := memory.NewInMemoryStore()
	calcModel := answeringModel()

	var afterFirst int

	rootModel := callingModel(2)
	rootModel.SetHandler(func(req model.Request) model.MockTurn {
		n := countToolTurns(req.Messages)
		if n == 1 {
			msgs, _, _ := store.Load(context.Background(), "calc")
			afterFirst = len(msgs)
		}

		if n >= 2 {
			return model.MockTurn{Text: "All done."}
		}

		return model.MockTurn{ToolCalls: []core.ToolCall{{ID: core.NewID(), Name: "calc", Arguments: `{"question":"2+2"}`}}}
	})

	root := agent.New(rootModel, func(o *agent.Options) {
		o.MaxSteps = 3
		o.Tools = map[string]agent.ToolEntry{"calc": agent.AgentOf(calcAgent(calcModel))}
	})

	rc := core.NewRunContext(testutil.NewHistory().User("Twice please").Env(nil, store))

	res, err := New().StreamChat(context.Background(), root, rc.Step())
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())

	assert.Equal(t, 2, afterFirst)

	saved, ok, err := store.Load(context.Background(), "calc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, saved, 4)
	assert.Equal(t, core.RoleUser, saved[0].Role)
	assert.Equal(t, `{"answer":"4"}`, saved[1].Content)
	assert.Equal(t, core.RoleAssistant, saved[3].Role)

	reqs := calcModel.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, saved[0].ID, reqs[1].Messages[0].ID)
	assert.Equal(t, saved[1].ID, reqs[1].Messages[1].ID)
	assert.Equal(t, "Question: 2+2", reqs[1].Messages[2].Content)
}

func TestStreamChat_ConfigurationErrors(t *testing.T) {
	rootModel := model.NewMockModel("root-model", "mock")

	noAsTool := agent.New(answeringModel(), func(o *agent.Options) { o.Description = "calc" })
	root := agent.New(rootModel, func(o *agent.Options) {
		o.Tools = map[string]agent.ToolEntry{"calc": agent.AgentOf(noAsTool)}
	})

	rc := core.NewRunContext(nil)

	_, err := New().StreamChat(context.Background(), root, rc.Step())
	assert.ErrorIs(t, err, agent.ErrMissingAsTool)
	assert.Equal(t, 0, rootModel.Calls())

	grandchild := agent.New(nil, func(o *agent.Options) {
		o.AsTool = &agent.AsTool{Input: questionSchema, GetPrompt: questionPrompt}
	})
	child := calcAgent(answeringModel(), func(o *agent.Options) {
		o.Tools = map[string]agent.ToolEntry{"helper": agent.AgentOf(grandchild)}
	})
	root = agent.New(rootModel, func(o *agent.Options) {
		o.Tools = map[string]agent.ToolEntry{"calc": agent.AgentOf(child)}
	})

	_, err = New().StreamChat(context.Background(), root, rc.Step())
	assert.ErrorIs(t, err, agent.ErrMissingDescription)
	assert.Equal(t, 0, rootModel.Calls())
}

func TestCreateLLMTool_Validation(t *testing.T) {
	eng := New()
	rc := core.NewRunContext(nil)

	_, err := eng.CreateLLMTool(agent.New(nil, func(o *agent.Options) { o.Description = "d" }), rc.Step())
	assert.ErrorIs(t, err, agent.ErrMissingAsTool)

	_, err = eng.CreateLLMTool(agent.New(nil, func(o *agent.Options) {
		o.AsTool = &agent.AsTool{GetPrompt: questionPrompt}
	}), rc.Step())
	assert.ErrorIs(t, err, agent.ErrMissingDescription)

	_, err = eng.CreateLLMTool(nil, rc.Step())
	assert.ErrorIs(t, err, agent.ErrMissingAsTool)

	tl, err := eng.CreateLLMTool(calcAgent(answeringModel()), rc.Step())
	require.NoError(t, err)
	assert.Equal(t, "calc", tl.Description())
	assert.Contains(t, tl.Parameters()["properties"], agent.ReasoningField)
}

func TestGenerateObject_MissingSchema(t *testing.T) {
	m := model.NewMockModel("m", "mock")

	_, err := New().GenerateObject(context.Background(), agent.New(m), core.NewRunContext(nil).Step(), agent.TextPrompt("x"))
	assert.ErrorIs(t, err, agent.ErrMissingOutputSchema)
	assert.Equal(t, 0, m.Calls())
}

func TestLLMTool_StrategySelection(t *testing.T) {
	ctx := context.Background()
	rc := core.NewRunContext(nil)
	eng := New()

	noop := tool.NewFunctionTool("noop", nil, func(context.Context, map[string]any) (any, error) { return "ok", nil })

	t.Run("tools and schema take the text path", func(t *testing.T) {
		m := model.NewMockModel("m", "mock")
		m.Enqueue(model.MockTurn{Text: "4"})

		a := calcAgent(m, func(o *agent.Options) {
			o.Tools = map[string]agent.ToolEntry{"noop": agent.ToolOf(noop)}
		})

		tl, err := eng.CreateLLMTool(a, rc.Step())
		require.NoError(t, err)

		out, err := tl.Execute(ctx, map[string]any{"question": "2+2"})
		require.NoError(t, err)
		assert.Equal(t, "4", out)
		assert.Nil(t, m.Requests()[0].ResponseFormat)
		assert.Len(t, m.Requests()[0].Tools, 1)
	})

	t.Run("no schema wraps the text", func(t *testing.T) {
		m := model.NewMockModel("m", "mock")
		m.Enqueue(model.MockTurn{Text: "four"})

		a := calcAgent(m, func(o *agent.Options) { o.Output = nil })

		tl, err := eng.CreateLLMTool(a, rc.Step())
		require.NoError(t, err)

		out, err := tl.Execute(ctx, map[string]any{"question": "2+2"})
		require.NoError(t, err)
		assert.Equal(t, ToolResponse{Response: "four", Success: true}, out)
	})
}

func TestLLMTool_FailureContainment(t *testing.T) {
	ctx := context.Background()
	rc := core.NewRunContext(nil)

	failing := model.NewMockModel("m", "mock")
	failing.Enqueue(model.MockTurn{Err: errors.New("model exploded")})

	tl, err := New().CreateLLMTool(calcAgent(failing), rc.Step())
	require.NoError(t, err)

	out, err := tl.Execute(ctx, map[string]any{"question": "2+2"})
	require.NoError(t, err)
	assert.Equal(t, ToolResponse{Response: "model exploded", Success: false}, out)

	out, err = tl.Execute(ctx, map[string]any{})
	require.NoError(t, err)

	resp, ok := out.(ToolResponse)
	require.True(t, ok)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Response, "question")

	panicking := calcAgent(answeringModel(), func(o *agent.Options) {
		o.AsTool = &agent.AsTool{Input: questionSchema, GetPrompt: func(map[string]any) (agent.Prompt, error) {
			panic("prompt builder broke")
		}}
	})

	tl, err = New().CreateLLMTool(panicking, rc.Step())
	require.NoError(t, err)

	out, err = tl.Execute(ctx, map[string]any{"question": "2+2"})
	require.NoError(t, err)
	assert.False(t, out.(ToolResponse).Success)
}

func TestStreamChat_NestedFailureDoesNotFailRun(t *testing.T) {
	failing := model.NewMockModel("calc-model", "mock")
	failing.SetHandler(func(model.Request) model.MockTurn { return model.MockTurn{Err: errors.New("rate limited")} })

	root := agent.New(callingModel(1), func(o *agent.Options) {
		o.MaxSteps = 2
		o.Tools = map[string]agent.ToolEntry{"calc": agent.AgentOf(calcAgent(failing))}
	})

	res, err := New().StreamChat(context.Background(), root, core.NewRunContext(nil).Step())
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())

	steps := res.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, ToolResponse{Response: "rate limited", Success: false}, steps[0].ToolResults[0].Result)
	assert.False(t, steps[0].ToolResults[0].IsError)
}

func TestLLMTool_Reasoning(t *testing.T) {
	sink := testutil.NewRecordingSink()
	rc := core.NewRunContext(&core.Environment{Sink: sink})

	tl, err := New().CreateLLMTool(calcAgent(answeringModel()), rc.Step())
	require.NoError(t, err)

	_, err = tl.Execute(context.Background(), map[string]any{"question": "2+2", "reasoning": "checking the math"})
	require.NoError(t, err)

	parts := sink.OfType(core.PartReasoning)
	require.Len(t, parts, 1)
	assert.Equal(t, "checking the math", parts[0].Text)
}

func TestGetTools_FreshSteps(t *testing.T) {
	rc := core.NewRunContext(nil)
	step := rc.Step()

	var (
		mu   sync.Mutex
		seen []core.ExecutionContext
	)

	factory := func(ec core.ExecutionContext) (tool.Tool, error) {
		mu.Lock()
		seen = append(seen, ec)
		mu.Unlock()

		return tool.NewFunctionTool("bound", nil, func(context.Context, map[string]any) (any, error) {
			ec.SetData(map[string]any{"called": true})
			return nil, nil
		}), nil
	}

	plain := tool.NewFunctionTool("plain", nil, func(context.Context, map[string]any) (any, error) { return nil, nil })

	set, err := New().GetTools(map[string]agent.ToolEntry{
		"a":     agent.FactoryOf(factory),
		"b":     agent.FactoryOf(factory),
		"calc":  agent.AgentOf(calcAgent(answeringModel())),
		"plain": agent.ToolOf(plain),
	}, step)
	require.NoError(t, err)

	assert.Len(t, set, 4)
	assert.Same(t, plain, set["plain"].(*tool.FunctionTool))
	assert.Len(t, step.Steps(), 3, "factories and agents each get a child step")

	require.Len(t, seen, 2)

	first := seen[0].(*core.StepContext)
	second := seen[1].(*core.StepContext)
	assert.NotEqual(t, first.Index(), second.Index())
	assert.Equal(t, 2, first.Depth())

	_, err = set["a"].Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, true, first.Data()["called"])
	assert.Empty(t, second.Data())

	empty, err := New().GetTools(nil, step)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestGetTools_FactoryError(t *testing.T) {
	boom := errors.New("no credentials")

	_, err := New().GetTools(map[string]agent.ToolEntry{
		"search": agent.FactoryOf(func(core.ExecutionContext) (tool.Tool, error) { return nil, boom }),
	}, core.NewRunContext(nil))
	assert.ErrorIs(t, err, boom)
}

func TestStreamChat_StepCallback(t *testing.T) {
	rc := core.NewRunContext(nil)
	step := rc.Step()

	var (
		mu    sync.Mutex
		steps int
		ctxs  []core.ExecutionContext
	)

	eng := New(func(o *Options) {
		o.OnChatStepFinish = ChainStepFinish(
			LoggingStepFinish(nil),
			func(_ generate.Step, ec core.ExecutionContext) {
				mu.Lock()
				defer mu.Unlock()
				steps++
				ctxs = append(ctxs, ec)
			},
		)
	})

	root := agent.New(callingModel(1), func(o *agent.Options) {
		o.MaxSteps = 2
		o.Tools = map[string]agent.ToolEntry{"calc": agent.AgentOf(calcAgent(answeringModel()))}
	})

	res, err := eng.StreamChat(context.Background(), root, step)
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())

	assert.Equal(t, 2, steps)
	for _, ec := range ctxs {
		assert.Same(t, step, ec.(*core.StepContext))
	}
}

func TestStreamChat_Telemetry(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))

	m := model.NewMockModel("m", "mock")
	m.Enqueue(model.MockTurn{Text: "traced"})

	root := agent.New(m, func(o *agent.Options) {
		o.Name = "root"
		o.Telemetry = telemetry.WithSettings(telemetry.Settings{FunctionID: "chat"})
	})

	eng := New(func(o *Options) {
		o.Telemetry = telemetry.Enabled(true)
		o.Tracer = tp.Tracer("test")
	})

	res, err := eng.StreamChat(context.Background(), root, core.NewRunContext(nil).Step())
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ai.streamText", spans[0].Name)

	var functionID string
	for _, kv := range spans[0].Attributes {
		if kv.Key == "ai.telemetry.functionId" {
			functionID = kv.Value.AsString()
		}
	}

	assert.Equal(t, "chat", functionID)

	exp.Reset()

	m.Enqueue(model.MockTurn{Text: "untraced"})

	res, err = New(func(o *Options) { o.Tracer = tp.Tracer("test") }).StreamChat(context.Background(), root, core.NewRunContext(nil).Step())
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())
	assert.Empty(t, exp.GetSpans())
}

func TestSerializeMemoryKeys(t *testing.T) {
	store := memory.NewInMemoryStore()

	rootModel := model.NewMockModel("root-model", "mock")
	rootModel.SetHandler(func(req model.Request) model.MockTurn {
		if countToolTurns(req.Messages) > 0 {
			return model.MockTurn{Text: "done"}
		}

		return model.MockTurn{ToolCalls: []core.ToolCall{
			{ID: "1", Name: "calc", Arguments: `{"question":"1+1"}`},
			{ID: "2", Name: "calc", Arguments: `{"question":"2+2"}`},
		}}
	})

	root := agent.New(rootModel, func(o *agent.Options) {
		o.MaxSteps = 2
		o.Tools = map[string]agent.ToolEntry{"calc": agent.AgentOf(calcAgent(answeringModel()))}
	})

	eng := New(func(o *Options) { o.SerializeMemoryKeys = true })

	res, err := eng.StreamChat(context.Background(), root, core.NewRunContext(&core.Environment{Memory: store}).Step())
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())

	saved, _, err := store.Load(context.Background(), "calc")
	require.NoError(t, err)
	assert.Len(t, saved, 4, "no sibling turn is lost")
	assert.Equal(t, 0, eng.locks.len())
}

func TestKeyLocks(t *testing.T) {
	locks := newKeyLocks()

	var (
		wg     sync.WaitGroup
		inside int
		maxIn  int
		mu     sync.Mutex
	)

	for i := 0; i < 10; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			unlock := locks.Lock("calc")
			defer unlock()

			mu.Lock()
			inside++
			if inside > maxIn {
				maxIn = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, maxIn)
	assert.Equal(t, 0, locks.len())

	unlockA := locks.Lock("a")
	unlockB := locks.Lock("b")
	assert.Equal(t, 2, locks.len())
	unlockA()
	unlockB()
}
