package agentflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/agent"
	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/engine"
	"github.com/hupe1980/agentflow/generate"
	"github.com/hupe1980/agentflow/internal/testutil"
	"github.com/hupe1980/agentflow/memory"
	"github.com/hupe1980/agentflow/model"
)

func TestRunSync(t *testing.T) {
	m := model.NewMockModel("root", "mock")
	m.Enqueue(model.MockTurn{Text: "Hello there"})

	var finished int

	flow := New(func(o *Options) {
		o.OnChatFinish = func(generate.FinishEvent, core.ExecutionContext) { finished++ }
	})

	sink := testutil.NewRecordingSink()

	rc, steps, err := flow.RunSync(context.Background(), agent.New(m), testutil.NewHistory().User("Hi").Env(sink, nil))
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "Hello there", steps[0].Text)
	assert.Equal(t, 1, finished)

	children := rc.Steps()
	require.Len(t, children, 1)

	stored, ok := children[0].Data()[engine.StepsDataKey].([]generate.Step)
	require.True(t, ok)
	assert.Len(t, stored, 1)

	assert.Equal(t, "Hello there", sink.Text())
}

func TestRunSync_WaitsForSlowSink(t *testing.T) {
	m := model.NewMockModel("root", "mock")
	m.Enqueue(model.MockTurn{Text: "one two three four five"})

	var (
		mu      sync.Mutex
		written []core.StreamPart
	)

	sink := core.SinkFunc(func(p core.StreamPart) error {
		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()

		written = append(written, p)

		return nil
	})

	_, _, err := New().RunSync(context.Background(), agent.New(m), testutil.NewHistory().User("count").Env(sink, nil))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.NotEmpty(t, written)
	assert.Equal(t, core.PartFinish, written[len(written)-1].Type)

	var text string
	for _, p := range written {
		if p.Type == core.PartTextDelta {
			text += p.Text
		}
	}

	assert.Equal(t, "one two three four five", text)
}

func TestRun_NilAgent(t *testing.T) {
	_, _, err := New().Run(context.Background(), nil, nil)
	assert.ErrorIs(t, err, engine.ErrNilAgent)
}

func TestRun_MemoryIsOptIn(t *testing.T) {
	m := model.NewMockModel("root", "mock")
	m.Enqueue(model.MockTurn{Text: "ok"})

	rc, res, err := New().Run(context.Background(), agent.New(m), &core.Environment{})
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())
	assert.Nil(t, rc.Environment().Memory)
}

func TestRun_ConfiguredMemory(t *testing.T) {
	store := memory.NewInMemoryStore()
	flow := New(func(o *Options) { o.MemoryStore = store })

	m := model.NewMockModel("root", "mock")
	m.Enqueue(model.MockTurn{Text: "ok"})

	rc, res, err := flow.Run(context.Background(), agent.New(m), &core.Environment{})
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())
	assert.Same(t, store, rc.Environment().Memory)

	own := memory.NewInMemoryStore()
	m.Enqueue(model.MockTurn{Text: "ok"})

	rc, res, err = flow.Run(context.Background(), agent.New(m), &core.Environment{Memory: own})
	require.NoError(t, err)
	require.NoError(t, res.ConsumeStream())
	assert.Same(t, own, rc.Environment().Memory)
}
