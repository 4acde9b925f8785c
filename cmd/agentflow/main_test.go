package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

func noEnv(string) (string, bool) { return "", false }

// lockedBuffer is written by the logger and the reasoning sink concurrently.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

type app struct {
	stdout bytes.Buffer
	stderr lockedBuffer
	mock   *model.MockModel
}

func newApp(stdin string) (*app, AppOptions) {
	a := &app{mock: model.NewMockModel("mock", "mock")}

	return a, AppOptions{
		ModelFactory: func(string, string) (model.Model, error) { return a.mock, nil },
		Stdin:        strings.NewReader(stdin),
		Stdout:       &a.stdout,
		Stderr:       &a.stderr,
		LookupEnv:    noEnv,
	}
}

func execute(opts AppOptions, args ...string) error {
	cmd := newRootCmd(opts)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(os.TempDir(), "agentflow-missing.env")))

	return cmd.ExecuteContext(context.Background())
}

func TestChat_SingleMessage(t *testing.T) {
	a, opts := newApp("")
	a.mock.Enqueue(model.MockTurn{Text: "Hi there"})

	require.NoError(t, execute(opts, "chat", "-m", "hello", "--system", "Today is {{.date}}."))

	assert.Equal(t, "Hi there\n", a.stdout.String())

	req := a.mock.Requests()[0]
	assert.True(t, strings.HasPrefix(req.System, "Today is 2"), req.System)
	assert.Len(t, req.Tools, 2)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hello", req.Messages[0].Content)
}

func TestChat_REPLKeepsHistory(t *testing.T) {
	a, opts := newApp("first\n\nsecond\nexit\n")
	a.mock.Enqueue(model.MockTurn{Text: "one"}, model.MockTurn{Text: "two"})

	require.NoError(t, execute(opts, "chat"))

	out := a.stdout.String()
	assert.Contains(t, out, "one\n")
	assert.Contains(t, out, "two\n")

	reqs := a.mock.Requests()
	require.Len(t, reqs, 2)
	require.Len(t, reqs[1].Messages, 3)
	assert.Equal(t, core.RoleAssistant, reqs[1].Messages[1].Role)
	assert.Equal(t, "one", reqs[1].Messages[1].Content)
}

func TestChat_AgentToolReasoning(t *testing.T) {
	a, opts := newApp("")
	a.mock.Enqueue(
		model.MockTurn{ToolCalls: []core.ToolCall{{
			ID:        "c1",
			Name:      "summarize",
			Arguments: `{"text":"long text","reasoning":"condensing the input"}`,
		}}},
		model.MockTurn{Text: "short"},
		model.MockTurn{Text: "Here is the summary: short"},
	)

	require.NoError(t, execute(opts, "chat", "-m", "summarize this"))

	assert.Contains(t, a.stdout.String(), "Here is the summary: short")
	assert.Contains(t, a.stderr.String(), "[condensing the input]")
	assert.Equal(t, 3, a.mock.Calls())
}

func TestChat_UnknownProvider(t *testing.T) {
	_, opts := newApp("")
	opts.ModelFactory = DefaultModelFactory

	err := execute(opts, "chat", "-p", "nope", "-m", "hi")
	assert.ErrorContains(t, err, `unknown provider "nope"`)
}

func TestConfigCommand(t *testing.T) {
	a, opts := newApp("")
	opts.LookupEnv = func(k string) (string, bool) {
		if k == "AGENTFLOW_MEMORY_BACKEND" {
			return "none", true
		}

		return "", false
	}

	require.NoError(t, execute(opts, "config"))

	out := a.stdout.String()
	assert.Contains(t, out, "environment: development")
	assert.Contains(t, out, "backend: none")
}

func TestDefaultModelFactory(t *testing.T) {
	for _, p := range []string{"openai", "anthropic", "mock"} {
		m, err := DefaultModelFactory(p, "")
		require.NoError(t, err, p)
		assert.Equal(t, p, m.Info().Provider)
	}
}
