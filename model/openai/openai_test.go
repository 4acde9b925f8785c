package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentflow/core"
	"github.com/hupe1980/agentflow/model"
)

type recorder struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (r *recorder) body(i int) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bodies[i]
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.bodies)
}

func newTestModel(t *testing.T, handler http.HandlerFunc) (*Model, *recorder) {
	t.Helper()

	rec := &recorder{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)

		var body map[string]any
		_ = json.Unmarshal(b, &body)

		rec.mu.Lock()
		rec.bodies = append(rec.bodies, body)
		rec.mu.Unlock()

		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	m := NewModel(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL
		o.ClientOptions = []option.RequestOption{option.WithMaxRetries(0)}
	})

	return m, rec
}

func collect(t *testing.T, respCh <-chan model.Response, errCh <-chan error) ([]model.Response, error) {
	t.Helper()

	var out []model.Response
	for r := range respCh {
		out = append(out, r)
	}

	return out, <-errCh
}

func TestGenerate_NonStreaming(t *testing.T) {
	m, bodies := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{"id": "call_1", "type": "function", "function": {"name": "calc", "arguments": "{\"q\":\"2+2\"}"}}]
				}
			}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 3, "total_tokens": 10}
		}`)
	})

	respCh, errCh := m.Generate(context.Background(), model.Request{
		System: "be brief",
		Messages: []core.Message{
			{ID: "1", Role: core.RoleUser, Content: "what is 2+2?"},
		},
		Tools:      []model.ToolDefinition{{Name: "calc", Description: "calculator", Parameters: map[string]any{"type": "object"}}},
		ToolChoice: model.SpecificTool("calc"),
	})

	out, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, out, 1)

	final := out[0]
	assert.False(t, final.Partial)
	assert.Equal(t, "tool_calls", final.FinishReason)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, core.ToolCall{ID: "call_1", Name: "calc", Arguments: `{"q":"2+2"}`}, final.ToolCalls[0])
	assert.Equal(t, &core.Usage{PromptTokens: 7, CompletionTokens: 3, TotalTokens: 10}, final.Usage)

	require.Equal(t, 1, bodies.len())
	body := bodies.body(0)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	choice, ok := body["tool_choice"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "calc", choice["function"].(map[string]any)["name"])
}

func TestGenerate_ToolTurns(t *testing.T) {
	m, bodies := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"4"}}]}`)
	})

	respCh, errCh := m.Generate(context.Background(), model.Request{
		Messages: []core.Message{
			{Role: core.RoleUser, Content: "2+2?"},
			{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{{ID: "call_1", Name: "calc", Arguments: `{}`}}},
			{Role: core.RoleTool, ToolResults: []core.ToolResult{{CallID: "call_1", Name: "calc", Result: map[string]any{"response": "4"}}}},
		},
	})

	out, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "4", out[0].Text)

	msgs := bodies.body(0)["messages"].([]any)
	require.Len(t, msgs, 3)

	tool := msgs[2].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Equal(t, `{"response":"4"}`, tool["content"])
}

func TestGenerate_ResponseFormat(t *testing.T) {
	m, bodies := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"a\":1}"}}]}`)
	})

	respCh, errCh := m.Generate(context.Background(), model.Request{
		Messages:       []core.Message{{Role: core.RoleUser, Content: "json please"}},
		ResponseFormat: &model.ResponseFormat{Name: "object", Schema: map[string]any{"type": "object"}},
	})

	out, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out[0].Text)

	rf, ok := bodies.body(0)["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", rf["type"])
}

func TestGenerate_Streaming(t *testing.T) {
	chunks := []string{
		`{"id":"s","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"role":"assistant","content":"Hel"}}]}`,
		`{"id":"s","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"lo"}}]}`,
		`{"id":"s","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"calc","arguments":"{\"q\":"}}]}}]}`,
		`{"id":"s","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"1}"}}]},"finish_reason":"tool_calls"}]}`,
		`{"id":"s","object":"chat.completion.chunk","created":1,"model":"m","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`,
	}

	m, bodies := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")

		for _, c := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\n\n", c)
		}

		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	respCh, errCh := m.Generate(context.Background(), model.Request{
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
		Stream:   true,
	})

	out, err := collect(t, respCh, errCh)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	var text strings.Builder

	var deltas []model.ToolCallDelta

	for _, r := range out[:len(out)-1] {
		assert.True(t, r.Partial)
		text.WriteString(r.Text)
		deltas = append(deltas, r.ToolCallDeltas...)
	}

	assert.Equal(t, "Hello", text.String())
	require.Len(t, deltas, 2)
	assert.Equal(t, "calc", deltas[1].Name)

	final := out[len(out)-1]
	assert.False(t, final.Partial)
	assert.Equal(t, "Hello", final.Text)
	assert.Equal(t, "tool_calls", final.FinishReason)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, `{"q":1}`, final.ToolCalls[0].Arguments)
	assert.Equal(t, 3, final.Usage.TotalTokens)

	assert.Equal(t, true, bodies.body(0)["stream"])
}

func TestGenerate_APIError(t *testing.T) {
	m, _ := newTestModel(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	})

	respCh, errCh := m.Generate(context.Background(), model.Request{
		Messages: []core.Message{{Role: core.RoleUser, Content: "hi"}},
	})

	out, err := collect(t, respCh, errCh)
	assert.Empty(t, out)
	assert.ErrorContains(t, err, "openai api error")
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "x"; o.Model = "gpt-4o" })
	assert.Equal(t, model.Info{Name: "gpt-4o", Provider: "openai", SupportsTools: true}, m.Info())
}
