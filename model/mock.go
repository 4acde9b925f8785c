package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentflow/core"
)

// MockTurn scripts one model turn of a MockModel.
type MockTurn struct {
	Text         string
	Reasoning    string
	ToolCalls    []core.ToolCall
	Sources      []core.Source
	Usage        *core.Usage
	FinishReason string
	// Err fails the turn after any scripted partial output was sent.
	Err error
}

// MockModel is a lightweight in-memory Model useful for tests and examples.
//
// Turns are served from the queue filled by Enqueue. A Handler, when set,
// takes precedence. Otherwise a canned response registered with AddResponse
// for the last user message is used, falling back to an echo. Every request
// is recorded.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	queue     []MockTurn
	handler   func(Request) MockTurn
	requests  []Request
}

// NewMockModel constructs a MockModel with tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends scripted turns.
func (m *MockModel) Enqueue(turns ...MockTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, turns...)
}

// SetHandler installs a function computing each turn from the request.
func (m *MockModel) SetHandler(fn func(Request) MockTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = fn
}

// Requests returns the recorded requests in call order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Request(nil), m.requests...)
}

// Calls returns the number of Generate invocations.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

func (m *MockModel) next(req Request) MockTurn {
	req.Messages = core.CloneMessages(req.Messages)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	h := m.handler
	m.mu.Unlock()

	if h != nil {
		return h(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.queue) > 0 {
		turn := m.queue[0]
		m.queue = m.queue[1:]

		return turn
	}

	input := lastUserText(req.Messages)
	if canned, ok := m.responses[input]; ok {
		return MockTurn{Text: canned}
	}

	return MockTurn{Text: fmt.Sprintf("Mock response to: %s", input)}
}

func lastUserText(msgs []core.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == core.RoleUser {
			return msgs[i].Content
		}
	}

	return ""
}

// Generate implements Model. In streaming mode it emits the reasoning, then
// the text word by word, then tool call deltas, before the final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		turn := m.next(req)

		send := func(r Response) bool {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return false
			case respCh <- r:
				return true
			}
		}

		if req.Stream {
			if turn.Reasoning != "" && !send(Response{Partial: true, Reasoning: turn.Reasoning}) {
				return
			}

			for _, w := range strings.SplitAfter(turn.Text, " ") {
				if w == "" {
					continue
				}

				if !send(Response{Partial: true, Text: w}) {
					return
				}
			}

			for i, tc := range turn.ToolCalls {
				if !send(Response{Partial: true, ToolCallDeltas: []ToolCallDelta{{Index: i, ID: tc.ID, Name: tc.Name, ArgsDelta: tc.Arguments}}}) {
					return
				}
			}

			if len(turn.Sources) > 0 && !send(Response{Partial: true, Sources: turn.Sources}) {
				return
			}
		}

		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		finish := turn.FinishReason
		if finish == "" {
			finish = "stop"
			if len(turn.ToolCalls) > 0 {
				finish = "tool_calls"
			}
		}

		final := Response{
			Partial:      false,
			Text:         turn.Text,
			ToolCalls:    turn.ToolCalls,
			FinishReason: finish,
			Usage:        turn.Usage,
		}

		if !req.Stream {
			final.Reasoning = turn.Reasoning
			final.Sources = turn.Sources
		}

		send(final)
	}()

	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

var _ Model = (*MockModel)(nil)
