package testutil

import (
	"fmt"

	"github.com/hupe1980/agentflow/core"
)

// HistoryBuilder provides a fluent helper for constructing conversation
// histories in tests. Messages get deterministic ids "1", "2", ... unless
// an id is given explicitly.
//
//	h := testutil.NewHistory().User("Hi").Assistant("Hello!").Build()
type HistoryBuilder struct {
	msgs []core.Message
}

// NewHistory creates an empty builder.
func NewHistory() *HistoryBuilder { return &HistoryBuilder{} }

func (b *HistoryBuilder) add(role core.Role, content string) *HistoryBuilder {
	b.msgs = append(b.msgs, core.Message{
		ID:      fmt.Sprintf("%d", len(b.msgs)+1),
		Role:    role,
		Content: content,
	})

	return b
}

// User appends a user message (chainable).
func (b *HistoryBuilder) User(content string) *HistoryBuilder { return b.add(core.RoleUser, content) }

// Assistant appends an assistant message (chainable).
func (b *HistoryBuilder) Assistant(content string) *HistoryBuilder {
	return b.add(core.RoleAssistant, content)
}

// System appends a system message (chainable).
func (b *HistoryBuilder) System(content string) *HistoryBuilder {
	return b.add(core.RoleSystem, content)
}

// WithID overrides the id of the last appended message (chainable).
func (b *HistoryBuilder) WithID(id string) *HistoryBuilder {
	if n := len(b.msgs); n > 0 {
		b.msgs[n-1].ID = id
	}

	return b
}

// Build returns a copy of the accumulated messages.
func (b *HistoryBuilder) Build() []core.Message { return core.CloneMessages(b.msgs) }

// Env creates an Environment with the accumulated history.
func (b *HistoryBuilder) Env(sink core.Sink, memory core.MemoryStore) *core.Environment {
	return &core.Environment{Sink: sink, History: b.Build(), Memory: memory}
}
