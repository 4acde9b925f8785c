package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/agentflow/core"
)

// InMemoryStore is a process-local MemoryStore. Sequences are copied on save
// and on load, so callers never share slices with the store.
//
// Concurrency: protected by RWMutex. Concurrent saves to one key are last
// write wins.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]core.Message
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]core.Message)}
}

// Load returns the sequence stored under key. ok is false when nothing was
// saved under key yet.
func (m *InMemoryStore) Load(_ context.Context, key string) ([]core.Message, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}

	return core.CloneMessages(msgs), true, nil
}

// Save replaces the sequence stored under key.
func (m *InMemoryStore) Save(_ context.Context, key string, msgs []core.Message) error {
	cp := core.CloneMessages(msgs)
	if cp == nil {
		cp = []core.Message{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = cp

	return nil
}

// Keys returns the number of stored keys.
func (m *InMemoryStore) Keys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

var _ core.MemoryStore = (*InMemoryStore)(nil)
