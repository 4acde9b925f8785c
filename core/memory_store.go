package core

import "context"

// MemoryStore persists named message sequences.
//
// Save always replaces the full sequence stored under key. No merge or locking
// semantics are provided: concurrent writers to the same key race and the last
// write wins. Load reports false when nothing was saved under key yet.
type MemoryStore interface {
	Load(ctx context.Context, key string) ([]Message, bool, error)
	Save(ctx context.Context, key string, msgs []Message) error
}
