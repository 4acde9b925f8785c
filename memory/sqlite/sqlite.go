// Package sqlite provides a durable core.MemoryStore backed by SQLite through
// the pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/hupe1980/agentflow/core"
)

// Store keeps one row per memory key holding the JSON encoded message list.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the database at path. Use ":memory:"
// for a private in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if path == ":memory:" {
		// Every pooled connection would otherwise see its own database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS agent_memory (
		key TEXT PRIMARY KEY,
		messages TEXT NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}

	return s.db.Close()
}

// Load implements core.MemoryStore.
func (s *Store) Load(ctx context.Context, key string) ([]core.Message, bool, error) {
	var raw string

	err := s.db.QueryRowContext(ctx, `SELECT messages FROM agent_memory WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("load memory %q: %w", key, err)
	}

	var msgs []core.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, false, fmt.Errorf("decode memory %q: %w", key, err)
	}

	return msgs, true, nil
}

// Save implements core.MemoryStore. The stored list is replaced in full.
func (s *Store) Save(ctx context.Context, key string, msgs []core.Message) error {
	if msgs == nil {
		msgs = []core.Message{}
	}

	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode memory %q: %w", key, err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO agent_memory (key, messages) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET messages = excluded.messages, updated_at = datetime('now')`,
		key, string(raw))
	if err != nil {
		return fmt.Errorf("save memory %q: %w", key, err)
	}

	return nil
}

var _ core.MemoryStore = (*Store)(nil)
