package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteConversationsSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    payload_json TEXT NOT NULL,
    updated_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists conversations in a SQLite database.
//
// Reads are served from an InMemoryStore that is loaded on open. Every
// mutation writes the full conversation as one JSON row before it is
// committed in memory.
type SQLiteStore struct {
	*InMemoryStore

	mu     sync.RWMutex
	dsn    string
	db     *sql.DB
	closed bool
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite conversation store: empty dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{
		InMemoryStore: NewInMemoryStore(),
		dsn:           dsn,
		db:            db,
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.loadFromDB(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.InMemoryStore.persist = s.persistConversation
	s.InMemoryStore.remove = s.deleteConversation
	return s, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(sqliteConversationsSchemaV1); err != nil {
		return errors.Wrap(err, "could not migrate conversations schema")
	}
	return nil
}

func (s *SQLiteStore) loadFromDB() error {
	rows, err := s.db.Query(`SELECT id, payload_json FROM conversations ORDER BY updated_at_ms DESC`)
	if err != nil {
		return err
	}
	defer func() {
		_ = rows.Close()
	}()

	for rows.Next() {
		var id string
		var payload string
		if err := rows.Scan(&id, &payload); err != nil {
			return err
		}

		c := &Conversation{}
		if err := json.Unmarshal([]byte(payload), c); err != nil {
			return errors.Wrapf(err, "could not decode conversation %s", id)
		}
		if c.ID != id {
			return fmt.Errorf("sqlite conversation store: id mismatch payload=%q row=%q", c.ID, id)
		}
		if c.Messages == nil {
			c.Messages = []Message{}
		}
		s.InMemoryStore.conversations[c.ID] = &entry{conv: c}
	}
	return rows.Err()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return ErrStoreClosed
	}
	if s.db == nil {
		return fmt.Errorf("sqlite conversation store db is nil")
	}
	return nil
}

func (s *SQLiteStore) persistConversation(ctx context.Context, c *Conversation) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}

	payload, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO conversations (id, payload_json, updated_at_ms)
VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET payload_json = excluded.payload_json, updated_at_ms = excluded.updated_at_ms`,
		c.ID,
		string(payload),
		c.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *SQLiteStore) deleteConversation(ctx context.Context, id string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite conversation store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}
