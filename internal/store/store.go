package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrUnavailable wraps backend I/O failures so callers can tell them apart
// from a compare-and-set version conflict (which is a plain false return).
var ErrUnavailable = errors.New("store unavailable")

// Store is the local SQLite-backed persistence layer for the assistant core:
// profile documents (versioned CAS rows), conversation checkpoints, pending
// step writes, user records, and the profile history audit log.
//
// WAL is enabled so concurrent readers do not block the single writer.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS documents (
  doc_key            TEXT PRIMARY KEY,
  doc_text           TEXT NOT NULL,
  version            INTEGER NOT NULL,
  updated_at_unix_ms INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
  thread_id            TEXT NOT NULL,
  namespace            TEXT NOT NULL,
  checkpoint_id        TEXT NOT NULL,
  parent_checkpoint_id TEXT NOT NULL DEFAULT '',
  state_json           BLOB NOT NULL,
  metadata_json        BLOB NOT NULL,
  created_at_unix_ms   INTEGER NOT NULL,
  PRIMARY KEY (thread_id, namespace, checkpoint_id)
)`,
		`CREATE TABLE IF NOT EXISTS checkpoint_writes (
  thread_id          TEXT NOT NULL,
  task_id            TEXT NOT NULL,
  write_idx          INTEGER NOT NULL,
  channel            TEXT NOT NULL,
  value_json         BLOB NOT NULL,
  created_at_unix_ms INTEGER NOT NULL,
  PRIMARY KEY (thread_id, task_id, write_idx)
)`,
		`CREATE TABLE IF NOT EXISTS users (
  user_key           TEXT PRIMARY KEY,
  timezone           TEXT NOT NULL DEFAULT 'UTC',
  created_at_unix_ms INTEGER NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS profile_history (
  id                 INTEGER PRIMARY KEY AUTOINCREMENT,
  user_key           TEXT NOT NULL,
  new_document       TEXT NOT NULL,
  change_reason      TEXT NOT NULL,
  created_at_unix_ms INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_profile_history_user ON profile_history(user_key, id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
