package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// GetDocument returns the current text and version for a document key.
// An absent row is not an error: it reads as empty text at version 0, so the
// first successful CompareAndSetDocument for a new key uses expected 0.
func (s *Store) GetDocument(ctx context.Context, key string) (string, int64, error) {
	if s == nil || s.db == nil {
		return "", 0, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", 0, errors.New("missing document key")
	}

	var text string
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT doc_text, version FROM documents WHERE doc_key = ?`, key).Scan(&text, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", 0, nil
	}
	if err != nil {
		return "", 0, unavailable(err)
	}
	return text, version, nil
}

// CompareAndSetDocument atomically replaces the document iff the stored
// version equals expectedVersion, advancing the version by exactly 1.
// It returns false (and no error) on a version conflict; the write is a
// single conditional statement so there is no read-then-write window.
//
// Stored rows always carry version >= 1: expected 0 means "no row yet", and
// the insert-or-update below only takes effect when that still holds.
func (s *Store) CompareAndSetDocument(ctx context.Context, key string, newText string, expectedVersion int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, errors.New("missing document key")
	}
	if expectedVersion < 0 {
		return false, errors.New("negative expected version")
	}

	now := time.Now().UnixMilli()

	if expectedVersion == 0 {
		res, err := s.db.ExecContext(ctx, `
INSERT INTO documents(doc_key, doc_text, version, updated_at_unix_ms)
VALUES(?, ?, 1, ?)
ON CONFLICT(doc_key) DO NOTHING
`, key, newText, now)
		if err != nil {
			return false, unavailable(err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, unavailable(err)
		}
		return n == 1, nil
	}

	res, err := s.db.ExecContext(ctx, `
UPDATE documents
SET doc_text = ?, version = version + 1, updated_at_unix_ms = ?
WHERE doc_key = ? AND version = ?
`, newText, now, key, expectedVersion)
	if err != nil {
		return false, unavailable(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable(err)
	}
	return n == 1, nil
}
