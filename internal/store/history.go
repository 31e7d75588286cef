package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ProfileHistoryEntry is one append-only audit record of a profile document
// update. Entries are never rewritten; losing one must never roll back the
// document update it describes.
type ProfileHistoryEntry struct {
	ID              int64
	UserKey         string
	NewDocument     string
	ChangeReason    string
	CreatedAtUnixMs int64
}

// AppendProfileHistory records one audit entry for a successful document
// update.
func (s *Store) AppendProfileHistory(ctx context.Context, userKey string, newDocument string, changeReason string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return errors.New("missing user key")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO profile_history(user_key, new_document, change_reason, created_at_unix_ms)
VALUES(?, ?, ?, ?)
`, userKey, newDocument, strings.TrimSpace(changeReason), time.Now().UnixMilli())
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// ListProfileHistory returns a user's audit entries newest-first.
// limit <= 0 means no limit.
func (s *Store) ListProfileHistory(ctx context.Context, userKey string, limit int) ([]ProfileHistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return nil, errors.New("missing user key")
	}

	q := `
SELECT id, user_key, new_document, change_reason, created_at_unix_ms
FROM profile_history
WHERE user_key = ?
ORDER BY id DESC`
	args := []any{userKey}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []ProfileHistoryEntry
	for rows.Next() {
		var e ProfileHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserKey, &e.NewDocument, &e.ChangeReason, &e.CreatedAtUnixMs); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
