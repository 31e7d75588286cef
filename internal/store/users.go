package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// EnsureUser creates the user row if it does not exist yet.
func (s *Store) EnsureUser(ctx context.Context, userKey string) error {
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
INSERT INTO users(user_key, timezone, created_at_unix_ms)
VALUES(?, 'UTC', ?)
ON CONFLICT(user_key) DO NOTHING
`, userKey, time.Now().UnixMilli())
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetUserTimezone returns the user's stored IANA timezone name.
// Unknown users and lookup failures read as "UTC"; callers never have to
// handle a missing timezone.
func (s *Store) GetUserTimezone(ctx context.Context, userKey string) string {
	if s == nil || s.db == nil {
		return "UTC"
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return "UTC"
	}
	var tz string
	err := s.db.QueryRowContext(ctx, `SELECT timezone FROM users WHERE user_key = ?`, userKey).Scan(&tz)
	if errors.Is(err, sql.ErrNoRows) || err != nil {
		return "UTC"
	}
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return "UTC"
	}
	return tz
}

// SetUserTimezone stores the user's IANA timezone name, creating the user
// row if needed.
func (s *Store) SetUserTimezone(ctx context.Context, userKey string, timezone string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userKey = strings.TrimSpace(userKey)
	timezone = strings.TrimSpace(timezone)
	if userKey == "" {
		return errors.New("missing user key")
	}
	if timezone == "" {
		timezone = "UTC"
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(user_key, timezone, created_at_unix_ms)
VALUES(?, ?, ?)
ON CONFLICT(user_key) DO UPDATE SET timezone = excluded.timezone
`, userKey, timezone, time.Now().UnixMilli())
	if err != nil {
		return unavailable(err)
	}
	return nil
}
