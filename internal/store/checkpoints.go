package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

// Checkpoint is one immutable snapshot of a thread's full state.
//
// Checkpoint IDs are generated so that lexicographic order is creation order
// (see checkpoint id generation in the assistant package), which makes
// "latest" a simple MAX over the primary key. The state and metadata blobs
// are opaque here; only the conversation machine interprets them, and the
// same serialization is used on every read path.
type Checkpoint struct {
	ThreadID           string
	Namespace          string
	CheckpointID       string
	ParentCheckpointID string
	State              []byte
	Metadata           []byte
	CreatedAtUnixMs    int64
}

// PendingWrite is an uncommitted intermediate write recorded for an in-flight
// step, kept so a crash between "model requested tools" and "tool results
// recorded" can be diagnosed after restart.
type PendingWrite struct {
	Channel string
	Value   []byte
}

// PutCheckpoint upserts a checkpoint by (thread_id, namespace, checkpoint_id).
// Re-supplying the same id overwrites, which makes a retried write after a
// crash mid-save safe.
func (s *Store) PutCheckpoint(ctx context.Context, cp Checkpoint) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	cp.ThreadID = strings.TrimSpace(cp.ThreadID)
	cp.CheckpointID = strings.TrimSpace(cp.CheckpointID)
	cp.ParentCheckpointID = strings.TrimSpace(cp.ParentCheckpointID)
	if cp.ThreadID == "" || cp.CheckpointID == "" {
		return errors.New("missing thread or checkpoint id")
	}
	if len(cp.State) == 0 {
		cp.State = []byte("{}")
	}
	if len(cp.Metadata) == 0 {
		cp.Metadata = []byte("{}")
	}
	now := cp.CreatedAtUnixMs
	if now <= 0 {
		now = time.Now().UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO checkpoints(thread_id, namespace, checkpoint_id, parent_checkpoint_id, state_json, metadata_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(thread_id, namespace, checkpoint_id) DO UPDATE SET
  parent_checkpoint_id = excluded.parent_checkpoint_id,
  state_json           = excluded.state_json,
  metadata_json        = excluded.metadata_json
`, cp.ThreadID, cp.Namespace, cp.CheckpointID, cp.ParentCheckpointID, cp.State, cp.Metadata, now)
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// GetLatestCheckpoint returns the checkpoint with the highest checkpoint_id
// for the thread and namespace, or nil when the thread has none.
func (s *Store) GetLatestCheckpoint(ctx context.Context, threadID string, namespace string) (*Checkpoint, error) {
	return s.getCheckpoint(ctx, threadID, namespace, "")
}

// GetCheckpointByID returns a single checkpoint, or nil when absent.
func (s *Store) GetCheckpointByID(ctx context.Context, threadID string, namespace string, checkpointID string) (*Checkpoint, error) {
	checkpointID = strings.TrimSpace(checkpointID)
	if checkpointID == "" {
		return nil, errors.New("missing checkpoint id")
	}
	return s.getCheckpoint(ctx, threadID, namespace, checkpointID)
}

func (s *Store) getCheckpoint(ctx context.Context, threadID string, namespace string, checkpointID string) (*Checkpoint, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread id")
	}

	q := `
SELECT thread_id, namespace, checkpoint_id, parent_checkpoint_id, state_json, metadata_json, created_at_unix_ms
FROM checkpoints
WHERE thread_id = ? AND namespace = ?`
	args := []any{threadID, namespace}
	if checkpointID != "" {
		q += ` AND checkpoint_id = ?`
		args = append(args, checkpointID)
	} else {
		q += ` ORDER BY checkpoint_id DESC LIMIT 1`
	}

	var cp Checkpoint
	err := s.db.QueryRowContext(ctx, q, args...).Scan(
		&cp.ThreadID, &cp.Namespace, &cp.CheckpointID, &cp.ParentCheckpointID,
		&cp.State, &cp.Metadata, &cp.CreatedAtUnixMs,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return &cp, nil
}

// ListCheckpoints returns checkpoints newest-first. limit <= 0 means no limit.
// Each call re-queries; the result is a finite snapshot, not a live cursor.
func (s *Store) ListCheckpoints(ctx context.Context, threadID string, namespace string, limit int) ([]Checkpoint, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return nil, errors.New("missing thread id")
	}

	q := `
SELECT thread_id, namespace, checkpoint_id, parent_checkpoint_id, state_json, metadata_json, created_at_unix_ms
FROM checkpoints
WHERE thread_id = ? AND namespace = ?
ORDER BY checkpoint_id DESC`
	args := []any{threadID, namespace}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []Checkpoint
	for rows.Next() {
		var cp Checkpoint
		if err := rows.Scan(
			&cp.ThreadID, &cp.Namespace, &cp.CheckpointID, &cp.ParentCheckpointID,
			&cp.State, &cp.Metadata, &cp.CreatedAtUnixMs,
		); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

// PutPendingWrites persists the uncommitted writes for an in-flight task.
// Re-recording the same task replaces its previous writes.
func (s *Store) PutPendingWrites(ctx context.Context, threadID string, taskID string, writes []PendingWrite) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	threadID = strings.TrimSpace(threadID)
	taskID = strings.TrimSpace(taskID)
	if threadID == "" || taskID == "" {
		return errors.New("missing thread or task id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_writes WHERE thread_id = ? AND task_id = ?`, threadID, taskID); err != nil {
		return unavailable(err)
	}
	now := time.Now().UnixMilli()
	for i, w := range writes {
		value := w.Value
		if len(value) == 0 {
			value = []byte("null")
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO checkpoint_writes(thread_id, task_id, write_idx, channel, value_json, created_at_unix_ms)
VALUES(?, ?, ?, ?, ?, ?)
`, threadID, taskID, i, strings.TrimSpace(w.Channel), value, now); err != nil {
			return unavailable(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

// GetPendingWrites returns the recorded writes for a task in write order.
func (s *Store) GetPendingWrites(ctx context.Context, threadID string, taskID string) ([]PendingWrite, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT channel, value_json FROM checkpoint_writes
WHERE thread_id = ? AND task_id = ?
ORDER BY write_idx ASC
`, strings.TrimSpace(threadID), strings.TrimSpace(taskID))
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	var out []PendingWrite
	for rows.Next() {
		var w PendingWrite
		if err := rows.Scan(&w.Channel, &w.Value); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}
