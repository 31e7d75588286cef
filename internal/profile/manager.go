// Package profile implements the user-profile document layer: a single
// versioned text document per user acting as the assistant's long-term
// memory, updated only through optimistic compare-and-set.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultText is the sentinel document for a user with no stored profile.
const DefaultText = "New user. No preferences learned yet."

// NoUpdateSentinel is what the consolidation model returns when the existing
// profile already covers everything in the transcript.
const NoUpdateSentinel = "NO_UPDATE"

const (
	appendFactAttempts = 3
	appendFactBackoff  = 500 * time.Millisecond
)

// ErrContention is returned by AppendFact after its retry budget is
// exhausted. The fact was NOT stored; callers must not treat this as a
// silent drop.
var ErrContention = errors.New("profile update failed after retries: high contention")

// DocumentStore is the persistence surface the manager needs: the generic
// CAS document primitive plus the append-only audit log.
type DocumentStore interface {
	GetDocument(ctx context.Context, key string) (string, int64, error)
	CompareAndSetDocument(ctx context.Context, key string, newText string, expectedVersion int64) (bool, error)
	AppendProfileHistory(ctx context.Context, userKey string, newDocument string, changeReason string) error
}

// Completer runs one plain-text model call with no tool binding.
type Completer func(ctx context.Context, prompt string) (string, error)

// TranscriptMessage is one rendered line of conversation handed to
// consolidation.
type TranscriptMessage struct {
	Role string
	Text string
}

type ConsolidateOutcome string

const (
	ConsolidateUpdated   ConsolidateOutcome = "updated"
	ConsolidateNoChanges ConsolidateOutcome = "no_changes"
	ConsolidateConflict  ConsolidateOutcome = "conflict"
)

type Manager struct {
	store    DocumentStore
	complete Completer
	log      *slog.Logger

	sleep func(time.Duration)
}

func NewManager(store DocumentStore, complete Completer, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		complete: complete,
		log:      logger.With("component", "profile"),
		sleep:    time.Sleep,
	}
}

// ReadProfile returns the user's document text and version. A user with no
// stored row reads as the default sentinel text at version 0.
func (m *Manager) ReadProfile(ctx context.Context, userKey string) (string, int64, error) {
	if m == nil || m.store == nil {
		return "", 0, errors.New("profile manager not initialized")
	}
	text, version, err := m.store.GetDocument(ctx, userKey)
	if err != nil {
		return "", 0, err
	}
	if strings.TrimSpace(text) == "" {
		text = DefaultText
	}
	return text, version, nil
}

// UpdateProfile attempts one CAS replace of the whole document. On success
// it appends an audit entry best-effort: an audit failure is logged and
// swallowed, never propagated, because losing the trail must not lose the
// primary update. Returns false on a version conflict; the caller owns the
// retry policy.
func (m *Manager) UpdateProfile(ctx context.Context, userKey string, newText string, expectedVersion int64, reason string) (bool, error) {
	if m == nil || m.store == nil {
		return false, errors.New("profile manager not initialized")
	}
	ok, err := m.store.CompareAndSetDocument(ctx, userKey, newText, expectedVersion)
	if err != nil {
		return false, err
	}
	if !ok {
		m.log.Warn("profile update conflict", "user_key", userKey, "expected_version", expectedVersion)
		return false, nil
	}
	if histErr := m.store.AppendProfileHistory(ctx, userKey, newText, reason); histErr != nil {
		m.log.Error("profile history write failed", "user_key", userKey, "err", histErr)
	}
	return true, nil
}

// AppendFact appends one fact line to the document with a bounded
// read-append-CAS retry loop: up to 3 attempts with a fixed 500ms backoff
// between them. A nil return means the fact is durably present in the
// document at some version at or above the version the call started at;
// exhausting the budget reports ErrContention instead of dropping the fact.
func (m *Manager) AppendFact(ctx context.Context, userKey string, fact string) error {
	if m == nil || m.store == nil {
		return errors.New("profile manager not initialized")
	}
	fact = strings.TrimSpace(fact)
	if fact == "" {
		return errors.New("empty fact")
	}

	for attempt := 1; attempt <= appendFactAttempts; attempt++ {
		text, version, err := m.ReadProfile(ctx, userKey)
		if err != nil {
			return err
		}
		newText := text + "\n- " + fact

		ok, err := m.UpdateProfile(ctx, userKey, newText, version, "agent tool update")
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		m.log.Warn("append fact conflict, retrying", "user_key", userKey, "attempt", attempt, "max_attempts", appendFactAttempts)
		if attempt < appendFactAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			m.sleep(appendFactBackoff)
		}
	}
	return ErrContention
}

// Consolidate merges a batch of early conversation messages into the
// document: it renders the transcript, asks the model for a full rewrite
// (newer information wins, stale content dropped), re-reads the current
// version immediately before writing, and makes exactly one CAS attempt.
// A lost race is reported as ConsolidateConflict and not retried: the same
// messages will be covered by a later consolidation pass, so a single
// attempt is enough.
func (m *Manager) Consolidate(ctx context.Context, userKey string, early []TranscriptMessage) (ConsolidateOutcome, error) {
	if m == nil || m.store == nil {
		return "", errors.New("profile manager not initialized")
	}
	if m.complete == nil {
		return "", errors.New("no consolidation model configured")
	}
	if len(early) == 0 {
		return ConsolidateNoChanges, nil
	}

	currentText, _, err := m.ReadProfile(ctx, userKey)
	if err != nil {
		return "", err
	}

	prompt := consolidationPrompt(currentText, renderTranscript(early))
	reply, err := m.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("consolidation model call: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" || strings.Contains(reply, NoUpdateSentinel) {
		return ConsolidateNoChanges, nil
	}

	// Read fresh immediately before the write so the expected version is as
	// current as it can be without holding a lock across the model call.
	_, version, err := m.store.GetDocument(ctx, userKey)
	if err != nil {
		return "", err
	}
	ok, err := m.UpdateProfile(ctx, userKey, reply, version, "memory consolidation (rewrite)")
	if err != nil {
		return "", err
	}
	if !ok {
		m.log.Info("consolidation lost the version race, deferring to a later pass", "user_key", userKey)
		return ConsolidateConflict, nil
	}
	m.log.Info("profile consolidated", "user_key", userKey)
	return ConsolidateUpdated, nil
}

func renderTranscript(msgs []TranscriptMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		role := strings.TrimSpace(msg.Role)
		if role == "" {
			role = "unknown"
		}
		lines = append(lines, role+": "+strings.TrimSpace(msg.Text))
	}
	return strings.Join(lines, "\n")
}

func consolidationPrompt(currentProfile string, transcript string) string {
	return fmt.Sprintf(`You maintain a user profile document for a personal assistant.

### Current profile
%s

### Recent conversation
%s

Rewrite the full profile so it includes any new durable facts or preferences
from the conversation. Resolve contradictions in favor of the newer
information and drop content the conversation shows is stale. Return only
the rewritten profile as plain structured prose. If the conversation adds
nothing worth keeping, return exactly %s.`, currentProfile, transcript, NoUpdateSentinel)
}
