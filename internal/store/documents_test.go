package store

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "orbit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetDocument_Absent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	text, version, err := s.GetDocument(ctx, "profile:nobody")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if text != "" || version != 0 {
		t.Fatalf("expected empty document, got text=%q version=%d", text, version)
	}
}

func TestCompareAndSetDocument_CreateThenUpdate(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	key := "profile:u1"

	ok, err := s.CompareAndSetDocument(ctx, key, "likes tea", 0)
	if err != nil {
		t.Fatalf("CompareAndSetDocument create: %v", err)
	}
	if !ok {
		t.Fatalf("expected create to succeed")
	}

	text, version, err := s.GetDocument(ctx, key)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if text != "likes tea" || version != 1 {
		t.Fatalf("got text=%q version=%d", text, version)
	}

	ok, err = s.CompareAndSetDocument(ctx, key, "likes tea and hikes", 1)
	if err != nil {
		t.Fatalf("CompareAndSetDocument update: %v", err)
	}
	if !ok {
		t.Fatalf("expected update at version 1 to succeed")
	}

	text, version, err = s.GetDocument(ctx, key)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if text != "likes tea and hikes" || version != 2 {
		t.Fatalf("got text=%q version=%d", text, version)
	}
}

func TestCompareAndSetDocument_StaleVersionFails(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	key := "profile:u2"

	if ok, err := s.CompareAndSetDocument(ctx, key, "v1", 0); err != nil || !ok {
		t.Fatalf("create: ok=%v err=%v", ok, err)
	}
	if ok, err := s.CompareAndSetDocument(ctx, key, "v2", 1); err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}

	// A writer still holding version 1 must lose without error.
	ok, err := s.CompareAndSetDocument(ctx, key, "stale write", 1)
	if err != nil {
		t.Fatalf("stale CompareAndSetDocument: %v", err)
	}
	if ok {
		t.Fatalf("expected stale write to be rejected")
	}

	text, version, err := s.GetDocument(ctx, key)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if text != "v2" || version != 2 {
		t.Fatalf("stale write mutated document: text=%q version=%d", text, version)
	}
}

func TestCompareAndSetDocument_CreateRace(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	key := "profile:u3"

	if ok, err := s.CompareAndSetDocument(ctx, key, "first", 0); err != nil || !ok {
		t.Fatalf("first create: ok=%v err=%v", ok, err)
	}
	// Second creator with expected version 0 loses.
	ok, err := s.CompareAndSetDocument(ctx, key, "second", 0)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if ok {
		t.Fatalf("expected second create to be rejected")
	}
}

func TestProfileHistory_AppendAndList(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendProfileHistory(ctx, "u1", "doc v1", "agent tool update"); err != nil {
		t.Fatalf("AppendProfileHistory: %v", err)
	}
	if err := s.AppendProfileHistory(ctx, "u1", "doc v2", "memory consolidation (rewrite)"); err != nil {
		t.Fatalf("AppendProfileHistory: %v", err)
	}
	if err := s.AppendProfileHistory(ctx, "other", "other doc", "agent tool update"); err != nil {
		t.Fatalf("AppendProfileHistory: %v", err)
	}

	entries, err := s.ListProfileHistory(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListProfileHistory: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].NewDocument != "doc v2" {
		t.Fatalf("expected newest first, got %q", entries[0].NewDocument)
	}
	if entries[1].ChangeReason != "agent tool update" {
		t.Fatalf("got reason %q", entries[1].ChangeReason)
	}
}
