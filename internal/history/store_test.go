package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := Config{Path: filepath.Join(t.TempDir(), "history.db"), BusyTimeout: time.Second}
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecentMessagesWindow(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turns := []struct{ role, content string }{
		{"user", "first question"},
		{"assistant", "first answer"},
		{"user", "second question"},
		{"assistant", "second answer"},
		{"user", "third question"},
		{"assistant", "third answer"},
	}
	for _, turn := range turns {
		if err := store.AppendMessage(ctx, "session-1", turn.role, turn.content); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := store.AppendMessage(ctx, "session-2", "user", "other session"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	recent, err := store.RecentMessages(ctx, "session-1", 4)
	if err != nil {
		t.Fatalf("recent failed: %v", err)
	}
	if len(recent) != 4 {
		t.Fatalf("expected window of 4, got %d", len(recent))
	}
	if recent[0].Content != "second question" {
		t.Fatalf("window must start at the oldest kept turn, got %q", recent[0].Content)
	}
	if recent[3].Content != "third answer" {
		t.Fatalf("window must end at the newest turn, got %q", recent[3].Content)
	}
	for _, msg := range recent {
		if msg.SessionID != "session-1" {
			t.Fatalf("foreign session leaked into window: %+v", msg)
		}
	}

	if got, err := store.RecentMessages(ctx, "session-1", 0); err != nil || got != nil {
		t.Fatalf("n=0 should return nothing, got %v, %v", got, err)
	}
}

func TestAppendMessageRequiresSession(t *testing.T) {
	store := newTestStore(t)
	if err := store.AppendMessage(context.Background(), "  ", "user", "hi"); err == nil {
		t.Fatalf("expected error for blank session")
	}
}

func TestDocumentRegistry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := Document{ID: "d1", SessionID: "session-1", Filename: "report.pdf", ChunkCount: 12}
	second := Document{ID: "d2", SessionID: "session-1", Filename: "notes.txt", ChunkCount: 3}
	if err := store.RecordDocument(ctx, first); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.RecordDocument(ctx, second); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	listed, err := store.SessionDocuments(ctx, "session-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 documents, got %d", len(listed))
	}
	if listed[0].Filename != "report.pdf" || listed[0].ChunkCount != 12 {
		t.Fatalf("unexpected first document: %+v", listed[0])
	}

	other, err := store.SessionDocuments(ctx, "session-2")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("registry must be session scoped, got %v", other)
	}
}

func TestClearSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.AppendMessage(ctx, "session-1", "user", "hello"); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := store.RecordDocument(ctx, Document{ID: "d1", SessionID: "session-1", Filename: "a.pdf"}); err != nil {
		t.Fatalf("record failed: %v", err)
	}
	if err := store.AppendMessage(ctx, "session-2", "user", "keep me"); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	if err := store.ClearSession(ctx, "session-1"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	msgs, err := store.RecentMessages(ctx, "session-1", 10)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("cleared session still has messages: %v, %v", msgs, err)
	}
	documents, err := store.SessionDocuments(ctx, "session-1")
	if err != nil || len(documents) != 0 {
		t.Fatalf("cleared session still has documents: %v, %v", documents, err)
	}
	kept, err := store.RecentMessages(ctx, "session-2", 10)
	if err != nil || len(kept) != 1 {
		t.Fatalf("other sessions must survive a clear: %v, %v", kept, err)
	}
}
