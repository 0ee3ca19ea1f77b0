package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, id);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	filename    TEXT NOT NULL,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_documents_session ON documents(session_id);
`

// Message is one stored conversation turn.
type Message struct {
	ID        int64     `db:"id" json:"id"`
	SessionID string    `db:"session_id" json:"session_id"`
	Role      string    `db:"role" json:"role"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Document is one registry row for an uploaded file.
type Document struct {
	ID         string    `db:"id" json:"id"`
	SessionID  string    `db:"session_id" json:"session_id"`
	Filename   string    `db:"filename" json:"filename"`
	ChunkCount int       `db:"chunk_count" json:"chunk_count"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Store keeps per-session chat history and the uploaded-document registry in
// SQLite. History is an audit/context concern, not the retrieval index; the
// two stores deliberately share nothing.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the database at cfg.Path, creating the
// schema on first use.
func Open(cfg Config) (*Store, error) {
	cfg.applyDefaults()
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("prepare history directory: %w", err)
		}
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)", cfg.Path, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendMessage records one conversation turn for the session.
func (s *Store) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content) VALUES (?, ?, ?)`,
		sessionID, role, content,
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecentMessages returns up to n most recent turns for the session in
// chronological order.
func (s *Store) RecentMessages(ctx context.Context, sessionID string, n int) ([]Message, error) {
	if n <= 0 {
		return nil, nil
	}
	var out []Message
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM (
			SELECT id, session_id, role, content, created_at
			FROM messages WHERE session_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		sessionID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	return out, nil
}

// RecordDocument registers an uploaded file and its resulting chunk count.
func (s *Store) RecordDocument(ctx context.Context, doc Document) error {
	if strings.TrimSpace(doc.ID) == "" || strings.TrimSpace(doc.SessionID) == "" {
		return errors.New("document id and session id required")
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO documents (id, session_id, filename, chunk_count)
		 VALUES (:id, :session_id, :filename, :chunk_count)`,
		doc,
	)
	if err != nil {
		return fmt.Errorf("record document: %w", err)
	}
	return nil
}

// SessionDocuments lists the registered uploads for a session, oldest first.
func (s *Store) SessionDocuments(ctx context.Context, sessionID string) ([]Document, error) {
	var out []Document
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, session_id, filename, chunk_count, created_at
		 FROM documents WHERE session_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return out, nil
}

// ClearSession removes all history and registry rows for the session.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	return nil
}
