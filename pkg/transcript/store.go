// Package transcript persists finalized chat messages to a local SQLite
// database. It plugs into chat.Client through the Recorder interface and is
// entirely optional; the client works without any local persistence.
package transcript

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/journi-app/journi-go/pkg/chat"
	"github.com/journi-app/journi-go/pkg/wire"
)

// Store is a SQLite-backed transcript recorder.
type Store struct {
	db *sql.DB
}

var _ chat.Recorder = &Store{}

// DSNForFile derives a SQLite DSN with WAL and a busy timeout from a plain
// file path.
func DSNForFile(path string) string {
	return "file:" + url.PathEscape(path) + "?_journal_mode=WAL&_busy_timeout=5000"
}

// NewStore opens (and migrates) the transcript database at the given DSN.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("transcript store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open transcript db")
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chat_messages (
			session_id    TEXT NOT NULL,
			message_id    TEXT NOT NULL,
			kind          TEXT NOT NULL,
			author_id     TEXT NOT NULL DEFAULT '',
			content       TEXT NOT NULL,
			has_image     INTEGER NOT NULL DEFAULT 0,
			created_at_ms INTEGER NOT NULL,
			tool_trace    TEXT,
			PRIMARY KEY (session_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_chat_messages_session
			ON chat_messages (session_id, created_at_ms);
	`)
	return errors.Wrap(err, "migrate transcript schema")
}

// Record inserts one finalized message. Re-recording the same message id is
// a no-op so best-effort retries stay idempotent.
func (s *Store) Record(ctx context.Context, sessionID string, msg chat.Message) error {
	if s == nil || s.db == nil {
		return errors.New("transcript store: db is nil")
	}
	var trace any
	if len(msg.ToolTrace) > 0 {
		b, err := json.Marshal(msg.ToolTrace)
		if err != nil {
			return errors.Wrap(err, "encode tool trace")
		}
		trace = string(b)
	}
	hasImage := 0
	if msg.HasImage {
		hasImage = 1
	}
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_messages
			(session_id, message_id, kind, author_id, content, has_image, created_at_ms, tool_trace)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, message_id) DO NOTHING
	`, sessionID, msg.ID, string(msg.Kind), msg.AuthorID, msg.Content, hasImage, createdAt.UnixMilli(), trace)
	return errors.Wrap(err, "insert transcript message")
}

// Messages returns a session's recorded messages in chronological order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]chat.Message, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("transcript store: db is nil")
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, kind, author_id, content, has_image, created_at_ms, tool_trace
		FROM chat_messages
		WHERE session_id = ?
		ORDER BY created_at_ms ASC, message_id ASC
	`, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "query transcript messages")
	}
	defer func() { _ = rows.Close() }()

	var out []chat.Message
	for rows.Next() {
		var (
			msg       chat.Message
			kind      string
			hasImage  int
			createdMs int64
			trace     sql.NullString
		)
		if err := rows.Scan(&msg.ID, &kind, &msg.AuthorID, &msg.Content, &hasImage, &createdMs, &trace); err != nil {
			return nil, errors.Wrap(err, "scan transcript row")
		}
		msg.Kind = chat.MessageKind(kind)
		msg.HasImage = hasImage != 0
		msg.CreatedAt = time.UnixMilli(createdMs)
		if trace.Valid && trace.String != "" {
			var steps []wire.ThinkingStep
			if err := json.Unmarshal([]byte(trace.String), &steps); err != nil {
				return nil, errors.Wrap(err, "decode tool trace")
			}
			msg.ToolTrace = steps
		}
		out = append(out, msg)
	}
	return out, errors.Wrap(rows.Err(), "iterate transcript rows")
}
