// Package conversation persists conversation logs in sqlite so a follow-up
// question can continue where the last run stopped.
package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"finagent/internal/domain"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store implements domain.ConversationStore. Messages are append-only and
// ordered by a per-conversation sequence number.
type Store struct {
	db    *sql.DB
	newID func() string
	now   func() time.Time
}

// New migrates the schema on db. newID generates conversation ids; nil
// uses a fresh ULID. The caller owns db.
func New(ctx context.Context, db *sql.DB, newID func() string) (*Store, error) {
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}
	if err := migrate(ctx, db); err != nil {
		return nil, fmt.Errorf("migrate conversations: %w", err)
	}
	return &Store{db: db, newID: newID, now: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS conversation_messages (
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			tool_calls      TEXT NOT NULL DEFAULT '[]',
			tool_call_id    TEXT NOT NULL DEFAULT '',
			name            TEXT NOT NULL DEFAULT '',
			is_error        INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		);
	`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Create implements domain.ConversationStore.
func (s *Store) Create(ctx context.Context) (string, error) {
	id := s.newID()
	now := s.now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO conversations (id, created_at, updated_at) VALUES (?, ?, ?)",
		id, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return id, nil
}

// Load implements domain.ConversationStore. An unknown id yields
// domain.ErrConversationMiss.
func (s *Store) Load(ctx context.Context, id string) ([]domain.Message, error) {
	if err := s.ensureExists(ctx, s.db, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, tool_calls, tool_call_id, name, is_error, created_at
		 FROM conversation_messages WHERE conversation_id = ? ORDER BY seq`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	defer rows.Close()

	msgs := []domain.Message{}
	for rows.Next() {
		var (
			m         domain.Message
			role      string
			calls     string
			isError   int
			createdAt string
		)
		if err := rows.Scan(&role, &m.Content, &calls, &m.ToolCallID, &m.Name, &isError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = domain.Role(role)
		m.IsError = isError != 0
		if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		if len(m.ToolCalls) == 0 {
			m.ToolCalls = nil
		}
		m.Timestamp, _ = time.Parse(timeLayout, createdAt)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Append implements domain.ConversationStore. All messages land in one
// transaction or none do.
func (s *Store) Append(ctx context.Context, id string, msgs []domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.ensureExists(ctx, tx, id); err != nil {
		return err
	}

	var next int
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), -1) + 1 FROM conversation_messages WHERE conversation_id = ?", id,
	).Scan(&next); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO conversation_messages
			(conversation_id, seq, role, content, tool_calls, tool_call_id, name, is_error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i, m := range msgs {
		if !m.Role.Valid() {
			return domain.NewDomainError("conversation.Append", domain.ErrInvalidInput,
				fmt.Sprintf("message %d has unknown role %q", i, m.Role))
		}
		calls := []byte("[]")
		if len(m.ToolCalls) > 0 {
			if calls, err = json.Marshal(m.ToolCalls); err != nil {
				return fmt.Errorf("encode tool calls: %w", err)
			}
		}
		ts := m.Timestamp
		if ts.IsZero() {
			ts = s.now()
		}
		isError := 0
		if m.IsError {
			isError = 1
		}
		if _, err := stmt.ExecContext(ctx,
			id, next+i, string(m.Role), m.Content, string(calls), m.ToolCallID, m.Name, isError,
			ts.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE conversations SET updated_at = ? WHERE id = ?",
		s.now().UTC().Format(timeLayout), id,
	); err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	return tx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) ensureExists(ctx context.Context, q queryer, id string) error {
	var one int
	err := q.QueryRowContext(ctx, "SELECT 1 FROM conversations WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewDomainError("conversation", domain.ErrConversationMiss, id)
	}
	if err != nil {
		return fmt.Errorf("lookup conversation %s: %w", id, err)
	}
	return nil
}

var _ domain.ConversationStore = (*Store)(nil)
