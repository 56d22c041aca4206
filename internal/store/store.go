// Package store persists conversations and messages in SQLite.
//
// It is the system of record behind the gateway's cached reads: the
// gateway consumes it through the Storage interface, the server writes
// through it directly and invalidates the derived cache entries
// afterwards.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/foyerhq/foyer/internal/gateway"
	foyerotel "github.com/foyerhq/foyer/internal/otel"
)

var tracer = foyerotel.Tracer("github.com/foyerhq/foyer/internal/store")

// ErrConversationNotFound is returned when a conversation does not exist.
var ErrConversationNotFound = errors.New("conversation not found")

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    identity TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    id TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL REFERENCES conversations(id),
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_identity ON conversations(identity);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at);
`

// Store persists conversations and messages in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the conversation database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening conversation database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating conversation schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation owned by identity.
func (s *Store) CreateConversation(ctx context.Context, identity, title string) (*gateway.Conversation, error) {
	ctx, span := tracer.Start(ctx, "store.create_conversation",
		trace.WithAttributes(attribute.String("identity", identity)))
	defer span.End()

	now := time.Now().UTC()
	conv := &gateway.Conversation{
		ID:        "conv_" + uuid.New().String()[:12],
		Identity:  identity,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, identity, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Identity, conv.Title, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	span.SetAttributes(attribute.String("conversation.id", conv.ID))
	return conv, nil
}

// Conversation retrieves a single conversation by ID.
func (s *Store) Conversation(ctx context.Context, id string) (*gateway.Conversation, error) {
	ctx, span := tracer.Start(ctx, "store.get_conversation",
		trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	var c gateway.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, identity, title, created_at, updated_at FROM conversations WHERE id = ?`, id).
		Scan(&c.ID, &c.Identity, &c.Title, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return &c, nil
}

// Conversations returns identity's conversations, most recently active
// first.
func (s *Store) Conversations(ctx context.Context, identity string) ([]gateway.Conversation, error) {
	ctx, span := tracer.Start(ctx, "store.list_conversations",
		trace.WithAttributes(attribute.String("identity", identity)))
	defer span.End()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, identity, title, created_at, updated_at
		 FROM conversations WHERE identity = ?
		 ORDER BY updated_at DESC, rowid DESC`, identity)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var results []gateway.Conversation
	for rows.Next() {
		var c gateway.Conversation
		if err := rows.Scan(&c.ID, &c.Identity, &c.Title, &c.CreatedAt, &c.UpdatedAt); err != nil {
			continue
		}
		results = append(results, c)
	}

	span.SetAttributes(attribute.Int("conversation.count", len(results)))
	return results, rows.Err()
}

// AppendMessage appends one turn to a conversation and bumps the
// conversation's updated_at, inside a single transaction. Returns
// ErrConversationNotFound for an unknown conversation.
func (s *Store) AppendMessage(ctx context.Context, conversationID, role, content string) (*gateway.Message, error) {
	ctx, span := tracer.Start(ctx, "store.append_message",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("message.role", role),
		))
	defer span.End()

	now := time.Now().UTC()
	msg := &gateway.Message{
		ID:             "msg_" + uuid.New().String()[:12],
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking conversation: %w", err)
	}
	if exists == 0 {
		return nil, ErrConversationNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("appending message: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, conversationID); err != nil {
		return nil, fmt.Errorf("touching conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing message: %w", err)
	}

	span.SetAttributes(attribute.String("message.id", msg.ID))
	return msg, nil
}

// Messages returns one page of a conversation's messages in
// chronological order.
func (s *Store) Messages(ctx context.Context, conversationID string, page gateway.Page) ([]gateway.Message, error) {
	ctx, span := tracer.Start(ctx, "store.list_messages",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page.limit", page.Limit),
			attribute.Int("page.offset", page.Offset),
		))
	defer span.End()

	page = page.Normalize()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at ASC, rowid ASC
		 LIMIT ? OFFSET ?`, conversationID, page.Limit, page.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var results []gateway.Message
	for rows.Next() {
		var m gateway.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			continue
		}
		results = append(results, m)
	}

	span.SetAttributes(attribute.Int("message.count", len(results)))
	return results, rows.Err()
}

// MessageCount returns the number of messages in a conversation.
func (s *Store) MessageCount(ctx context.Context, conversationID string) (int, error) {
	ctx, span := tracer.Start(ctx, "store.message_count",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	defer span.End()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, conversationID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting messages: %w", err)
	}

	span.SetAttributes(attribute.Int("message.count", count))
	return count, nil
}

// RecentMessages returns the last limit messages of a conversation in
// chronological order. Used to assemble the context window for
// generation.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]gateway.Message, error) {
	ctx, span := tracer.Start(ctx, "store.recent_messages",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("limit", limit),
		))
	defer span.End()

	if limit <= 0 {
		limit = gateway.DefaultPageLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent messages: %w", err)
	}
	defer rows.Close()

	var newest []gateway.Message
	for rows.Next() {
		var m gateway.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			continue
		}
		newest = append(newest, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order
	results := make([]gateway.Message, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		results = append(results, newest[i])
	}
	return results, nil
}

// Stats reports table totals for the preflight report.
func (s *Store) Stats(ctx context.Context) (conversations, messages int, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&conversations)
	if err != nil {
		return 0, 0, fmt.Errorf("counting conversations: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&messages)
	if err != nil {
		return 0, 0, fmt.Errorf("counting messages: %w", err)
	}
	return conversations, messages, nil
}
