package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/afs-fleetpro/comms/internal/domain"
)

// SQLiteMessageStore implements MessageStore backed by SQLite.
type SQLiteMessageStore struct {
	db *DB
}

// NewSQLiteMessageStore creates a message store using the given database.
func NewSQLiteMessageStore(db *DB) *SQLiteMessageStore {
	return &SQLiteMessageStore{db: db}
}

// InsertMessage persists a message and returns its assigned id.
func (s *SQLiteMessageStore) InsertMessage(ctx context.Context, msg *domain.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(msg.Metadata) > 0 {
		if data, err := json.Marshal(msg.Metadata); err == nil {
			metadata = sql.NullString{String: string(data), Valid: true}
		}
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, sender_type, message_type, content, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.SenderID, string(msg.SenderType), string(msg.MessageType),
		msg.Content, metadata, msg.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("inserting message: %w", err)
	}
	return msg.ID, nil
}

// UpdateConversationLastMessage records msg as the conversation's latest
// message. A missing conversation row is a no-op, matching the upstream
// document store's update semantics.
func (s *SQLiteMessageStore) UpdateConversationLastMessage(ctx context.Context, conversationID string, msg *domain.Message, incrementUnread bool) error {
	last, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding last message: %w", err)
	}

	bump := 0
	if incrementUnread {
		bump = 1
	}

	_, err = s.db.sql.ExecContext(ctx,
		`UPDATE conversations
		 SET last_message = ?, updated_at = ?, unread_count = unread_count + ?
		 WHERE id = ?`,
		string(last), time.Now().UTC().Format(time.RFC3339Nano), bump, conversationID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation %s: %w", conversationID, err)
	}
	return nil
}

// InsertNotification persists a notification and returns its assigned id.
func (s *SQLiteMessageStore) InsertNotification(ctx context.Context, n *domain.Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(n.Metadata) > 0 {
		if data, err := json.Marshal(n.Metadata); err == nil {
			metadata = sql.NullString{String: string(data), Valid: true}
		}
	}

	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, type, content, link, metadata, read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Type, n.Content, n.Link, metadata, boolToInt(n.Read),
		n.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("inserting notification: %w", err)
	}
	return n.ID, nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteMessageStore) Ping(ctx context.Context) error {
	return s.db.sql.PingContext(ctx)
}

// CreateConversation inserts a conversation row so realtime messages have
// a parent to update. Used by operational tooling and tests.
func (s *SQLiteMessageStore) CreateConversation(ctx context.Context, id, customerID, title string) error {
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO conversations (id, customer_id, title, status, created_at, updated_at)
		 VALUES (?, ?, ?, 'open', ?, ?)`,
		id, customerID, title, now, now,
	)
	if err != nil {
		return fmt.Errorf("creating conversation: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
