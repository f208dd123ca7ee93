package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/afs-fleetpro/comms/internal/domain"
)

// MemoryMessageStore implements MessageStore entirely in memory.
// Used for tests and the `store.driver: memory` configuration.
type MemoryMessageStore struct {
	mu            sync.Mutex
	messages      []domain.Message
	notifications []domain.Notification
	lastMessage   map[string]domain.Message
	unread        map[string]int

	// FailInserts forces InsertMessage to fail; tests use it to exercise
	// the persistence-error path.
	FailInserts bool
}

// NewMemoryMessageStore creates an empty in-memory store.
func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{
		lastMessage: make(map[string]domain.Message),
		unread:      make(map[string]int),
	}
}

// InsertMessage appends a message and returns its assigned id.
func (s *MemoryMessageStore) InsertMessage(ctx context.Context, msg *domain.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailInserts {
		return "", fmt.Errorf("memory store: inserts disabled")
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	s.messages = append(s.messages, *msg)
	return msg.ID, nil
}

// UpdateConversationLastMessage records the conversation's latest message.
func (s *MemoryMessageStore) UpdateConversationLastMessage(ctx context.Context, conversationID string, msg *domain.Message, incrementUnread bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastMessage[conversationID] = *msg
	if incrementUnread {
		s.unread[conversationID]++
	}
	return nil
}

// InsertNotification appends a notification and returns its assigned id.
func (s *MemoryMessageStore) InsertNotification(ctx context.Context, n *domain.Notification) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.notifications = append(s.notifications, *n)
	return n.ID, nil
}

// Ping always succeeds.
func (s *MemoryMessageStore) Ping(ctx context.Context) error { return nil }

// Messages returns a copy of all persisted messages in insert order.
func (s *MemoryMessageStore) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Notifications returns a copy of all persisted notifications.
func (s *MemoryMessageStore) Notifications() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, len(s.notifications))
	copy(out, s.notifications)
	return out
}

// LastMessage returns the recorded last message for a conversation.
func (s *MemoryMessageStore) LastMessage(conversationID string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.lastMessage[conversationID]
	return m, ok
}

// UnreadCount returns the unread counter for a conversation.
func (s *MemoryMessageStore) UnreadCount(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread[conversationID]
}
