// Package store provides message persistence for the comms service.
package store

import (
	"context"
	"errors"

	"github.com/afs-fleetpro/comms/internal/domain"
)

// ErrInvalidMessage is returned when a message fails validation before write.
var ErrInvalidMessage = errors.New("store: invalid message")

// MessageStore is the persistence surface the realtime layer depends on.
// Implementations assign the message id on insert and return it.
type MessageStore interface {
	// InsertMessage persists a message and returns its assigned id.
	InsertMessage(ctx context.Context, msg *domain.Message) (string, error)

	// UpdateConversationLastMessage records msg as the conversation's most
	// recent message and bumps its updated-at timestamp. When
	// incrementUnread is true the conversation's unread counter is
	// incremented. Updating a conversation that does not exist is a no-op.
	UpdateConversationLastMessage(ctx context.Context, conversationID string, msg *domain.Message, incrementUnread bool) error

	// InsertNotification persists a notification and returns its assigned id.
	InsertNotification(ctx context.Context, n *domain.Notification) (string, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
