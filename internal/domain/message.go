// Package domain defines the message envelopes relayed by the comms service.
package domain

import (
	"errors"
	"time"
)

// SenderType classifies who authored a message.
type SenderType string

const (
	SenderUser     SenderType = "user"
	SenderCustomer SenderType = "customer"
	SenderSystem   SenderType = "system"
)

// MessageType classifies message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageSystem   MessageType = "system"
)

// ErrEmptyContent is returned when a message carries no content.
var ErrEmptyContent = errors.New("message content is required")

// Message is one message in a conversation. The realtime layer treats it
// as an opaque envelope: it is persisted and relayed but never mutated
// after creation.
type Message struct {
	ID             string         `json:"id,omitempty"`
	ConversationID string         `json:"conversation_id"`
	SenderID       string         `json:"sender_id"`
	SenderType     SenderType     `json:"sender_type"`
	MessageType    MessageType    `json:"message_type"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
}

// Validate checks the fields the persistence layer requires.
func (m *Message) Validate() error {
	if m.Content == "" {
		return ErrEmptyContent
	}
	if m.ConversationID == "" {
		return errors.New("conversation id is required")
	}
	if m.SenderID == "" {
		return errors.New("sender id is required")
	}
	return nil
}
