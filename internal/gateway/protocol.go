package gateway

import (
	"encoding/json"
	"errors"

	"github.com/afs-fleetpro/comms/internal/domain"
)

// Server-to-client frame types.
const (
	FrameTypeMessageSent  = "message_sent"
	FrameTypeMessage      = "message"
	FrameTypeNotification = "notification"
)

// ErrMissingContent marks a client frame without the required content field.
var ErrMissingContent = errors.New("missing content field")

// ClientFrame is a client-to-server message submission.
type ClientFrame struct {
	Content     string         `json:"content"`
	MessageType string         `json:"message_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ParseClientFrame decodes and validates an inbound frame. The content
// field must be present and non-empty: a blank message would fail store
// validation anyway, so it is rejected here as malformed rather than
// surfaced later as a persistence error. message_type defaults to "text".
func ParseClientFrame(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ClientFrame{}, err
	}
	if f.Content == "" {
		return ClientFrame{}, ErrMissingContent
	}
	if f.MessageType == "" {
		f.MessageType = string(domain.MessageText)
	}
	return f, nil
}

// Outbound is a server-to-client frame. The concrete variants below are
// the complete protocol surface; each marshals to its exact wire shape.
type Outbound interface {
	outbound()
}

// AckFrame confirms a persisted message to its sender only.
type AckFrame struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
}

func (AckFrame) outbound() {}

// NewAck builds the acknowledgment for a persisted message.
func NewAck(messageID string) AckFrame {
	return AckFrame{Type: FrameTypeMessageSent, MessageID: messageID}
}

// MessageFrame carries a conversation message to subscribers.
type MessageFrame struct {
	Type string          `json:"type"`
	Data *domain.Message `json:"data"`
}

func (MessageFrame) outbound() {}

// NewMessageFrame wraps a message envelope for broadcast.
func NewMessageFrame(msg *domain.Message) MessageFrame {
	return MessageFrame{Type: FrameTypeMessage, Data: msg}
}

// NotificationFrame carries an out-of-band notification to one user.
type NotificationFrame struct {
	Type string               `json:"type"`
	Data *domain.Notification `json:"data"`
}

func (NotificationFrame) outbound() {}

// NewNotificationFrame wraps a notification for user delivery.
func NewNotificationFrame(n *domain.Notification) NotificationFrame {
	return NotificationFrame{Type: FrameTypeNotification, Data: n}
}

// ErrorFrame reports a non-fatal, per-message error to the sender.
type ErrorFrame struct {
	Error string `json:"error"`
}

func (ErrorFrame) outbound() {}

// Inline error frames.
var (
	invalidFormatFrame = ErrorFrame{Error: "Invalid message format"}
	persistErrorFrame  = ErrorFrame{Error: "Failed to persist message"}
)
