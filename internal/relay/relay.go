// Package relay bridges conversation topics on a pub/sub backbone to
// in-process subscribers, so a message published by any service instance
// reaches every connection subscribed to that conversation fleet-wide.
package relay

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the pub/sub backbone cannot be reached
// at subscribe time. Sessions treat it as fatal and close the realtime
// connection with a server-error code.
var ErrUnavailable = errors.New("relay: backbone unavailable")

// Subscription is a live feed of payloads published to one conversation
// topic. The feed channel is closed when the subscription ends, whether
// by Close or by the backbone connection breaking.
type Subscription interface {
	// C returns the payload feed.
	C() <-chan []byte

	// Close releases the subscription. Safe to call more than once; only
	// the first call has effect, and it never blocks indefinitely on a
	// broken backbone connection.
	Close() error
}

// Relay is the cross-instance fan-out channel. One topic per conversation.
type Relay interface {
	// Subscribe opens a feed of payloads published to the conversation's
	// topic by any instance, including this one. Returns ErrUnavailable
	// (wrapped) if the backbone cannot be reached.
	Subscribe(ctx context.Context, conversationID string) (Subscription, error)

	// Publish sends a payload to the conversation's topic. Best-effort:
	// callers log and continue on error, they never roll back work that
	// already succeeded.
	Publish(ctx context.Context, conversationID string, payload []byte) error

	// Ping reports whether the backbone is reachable.
	Ping(ctx context.Context) error
}

// Topic returns the pub/sub channel name for a conversation.
func Topic(conversationID string) string {
	return "conversation:" + conversationID
}
