package relay

import (
	"context"
	"sync"

	"github.com/afs-fleetpro/comms/internal/logging"
)

// Local implements Relay entirely in process. Single-instance deployments
// and tests use it; the delivery semantics (publisher's own subscribers
// included, per-subscriber independent feeds) match the Redis relay.
type Local struct {
	mu     sync.RWMutex
	topics map[string]map[*localSubscription]struct{}
	buffer int
	log    *logging.Logger
}

// NewLocal creates an in-process relay. buffer sets the per-subscription
// feed capacity; values below 1 get a sane minimum.
func NewLocal(buffer int, log *logging.Logger) *Local {
	if buffer < 1 {
		buffer = 16
	}
	return &Local{
		topics: make(map[string]map[*localSubscription]struct{}),
		buffer: buffer,
		log:    log.Sub("relay"),
	}
}

// Subscribe opens an independent feed for the conversation topic.
func (l *Local) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	sub := &localSubscription{
		relay: l,
		topic: conversationID,
		out:   make(chan []byte, l.buffer),
	}

	l.mu.Lock()
	subs, ok := l.topics[conversationID]
	if !ok {
		subs = make(map[*localSubscription]struct{})
		l.topics[conversationID] = subs
	}
	subs[sub] = struct{}{}
	l.mu.Unlock()

	return sub, nil
}

// Publish delivers the payload to every current subscriber of the topic.
// A subscriber whose feed buffer is full is skipped rather than blocking
// the publisher; the slow session will fall behind, not stall the fleet.
func (l *Local) Publish(ctx context.Context, conversationID string, payload []byte) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for sub := range l.topics[conversationID] {
		select {
		case sub.out <- payload:
		default:
			l.log.Warn().Str("topic", Topic(conversationID)).Msg("dropping payload for slow subscriber")
		}
	}
	return nil
}

// Ping always succeeds; there is no backbone to lose.
func (l *Local) Ping(ctx context.Context) error { return nil }

// SubscriberCount reports the live subscriptions for a conversation.
func (l *Local) SubscriberCount(conversationID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.topics[conversationID])
}

func (l *Local) unsubscribe(sub *localSubscription) {
	l.mu.Lock()
	defer l.mu.Unlock()

	subs, ok := l.topics[sub.topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(l.topics, sub.topic)
	}
}

// localSubscription is one subscriber's feed on a Local relay.
type localSubscription struct {
	relay *Local
	topic string
	out   chan []byte
	once  sync.Once
}

func (s *localSubscription) C() <-chan []byte { return s.out }

// Close removes the subscription from its topic and closes the feed.
func (s *localSubscription) Close() error {
	s.once.Do(func() {
		s.relay.unsubscribe(s)
		close(s.out)
	})
	return nil
}
