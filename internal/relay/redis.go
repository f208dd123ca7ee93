package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/afs-fleetpro/comms/internal/logging"
)

// Redis implements Relay on Redis pub/sub. Every conversation maps to one
// Redis channel; each session holds its own subscription so instances
// never share in-process state.
type Redis struct {
	rdb *redis.Client
	log *logging.Logger
}

// NewRedis creates a Redis relay from a connection URI.
func NewRedis(uri string, log *logging.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("parsing redis uri: %w", err)
	}
	return &Redis{
		rdb: redis.NewClient(opts),
		log: log.Sub("relay"),
	}, nil
}

// NewRedisWithClient wraps an existing client, mainly for tests.
func NewRedisWithClient(rdb *redis.Client, log *logging.Logger) *Redis {
	return &Redis{rdb: rdb, log: log.Sub("relay")}
}

// Subscribe opens a per-session subscription to the conversation topic.
// The subscription is confirmed with a synchronous receive so an
// unreachable backbone surfaces here rather than on first delivery.
func (r *Redis) Subscribe(ctx context.Context, conversationID string) (Subscription, error) {
	topic := Topic(conversationID)
	ps := r.rdb.Subscribe(ctx, topic)

	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("%w: subscribing to %s: %s", ErrUnavailable, topic, err)
	}

	sub := &redisSubscription{
		ps:   ps,
		out:  make(chan []byte),
		done: make(chan struct{}),
	}
	go sub.pump()

	r.log.Debug().Str("topic", topic).Msg("subscribed")
	return sub, nil
}

// Publish sends a payload to the conversation topic.
func (r *Redis) Publish(ctx context.Context, conversationID string, payload []byte) error {
	if err := r.rdb.Publish(ctx, Topic(conversationID), payload).Err(); err != nil {
		return fmt.Errorf("publishing to %s: %w", Topic(conversationID), err)
	}
	return nil
}

// Ping reports backbone reachability.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

// redisSubscription adapts a redis PubSub to the Subscription contract.
type redisSubscription struct {
	ps   *redis.PubSub
	out  chan []byte
	done chan struct{}
	once sync.Once
}

// pump copies backbone messages onto the feed until the PubSub closes.
// The done guard keeps pump from blocking on a feed nobody drains after
// teardown.
func (s *redisSubscription) pump() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
}

func (s *redisSubscription) C() <-chan []byte { return s.out }

// Close tears down the Redis subscription. go-redis closes the message
// channel on Close, which ends pump and closes the feed.
func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
