package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afs-fleetpro/comms/internal/domain"
	"github.com/afs-fleetpro/comms/internal/logging"
	"github.com/afs-fleetpro/comms/internal/relay"
	"github.com/afs-fleetpro/comms/internal/store"
)

// teardownWait bounds how long teardown waits for the sibling task after
// cancellation. The transport may already be dead; waiting forever would
// leak the session.
const teardownWait = 5 * time.Second

// Session owns one realtime connection for its whole lifetime: it
// registers the connection, holds the conversation's relay subscription,
// and runs the inbound reader alongside the relay listener. Whichever
// task ends first cancels the other; teardown then unsubscribes and
// unregisters, in that order.
type Session struct {
	conn        *Conn
	registry    *Registry
	relay       relay.Relay
	store       store.MessageStore
	idleTimeout time.Duration
	log         *logging.Logger
}

// NewSession wires a session for an accepted, authenticated connection.
func NewSession(conn *Conn, reg *Registry, rel relay.Relay, st store.MessageStore, idleTimeout time.Duration, log *logging.Logger) *Session {
	return &Session{
		conn:        conn,
		registry:    reg,
		relay:       rel,
		store:       st,
		idleTimeout: idleTimeout,
		log:         log.Sub("session"),
	}
}

// Run drives the session from Open to Closed. It blocks until the
// connection ends and all resources are released.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.registry.Register(s.conn)

	sub, err := s.relay.Subscribe(ctx, s.conn.ConversationID)
	if err != nil {
		s.log.Error().Err(err).
			Str("conversationId", s.conn.ConversationID).
			Msg("relay subscribe failed, closing connection")
		s.registry.Unregister(s.conn)
		s.conn.CloseWithCode(websocket.CloseInternalServerErr, "Internal server error")
		return
	}

	// Cancellation from either task propagates by closing the socket,
	// which unblocks the reader.
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	listenerDone := make(chan struct{})
	go s.listenRelay(ctx, cancel, sub, listenerDone)

	s.readLoop(ctx)

	// Closing: cancel the sibling, await it with a bound, then release
	// the subscription and the registry entries.
	cancel()
	select {
	case <-listenerDone:
	case <-time.After(teardownWait):
		s.log.Warn().Str("connId", s.conn.ID).Msg("relay listener did not stop in time, abandoning")
	}
	sub.Close()
	s.registry.Unregister(s.conn)
	s.conn.Close()

	s.log.Debug().
		Str("connId", s.conn.ID).
		Str("conversationId", s.conn.ConversationID).
		Msg("session closed")
}

// listenRelay forwards every relay payload verbatim to the client. The
// feed closing or a failed write is session-fatal.
func (s *Session) listenRelay(ctx context.Context, cancel context.CancelFunc, sub relay.Subscription, done chan struct{}) {
	defer close(done)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub.C():
			if !ok {
				s.log.Warn().Str("connId", s.conn.ID).Msg("relay feed closed")
				return
			}
			if err := s.conn.SendRaw(payload); err != nil {
				s.log.Debug().Err(err).Str("connId", s.conn.ID).Msg("relay delivery failed")
				return
			}
		}
	}
}

// readLoop processes inbound client frames until the transport ends.
// Malformed frames and persistence failures are reported inline and the
// session stays open; only transport errors end the loop.
func (s *Session) readLoop(ctx context.Context) {
	for {
		data, err := s.conn.ReadMessage(s.idleTimeout)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug().Str("connId", s.conn.ID).Msg("client closed connection")
			} else {
				s.log.Debug().Err(err).Str("connId", s.conn.ID).Msg("read ended")
			}
			return
		}

		frame, err := ParseClientFrame(data)
		if err != nil {
			if sendErr := s.conn.Send(invalidFormatFrame); sendErr != nil {
				return
			}
			continue
		}

		if err := s.handleInbound(ctx, frame); err != nil {
			return
		}
	}
}

// handleInbound persists, publishes, and acknowledges one valid frame.
// A non-nil return means the transport itself failed.
func (s *Session) handleInbound(ctx context.Context, frame ClientFrame) error {
	msg := &domain.Message{
		ConversationID: s.conn.ConversationID,
		SenderID:       s.conn.UserID,
		SenderType:     domain.SenderUser,
		MessageType:    domain.MessageType(frame.MessageType),
		Content:        frame.Content,
		Metadata:       frame.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	id, err := s.store.InsertMessage(ctx, msg)
	if err != nil {
		s.log.Error().Err(err).Str("conversationId", s.conn.ConversationID).Msg("message insert failed")
		return s.conn.Send(persistErrorFrame)
	}

	if err := s.store.UpdateConversationLastMessage(ctx, s.conn.ConversationID, msg, true); err != nil {
		s.log.Error().Err(err).Str("conversationId", s.conn.ConversationID).Msg("conversation update failed")
		return s.conn.Send(persistErrorFrame)
	}

	// Best-effort: the message is persisted; a dead backbone must not
	// fail the client-visible write.
	if payload, err := json.Marshal(NewMessageFrame(msg)); err == nil {
		if err := s.relay.Publish(ctx, s.conn.ConversationID, payload); err != nil {
			s.log.Warn().Err(err).Str("conversationId", s.conn.ConversationID).Msg("relay publish failed, skipping fan-out")
		}
	}

	return s.conn.Send(NewAck(id))
}
