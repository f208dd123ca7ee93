package gateway

import (
	"sync"

	"github.com/afs-fleetpro/comms/internal/logging"
)

// Registry indexes open connections by conversation and by user. It is
// shared by every session in the process; all mutation and fan-out
// iteration happens under its lock, so a concurrent Register or
// Unregister never corrupts an in-flight broadcast.
type Registry struct {
	mu             sync.RWMutex
	byConversation map[string]map[*Conn]struct{}
	byUser         map[string]map[*Conn]struct{}
	log            *logging.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		byConversation: make(map[string]map[*Conn]struct{}),
		byUser:         make(map[string]map[*Conn]struct{}),
		log:            log.Sub("registry"),
	}
}

// Register adds the connection to both indices. Visible to subsequent
// broadcasts immediately.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	addToIndex(r.byConversation, c.ConversationID, c)
	addToIndex(r.byUser, c.UserID, c)

	r.log.Info().
		Str("connId", c.ID).
		Str("userId", c.UserID).
		Str("conversationId", c.ConversationID).
		Msg("connection registered")
}

// Unregister removes the connection from both indices and prunes
// now-empty entries. A no-op for connections that were never registered,
// so teardown and broadcast-failure cleanup may safely race.
func (r *Registry) Unregister(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := removeFromIndex(r.byConversation, c.ConversationID, c)
	removeFromIndex(r.byUser, c.UserID, c)

	if removed {
		r.log.Info().
			Str("connId", c.ID).
			Str("userId", c.UserID).
			Str("conversationId", c.ConversationID).
			Msg("connection unregistered")
	}
}

// BroadcastToConversation delivers the frame to every registered
// connection for the conversation. A failed delivery never aborts the
// remaining ones; connections that fail are unregistered as part of the
// call.
func (r *Registry) BroadcastToConversation(conversationID string, frame Outbound) {
	r.deliver(r.snapshot(r.byConversation, conversationID), frame)
}

// SendToUser delivers the frame to every open connection belonging to the
// user, across all conversations. Used for out-of-band notifications.
func (r *Registry) SendToUser(userID string, frame Outbound) {
	r.deliver(r.snapshot(r.byUser, userID), frame)
}

// ConversationConnections reports how many connections are registered for
// a conversation.
func (r *Registry) ConversationConnections(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConversation[conversationID])
}

// UserConnections reports how many connections are registered for a user.
func (r *Registry) UserConnections(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// Count returns the total number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, subs := range r.byConversation {
		n += len(subs)
	}
	return n
}

// CloseAll closes and unregisters every connection. Called at process
// shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := make([]*Conn, 0)
	for _, set := range r.byConversation {
		for c := range set {
			conns = append(conns, c)
		}
	}
	r.byConversation = make(map[string]map[*Conn]struct{})
	r.byUser = make(map[string]map[*Conn]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// snapshot copies the member set under the read lock so delivery happens
// without holding it.
func (r *Registry) snapshot(index map[string]map[*Conn]struct{}, key string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := index[key]
	conns := make([]*Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) deliver(conns []*Conn, frame Outbound) {
	var failed []*Conn
	for _, c := range conns {
		if err := c.Send(frame); err != nil {
			r.log.Warn().Err(err).Str("connId", c.ID).Msg("delivery failed, dropping connection")
			failed = append(failed, c)
		}
	}
	for _, c := range failed {
		r.Unregister(c)
	}
}

func addToIndex(index map[string]map[*Conn]struct{}, key string, c *Conn) {
	set, ok := index[key]
	if !ok {
		set = make(map[*Conn]struct{})
		index[key] = set
	}
	set[c] = struct{}{}
}

// removeFromIndex deletes the connection and prunes the set if it is now
// empty. Reports whether the connection was present.
func removeFromIndex(index map[string]map[*Conn]struct{}, key string, c *Conn) bool {
	set, ok := index[key]
	if !ok {
		return false
	}
	if _, present := set[c]; !present {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(index, key)
	}
	return true
}
