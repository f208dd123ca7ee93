package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/afs-fleetpro/comms/internal/config"
	"github.com/afs-fleetpro/comms/internal/logging"
	"github.com/afs-fleetpro/comms/internal/relay"
	"github.com/afs-fleetpro/comms/internal/store"
)

// passthroughResolver treats the token as the user id, so tests can connect
// distinct users without a real auth backend.
type passthroughResolver struct{}

func (passthroughResolver) Resolve(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	return token, true
}

// failPublishRelay subscribes normally but refuses every publish.
type failPublishRelay struct {
	*relay.Local
}

func (r *failPublishRelay) Publish(ctx context.Context, conversationID string, payload []byte) error {
	return fmt.Errorf("backbone unreachable")
}

// downRelay refuses subscriptions entirely.
type downRelay struct {
	*relay.Local
}

func (r *downRelay) Subscribe(ctx context.Context, conversationID string) (relay.Subscription, error) {
	return nil, fmt.Errorf("subscribe %s: %w", relay.Topic(conversationID), relay.ErrUnavailable)
}

func testServer(t *testing.T, rel relay.Relay, st store.MessageStore) (*Server, *httptest.Server) {
	t.Helper()
	cfg := config.Defaults()
	log := logging.New(nil, "silent")

	if rel == nil {
		rel = relay.NewLocal(16, log)
	}
	if st == nil {
		st = store.NewMemoryMessageStore()
	}

	srv := New(cfg, rel, st, log, WithTokenResolver(passthroughResolver{}))

	mux := http.NewServeMux()
	srv.registerRoutes(mux)

	ts := httptest.NewServer(withMiddleware(mux, log, cfg.Server.AllowedOrigins))
	t.Cleanup(ts.Close)
	return srv, ts
}

func dialWS(t *testing.T, ts *httptest.Server, conversationID, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/comms/v1/ws/" + conversationID
	if token != "" {
		wsURL += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSONFrame(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func waitForConnections(t *testing.T, srv *Server, conversationID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return srv.Registry().ConversationConnections(conversationID) == n
	}, 2*time.Second, 10*time.Millisecond)
}

// --- HTTP surface ---

func TestHealthEndpoint(t *testing.T) {
	_, ts := testServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "comms-api", health.Service)
	assert.Equal(t, "connected", health.Database)
	assert.Equal(t, "connected", health.Relay)
}

func TestNotFoundEndpoint(t *testing.T) {
	_, ts := testServer(t, nil, nil)

	resp, err := http.Get(ts.URL + "/nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// --- Realtime session lifecycle ---

func TestSessionMessageFlow(t *testing.T) {
	st := store.NewMemoryMessageStore()
	srv, ts := testServer(t, nil, st)

	alice := dialWS(t, ts, "conv-1", "alice")
	bob := dialWS(t, ts, "conv-1", "bob")
	waitForConnections(t, srv, "conv-1", 2)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage,
		[]byte(`{"content":"engine is fixed"}`)))

	// The sender gets the ack and, as a subscriber, its own broadcast.
	// Relay delivery is asynchronous relative to the ack, so accept either
	// order.
	got := map[string]map[string]any{}
	for range 2 {
		frame := readJSONFrame(t, alice)
		got[frame["type"].(string)] = frame
	}
	require.Contains(t, got, FrameTypeMessageSent)
	require.Contains(t, got, FrameTypeMessage)
	assert.NotEmpty(t, got[FrameTypeMessageSent]["message_id"])

	// The other participant gets the message envelope.
	frame := readJSONFrame(t, bob)
	assert.Equal(t, FrameTypeMessage, frame["type"])
	data, ok := frame["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "engine is fixed", data["content"])
	assert.Equal(t, "alice", data["sender_id"])
	assert.Equal(t, "conv-1", data["conversation_id"])

	// Persisted exactly once, conversation bookkeeping updated.
	msgs := st.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "engine is fixed", msgs[0].Content)
	assert.Equal(t, got[FrameTypeMessageSent]["message_id"], msgs[0].ID)
	last, ok := st.LastMessage("conv-1")
	require.True(t, ok)
	assert.Equal(t, msgs[0].ID, last.ID)
	assert.Equal(t, 1, st.UnreadCount("conv-1"))
}

func TestSessionPreservesSenderOrder(t *testing.T) {
	st := store.NewMemoryMessageStore()
	srv, ts := testServer(t, nil, st)

	alice := dialWS(t, ts, "conv-1", "alice")
	bob := dialWS(t, ts, "conv-1", "bob")
	waitForConnections(t, srv, "conv-1", 2)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"content":"first"}`)))
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"content":"second"}`)))

	// Frames on one connection are handled to completion in arrival
	// order, so the other participant sees them in send order.
	for _, want := range []string{"first", "second"} {
		frame := readJSONFrame(t, bob)
		require.Equal(t, FrameTypeMessage, frame["type"])
		data, ok := frame["data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, want, data["content"])
	}

	// Persisted order matches send order too.
	msgs := st.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
}

func TestSessionRejectsEmptyToken(t *testing.T) {
	st := store.NewMemoryMessageStore()
	srv, ts := testServer(t, nil, st)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/comms/v1/ws/conv-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Equal(t, "Unauthorized", closeErr.Text)

	// Rejected before any resource acquisition.
	assert.Equal(t, 0, srv.Registry().Count())
	assert.Empty(t, st.Messages())
}

func TestSessionSurvivesMalformedFrame(t *testing.T) {
	st := store.NewMemoryMessageStore()
	srv, ts := testServer(t, nil, st)

	alice := dialWS(t, ts, "conv-1", "alice")
	waitForConnections(t, srv, "conv-1", 1)

	// Missing content and plain garbage both get the inline error.
	for _, bad := range []string{`{"message_type":"text"}`, `not json`} {
		require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(bad)))
		frame := readJSONFrame(t, alice)
		assert.Equal(t, "Invalid message format", frame["error"])
	}
	assert.Empty(t, st.Messages())

	// The session is still open and fully functional.
	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"content":"still here"}`)))
	got := map[string]bool{}
	for range 2 {
		got[readJSONFrame(t, alice)["type"].(string)] = true
	}
	assert.True(t, got[FrameTypeMessageSent])
	require.Len(t, st.Messages(), 1)
}

func TestSessionReportsPersistenceFailure(t *testing.T) {
	st := store.NewMemoryMessageStore()
	st.FailInserts = true
	srv, ts := testServer(t, nil, st)

	alice := dialWS(t, ts, "conv-1", "alice")
	waitForConnections(t, srv, "conv-1", 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"content":"lost"}`)))
	frame := readJSONFrame(t, alice)
	assert.Equal(t, "Failed to persist message", frame["error"])

	// Not fatal either: the session keeps reading.
	assert.Equal(t, 1, srv.Registry().ConversationConnections("conv-1"))
}

func TestSessionTeardownReleasesEverything(t *testing.T) {
	log := logging.New(nil, "silent")
	rel := relay.NewLocal(16, log)
	srv, ts := testServer(t, rel, nil)

	alice := dialWS(t, ts, "conv-1", "alice")
	bob := dialWS(t, ts, "conv-1", "bob")
	waitForConnections(t, srv, "conv-1", 2)
	require.Eventually(t, func() bool {
		return rel.SubscriberCount("conv-1") == 2
	}, 2*time.Second, 10*time.Millisecond)

	alice.Close()

	// Departed connection is fully unregistered and unsubscribed.
	waitForConnections(t, srv, "conv-1", 1)
	assert.Eventually(t, func() bool {
		return srv.Registry().UserConnections("alice") == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return rel.SubscriberCount("conv-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	// The remaining participant is unaffected.
	require.NoError(t, bob.WriteMessage(websocket.TextMessage, []byte(`{"content":"anyone there?"}`)))
	got := map[string]bool{}
	for range 2 {
		got[readJSONFrame(t, bob)["type"].(string)] = true
	}
	assert.True(t, got[FrameTypeMessageSent])

	bob.Close()
	assert.Eventually(t, func() bool {
		return srv.Registry().Count() == 0 && rel.SubscriberCount("conv-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionAcksEvenWhenRelayPublishFails(t *testing.T) {
	log := logging.New(nil, "silent")
	rel := &failPublishRelay{Local: relay.NewLocal(16, log)}
	st := store.NewMemoryMessageStore()
	srv, ts := testServer(t, rel, st)

	alice := dialWS(t, ts, "conv-1", "alice")
	waitForConnections(t, srv, "conv-1", 1)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"content":"hello"}`)))

	// Persisted and acknowledged despite the dead backbone.
	frame := readJSONFrame(t, alice)
	assert.Equal(t, FrameTypeMessageSent, frame["type"])
	require.Len(t, st.Messages(), 1)
}

func TestSessionClosesWhenSubscribeFails(t *testing.T) {
	log := logging.New(nil, "silent")
	rel := &downRelay{Local: relay.NewLocal(16, log)}
	srv, ts := testServer(t, rel, nil)

	conn := dialWS(t, ts, "conv-1", "alice")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, websocket.CloseInternalServerErr, closeErr.Code)

	// Register is rolled back on the failed open.
	assert.Eventually(t, func() bool {
		return srv.Registry().Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// --- REST ingestion ---

func TestCreateMessageFansOutViaRelay(t *testing.T) {
	st := store.NewMemoryMessageStore()
	srv, ts := testServer(t, nil, st)

	bob := dialWS(t, ts, "conv-1", "bob")
	waitForConnections(t, srv, "conv-1", 1)

	body := `{"content":"your truck is ready","sender_id":"agent-7","sender_type":"system"}`
	resp, err := http.Post(ts.URL+"/comms/v1/conversations/conv-1/messages",
		"application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.NotEmpty(t, created["id"])
	assert.Equal(t, "agent-7", created["sender_id"])

	frame := readJSONFrame(t, bob)
	assert.Equal(t, FrameTypeMessage, frame["type"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, "your truck is ready", data["content"])

	require.Len(t, st.Messages(), 1)
	assert.Equal(t, 1, st.UnreadCount("conv-1"))
}

func TestCreateMessageFallsBackToLocalBroadcast(t *testing.T) {
	log := logging.New(nil, "silent")
	rel := &failPublishRelay{Local: relay.NewLocal(16, log)}
	srv, ts := testServer(t, rel, nil)

	bob := dialWS(t, ts, "conv-1", "bob")
	waitForConnections(t, srv, "conv-1", 1)

	resp, err := http.Post(ts.URL+"/comms/v1/conversations/conv-1/messages",
		"application/json", bytes.NewBufferString(`{"content":"hello"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// Delivered through the registry when the backbone is down.
	frame := readJSONFrame(t, bob)
	assert.Equal(t, FrameTypeMessage, frame["type"])
}

func TestCreateMessageValidation(t *testing.T) {
	_, ts := testServer(t, nil, nil)

	resp, err := http.Post(ts.URL+"/comms/v1/conversations/conv-1/messages",
		"application/json", bytes.NewBufferString(`{"content":""}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateNotificationPushesToUser(t *testing.T) {
	st := store.NewMemoryMessageStore()
	srv, ts := testServer(t, nil, st)

	alice := dialWS(t, ts, "conv-1", "alice")
	waitForConnections(t, srv, "conv-1", 1)

	body := `{"user_id":"alice","type":"service_update","content":"Oil change complete"}`
	resp, err := http.Post(ts.URL+"/comms/v1/notifications",
		"application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	frame := readJSONFrame(t, alice)
	assert.Equal(t, FrameTypeNotification, frame["type"])
	data := frame["data"].(map[string]any)
	assert.Equal(t, "Oil change complete", data["content"])

	require.Len(t, st.Notifications(), 1)
}

func TestCreateNotificationValidation(t *testing.T) {
	_, ts := testServer(t, nil, nil)

	resp, err := http.Post(ts.URL+"/comms/v1/notifications",
		"application/json", bytes.NewBufferString(`{"type":"x"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// --- Bind address resolution ---

func TestResolveBindAddr(t *testing.T) {
	tests := []struct {
		bind string
		host string
		want string
	}{
		{bind: "loopback", want: "127.0.0.1:8000"},
		{bind: "lan", want: "0.0.0.0:8000"},
		{bind: "auto", want: "0.0.0.0:8000"},
		{bind: "custom", host: "10.1.2.3", want: "10.1.2.3:8000"},
		{bind: "custom", want: "0.0.0.0:8000"},
		{bind: "bogus", want: "127.0.0.1:8000"},
	}
	for _, tt := range tests {
		cfg := config.ServerConfig{Port: 8000, Bind: tt.bind, CustomBindHost: tt.host}
		assert.Equal(t, tt.want, resolveBindAddr(cfg), "bind=%s", tt.bind)
	}
}
