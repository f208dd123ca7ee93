package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/afs-fleetpro/comms/internal/domain"
)

// registerRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /comms/v1/ws/{conversation_id}", s.handleWebSocket)
	mux.HandleFunc("POST /comms/v1/conversations/{conversation_id}/messages", s.handleCreateMessage)
	mux.HandleFunc("POST /comms/v1/notifications", s.handleCreateNotification)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// createMessageRequest is the REST message-ingestion body.
type createMessageRequest struct {
	Content     string         `json:"content"`
	SenderID    string         `json:"sender_id,omitempty"`
	SenderType  string         `json:"sender_type,omitempty"`
	MessageType string         `json:"message_type,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// handleCreateMessage ingests a message outside the realtime path:
// persist, update the conversation, then fan out through the relay. When
// the backbone is unreachable the local registry broadcast keeps
// single-instance deployments delivering.
func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")

	var req createMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	senderID := req.SenderID
	if senderID == "" {
		senderID = s.cfg.Auth.DemoUser
	}
	if senderID == "" {
		senderID = "demo-user"
	}
	senderType := domain.SenderType(req.SenderType)
	if senderType == "" {
		senderType = domain.SenderUser
	}
	messageType := domain.MessageType(req.MessageType)
	if messageType == "" {
		messageType = domain.MessageText
	}

	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderType:     senderType,
		MessageType:    messageType,
		Content:        req.Content,
		Metadata:       req.Metadata,
		CreatedAt:      time.Now().UTC(),
	}

	if _, err := s.store.InsertMessage(r.Context(), msg); err != nil {
		s.log.Error().Err(err).Str("conversationId", conversationID).Msg("message insert failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to create message")
		return
	}
	if err := s.store.UpdateConversationLastMessage(r.Context(), conversationID, msg, true); err != nil {
		s.log.Error().Err(err).Str("conversationId", conversationID).Msg("conversation update failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to update conversation")
		return
	}

	frame := NewMessageFrame(msg)
	published := false
	if payload, err := json.Marshal(frame); err == nil {
		if err := s.relay.Publish(r.Context(), conversationID, payload); err != nil {
			s.log.Warn().Err(err).Str("conversationId", conversationID).Msg("relay publish failed, falling back to local broadcast")
		} else {
			published = true
		}
	}
	if !published {
		s.registry.BroadcastToConversation(conversationID, frame)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(msg)
}

// createNotificationRequest is the notification push body.
type createNotificationRequest struct {
	UserID   string         `json:"user_id"`
	Type     string         `json:"type"`
	Content  string         `json:"content"`
	Link     string         `json:"link,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// handleCreateNotification persists a notification and pushes it to the
// target user's open connections on this instance.
func (s *Server) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req createNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" || req.Type == "" || req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id, type and content are required")
		return
	}

	n := &domain.Notification{
		UserID:    req.UserID,
		Type:      req.Type,
		Content:   req.Content,
		Link:      req.Link,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := s.store.InsertNotification(r.Context(), n); err != nil {
		s.log.Error().Err(err).Str("userId", req.UserID).Msg("notification insert failed")
		writeJSONError(w, http.StatusInternalServerError, "failed to create notification")
		return
	}

	s.registry.SendToUser(n.UserID, NewNotificationFrame(n))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(n)
}
