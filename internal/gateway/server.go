package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/afs-fleetpro/comms/internal/config"
	"github.com/afs-fleetpro/comms/internal/logging"
	"github.com/afs-fleetpro/comms/internal/relay"
	"github.com/afs-fleetpro/comms/internal/store"
	"github.com/afs-fleetpro/comms/internal/version"
)

// Server is the comms HTTP + WebSocket server. It owns the process-wide
// connection registry; the relay and store are injected collaborators.
type Server struct {
	cfg      config.Config
	registry *Registry
	relay    relay.Relay
	store    store.MessageStore
	resolver TokenResolver
	log      *logging.Logger
	version  string

	startedAt  time.Time
	httpServer *http.Server
	upgrader   websocket.Upgrader
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithTokenResolver replaces the demo token resolver.
func WithTokenResolver(r TokenResolver) ServerOption {
	return func(s *Server) {
		s.resolver = r
	}
}

// New creates a comms server.
func New(cfg config.Config, rel relay.Relay, st store.MessageStore, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(log),
		relay:    rel,
		store:    st,
		resolver: NewDemoResolver(cfg.Auth),
		log:      log.Sub("gateway"),
		version:  version.Version,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Server.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the connection registry for handlers and tests.
func (s *Server) Registry() *Registry {
	return s.registry
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin
// headers. Same-origin and non-browser clients (no Origin header) are
// always allowed; otherwise the Origin must match the configured list.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.ServerConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Server)

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := withMiddleware(mux, s.log, s.cfg.Server.AllowedOrigins)

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     handler,
		ReadTimeout: 0, // realtime connections stay open indefinitely
		IdleTimeout: 120 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.startedAt = time.Now()

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Server.Bind).
		Str("relay", s.cfg.Relay.Mode).
		Msg("comms server ready")

	// Shutdown when context is cancelled
	go func() {
		<-ctx.Done()
		s.log.Info().Msg("shutting down comms server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.registry.CloseAll()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}

// handleWebSocket upgrades the realtime endpoint and runs the session to
// completion on the handler goroutine.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")
	token := r.URL.Query().Get("token")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadLimit(1 << 20) // 1MB frames are plenty for chat payloads

	userID, ok := s.resolver.Resolve(token)
	if !ok {
		s.log.Warn().Str("conversationId", conversationID).Str("remote", r.RemoteAddr).Msg("unauthorized realtime connect")
		c := &Conn{socket: conn}
		c.CloseWithCode(websocket.ClosePolicyViolation, "Unauthorized")
		return
	}

	c := NewConn(conn, conversationID, userID)
	s.log.Debug().
		Str("connId", c.ID).
		Str("userId", userID).
		Str("conversationId", conversationID).
		Msg("realtime connection accepted")

	sess := NewSession(c, s.registry, s.relay, s.store, s.idleTimeout(), s.log)
	sess.Run(r.Context())
}

func (s *Server) idleTimeout() time.Duration {
	return time.Duration(s.cfg.Session.IdleTimeoutSec) * time.Second
}
