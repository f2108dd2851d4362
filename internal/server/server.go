// ABOUTME: Server orchestrator that wires the store, messaging service, and HTTP stack
// ABOUTME: Manages the websocket feed, health endpoints, and graceful shutdown

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/slatelearn/messaging/internal/config"
	"github.com/slatelearn/messaging/internal/identity"
	"github.com/slatelearn/messaging/internal/messaging"
	"github.com/slatelearn/messaging/internal/session"
	"github.com/slatelearn/messaging/internal/store"
	"github.com/slatelearn/messaging/internal/transport/ws"
)

// Server orchestrates the messagingd components: the SQLite store, the
// messaging service with its event broadcaster, and the HTTP server that
// carries the websocket feed and health endpoints.
type Server struct {
	config      *config.Config
	store       store.Store
	service     *messaging.Service
	broadcaster *messaging.EventBroadcaster
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore creates a store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("MESSAGING_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New creates a new Server instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	broadcaster := messaging.NewEventBroadcaster(logger.With("component", "broadcaster"))
	service := messaging.NewService(s, broadcaster, logger)

	verifier := identity.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))

	wsHandler := ws.NewHandler(service, verifier, ws.Config{
		PingInterval: cfg.Websocket.PingInterval,
		WriteTimeout: cfg.Websocket.WriteTimeout,
		Session: session.Config{
			FetchLimit: cfg.Session.FetchLimit,
			DedupeTTL:  cfg.Session.DedupeTTL,
			DedupeSize: cfg.Session.DedupeSize,
		},
	}, logger)

	srv := &Server{
		config:      cfg,
		store:       s,
		service:     service,
		broadcaster: broadcaster,
		logger:      logger.With("component", "server"),
	}

	mux := http.NewServeMux()

	// Health endpoints - no auth required
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/health/ready", srv.handleReady)

	// The websocket feed authenticates per connection
	mux.Handle("/ws", wsHandler)

	srv.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return srv, nil
}

// Service exposes the messaging service, used by admin subcommands.
func (s *Server) Service() *messaging.Service {
	return s.service
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := s.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (s *Server) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}

// Shutdown stops the HTTP server, closes all event subscriptions, and
// closes the store. Safe to call once after Run returns.
func (s *Server) Shutdown(ctx context.Context) error {
	var firstErr error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP shutdown error", "error", err)
		firstErr = err
	}

	s.broadcaster.Close()

	if err := s.store.Close(); err != nil {
		s.logger.Error("store close error", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("shutdown complete")
	return firstErr
}
