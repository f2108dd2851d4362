// ABOUTME: HTTP handler that upgrades to websocket and binds a session per connection
// ABOUTME: Auth is a JWT in the token query param since websockets cannot send headers

package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/slatelearn/messaging/internal/identity"
	"github.com/slatelearn/messaging/internal/messaging"
	"github.com/slatelearn/messaging/internal/session"
)

// Defaults for Config zero values.
const (
	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Config tunes the websocket transport. Zero values get defaults.
type Config struct {
	// PingInterval is how often the server pings an idle connection.
	PingInterval time.Duration
	// WriteTimeout bounds every individual frame write.
	WriteTimeout time.Duration
	// Session is passed through to each connection's session manager.
	Session session.Config
	// InsecureSkipVerify disables origin checking. Dev mode only.
	InsecureSkipVerify bool
}

// Handler upgrades HTTP requests to websocket connections, each owning one
// session for the authenticated user. Closing the connection tears the
// session down on every exit path; nothing outlives the socket.
type Handler struct {
	svc      *messaging.Service
	verifier identity.TokenVerifier
	cfg      Config
	logger   *slog.Logger
}

// NewHandler creates a websocket handler. Pass nil logger for default.
func NewHandler(svc *messaging.Service, verifier identity.TokenVerifier, cfg Config, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Handler{
		svc:      svc,
		verifier: verifier,
		cfg:      cfg,
		logger:   logger.With("component", "ws"),
	}
}

// ServeHTTP authenticates the request, upgrades it, and runs the connection
// until the client goes away or the server shuts down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokenStr := r.URL.Query().Get("token")
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	userID, err := h.verifier.Verify(tokenStr)
	if err != nil {
		h.logger.Debug("rejected connection", "error", err)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: h.cfg.InsecureSkipVerify,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	// The service implements both the fetch surface and the event bus
	// surface the session consumes.
	mgr := session.New(userID, h.svc, h.svc, h.cfg.Session, h.logger)

	c := newConn(wsConn, mgr, h.cfg, h.logger.With("user_id", userID))
	c.run(r.Context())
}
