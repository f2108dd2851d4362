// ABOUTME: Tests for server wiring, health endpoints, and graceful shutdown
// ABOUTME: Drives the assembled HTTP stack end to end including the websocket feed

package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slatelearn/messaging/internal/config"
	"github.com/slatelearn/messaging/internal/identity"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "test.db")},
		Auth:     config.AuthConfig{JWTSecret: "test-secret-key-for-jwt-signing"},
	}
}

func newTestServerStack(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	srv, err := New(testConfig(t), discardLogger())
	require.NoError(t, err)

	httpSrv := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(httpSrv.Close)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	return srv, httpSrv
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthEndpoint(t *testing.T) {
	_, httpSrv := newTestServerStack(t)

	resp, err := http.Get(httpSrv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReadyEndpoint(t *testing.T) {
	_, httpSrv := newTestServerStack(t)

	resp, err := http.Get(httpSrv.URL + "/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWebsocketFeedIsWired(t *testing.T) {
	_, httpSrv := newTestServerStack(t)

	verifier := identity.NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))
	token, err := verifier.Generate("alice", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, httpSrv.URL+"/ws?token="+token, nil)
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestWebsocketFeedRejectsBadToken(t *testing.T) {
	_, httpSrv := newTestServerStack(t)

	resp, err := http.Get(httpSrv.URL + "/ws?token=bogus")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRun_GracefulShutdown(t *testing.T) {
	srv, err := New(testConfig(t), discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
