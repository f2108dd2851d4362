// ABOUTME: Health and readiness HTTP endpoints
// ABOUTME: Readiness verifies the store answers queries

package server

import (
	"net/http"
)

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the store answers queries.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	// A cheap read exercises the connection without touching real data
	if _, err := s.store.ListConversationsFor(r.Context(), "health-probe"); err != nil {
		s.logger.Warn("readiness probe failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
