// internal/status/server.go
package status

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/user/blimp/internal/gateway"
)

// Connection is the part of the gateway manager the status server exposes.
type Connection interface {
	Snapshot() gateway.Snapshot
	Reconnect() bool
}

// Server is the local HTTP status and operations endpoint.
type Server struct {
	conn   Connection
	router chi.Router
}

// NewServer creates a status server for conn. Metrics are served from
// gatherer when it is non-nil.
func NewServer(conn Connection, gatherer prometheus.Gatherer) *Server {
	s := &Server{conn: conn}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/api/session", s.handleSession)
	r.Post("/api/reconnect", s.handleReconnect)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.router = r
	return s
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write status response failed", "error", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.conn.Snapshot())
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if !s.conn.Reconnect() {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no open connection"})
		return
	}
	slog.Info("reconnect requested over status API")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}
