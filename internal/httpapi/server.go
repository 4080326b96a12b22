// Package httpapi serves the local operator endpoints: a status
// snapshot and a live websocket stream. It binds to loopback on the
// device and is not the synchronization surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/wheelerlabs/ridesync/internal/ride"
)

// StatusSource exposes the engine snapshot the endpoints serve.
type StatusSource interface {
	Status() ride.EngineStatus
}

type Logger interface {
	Printf(format string, v ...interface{})
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...interface{}) {}

type ServerConfig struct {
	// AuthToken, when set, is required as a bearer token on every
	// endpoint except /health.
	AuthToken string

	// LiveInterval is the snapshot cadence on the websocket stream.
	LiveInterval time.Duration
}

type Server struct {
	source StatusSource
	cfg    ServerConfig
	logger Logger
}

func NewServer(source StatusSource, cfg ServerConfig, logger Logger) *Server {
	if cfg.LiveInterval <= 0 {
		cfg.LiveInterval = time.Second
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Server{source: source, cfg: cfg, logger: logger}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if !s.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return
	}
	switch {
	case r.URL.Path == "/v1/status" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, s.source.Status())
	case r.URL.Path == "/v1/live" && r.Method == http.MethodGet:
		s.handleLive(w, r)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	}
}

// handleLive streams status snapshots over a websocket until the client
// goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("httpapi: websocket accept failed: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(s.cfg.LiveInterval)
	defer ticker.Stop()

	if err := s.writeSnapshot(ctx, conn); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeSnapshot(ctx, conn); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(ctx context.Context, conn *websocket.Conn) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, s.source.Status())
}

func (s *Server) authorized(r *http.Request) bool {
	if strings.TrimSpace(s.cfg.AuthToken) == "" {
		return true
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")) == s.cfg.AuthToken
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
