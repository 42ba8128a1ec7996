// Package relay runs the public rendezvous server that pairs remote HTTP
// clients with the home tunnel connection.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options configure the relay server.
type Options struct {
	Bind           string
	RequestTimeout time.Duration
}

// Server relays API requests to whichever home client currently owns the
// tunnel. A new tunnel connection replaces the prior one.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	tunnel  *tunnelConn
	pending map[string]chan json.RawMessage
}

// tunnelRequest is pushed down the tunnel for one relayed API call.
type tunnelRequest struct {
	ID     string          `json:"id"`
	Path   string          `json:"path"`
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// tunnelReply answers one tunnelRequest by id.
type tunnelReply struct {
	ID       string          `json:"id"`
	Response json.RawMessage `json:"response"`
}

// tunnelConn serializes writes to one websocket shared by all handlers.
type tunnelConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (t *tunnelConn) send(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(v)
}

// New builds a relay Server.
func New(opts Options, logger *slog.Logger) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		opts:    opts,
		logger:  logger,
		pending: make(map[string]chan json.RawMessage),
	}
}

// Handler returns the relay mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /tunnel", s.handleTunnel)
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		s.forward(w, r, "/api/status", http.MethodGet, nil)
	})
	mux.HandleFunc("POST /api/input/{volume}", s.forwardInt("volume", "/api/input/"))
	mux.HandleFunc("POST /api/output/{volume}", s.forwardInt("volume", "/api/output/"))
	mux.HandleFunc("POST /api/latency/{ms}", s.forwardInt("ms", "/api/latency/"))
	mux.HandleFunc("POST /api/loopback/{state}", func(w http.ResponseWriter, r *http.Request) {
		s.forward(w, r, "/api/loopback/"+r.PathValue("state"), http.MethodPost, nil)
	})
	mux.HandleFunc("POST /api/preset/{name}", func(w http.ResponseWriter, r *http.Request) {
		s.forward(w, r, "/api/preset/"+r.PathValue("name"), http.MethodPost, nil)
	})
	mux.HandleFunc("POST /api/ask", s.handleAsk)

	return mux
}

// Run serves the relay until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("relay listening", "bind", s.opts.Bind)

	go func() {
		<-ctx.Done()
		s.logger.Info("relay shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("relay listen: %w", err)
	}
	return nil
}

// handleTunnel owns one home connection until it drops.
func (s *Server) handleTunnel(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("tunnel upgrade failed", "error", err)
		return
	}

	tunnel := &tunnelConn{id: uuid.NewString(), conn: conn}
	s.adoptTunnel(tunnel)
	s.logger.Info("home client connected", "id", tunnel.id)

	defer func() {
		s.dropTunnel(tunnel)
		conn.Close()
		s.logger.Info("home client disconnected", "id", tunnel.id)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var reply tunnelReply
		if err := json.Unmarshal(message, &reply); err != nil {
			s.logger.Warn("malformed tunnel reply", "error", err)
			continue
		}
		s.resolve(reply.ID, reply.Response)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	connected := s.tunnel != nil
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "local_connected": connected})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "read body: " + err.Error()})
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "body must be JSON"})
		return
	}
	s.forward(w, r, "/api/ask", http.MethodPost, body)
}

// forwardInt validates a numeric path segment before forwarding.
func (s *Server) forwardInt(name, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := r.PathValue(name)
		if _, err := strconv.Atoi(raw); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": fmt.Sprintf("%s must be an integer, got %q", name, raw),
			})
			return
		}
		s.forward(w, r, prefix+raw, http.MethodPost, nil)
	}
}

// forward pushes one request down the tunnel and waits for the answer.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, path, method string, body json.RawMessage) {
	s.mu.Lock()
	tunnel := s.tunnel
	s.mu.Unlock()

	if tunnel == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "local server not connected"})
		return
	}

	id := uuid.NewString()
	ch := make(chan json.RawMessage, 1)
	s.addPending(id, ch)
	defer s.removePending(id)

	if err := tunnel.send(tunnelRequest{ID: id, Path: path, Method: method, Body: body}); err != nil {
		s.logger.Warn("tunnel send failed", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "tunnel send: " + err.Error()})
		return
	}

	select {
	case resp := <-ch:
		if len(resp) == 0 || string(resp) == "null" {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "empty response"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	case <-time.After(s.opts.RequestTimeout):
		writeJSON(w, http.StatusGatewayTimeout, map[string]any{"error": "timeout waiting for local server"})
	case <-r.Context().Done():
	}
}

// adoptTunnel installs a new home connection, closing any previous one.
func (s *Server) adoptTunnel(t *tunnelConn) {
	s.mu.Lock()
	prev := s.tunnel
	s.tunnel = t
	s.mu.Unlock()

	if prev != nil {
		s.logger.Info("replacing previous home client", "id", prev.id)
		_ = prev.conn.Close()
	}
}

// dropTunnel clears the connection only if it is still the current one.
func (s *Server) dropTunnel(t *tunnelConn) {
	s.mu.Lock()
	if s.tunnel == t {
		s.tunnel = nil
	}
	s.mu.Unlock()
}

func (s *Server) addPending(id string, ch chan json.RawMessage) {
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()
}

func (s *Server) removePending(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// resolve hands a tunnel reply to its waiter, if still present.
func (s *Server) resolve(id string, response json.RawMessage) {
	s.mu.Lock()
	ch, ok := s.pending[id]
	s.mu.Unlock()

	if !ok {
		s.logger.Debug("reply for unknown request", "id", id)
		return
	}
	select {
	case ch <- response:
	default:
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
