// Package server exposes the audio bridge over HTTP and the control socket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"loopctl/internal/assistant"
	"loopctl/internal/bridge"
)

// Bridge is the slice of the audio facade the server drives.
type Bridge interface {
	GetState(ctx context.Context) (bridge.State, error)
	ApplyDelta(ctx context.Context, delta bridge.Delta) (bridge.State, error)
}

// Presets applies named presets.
type Presets interface {
	Apply(ctx context.Context, name string) (bridge.State, error)
	Names() []string
}

// Interpreter resolves free-form text against the current audio state.
type Interpreter interface {
	Interpret(ctx context.Context, text string) (assistant.Result, error)
}

// Server routes HTTP and IPC requests to the bridge, presets and assistant.
// A nil Interpreter disables /api/ask with a clear error.
type Server struct {
	bridge  Bridge
	presets Presets
	interp  Interpreter
	logger  *slog.Logger
}

// New builds a Server. interp may be nil when no API key is configured.
func New(b Bridge, presets Presets, interp Interpreter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{bridge: b, presets: presets, interp: interp, logger: logger}
}

// Handler returns the HTTP API mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/input/{volume}", s.handleInput)
	mux.HandleFunc("POST /api/output/{volume}", s.handleOutput)
	mux.HandleFunc("POST /api/latency/{ms}", s.handleLatency)
	mux.HandleFunc("POST /api/loopback/{state}", s.handleLoopback)
	mux.HandleFunc("POST /api/preset/{name}", s.handlePreset)
	mux.HandleFunc("POST /api/ask", s.handleAsk)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// ListenAndServe runs the HTTP API until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, bind string) error {
	srv := &http.Server{
		Addr:              bind,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("http api listening", "bind", bind)

	go func() {
		<-ctx.Done()
		s.logger.Info("http api shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http listen: %w", err)
	}
	return nil
}
