package feishu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultListenAddr is the webhook listen address.
const DefaultListenAddr = "0.0.0.0:18791"

const shutdownGrace = 10 * time.Second

// Server exposes the webhook processor over HTTP:
//
//	POST /         webhook deliveries
//	GET  /health   liveness probe
//	GET  /metrics  Prometheus metrics
type Server struct {
	processor *Processor
	addr      string
	logger    *slog.Logger

	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithListenAddr overrides the listen address.
func WithListenAddr(addr string) ServerOption {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// WithServerLogger sets the logger.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewServer creates the webhook HTTP server around a processor.
func NewServer(processor *Processor, opts ...ServerOption) *Server {
	s := &Server{
		processor: processor,
		addr:      DefaultListenAddr,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /{$}", s.handleWebhook)

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe blocks until the context is cancelled or the listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("feishu webhook listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json"})
		return
	}
	if payload == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "payload must be object"})
		return
	}

	if !s.processor.ValidateToken(payload) {
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "invalid verification token"})
		return
	}

	status, body := s.processor.ProcessPayload(r.Context(), payload)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
