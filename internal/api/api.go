// Package api provides the HTTP surface of the field bot: the WhatsApp Cloud
// API webhook (verification handshake plus inbound message delivery) and a
// small inspection endpoint over conversation state.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kapta-io/fieldbot/internal/models"
	"github.com/kapta-io/fieldbot/internal/store"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// MessageEmitter pushes a parsed inbound message into the processing
// pipeline. Implemented by the Cloud API messaging service.
type MessageEmitter interface {
	EmitMessage(msg models.IncomingMessage)
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr        string
	VerifyToken string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the webhook verification token.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// Server hosts the webhook and inspection endpoints.
type Server struct {
	emitter     MessageEmitter
	st          store.StateStore
	verifyToken string
	httpServer  *http.Server
}

// NewServer creates an API server that forwards webhook messages to the
// given emitter and reads conversation state from the given store.
func NewServer(emitter MessageEmitter, st store.StateStore, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	s := &Server{
		emitter:     emitter,
		st:          st,
		verifyToken: cfg.VerifyToken,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/sessions/", s.sessionHandler)
	mux.HandleFunc("/health", s.healthHandler)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	slog.Info("API server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("API server shutting down")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}
