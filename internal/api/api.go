// Package api provides the HTTP surface of VoiceIntake: the streaming turn
// endpoint, record retrieval, final submission and a health check.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/BTreeMap/VoiceIntake/internal/genai"
	"github.com/BTreeMap/VoiceIntake/internal/interview"
	"github.com/BTreeMap/VoiceIntake/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	// DefaultServerAddress is the listen address when none is configured.
	DefaultServerAddress = ":8080"
	// DefaultMaxUploadBytes caps the multipart body of a turn.
	DefaultMaxUploadBytes int64 = 25 << 20
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second
	// DefaultReadHeaderTimeout guards against slow clients.
	DefaultReadHeaderTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Option configures the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithAllowedOrigins sets the CORS origins allowed to call the API.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Opts) { o.AllowedOrigins = origins }
}

// WithMaxUploadBytes caps the size of an uploaded recording.
func WithMaxUploadBytes(n int64) Option {
	return func(o *Opts) { o.MaxUploadBytes = n }
}

func applyOptions(opts []Option) Opts {
	cfg := Opts{
		Addr:           DefaultServerAddress,
		AllowedOrigins: []string{"*"},
		MaxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultServerAddress
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return cfg
}

// Server holds the HTTP handlers and their collaborators.
type Server struct {
	orchestrator *interview.Orchestrator
	pipeline     *interview.Pipeline
	storeKind    string
	opts         Opts
}

// NewServer creates a Server. storeKind is reported by the health endpoint.
func NewServer(orchestrator *interview.Orchestrator, pipeline *interview.Pipeline, storeKind string, opts ...Option) *Server {
	return &Server{
		orchestrator: orchestrator,
		pipeline:     pipeline,
		storeKind:    storeKind,
		opts:         applyOptions(opts),
	}
}

// Router builds the HTTP handler with middleware and routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API routes on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Post("/turn", s.turnHandler)
	r.Get("/responses", s.responsesHandler)
	r.Post("/finalResponses", s.finalResponsesHandler)
	r.Get("/healthz", s.healthHandler)
}

// Run connects the store and model client, then serves HTTP until SIGINT or
// SIGTERM, after which the server drains and the store is closed.
func Run(storeCfg store.Config, genaiOpts []genai.Option, cfg interview.Config, apiOpts []Option) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	st, kind, err := store.Open(ctx, storeCfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("API.Run: failed to close store", "error", err)
		} else {
			slog.Info("API.Run: store closed")
		}
	}()

	orchestrator, err := interview.NewOrchestrator(cfg, client, st)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	pipeline := interview.NewPipeline(orchestrator, client, client)

	server := NewServer(orchestrator, pipeline, kind, apiOpts...)
	httpServer := &http.Server{
		Addr:              server.opts.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", server.opts.Addr, "store", kind)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("API.Run: shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}
	slog.Info("API.Run: server stopped")
	return nil
}
