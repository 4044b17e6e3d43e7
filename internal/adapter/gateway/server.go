// Package gateway serves the relay over HTTP: model and adapter listings, the
// conversation endpoint as a chunked event stream, and a websocket variant.
package gateway

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"time"

	"modelrelay/internal/domain"
	"modelrelay/internal/infra/middleware"
	"modelrelay/internal/usecase/orchestrator"
)

// Relay produces the chunk stream for one request.
type Relay interface {
	Stream(ctx context.Context, req domain.Request) iter.Seq[domain.Chunk]
}

// Catalog lists what the relay can serve.
type Catalog interface {
	Working() []string
	AllModels(ctx context.Context) []string
}

// AttemptLister reads recorded attempts.
type AttemptLister interface {
	Recent(ctx context.Context, limit int) ([]orchestrator.Attempt, error)
	ByRequest(ctx context.Context, requestID string) ([]orchestrator.Attempt, error)
}

// Deps holds the collaborators behind the routes.
type Deps struct {
	Relay        Relay
	Catalog      Catalog
	Attempts     AttemptLister // nil when the attempt store is disabled
	DefaultModel string
}

// Options configures the HTTP server.
type Options struct {
	Addr            string
	RateLimit       middleware.RateLimitConfig
	ShutdownTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	deps      Deps
	opts      Options
	logger    *slog.Logger
	metrics   *Metrics
	startTime time.Time
	httpSrv   *http.Server
}

// NewServer creates a front end server.
func NewServer(deps Deps, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		deps:      deps,
		opts:      opts,
		logger:    logger,
		metrics:   &Metrics{},
		startTime: time.Now(),
	}
}


// Handler builds the routed handler with middleware applied. ctx bounds the rate
// limiter's cleanup goroutine.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /backend-api/v2/models", s.handleModels)
	mux.HandleFunc("GET /backend-api/v2/providers", s.handleProviders)
	mux.HandleFunc("POST /backend-api/v2/conversation", s.handleConversation)
	mux.HandleFunc("GET /backend-api/v2/conversation/ws", s.handleConversationWS)
	mux.HandleFunc("POST /backend-api/v2/gen.set.summarize:title", s.handleTitle)
	mux.HandleFunc("POST /backend-api/v2/error", s.handleClientError)
	mux.HandleFunc("GET /backend-api/v2/attempts", s.handleAttempts)
	mux.HandleFunc("GET /healthz", statusHandler(s.deps, s.startTime, s.metrics))
	mux.HandleFunc("GET /metrics", metricsHandler(s.deps, s.startTime, s.metrics))

	return middleware.SecurityHeaders(middleware.RateLimitWithConfig(ctx, s.opts.RateLimit)(mux))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.httpSrv = &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("gateway started", "addr", listener.Addr().String())

	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server. In-flight streams get ShutdownTimeout to
// finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.opts.ShutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}
