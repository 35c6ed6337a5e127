package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/canopy-ai/canopy/internal/auth"
	"github.com/canopy-ai/canopy/internal/docstore"
	"github.com/canopy-ai/canopy/internal/ingest"
	"github.com/canopy-ai/canopy/internal/ratelimit"
)

// Server is the Canopy HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Optional fields (nil-safe): Searcher, Jobs.
type ServerConfig struct {
	// Required dependencies.
	Collector *ingest.Service
	Store     docstore.Store
	Resolver  auth.Resolver
	JWTMgr    *auth.JWTManager
	Logger    *slog.Logger

	// Optional dependencies (nil = disabled).
	Searcher Searcher
	Jobs     QueueDepther
	Limiter  ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Optional embedded assets.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Collector:           cfg.Collector,
		Store:               cfg.Store,
		Resolver:            cfg.Resolver,
		JWTMgr:              cfg.JWTMgr,
		Searcher:            cfg.Searcher,
		Jobs:                cfg.Jobs,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules: token exchange by IP, authenticated routes by project.
	authRL := ratelimit.Middleware(cfg.Limiter, "auth", ratelimit.IPKeyFunc, reqIDFunc)
	ingestRL := ratelimit.Middleware(cfg.Limiter, "ingest", projectKeyFunc, reqIDFunc)
	queryRL := ratelimit.Middleware(cfg.Limiter, "query", projectKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Token exchange (no auth required).
	mux.Handle("POST /auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))

	// Span ingestion. Method patterns give non-POST requests a 405.
	mux.Handle("POST /api/collector", ingestRL(http.HandlerFunc(h.HandleCollector)))

	// Trace reads.
	mux.Handle("GET /api/trace/{trace_id}", queryRL(http.HandlerFunc(h.HandleGetTrace)))
	mux.Handle("GET /api/trace/{trace_id}/checks", queryRL(http.HandlerFunc(h.HandleTraceChecks)))
	mux.Handle("GET /api/trace/{trace_id}/similar", queryRL(http.HandlerFunc(h.HandleSimilarTraces)))

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no auth).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Resolver, cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// projectKeyFunc extracts the authenticated project for rate limiting,
// falling back to the client IP for requests that failed auth upstream.
func projectKeyFunc(r *http.Request) string {
	if projectID := ProjectIDFromContext(r.Context()); projectID != "" {
		return projectID
	}
	return ratelimit.IPKeyFunc(r)
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
