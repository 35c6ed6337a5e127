package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/canopy-ai/canopy/internal/auth"
	"github.com/canopy-ai/canopy/internal/docstore"
	"github.com/canopy-ai/canopy/internal/ingest"
	"github.com/canopy-ai/canopy/internal/model"
	"github.com/canopy-ai/canopy/internal/search"
)

// Searcher is the slice of the search index the HTTP layer uses.
type Searcher interface {
	FindSimilar(ctx context.Context, projectID string, embedding []float32, excludeTraceID string, limit int) ([]search.Result, error)
	Healthy(ctx context.Context) error
}

// QueueDepther reports pending check jobs; both queue backends implement it.
type QueueDepther interface {
	Len(ctx context.Context) (int, error)
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	collector   *ingest.Service
	store       docstore.Store
	resolver    auth.Resolver
	jwtMgr      *auth.JWTManager
	searcher    Searcher
	jobs        QueueDepther
	logger      *slog.Logger
	startedAt   time.Time
	version     string
	maxBody     int64
	openapiSpec []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Searcher, Jobs.
type HandlersDeps struct {
	Collector           *ingest.Service
	Store               docstore.Store
	Resolver            auth.Resolver
	JWTMgr              *auth.JWTManager
	Searcher            Searcher
	Jobs                QueueDepther
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		collector:   d.Collector,
		store:       d.Store,
		resolver:    d.Resolver,
		jwtMgr:      d.JWTMgr,
		searcher:    d.Searcher,
		jobs:        d.Jobs,
		logger:      d.Logger,
		startedAt:   time.Now(),
		version:     d.Version,
		maxBody:     d.MaxRequestBodyBytes,
		openapiSpec: d.OpenAPISpec,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges a collector API
// key for a short-lived ingest token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}
	if req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "api_key is required")
		return
	}

	projectID, ok, err := h.resolver.Resolve(r.Context(), req.APIKey)
	if err != nil {
		h.writeInternalError(w, r, "resolve api key", err)
		return
	}
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueIngestToken(projectID)
	if err != nil {
		h.writeInternalError(w, r, "issue ingest token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleCollector handles POST /api/collector: one span batch for one
// trace. The batch is all-or-nothing; a single malformed span rejects
// the whole request and nothing is persisted.
func (h *Handlers) HandleCollector(w http.ResponseWriter, r *http.Request) {
	projectID := ProjectIDFromContext(r.Context())

	var req model.CollectorRequest
	if err := decodeJSON(w, r, &req, h.maxBody); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid request body")
		return
	}

	result, err := h.collector.Ingest(r.Context(), projectID, req)
	if err != nil {
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, verr.Error())
			return
		}
		h.writeInternalError(w, r, "ingest batch", err)
		return
	}

	h.logger.Debug("collector batch accepted",
		"trace_id", result.TraceID,
		"spans_written", result.SpansWritten,
		"unchanged", result.Unchanged)
	w.WriteHeader(http.StatusOK)
}

// HandleGetTrace handles GET /api/trace/{trace_id}.
func (h *Handlers) HandleGetTrace(w http.ResponseWriter, r *http.Request) {
	projectID := ProjectIDFromContext(r.Context())
	traceID := r.PathValue("trace_id")

	trace, err := h.store.GetTrace(r.Context(), projectID, traceID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
			return
		}
		h.writeInternalError(w, r, "load trace", err)
		return
	}

	spans, err := h.store.SpansByTrace(r.Context(), projectID, traceID)
	if err != nil {
		h.writeInternalError(w, r, "load spans", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.TraceWithSpans{Trace: trace, Spans: spans})
}

// HandleTraceChecks handles GET /api/trace/{trace_id}/checks.
func (h *Handlers) HandleTraceChecks(w http.ResponseWriter, r *http.Request) {
	projectID := ProjectIDFromContext(r.Context())
	traceID := r.PathValue("trace_id")

	if _, err := h.store.GetTrace(r.Context(), projectID, traceID); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
			return
		}
		h.writeInternalError(w, r, "load trace", err)
		return
	}

	results, err := h.store.ChecksByTrace(r.Context(), projectID, traceID)
	if err != nil {
		h.writeInternalError(w, r, "load check results", err)
		return
	}
	if results == nil {
		results = []model.CheckResult{}
	}

	writeJSON(w, r, http.StatusOK, results)
}

// HandleSimilarTraces handles GET /api/trace/{trace_id}/similar.
// Uses the trace's stored input embedding; traces ingested before
// enrichment ran (or without input) have nothing to compare and return
// an empty list.
func (h *Handlers) HandleSimilarTraces(w http.ResponseWriter, r *http.Request) {
	projectID := ProjectIDFromContext(r.Context())
	traceID := r.PathValue("trace_id")

	if h.searcher == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "trace search is not configured")
		return
	}

	trace, err := h.store.GetTrace(r.Context(), projectID, traceID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trace not found")
			return
		}
		h.writeInternalError(w, r, "load trace", err)
		return
	}

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "limit must be in 1..100")
			return
		}
		limit = n
	}

	if trace.Input == nil || trace.Input.Embeddings == nil {
		writeJSON(w, r, http.StatusOK, []search.Result{})
		return
	}

	results, err := h.searcher.FindSimilar(r.Context(), projectID, trace.Input.Embeddings.Embeddings, traceID, limit)
	if err != nil {
		h.writeInternalError(w, r, "similarity search", err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}

	writeJSON(w, r, http.StatusOK, results)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	storeStatus := "connected"
	if pinger, ok := h.store.(interface{ Ping(context.Context) error }); ok {
		if err := pinger.Ping(r.Context()); err != nil {
			storeStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	resp := model.HealthResponse{
		Status:  status,
		Version: h.version,
		Store:   storeStatus,
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
	}

	if h.jobs != nil {
		if depth, err := h.jobs.Len(r.Context()); err == nil {
			resp.Queue = "connected"
			resp.QueueDepth = depth
		} else {
			resp.Queue = "disconnected"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	if h.searcher != nil {
		if err := h.searcher.Healthy(r.Context()); err == nil {
			resp.Search = "connected"
		} else {
			resp.Search = "disconnected"
			if resp.Status == "healthy" {
				resp.Status = "degraded"
			}
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, action string, err error) {
	h.logger.Error(action,
		"error", err,
		"request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal error")
}
