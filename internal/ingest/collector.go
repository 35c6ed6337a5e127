package ingest

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sort"
	"time"

	"github.com/canopy-ai/canopy/internal/docstore"
	"github.com/canopy-ai/canopy/internal/model"
	"github.com/canopy-ai/canopy/internal/pricing"
	"github.com/canopy-ai/canopy/internal/queue"
	"github.com/canopy-ai/canopy/internal/redact"
)

// Enricher fills derived attributes (embeddings, satisfaction score) on
// an assembled trace. Failures degrade inside the enricher; the
// collector never sees them.
type Enricher interface {
	EnrichTrace(ctx context.Context, trace *model.Trace)
}

// CheckSource supplies the enabled check configurations for a project.
type CheckSource interface {
	EnabledChecks(ctx context.Context, projectID string) ([]model.CheckConfig, error)
}

// PreconditionGate decides whether a check's preconditions hold for a
// trace. A gated-out check is not scheduled and leaves no result.
type PreconditionGate interface {
	Met(ctx context.Context, trace model.Trace, precs []model.CheckPrecondition) bool
}

// Searcher indexes finished traces for similarity lookups. Indexing is
// best-effort: a down search backend never fails ingestion.
type Searcher interface {
	IndexTrace(ctx context.Context, trace model.Trace) error
}

// Result summarizes one collector ingestion.
type Result struct {
	TraceID      string
	SpansWritten int
	// Unchanged is set when every incoming span was already indexed and
	// the metadata added nothing: the whole request was a no-op.
	Unchanged bool
}

// Service is the collector orchestrator. One call ingests a span batch:
// validate, normalize, redact, merge with persisted spans, derive the
// trace document, enrich, persist, and schedule checks.
type Service struct {
	store     docstore.Store
	redactor  *redact.Redactor
	redactCfg redact.Config
	enricher  Enricher
	prices    *pricing.Table
	jobs      queue.Queue
	checks    CheckSource
	gate      PreconditionGate
	search    Searcher
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceOption configures optional collaborators on a Service.
type ServiceOption func(*Service)

// WithRedaction enables PII redaction with the given redactor and config.
func WithRedaction(r *redact.Redactor, cfg redact.Config) ServiceOption {
	return func(s *Service) {
		s.redactor = r
		s.redactCfg = cfg
	}
}

// WithChecks enables check scheduling.
func WithChecks(source CheckSource, jobs queue.Queue) ServiceOption {
	return func(s *Service) {
		s.checks = source
		s.jobs = jobs
	}
}

// WithPreconditionGate wires precondition evaluation into check
// scheduling.
func WithPreconditionGate(gate PreconditionGate) ServiceOption {
	return func(s *Service) { s.gate = gate }
}

// WithSearch enables trace indexing for similarity search.
func WithSearch(search Searcher) ServiceOption {
	return func(s *Service) { s.search = search }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService creates a collector Service. Store, enricher, and price
// table are required; redaction, checks, and search are optional.
func NewService(store docstore.Store, enricher Enricher, prices *pricing.Table, logger *slog.Logger, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		enricher: enricher,
		prices:   prices,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest processes one collector batch. The batch is all-or-nothing: if
// any span fails validation, nothing is persisted and a
// *model.ValidationError is returned.
func (s *Service) Ingest(ctx context.Context, projectID string, req model.CollectorRequest) (*Result, error) {
	if req.TraceID == "" {
		return nil, &model.ValidationError{Field: "trace_id", Message: "must not be empty"}
	}
	if len(req.Spans) == 0 {
		return nil, &model.ValidationError{Field: "spans", Message: "must not be empty"}
	}

	insertedAt := s.now().UnixMilli()

	// Normalize every span before touching storage.
	incoming := make([]*model.Span, 0, len(req.Spans))
	for i := range req.Spans {
		raw := req.Spans[i]
		if raw.TraceID == "" {
			raw.TraceID = req.TraceID
		}
		if raw.TraceID != req.TraceID {
			return nil, &model.ValidationError{Field: "trace_id", Message: "span trace_id does not match batch trace_id"}
		}
		span, err := NormalizeSpan(raw, projectID, insertedAt)
		if err != nil {
			return nil, err
		}
		incoming = append(incoming, &span)
	}

	if s.redactor != nil {
		for _, span := range incoming {
			s.redactor.RedactSpan(ctx, span, s.redactCfg)
		}
	}

	// Read-merge-write: recompute the trace from the union of persisted
	// spans and the incoming batch, incoming winning on span_id.
	persisted, err := s.store.SpansByTrace(ctx, projectID, req.TraceID)
	if err != nil {
		return nil, err
	}
	merged := mergeSpans(persisted, incoming)

	if err := ApplyRAGBorrowing(merged); err != nil {
		return nil, err
	}

	prev, err := s.store.GetTrace(ctx, projectID, req.TraceID)
	traceExists := err == nil
	if err != nil && !errors.Is(err, docstore.ErrNotFound) {
		return nil, err
	}

	trace := model.Trace{
		TraceID:   req.TraceID,
		ProjectID: projectID,
	}
	// Stored metadata takes precedence: the first non-null value per
	// field survives later ingests that supply a different one.
	if traceExists {
		trace.Metadata = prev.Metadata
	}
	if req.Metadata != nil {
		trace.MergeMetadata(*req.Metadata)
	}

	md5s := make([]string, len(merged))
	changed := make([]*model.Span, 0, len(merged))
	for i, span := range merged {
		md5s[i] = Fingerprint(span)
		if !traceExists || !prev.HasIndexedMD5(md5s[i]) {
			changed = append(changed, span)
		}
	}
	sort.Strings(md5s)

	if traceExists && len(changed) == 0 && reflect.DeepEqual(trace.Metadata, prev.Metadata) {
		return &Result{TraceID: req.TraceID, Unchanged: true}, nil
	}

	derived, err := Assemble(merged, s.prices)
	if err != nil {
		return nil, err
	}

	trace.Metrics = derived.Metrics
	trace.Error = derived.Error
	trace.IndexingMD5s = md5s
	trace.Timestamps = model.TraceTimestamps{
		StartedAt:  derived.StartedAt,
		InsertedAt: insertedAt,
		UpdatedAt:  insertedAt,
	}
	if traceExists && prev.Timestamps.InsertedAt != 0 {
		trace.Timestamps.InsertedAt = prev.Timestamps.InsertedAt
	}
	if derived.Input != nil {
		trace.Input = &model.TraceText{Value: *derived.Input}
	}
	if derived.Output != nil {
		trace.Output = &model.TraceText{Value: *derived.Output}
	}

	s.enricher.EnrichTrace(ctx, &trace)

	for _, span := range changed {
		if err := s.store.UpsertSpan(ctx, span); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpsertTrace(ctx, trace); err != nil {
		return nil, err
	}

	s.scheduleChecks(ctx, trace)

	if s.search != nil {
		if err := s.search.IndexTrace(ctx, trace); err != nil {
			s.logger.Warn("collector: trace indexing failed",
				"trace_id", trace.TraceID, "error", err)
		}
	}

	return &Result{TraceID: req.TraceID, SpansWritten: len(changed)}, nil
}

// scheduleChecks enqueues one job per enabled check. Best-effort: a
// down queue or config source degrades to a logged warning, never a
// failed ingestion.
func (s *Service) scheduleChecks(ctx context.Context, trace model.Trace) {
	if s.checks == nil || s.jobs == nil {
		return
	}
	configs, err := s.checks.EnabledChecks(ctx, trace.ProjectID)
	if err != nil {
		s.logger.Warn("collector: loading check configs failed",
			"project_id", trace.ProjectID, "error", err)
		return
	}
	for _, cfg := range configs {
		if len(cfg.Preconditions) > 0 && s.gate != nil && !s.gate.Met(ctx, trace, cfg.Preconditions) {
			s.logger.Debug("collector: check preconditions not met, skipping",
				"trace_id", trace.TraceID, "check_id", cfg.ID)
			continue
		}
		result := model.CheckResult{
			CheckID:   cfg.ID,
			CheckType: cfg.Type,
			CheckName: cfg.Name,
			TraceID:   trace.TraceID,
			ProjectID: trace.ProjectID,
			Status:    model.CheckStatusPending,
			UpdatedAt: s.now().UnixMilli(),
		}
		if err := s.store.UpsertCheck(ctx, result); err != nil {
			s.logger.Warn("collector: recording pending check failed",
				"trace_id", trace.TraceID, "check_id", cfg.ID, "error", err)
			continue
		}
		job := model.CheckJob{
			CheckID:   cfg.ID,
			CheckType: cfg.Type,
			CheckName: cfg.Name,
			TraceID:   trace.TraceID,
			ProjectID: trace.ProjectID,
			Metadata:  trace.Metadata,
		}
		if err := s.jobs.Enqueue(ctx, job); err != nil {
			s.logger.Warn("collector: enqueueing check job failed",
				"trace_id", trace.TraceID, "check_id", cfg.ID, "error", err)
		}
	}
}

// mergeSpans unions persisted and incoming spans by span_id, incoming
// winning. Order is persisted-first, then new spans in batch order.
func mergeSpans(persisted, incoming []*model.Span) []*model.Span {
	byID := make(map[string]int, len(persisted))
	merged := make([]*model.Span, 0, len(persisted)+len(incoming))
	for _, span := range persisted {
		byID[span.SpanID] = len(merged)
		merged = append(merged, span)
	}
	for _, span := range incoming {
		if i, ok := byID[span.SpanID]; ok {
			merged[i] = span
			continue
		}
		byID[span.SpanID] = len(merged)
		merged = append(merged, span)
	}
	return merged
}
