// Package docstore persists traces, spans, and check results. Two
// implementations exist: an in-memory store for tests and small
// deployments, and a Postgres store backed by pgx.
package docstore

import (
	"context"
	"errors"

	"github.com/canopy-ai/canopy/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("docstore: not found")

// Store is the persistence surface used by the collector and the check
// worker. All methods are project-scoped.
type Store interface {
	// GetTrace returns the trace document, or ErrNotFound.
	GetTrace(ctx context.Context, projectID, traceID string) (model.Trace, error)

	// UpsertTrace writes the full trace document, replacing any
	// previous version.
	UpsertTrace(ctx context.Context, trace model.Trace) error

	// SpansByTrace returns all spans persisted for a trace, in no
	// guaranteed order. A trace with no spans yields an empty slice.
	SpansByTrace(ctx context.Context, projectID, traceID string) ([]*model.Span, error)

	// UpsertSpan writes one span keyed by (project_id, trace_id, span_id).
	UpsertSpan(ctx context.Context, span *model.Span) error

	// GetCheck returns one check result, or ErrNotFound.
	GetCheck(ctx context.Context, projectID, traceID, checkID string) (model.CheckResult, error)

	// UpsertCheck writes a check result keyed by
	// (project_id, trace_id, check_id).
	UpsertCheck(ctx context.Context, result model.CheckResult) error

	// ChecksByTrace returns all check results recorded for a trace.
	ChecksByTrace(ctx context.Context, projectID, traceID string) ([]model.CheckResult, error)

	// DeleteProjectTraces removes every trace, span, and check result
	// belonging to a project. Used for project teardown.
	DeleteProjectTraces(ctx context.Context, projectID string) error
}
