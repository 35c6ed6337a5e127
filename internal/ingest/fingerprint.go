package ingest

import (
	"crypto/md5" //nolint:gosec // content fingerprint for change detection, not integrity
	"encoding/hex"
	"encoding/json"

	"github.com/canopy-ai/canopy/internal/model"
)

// fingerprintSpan is the canonical subset of span fields covered by the
// content hash. inserted_at is excluded so that re-posting an identical
// batch produces an identical fingerprint.
type fingerprintSpan struct {
	Type       model.SpanType      `json:"type"`
	Name       string              `json:"name,omitempty"`
	SpanID     string              `json:"span_id"`
	ParentID   *string             `json:"parent_id,omitempty"`
	TraceID    string              `json:"trace_id"`
	Input      *model.StoredValue  `json:"input,omitempty"`
	Outputs    []model.StoredValue `json:"outputs"`
	Contexts   []model.RAGContext  `json:"contexts,omitempty"`
	Error      *model.SpanError    `json:"error,omitempty"`
	StartedAt  int64               `json:"started_at"`
	FinishedAt int64               `json:"finished_at"`
	Vendor     string              `json:"vendor,omitempty"`
	Model      string              `json:"model,omitempty"`
	Params     map[string]any      `json:"params,omitempty"`
	Metrics    *model.SpanMetrics  `json:"metrics,omitempty"`
}

// Fingerprint computes the indexing_md5 of a normalized, post-redaction
// span. An unchanged fingerprint means re-ingesting the span must be a
// no-op against the index.
func Fingerprint(s *model.Span) string {
	canonical, _ := json.Marshal(fingerprintSpan{
		Type:       s.Type,
		Name:       s.Name,
		SpanID:     s.SpanID,
		ParentID:   s.ParentID,
		TraceID:    s.TraceID,
		Input:      s.Input,
		Outputs:    s.Outputs,
		Contexts:   s.Contexts,
		Error:      s.Error,
		StartedAt:  s.Timestamp.StartedAt,
		FinishedAt: s.Timestamp.FinishedAt,
		Vendor:     s.Vendor,
		Model:      s.Model,
		Params:     s.Params,
		Metrics:    s.Metrics,
	})
	sum := md5.Sum(canonical) //nolint:gosec
	return hex.EncodeToString(sum[:])
}
