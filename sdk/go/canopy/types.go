package canopy

import "encoding/json"

// SpanType identifies the kind of work a span represents.
type SpanType string

const (
	SpanTypeSpan      SpanType = "span"
	SpanTypeLLM       SpanType = "llm"
	SpanTypeChain     SpanType = "chain"
	SpanTypeTool      SpanType = "tool"
	SpanTypeAgent     SpanType = "agent"
	SpanTypeRAG       SpanType = "rag"
	SpanTypeGuardrail SpanType = "guardrail"
)

// ValueType tags the shape of a span input or output payload.
type ValueType string

const (
	ValueTypeText         ValueType = "text"
	ValueTypeChatMessages ValueType = "chat_messages"
	ValueTypeJSON         ValueType = "json"
	ValueTypeRaw          ValueType = "raw"
)

// ChatMessage is one turn of a chat_messages payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SpanValue is a typed span input or output.
type SpanValue struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// RAGContext is one retrieved document chunk attached to a rag span.
type RAGContext struct {
	DocumentID string  `json:"document_id"`
	ChunkID    *string `json:"chunk_id,omitempty"`
	Content    string  `json:"content"`
}

// SpanError captures a failure inside a span.
type SpanError struct {
	Message    string   `json:"message"`
	Stacktrace []string `json:"stacktrace,omitempty"`
}

// SpanTimestamps are epoch milliseconds. InsertedAt is server-assigned.
type SpanTimestamps struct {
	StartedAt  int64 `json:"started_at"`
	FinishedAt int64 `json:"finished_at"`
	InsertedAt int64 `json:"inserted_at,omitempty"`
}

// SpanMetrics are vendor-reported usage numbers for an llm span. Omitted
// token counts are estimated server-side from the span text.
type SpanMetrics struct {
	PromptTokens     *int   `json:"prompt_tokens,omitempty"`
	CompletionTokens *int   `json:"completion_tokens,omitempty"`
	FirstTokenMS     *int64 `json:"first_token_ms,omitempty"`
}

// RawSpan is one span as submitted to the collector.
type RawSpan struct {
	Type      SpanType          `json:"type"`
	Name      string            `json:"name,omitempty"`
	SpanID    string            `json:"span_id"`
	ParentID  *string           `json:"parent_id,omitempty"`
	TraceID   string            `json:"trace_id"`
	Input     *SpanValue        `json:"input,omitempty"`
	Outputs   []SpanValue       `json:"outputs"`
	Contexts  []json.RawMessage `json:"contexts,omitempty"`
	Error     *SpanError        `json:"error,omitempty"`
	Timestamp SpanTimestamps    `json:"timestamps"`
	Vendor    string            `json:"vendor,omitempty"`
	Model     string            `json:"model,omitempty"`
	Params    map[string]any    `json:"params,omitempty"`
	Metrics   *SpanMetrics      `json:"metrics,omitempty"`
}

// StoredValue is the normalized form of a span input or output as
// returned by the read API. Value is the JSON-serialized encoding of
// the original structured payload.
type StoredValue struct {
	Type  ValueType `json:"type"`
	Value string    `json:"value"`
}

// Span is a normalized span as returned by GET /api/trace/{trace_id}.
type Span struct {
	ProjectID string         `json:"project_id"`
	Type      SpanType       `json:"type"`
	Name      string         `json:"name,omitempty"`
	SpanID    string         `json:"span_id"`
	ParentID  *string        `json:"parent_id,omitempty"`
	TraceID   string         `json:"trace_id"`
	Input     *StoredValue   `json:"input,omitempty"`
	Outputs   []StoredValue  `json:"outputs"`
	Contexts  []RAGContext   `json:"contexts,omitempty"`
	Error     *SpanError     `json:"error,omitempty"`
	Timestamp SpanTimestamps `json:"timestamps"`
	Vendor    string         `json:"vendor,omitempty"`
	Model     string         `json:"model,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Metrics   *SpanMetrics   `json:"metrics,omitempty"`
}

// Embeddings is a model-tagged embedding vector.
type Embeddings struct {
	Embeddings []float32 `json:"embeddings"`
	Model      string    `json:"model"`
}

// TraceText is a derived trace input or output.
type TraceText struct {
	Value             string      `json:"value"`
	SatisfactionScore *float64    `json:"satisfaction_score,omitempty"`
	Embeddings        *Embeddings `json:"embeddings,omitempty"`
}

// TraceMetrics are aggregates computed over all spans of a trace.
type TraceMetrics struct {
	FirstTokenMS     *int64   `json:"first_token_ms"`
	TotalTimeMS      *int64   `json:"total_time_ms"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalCost        *float64 `json:"total_cost"`
	TokensEstimated  bool     `json:"tokens_estimated"`
}

// TraceMetadata is caller-supplied correlation metadata.
type TraceMetadata struct {
	ThreadID   *string  `json:"thread_id,omitempty"`
	UserID     *string  `json:"user_id,omitempty"`
	CustomerID *string  `json:"customer_id,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

// TraceTimestamps are epoch milliseconds.
type TraceTimestamps struct {
	StartedAt  int64 `json:"started_at"`
	InsertedAt int64 `json:"inserted_at"`
	UpdatedAt  int64 `json:"updated_at"`
}

// Trace is the aggregate document over all spans sharing a trace_id.
type Trace struct {
	TraceID      string          `json:"trace_id"`
	ProjectID    string          `json:"project_id"`
	Metadata     TraceMetadata   `json:"metadata"`
	Timestamps   TraceTimestamps `json:"timestamps"`
	Input        *TraceText      `json:"input,omitempty"`
	Output       *TraceText      `json:"output,omitempty"`
	Metrics      TraceMetrics    `json:"metrics"`
	Error        *SpanError      `json:"error"`
	IndexingMD5s []string        `json:"indexing_md5s"`
}

// TraceWithSpans is the response for GET /api/trace/{trace_id}.
type TraceWithSpans struct {
	Trace Trace  `json:"trace"`
	Spans []Span `json:"spans"`
}

// CheckStatus is the lifecycle state of a check evaluation. Errored
// (provider down, malformed rule) is distinct from Failed (the rule
// evaluated cleanly and the failure condition triggered).
type CheckStatus string

const (
	CheckStatusPending   CheckStatus = "pending"
	CheckStatusRunning   CheckStatus = "running"
	CheckStatusSucceeded CheckStatus = "succeeded"
	CheckStatusFailed    CheckStatus = "failed"
	CheckStatusErrored   CheckStatus = "errored"
)

// Money is a cost incurred while evaluating a check.
type Money struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// CheckResult is the outcome of one check evaluation for one trace.
type CheckResult struct {
	CheckID   string      `json:"check_id"`
	CheckType string      `json:"check_type"`
	CheckName string      `json:"check_name"`
	TraceID   string      `json:"trace_id"`
	ProjectID string      `json:"project_id"`
	Status    CheckStatus `json:"status"`
	RawResult any         `json:"raw_result,omitempty"`
	Value     float64     `json:"value"`
	Costs     []Money     `json:"costs,omitempty"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt int64       `json:"updated_at"`
}

// SimilarTrace is one hit from a similarity search.
type SimilarTrace struct {
	TraceID string  `json:"trace_id"`
	Score   float32 `json:"score"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Store      string `json:"store"`
	Queue      string `json:"queue,omitempty"`
	Search     string `json:"search,omitempty"`
	Uptime     int64  `json:"uptime_seconds"`
	QueueDepth int    `json:"queue_depth"`
}
