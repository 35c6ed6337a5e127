// Package model defines the core domain types for Canopy.
//
// Spans and traces correspond directly to the documents written to the
// search index. Types use strong typing (enums, typed values) and avoid
// interface{} wherever the wire format allows.
package model

import (
	"encoding/json"
	"fmt"
)

// SpanType discriminates the span payload union.
type SpanType string

const (
	SpanTypeLLM       SpanType = "llm"
	SpanTypeRAG       SpanType = "rag"
	SpanTypeSpan      SpanType = "span"
	SpanTypeChain     SpanType = "chain"
	SpanTypeTool      SpanType = "tool"
	SpanTypeAgent     SpanType = "agent"
	SpanTypeGuardrail SpanType = "guardrail"
)

// spanTypes is the closed set of accepted span types.
var spanTypes = map[SpanType]bool{
	SpanTypeLLM:       true,
	SpanTypeRAG:       true,
	SpanTypeSpan:      true,
	SpanTypeChain:     true,
	SpanTypeTool:      true,
	SpanTypeAgent:     true,
	SpanTypeGuardrail: true,
}

// ValidSpanType reports whether t is a known span type.
func ValidSpanType(t SpanType) bool {
	return spanTypes[t]
}

// ValueType discriminates span input/output values.
type ValueType string

const (
	ValueTypeText         ValueType = "text"
	ValueTypeChatMessages ValueType = "chat_messages"
	ValueTypeJSON         ValueType = "json"
	ValueTypeRaw          ValueType = "raw"
)

// ChatMessage is a single message in a chat_messages value.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SpanValue is an input or output value as submitted by a client SDK.
// Value holds the raw JSON of the structured payload; the normalizer
// decodes it according to Type.
type SpanValue struct {
	Type  ValueType       `json:"type"`
	Value json.RawMessage `json:"value"`
}

// StoredValue is the canonical persisted form of a span value: the
// JSON-serialized encoding of the original structured value. Plain-text
// values are stored as their JSON-string encoding (quoted), keeping the
// stored field uniformly string-typed.
type StoredValue struct {
	Type  ValueType `json:"type"`
	Value string    `json:"value"`
}

// RAGContext is one retrieved document chunk attached to a RAG span.
type RAGContext struct {
	DocumentID string  `json:"document_id"`
	ChunkID    *string `json:"chunk_id,omitempty"`
	Content    string  `json:"content"`
}

// SpanError captures a failure reported by the client.
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

// SpanMetrics holds vendor-reported usage for LLM spans.
type SpanMetrics struct {
	PromptTokens     *int   `json:"prompt_tokens,omitempty"`
	CompletionTokens *int   `json:"completion_tokens,omitempty"`
	FirstTokenMS     *int64 `json:"first_token_ms,omitempty"`
}

// RawSpan is a span as received at the collector boundary, before
// normalization. Contexts accepts either structured objects or bare
// strings (legacy form); the distinction is resolved by the normalizer.
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

// Span is the normalized, persisted form of a span. Immutable after the
// redactor has rewritten its text fields; never updated once indexed.
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

// ValidationError reports a span that failed schema validation, naming
// the offending field. It maps to a 400 at the collector boundary.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid span: %s: %s", e.Field, e.Message)
}

// Validate checks the raw span against the discriminated-union schema
// for its declared type.
func (s *RawSpan) Validate() error {
	if !ValidSpanType(s.Type) {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown span type %q", s.Type)}
	}
	if s.SpanID == "" {
		return &ValidationError{Field: "span_id", Message: "must not be empty"}
	}
	if s.Timestamp.StartedAt <= 0 {
		return &ValidationError{Field: "timestamps.started_at", Message: "must be a positive epoch millisecond value"}
	}
	if s.Timestamp.FinishedAt <= 0 {
		return &ValidationError{Field: "timestamps.finished_at", Message: "must be a positive epoch millisecond value"}
	}
	if s.Input != nil {
		if err := validateSpanValue("input", s.Input); err != nil {
			return err
		}
	}
	for i := range s.Outputs {
		if err := validateSpanValue(fmt.Sprintf("outputs[%d]", i), &s.Outputs[i]); err != nil {
			return err
		}
	}
	if s.Type != SpanTypeRAG && len(s.Contexts) > 0 {
		return &ValidationError{Field: "contexts", Message: "only rag spans may carry contexts"}
	}
	if s.Type == SpanTypeLLM && s.Model == "" && s.Vendor != "" {
		return &ValidationError{Field: "model", Message: "llm spans with a vendor must name a model"}
	}
	return nil
}

var valueTypes = map[ValueType]bool{
	ValueTypeText:         true,
	ValueTypeChatMessages: true,
	ValueTypeJSON:         true,
	ValueTypeRaw:          true,
}

func validateSpanValue(field string, v *SpanValue) error {
	if !valueTypes[v.Type] {
		return &ValidationError{Field: field + ".type", Message: fmt.Sprintf("unknown value type %q", v.Type)}
	}
	switch v.Type {
	case ValueTypeText, ValueTypeRaw:
		var s string
		if err := json.Unmarshal(v.Value, &s); err != nil {
			return &ValidationError{Field: field + ".value", Message: "must be a JSON string"}
		}
	case ValueTypeChatMessages:
		var msgs []ChatMessage
		if err := json.Unmarshal(v.Value, &msgs); err != nil {
			return &ValidationError{Field: field + ".value", Message: "must be an array of chat messages"}
		}
	case ValueTypeJSON:
		if !json.Valid(v.Value) {
			return &ValidationError{Field: field + ".value", Message: "must be valid JSON"}
		}
	}
	return nil
}
