package model

import (
	"time"
)

// CollectorRequest is the batch accepted by POST /api/collector.
type CollectorRequest struct {
	TraceID  string         `json:"trace_id"`
	Spans    []RawSpan      `json:"spans"`
	Metadata *TraceMetadata `json:"metadata,omitempty"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// APIResponse is the standard response envelope for JSON endpoints.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// TraceWithSpans is the response for GET /api/trace/{trace_id}.
type TraceWithSpans struct {
	Trace Trace   `json:"trace"`
	Spans []*Span `json:"spans"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
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
