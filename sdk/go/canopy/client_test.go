package canopy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// mockServer creates an httptest server that mimics the Canopy API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: serverURL,
		APIKey:  "test-key",
		Timeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func llmSpan(traceID, spanID string) RawSpan {
	return RawSpan{
		Type:    SpanTypeLLM,
		SpanID:  spanID,
		TraceID: traceID,
		Model:   "gpt-3.5-turbo",
		Input:   &SpanValue{Type: ValueTypeText, Value: json.RawMessage(`"hello"`)},
		Outputs: []SpanValue{{Type: ValueTypeText, Value: json.RawMessage(`"world"`)}},
		Timestamp: SpanTimestamps{
			StartedAt:  1706623872769,
			FinishedAt: 1706623874013,
		},
	}
}

func TestNewClientRequiresConfig(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k"}); err == nil {
		t.Error("expected error for missing BaseURL")
	}
	if _, err := NewClient(Config{BaseURL: "http://localhost:8080"}); err == nil {
		t.Error("expected error for missing APIKey")
	}
}

func TestSendSpans(t *testing.T) {
	var receivedBody collectorBody
	var receivedAuth string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/collector": func(w http.ResponseWriter, r *http.Request) {
			receivedAuth = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&receivedBody); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"error": map[string]any{"code": "INVALID_INPUT", "message": err.Error()},
				})
				return
			}
			w.WriteHeader(http.StatusOK)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.SendSpans(context.Background(), "trace-1",
		[]RawSpan{llmSpan("trace-1", "span-1")}, nil)
	if err != nil {
		t.Fatalf("SendSpans failed: %v", err)
	}
	if receivedAuth != "Bearer test-token-xyz" {
		t.Errorf("expected bearer token, got %q", receivedAuth)
	}
	if receivedBody.TraceID != "trace-1" {
		t.Errorf("expected trace_id 'trace-1', got %q", receivedBody.TraceID)
	}
	if len(receivedBody.Spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(receivedBody.Spans))
	}
	if receivedBody.Spans[0].Model != "gpt-3.5-turbo" {
		t.Errorf("expected model 'gpt-3.5-turbo', got %q", receivedBody.Spans[0].Model)
	}
}

func TestSendSpansRejectedBatch(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/collector": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": map[string]any{
					"code":    "INVALID_INPUT",
					"message": `span "span-2": invalid type "telepathy"`,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.SendSpans(context.Background(), "trace-1",
		[]RawSpan{llmSpan("trace-1", "span-1")}, nil)
	if err == nil {
		t.Fatal("expected error for rejected batch")
	}
	if !IsInvalidInput(err) {
		t.Errorf("expected IsInvalidInput, got %v", err)
	}
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if apiErr.Code != "INVALID_INPUT" {
		t.Errorf("expected code INVALID_INPUT, got %q", apiErr.Code)
	}
}

func TestGetTrace(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/trace/trace-1": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": TraceWithSpans{
					Trace: Trace{
						TraceID:   "trace-1",
						ProjectID: "proj-1",
						Input:     &TraceText{Value: "hello"},
						Output:    &TraceText{Value: "world"},
					},
					Spans: []Span{{SpanID: "span-1", TraceID: "trace-1", Type: SpanTypeLLM}},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.GetTrace(context.Background(), "trace-1")
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if resp.Trace.TraceID != "trace-1" {
		t.Errorf("expected trace_id 'trace-1', got %q", resp.Trace.TraceID)
	}
	if resp.Trace.Input == nil || resp.Trace.Input.Value != "hello" {
		t.Errorf("unexpected trace input: %+v", resp.Trace.Input)
	}
	if len(resp.Spans) != 1 || resp.Spans[0].Type != SpanTypeLLM {
		t.Errorf("unexpected spans: %+v", resp.Spans)
	}
}

func TestGetTraceNotFound(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/trace/missing": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "trace not found"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.GetTrace(context.Background(), "missing")
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound, got %v", err)
	}
}

func TestTraceChecks(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/trace/trace-1/checks": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []CheckResult{
					{
						CheckID:   "pii-basic",
						CheckType: "pii_check",
						TraceID:   "trace-1",
						Status:    CheckStatusSucceeded,
						Value:     0,
					},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	results, err := client.TraceChecks(context.Background(), "trace-1")
	if err != nil {
		t.Fatalf("TraceChecks failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Status != CheckStatusSucceeded {
		t.Errorf("expected status succeeded, got %q", results[0].Status)
	}
}

func TestSimilarTracesLimit(t *testing.T) {
	var receivedLimit string
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/trace/trace-1/similar": func(w http.ResponseWriter, r *http.Request) {
			receivedLimit = r.URL.Query().Get("limit")
			writeJSON(w, http.StatusOK, map[string]any{
				"data": []SimilarTrace{{TraceID: "trace-2", Score: 0.93}},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	results, err := client.SimilarTraces(context.Background(), "trace-1", 5)
	if err != nil {
		t.Fatalf("SimilarTraces failed: %v", err)
	}
	if receivedLimit != "5" {
		t.Errorf("expected limit=5, got %q", receivedLimit)
	}
	if len(results) != 1 || results[0].TraceID != "trace-2" {
		t.Errorf("unexpected results: %+v", results)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health request should not carry Authorization")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "healthy", Store: "up"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("expected status healthy, got %q", resp.Status)
	}
	if authCalls.Load() != 0 {
		t.Errorf("expected no token exchange, got %d", authCalls.Load())
	}
}

func TestTokenReusedAcrossRequests(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"POST /api/collector": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if err := client.SendSpans(context.Background(), "trace-1",
			[]RawSpan{llmSpan("trace-1", "span-1")}, nil); err != nil {
			t.Fatalf("SendSpans failed: %v", err)
		}
	}
	if authCalls.Load() != 1 {
		t.Errorf("expected 1 token exchange, got %d", authCalls.Load())
	}
}

func TestExpiredTokenIsRefreshed(t *testing.T) {
	var authCalls atomic.Int32
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			// Expires inside the refresh margin, forcing a new exchange
			// on every request.
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(5 * time.Second).Format(time.RFC3339),
				},
			})
		},
		"POST /api/collector": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 2; i++ {
		if err := client.SendSpans(context.Background(), "trace-1",
			[]RawSpan{llmSpan("trace-1", "span-1")}, nil); err != nil {
			t.Fatalf("SendSpans failed: %v", err)
		}
	}
	if authCalls.Load() != 2 {
		t.Errorf("expected 2 token exchanges, got %d", authCalls.Load())
	}
}
