package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/canopy-ai/canopy/internal/model"
)

// Memory is an in-process Store. Values are deep-copied through JSON on
// the way in and out so callers never share mutable state with the
// store.
type Memory struct {
	mu     sync.RWMutex
	traces map[string]json.RawMessage // projectID/traceID
	spans  map[string]json.RawMessage // projectID/traceID/spanID
	checks map[string]json.RawMessage // projectID/traceID/checkID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		traces: make(map[string]json.RawMessage),
		spans:  make(map[string]json.RawMessage),
		checks: make(map[string]json.RawMessage),
	}
}

func key(parts ...string) string {
	k := parts[0]
	for _, p := range parts[1:] {
		k += "\x00" + p
	}
	return k
}

func put[T any](m map[string]json.RawMessage, k string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("docstore: encode: %w", err)
	}
	m[k] = b
	return nil
}

func get[T any](m map[string]json.RawMessage, k string) (T, error) {
	var v T
	b, ok := m[k]
	if !ok {
		return v, ErrNotFound
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("docstore: decode: %w", err)
	}
	return v, nil
}

func (s *Memory) GetTrace(_ context.Context, projectID, traceID string) (model.Trace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[model.Trace](s.traces, key(projectID, traceID))
}

func (s *Memory) UpsertTrace(_ context.Context, trace model.Trace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.traces, key(trace.ProjectID, trace.TraceID), trace)
}

func (s *Memory) SpansByTrace(_ context.Context, projectID, traceID string) ([]*model.Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := key(projectID, traceID) + "\x00"
	var spans []*model.Span
	for k, b := range s.spans {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		var sp model.Span
		if err := json.Unmarshal(b, &sp); err != nil {
			return nil, fmt.Errorf("docstore: decode span: %w", err)
		}
		spans = append(spans, &sp)
	}
	return spans, nil
}

func (s *Memory) UpsertSpan(_ context.Context, span *model.Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.spans, key(span.ProjectID, span.TraceID, span.SpanID), span)
}

func (s *Memory) GetCheck(_ context.Context, projectID, traceID, checkID string) (model.CheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return get[model.CheckResult](s.checks, key(projectID, traceID, checkID))
}

func (s *Memory) UpsertCheck(_ context.Context, result model.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return put(s.checks, key(result.ProjectID, result.TraceID, result.CheckID), result)
}

func (s *Memory) ChecksByTrace(_ context.Context, projectID, traceID string) ([]model.CheckResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := key(projectID, traceID) + "\x00"
	var results []model.CheckResult
	for k, b := range s.checks {
		if len(k) < len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		var r model.CheckResult
		if err := json.Unmarshal(b, &r); err != nil {
			return nil, fmt.Errorf("docstore: decode check: %w", err)
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Memory) DeleteProjectTraces(_ context.Context, projectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := projectID + "\x00"
	for _, m := range []map[string]json.RawMessage{s.traces, s.spans, s.checks} {
		for k := range m {
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				delete(m, k)
			}
		}
	}
	return nil
}

var _ Store = (*Memory)(nil)
