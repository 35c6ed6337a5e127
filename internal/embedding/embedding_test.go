package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCosine(t *testing.T) {
	t.Run("identical vectors", func(t *testing.T) {
		v := []float32{0.5, 0.5, 0.5}
		if got := Cosine(v, v); math.Abs(got-1.0) > 1e-9 {
			t.Errorf("expected 1.0, got %f", got)
		}
	})

	t.Run("orthogonal vectors", func(t *testing.T) {
		if got := Cosine([]float32{1, 0}, []float32{0, 1}); got != 0 {
			t.Errorf("expected 0, got %f", got)
		}
	})

	t.Run("opposite vectors", func(t *testing.T) {
		if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1.0) > 1e-9 {
			t.Errorf("expected -1.0, got %f", got)
		}
	})

	t.Run("mismatched lengths", func(t *testing.T) {
		if got := Cosine([]float32{1, 0}, []float32{1, 0, 0}); got != 0 {
			t.Errorf("expected 0, got %f", got)
		}
	})

	t.Run("zero magnitude", func(t *testing.T) {
		if got := Cosine([]float32{0, 0}, []float32{1, 1}); got != 0 {
			t.Errorf("expected 0, got %f", got)
		}
	})
}

func TestOpenAIProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("unexpected authorization header: %q", got)
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if req.Model != "text-embedding-3-small" {
			t.Errorf("unexpected model: %s", req.Model)
		}

		vec := make([]float32, 1536)
		for i := range vec {
			vec[i] = float32(i) * 0.001
		}
		resp := map[string]any{
			"data": []map[string]any{{"embedding": vec, "index": 0}},
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer server.Close()

	t.Run("dimensions", func(t *testing.T) {
		p := NewOpenAIProvider(server.URL, "test-key", "text-embedding-3-small", 1536)
		if p.Dimensions() != 1536 {
			t.Errorf("expected 1536, got %d", p.Dimensions())
		}
	})

	t.Run("embed", func(t *testing.T) {
		p := NewOpenAIProvider(server.URL, "test-key", "text-embedding-3-small", 1536)
		res, err := p.Embed(context.Background(), "test text")
		if err != nil {
			t.Fatal(err)
		}
		slice := res.Vector.Slice()
		if len(slice) != 1536 {
			t.Errorf("expected 1536-dim vector, got %d", len(slice))
		}
		if slice[100] != 0.1 {
			t.Errorf("expected element 100 to be 0.1, got %f", slice[100])
		}
		if res.Model != "text-embedding-3-small" {
			t.Errorf("expected model tag, got %q", res.Model)
		}
	})
}

func TestOpenAIProviderErrors(t *testing.T) {
	t.Run("provider error body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "invalid api key", "type": "invalid_request_error"},
			})
		}))
		defer server.Close()

		p := NewOpenAIProvider(server.URL, "bad-key", "text-embedding-3-small", 1536)
		_, err := p.Embed(context.Background(), "test")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("empty data", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
		}))
		defer server.Close()

		p := NewOpenAIProvider(server.URL, "test-key", "text-embedding-3-small", 1536)
		_, err := p.Embed(context.Background(), "test")
		if err == nil {
			t.Error("expected error for empty data, got nil")
		}
	})
}

func TestOllamaProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		vec := make([]float32, 1024)
		for i := range vec {
			vec[i] = float32(i) * 0.001
		}
		if err := json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: vec}); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	defer server.Close()

	t.Run("dimensions", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		if p.Dimensions() != 1024 {
			t.Errorf("expected 1024, got %d", p.Dimensions())
		}
	})

	t.Run("embed", func(t *testing.T) {
		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		res, err := p.Embed(context.Background(), "test text")
		if err != nil {
			t.Fatal(err)
		}
		slice := res.Vector.Slice()
		if len(slice) != 1024 {
			t.Errorf("expected 1024-dim vector, got %d", len(slice))
		}
		if slice[100] != 0.1 {
			t.Errorf("expected element 100 to be 0.1, got %f", slice[100])
		}
		if res.Model != "mxbai-embed-large" {
			t.Errorf("expected model tag, got %q", res.Model)
		}
	})
}

func TestOllamaProviderErrors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		_, err := p.Embed(context.Background(), "test")
		if err == nil {
			t.Error("expected error, got nil")
		}
	})

	t.Run("empty embedding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: nil})
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		_, err := p.Embed(context.Background(), "test")
		if err == nil {
			t.Error("expected error for empty embedding, got nil")
		}
	})

	t.Run("invalid json response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer server.Close()

		p := NewOllamaProvider(server.URL, "mxbai-embed-large", 1024)
		_, err := p.Embed(context.Background(), "test")
		if err == nil {
			t.Error("expected error for invalid json, got nil")
		}
	})
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(8)
	res, err := p.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Vector.Slice()) != 8 {
		t.Errorf("expected 8-dim vector, got %d", len(res.Vector.Slice()))
	}
	if res.Model != "noop" {
		t.Errorf("expected model noop, got %q", res.Model)
	}
}
