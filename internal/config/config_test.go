package config

import (
	"strings"
	"testing"
	"time"
)

func TestEnvIntValid(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}

func TestEnvIntFallback(t *testing.T) {
	// TEST_INT_MISSING is not set.
	v, err := envInt("TEST_INT_MISSING", 99)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
}

func TestEnvIntInvalid(t *testing.T) {
	t.Setenv("TEST_INT_BAD", "abc")
	_, err := envInt("TEST_INT_BAD", 0)
	if err == nil {
		t.Fatal("expected error for non-integer value, got nil")
	}
	if got := err.Error(); got != `TEST_INT_BAD="abc" is not a valid integer` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvBoolInvalid(t *testing.T) {
	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err := envBool("TEST_BOOL_BAD", false)
	if err == nil {
		t.Fatal("expected error for non-boolean value, got nil")
	}
	if got := err.Error(); got != `TEST_BOOL_BAD="maybe" is not a valid boolean` {
		t.Fatalf("unexpected error message: %s", got)
	}
}

func TestEnvDurationValid(t *testing.T) {
	t.Setenv("TEST_DUR", "5s")
	v, err := envDuration("TEST_DUR", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
}

func TestParseAPIKeys(t *testing.T) {
	keys, err := parseAPIKeys("sk-alpha:project-alpha, sk-beta:project-beta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keys["sk-alpha"] != "project-alpha" || keys["sk-beta"] != "project-beta" {
		t.Fatalf("unexpected key table: %v", keys)
	}
}

func TestParseAPIKeysMalformed(t *testing.T) {
	_, err := parseAPIKeys("sk-alpha")
	if err == nil {
		t.Fatal("expected error for entry without project id")
	}
	if !strings.Contains(err.Error(), "sk-alpha") {
		t.Fatalf("error should name the bad entry, got: %s", err)
	}
}

func TestLoadFailsOnInvalidPort(t *testing.T) {
	t.Setenv("CANOPY_PORT", "abc")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with invalid CANOPY_PORT")
	}
	if got := err.Error(); !strings.Contains(got, "CANOPY_PORT") || !strings.Contains(got, "abc") {
		t.Fatalf("error should mention CANOPY_PORT and value 'abc', got: %s", got)
	}
}

func TestLoadFailsOnMultipleInvalid(t *testing.T) {
	t.Setenv("CANOPY_PORT", "abc")
	t.Setenv("CANOPY_CHECK_TIMEOUT", "xyz")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with multiple invalid vars")
	}
	got := err.Error()
	if !strings.Contains(got, "CANOPY_PORT") {
		t.Fatalf("error should mention CANOPY_PORT, got: %s", got)
	}
	if !strings.Contains(got, "CANOPY_CHECK_TIMEOUT") {
		t.Fatalf("error should mention CANOPY_CHECK_TIMEOUT, got: %s", got)
	}
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.QdrantCollection != "canopy_traces" {
		t.Fatalf("unexpected default collection: %s", cfg.QdrantCollection)
	}
}

func TestLoadRejectsUnknownEmbeddingProvider(t *testing.T) {
	t.Setenv("CANOPY_EMBEDDING_PROVIDER", "cohere")
	_, err := Load()
	if err == nil {
		t.Fatal("expected Load() to fail with unknown embedding provider")
	}
}
