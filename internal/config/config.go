// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64

	// Database settings. Empty DatabaseURL selects the in-memory docstore.
	DatabaseURL string

	// Redis settings. Empty RedisURL selects the in-memory check queue.
	RedisURL string

	// Qdrant settings. Empty QdrantURL disables trace search.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Collector API keys, parsed from CANOPY_API_KEYS as
	// "key:project_id,key:project_id".
	APIKeys map[string]string

	// JWT settings for ingest tokens.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// Embedding provider settings.
	EmbeddingProvider   string // "auto", "openai", "ollama", or "noop"
	OpenAIAPIKey        string
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.
	OllamaURL           string
	OllamaModel         string

	// Judge settings for LLM-backed checks. JudgeBaseURL must speak the
	// OpenAI chat-completions and moderations APIs.
	JudgeBaseURL string
	JudgeModel   string

	// PII redaction settings.
	RedactionEnabled       bool
	RedactionMinLikelihood string
	RedactionInfoTypes     []string // Empty means all supported info types.
	RedactSpanIO           bool

	// Check definitions file (JSON). Empty disables check scheduling.
	ChecksFile string

	// Check worker settings.
	WorkerConcurrency int
	CheckTimeout      time.Duration

	// Rate limiting.
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Invalid values are collected so one run reports every bad variable.
func Load() (Config, error) {
	var errs []error

	capture := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	port, err := envInt("CANOPY_PORT", 8080)
	capture(err)
	readTimeout, err := envDuration("CANOPY_READ_TIMEOUT", 30*time.Second)
	capture(err)
	writeTimeout, err := envDuration("CANOPY_WRITE_TIMEOUT", 30*time.Second)
	capture(err)
	maxBody, err := envInt("CANOPY_MAX_REQUEST_BODY_BYTES", 2*1024*1024)
	capture(err)
	jwtExpiration, err := envDuration("CANOPY_JWT_EXPIRATION", time.Hour)
	capture(err)
	dims, err := envInt("CANOPY_EMBEDDING_DIMENSIONS", 1536)
	capture(err)
	redactEnabled, err := envBool("CANOPY_REDACTION_ENABLED", false)
	capture(err)
	redactSpans, err := envBool("CANOPY_REDACT_SPAN_IO", true)
	capture(err)
	concurrency, err := envInt("CANOPY_WORKER_CONCURRENCY", 4)
	capture(err)
	checkTimeout, err := envDuration("CANOPY_CHECK_TIMEOUT", 2*time.Minute)
	capture(err)
	apiKeys, err := parseAPIKeys(os.Getenv("CANOPY_API_KEYS"))
	capture(err)
	otelInsecure, err := envBool("OTEL_EXPORTER_OTLP_INSECURE", false)
	capture(err)
	rateLimitEnabled, err := envBool("CANOPY_RATE_LIMIT_ENABLED", true)
	capture(err)
	rateLimitRPS, err := envInt("CANOPY_RATE_LIMIT_RPS", 10)
	capture(err)
	rateLimitBurst, err := envInt("CANOPY_RATE_LIMIT_BURST", 50)
	capture(err)

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}

	cfg := Config{
		Port:                   port,
		ReadTimeout:            readTimeout,
		WriteTimeout:           writeTimeout,
		MaxRequestBodyBytes:    int64(maxBody),
		DatabaseURL:            envStr("DATABASE_URL", ""),
		RedisURL:               envStr("REDIS_URL", ""),
		QdrantURL:              envStr("CANOPY_QDRANT_URL", ""),
		QdrantAPIKey:           envStr("CANOPY_QDRANT_API_KEY", ""),
		QdrantCollection:       envStr("CANOPY_QDRANT_COLLECTION", "canopy_traces"),
		APIKeys:                apiKeys,
		JWTPrivateKeyPath:      envStr("CANOPY_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:       envStr("CANOPY_JWT_PUBLIC_KEY", ""),
		JWTExpiration:          jwtExpiration,
		EmbeddingProvider:      envStr("CANOPY_EMBEDDING_PROVIDER", "auto"),
		OpenAIAPIKey:           envStr("OPENAI_API_KEY", ""),
		EmbeddingModel:         envStr("CANOPY_EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions:    dims,
		OllamaURL:              envStr("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:            envStr("OLLAMA_MODEL", "mxbai-embed-large"),
		JudgeBaseURL:           envStr("CANOPY_JUDGE_BASE_URL", "https://api.openai.com"),
		JudgeModel:             envStr("CANOPY_JUDGE_MODEL", "gpt-3.5-turbo"),
		RedactionEnabled:       redactEnabled,
		RedactionMinLikelihood: envStr("CANOPY_REDACTION_MIN_LIKELIHOOD", "POSSIBLE"),
		RedactionInfoTypes:     envList("CANOPY_REDACTION_INFO_TYPES"),
		RedactSpanIO:           redactSpans,
		ChecksFile:             envStr("CANOPY_CHECKS_FILE", ""),
		WorkerConcurrency:      concurrency,
		CheckTimeout:           checkTimeout,
		RateLimitEnabled:       rateLimitEnabled,
		RateLimitRPS:           rateLimitRPS,
		RateLimitBurst:         rateLimitBurst,
		OTELEndpoint:           envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:           otelInsecure,
		ServiceName:            envStr("OTEL_SERVICE_NAME", "canopy"),
		LogLevel:               envStr("CANOPY_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are internally consistent.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: CANOPY_PORT must be in 1..65535")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: CANOPY_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: CANOPY_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("config: CANOPY_WORKER_CONCURRENCY must be positive")
	}
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("config: CANOPY_CHECK_TIMEOUT must be positive")
	}
	if c.RateLimitEnabled && (c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0) {
		return fmt.Errorf("config: rate limit rps and burst must be positive")
	}
	switch c.EmbeddingProvider {
	case "auto", "openai", "ollama", "noop":
	default:
		return fmt.Errorf("config: CANOPY_EMBEDDING_PROVIDER must be auto, openai, ollama, or noop")
	}
	return nil
}

// parseAPIKeys parses "key:project_id,key:project_id" pairs.
func parseAPIKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	if raw == "" {
		return keys, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, projectID, ok := strings.Cut(pair, ":")
		if !ok || key == "" || projectID == "" {
			return nil, fmt.Errorf(`CANOPY_API_KEYS entry %q is not "key:project_id"`, pair)
		}
		keys[key] = projectID
	}
	return keys, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
