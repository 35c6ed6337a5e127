package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/canopy-ai/canopy/api"
	"github.com/canopy-ai/canopy/internal/auth"
	"github.com/canopy-ai/canopy/internal/checks"
	"github.com/canopy-ai/canopy/internal/config"
	"github.com/canopy-ai/canopy/internal/docstore"
	"github.com/canopy-ai/canopy/internal/embedding"
	"github.com/canopy-ai/canopy/internal/enrich"
	"github.com/canopy-ai/canopy/internal/ingest"
	"github.com/canopy-ai/canopy/internal/judge"
	"github.com/canopy-ai/canopy/internal/pricing"
	"github.com/canopy-ai/canopy/internal/queue"
	"github.com/canopy-ai/canopy/internal/ratelimit"
	"github.com/canopy-ai/canopy/internal/redact"
	"github.com/canopy-ai/canopy/internal/search"
	"github.com/canopy-ai/canopy/internal/server"
	"github.com/canopy-ai/canopy/internal/telemetry"
	"github.com/canopy-ai/canopy/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("CANOPY_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("canopy starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Document store: Postgres when configured, in-memory otherwise.
	var store docstore.Store
	if cfg.DatabaseURL != "" {
		pg, err := docstore.NewPostgres(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("docstore: %w", err)
		}
		defer pg.Close()
		if err := pg.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store = pg
		logger.Info("docstore: postgres")
	} else {
		store = docstore.NewMemory()
		logger.Warn("docstore: in-memory (no DATABASE_URL, data is not persisted)")
	}

	// Collector auth.
	if len(cfg.APIKeys) == 0 {
		logger.Warn("no API keys configured, all collector requests will be rejected")
	}
	resolver, err := auth.NewStaticResolver(cfg.APIKeys)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	embedder := newEmbeddingProvider(cfg, logger)
	prices := pricing.NewTable()
	enricher := enrich.New(embedder, nil, logger)

	// Check job queue: Redis when configured, in-process otherwise.
	var jobs queue.Queue
	if cfg.RedisURL != "" {
		rq, err := queue.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("queue: %w", err)
		}
		jobs = rq
		logger.Info("check queue: redis")
	} else {
		jobs = queue.NewMemory(1024)
		logger.Info("check queue: in-memory")
	}
	defer func() { _ = jobs.Close() }()

	// Qdrant search index (optional, disabled without a URL).
	var searcher *search.QdrantIndex
	if cfg.QdrantURL != "" {
		searcher, err = search.NewQdrantIndex(search.Config{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = searcher.Close() }()
		if err := searcher.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no CANOPY_QDRANT_URL)")
	}

	// Check definitions (optional, disabled without a file).
	var source *checks.StaticSource
	if cfg.ChecksFile != "" {
		source, err = checks.LoadSource(cfg.ChecksFile)
		if err != nil {
			return fmt.Errorf("checks: %w", err)
		}
		logger.Info("checks: enabled", "file", cfg.ChecksFile)
	} else {
		logger.Info("checks: disabled (no CANOPY_CHECKS_FILE)")
	}

	// Collector service.
	opts := []ingest.ServiceOption{}
	if cfg.RedactionEnabled {
		redactCfg := redact.Config{
			MinLikelihood: redact.ParseLikelihood(cfg.RedactionMinLikelihood),
		}
		if len(cfg.RedactionInfoTypes) > 0 {
			redactCfg.InfoTypes = make(map[string]bool, len(cfg.RedactionInfoTypes))
			for _, it := range cfg.RedactionInfoTypes {
				redactCfg.InfoTypes[it] = true
			}
		}
		opts = append(opts, ingest.WithRedaction(redact.New(redact.NewRegexDetector(), logger), redactCfg))
		logger.Info("redaction: enabled", "min_likelihood", cfg.RedactionMinLikelihood)
	}
	if source != nil {
		opts = append(opts,
			ingest.WithChecks(source, jobs),
			ingest.WithPreconditionGate(checks.NewPreconditions(embedder, logger)))
	}
	if searcher != nil {
		opts = append(opts, ingest.WithSearch(searcher))
	}
	collector := ingest.NewService(store, enricher, prices, logger, opts...)

	// Check worker.
	workerDone := make(chan struct{})
	if source != nil {
		judgeProvider := judge.NewOpenAIProvider(cfg.JudgeBaseURL, cfg.OpenAIAPIKey, cfg.JudgeModel)
		engine := checks.NewEngine(embedder, judgeProvider, redact.NewRegexDetector(), prices, logger)
		worker := checks.NewWorker(store, jobs, engine, source, logger, cfg.WorkerConcurrency)
		go func() {
			defer close(workerDone)
			if err := worker.Run(ctx); err != nil {
				logger.Error("check worker stopped", "error", err)
			}
		}()
	} else {
		close(workerDone)
	}

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(float64(cfg.RateLimitRPS), cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// HTTP server.
	srvCfg := server.ServerConfig{
		Collector:           collector,
		Store:               store,
		Resolver:            resolver,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Limiter:             limiter,
		OpenAPISpec:         api.OpenAPISpec,
	}
	if searcher != nil {
		srvCfg.Searcher = searcher
	}
	if depther, ok := jobs.(server.QueueDepther); ok {
		srvCfg.Jobs = depther
	}
	srv := server.New(srvCfg)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown: stop accepting HTTP first (in-flight requests may
	// still enqueue check jobs), then close the queue and let the worker
	// drain what it already holds.
	slog.Info("canopy shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	_ = jobs.Close()
	select {
	case <-workerDone:
	case <-time.After(10 * time.Second):
		slog.Warn("check worker did not drain in time")
	}

	slog.Info("canopy stopped")
	return nil
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else noop.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when CANOPY_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider("", cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (enrichment and similarity checks degrade)")
		return embedding.NewNoopProvider(dims)

	default:
		// Auto-detect: prefer Ollama (on-premises, no cost), then OpenAI, else noop.
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider("", cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Info("embedding provider: noop (no Ollama, no OpenAI key)")
		return embedding.NewNoopProvider(dims)
	}
}

func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
