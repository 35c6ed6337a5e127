// Package enrich computes the derived attributes attached to traces
// after assembly: input/output embeddings and the satisfaction score.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canopy-ai/canopy/internal/embedding"
	"github.com/canopy-ai/canopy/internal/model"
)

// Scorer derives a satisfaction score from a trace input embedding. The
// meaning of the scalar belongs to the scorer implementation.
type Scorer interface {
	Score(ctx context.Context, inputEmbedding []float32) (float64, error)
}

// Engine enriches assembled traces. Provider failures degrade: the
// trace persists without the affected attribute and the failure is
// logged, never surfaced to the ingestion caller.
type Engine struct {
	embedder embedding.Provider
	scorer   Scorer
	logger   *slog.Logger
	timeout  time.Duration
}

// New creates an Engine. scorer may be nil when no satisfaction scoring
// is configured.
func New(embedder embedding.Provider, scorer Scorer, logger *slog.Logger) *Engine {
	return &Engine{
		embedder: embedder,
		scorer:   scorer,
		logger:   logger,
		timeout:  20 * time.Second,
	}
}

// EnrichTrace fills embeddings and satisfaction score on the trace's
// derived input and output. Input and output are embedded concurrently;
// both calls share one deadline so a slow provider cannot stall
// ingestion indefinitely.
func (e *Engine) EnrichTrace(ctx context.Context, trace *model.Trace) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	if trace.Input != nil && trace.Input.Value != "" {
		g.Go(func() error {
			res, err := e.embedder.Embed(gctx, trace.Input.Value)
			if err != nil {
				return err
			}
			trace.Input.Embeddings = &model.Embeddings{
				Embeddings: res.Vector.Slice(),
				Model:      res.Model,
			}
			return nil
		})
	}
	if trace.Output != nil && trace.Output.Value != "" {
		g.Go(func() error {
			res, err := e.embedder.Embed(gctx, trace.Output.Value)
			if err != nil {
				return err
			}
			trace.Output.Embeddings = &model.Embeddings{
				Embeddings: res.Vector.Slice(),
				Model:      res.Model,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		e.logger.Warn("enrich: embedding provider unavailable, trace persists without embeddings",
			"trace_id", trace.TraceID, "error", err)
	}

	if e.scorer != nil && trace.Input != nil && trace.Input.Embeddings != nil {
		score, err := e.scorer.Score(ctx, trace.Input.Embeddings.Embeddings)
		if err != nil {
			e.logger.Warn("enrich: satisfaction scorer unavailable",
				"trace_id", trace.TraceID, "error", err)
		} else {
			trace.Input.SatisfactionScore = &score
		}
	}
}
