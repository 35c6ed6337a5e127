package checks

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/canopy-ai/canopy/internal/docstore"
	"github.com/canopy-ai/canopy/internal/model"
	"github.com/canopy-ai/canopy/internal/queue"
)

// ConfigFinder resolves one check configuration by id.
type ConfigFinder interface {
	Find(ctx context.Context, projectID, checkID string) (model.CheckConfig, bool)
}

// Worker consumes check jobs and records results. Each job is evaluated
// under its own timeout; a job that cannot be evaluated ends Errored,
// never silently dropped.
type Worker struct {
	store      docstore.Store
	jobs       queue.Queue
	engine     *Engine
	configs    ConfigFinder
	logger     *slog.Logger
	timeout    time.Duration
	concurrent int
	now        func() time.Time
}

// NewWorker creates a Worker. concurrent is the number of jobs
// evaluated in parallel; values below 1 mean 1.
func NewWorker(store docstore.Store, jobs queue.Queue, engine *Engine, configs ConfigFinder, logger *slog.Logger, concurrent int) *Worker {
	if concurrent < 1 {
		concurrent = 1
	}
	return &Worker{
		store:      store,
		jobs:       jobs,
		engine:     engine,
		configs:    configs,
		logger:     logger,
		timeout:    2 * time.Minute,
		concurrent: concurrent,
		now:        time.Now,
	}
}

// Run consumes jobs until the context is cancelled or the queue is
// closed and drained.
func (w *Worker) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for range w.concurrent {
		g.Go(func() error {
			for {
				job, err := w.jobs.Dequeue(gctx)
				if err != nil {
					if errors.Is(err, queue.ErrClosed) || errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				w.Process(gctx, job)
			}
		})
	}
	return g.Wait()
}

// Process evaluates one job and persists the result.
func (w *Worker) Process(ctx context.Context, job model.CheckJob) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	cfg, ok := w.configs.Find(ctx, job.ProjectID, job.CheckID)
	if !ok {
		w.finish(ctx, job, model.CheckResult{
			Status: model.CheckStatusErrored,
			Error:  "check configuration not found",
		})
		return
	}

	w.finish(ctx, job, model.CheckResult{Status: model.CheckStatusRunning})

	trace, err := w.store.GetTrace(ctx, job.ProjectID, job.TraceID)
	if err != nil {
		msg := "loading trace failed: " + err.Error()
		if errors.Is(err, docstore.ErrNotFound) {
			msg = "trace not found"
		}
		w.finish(ctx, job, model.CheckResult{
			Status: model.CheckStatusErrored,
			Error:  msg,
		})
		return
	}

	var spans []*model.Span
	if cfg.Type == model.CheckTypePII && cfg.PII != nil && cfg.PII.CheckPIIInSpans {
		spans, err = w.store.SpansByTrace(ctx, job.ProjectID, job.TraceID)
		if err != nil {
			w.finish(ctx, job, model.CheckResult{
				Status: model.CheckStatusErrored,
				Error:  "loading spans failed: " + err.Error(),
			})
			return
		}
	}

	result := w.engine.Evaluate(ctx, cfg, trace, spans)
	w.finish(ctx, job, result)
}

// finish stamps identity and time onto a result skeleton and persists
// it, last-write-wins.
func (w *Worker) finish(ctx context.Context, job model.CheckJob, result model.CheckResult) {
	result.CheckID = job.CheckID
	result.CheckType = job.CheckType
	result.CheckName = job.CheckName
	result.TraceID = job.TraceID
	result.ProjectID = job.ProjectID
	result.UpdatedAt = w.now().UnixMilli()

	if err := w.store.UpsertCheck(ctx, result); err != nil {
		w.logger.Error("checks: persisting result failed",
			"trace_id", job.TraceID, "check_id", job.CheckID,
			"status", string(result.Status), "error", err)
	}
}
