package checks

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-ai/canopy/internal/docstore"
	"github.com/canopy-ai/canopy/internal/model"
	"github.com/canopy-ai/canopy/internal/queue"
	"github.com/canopy-ai/canopy/internal/testutil"
)

func newTestWorker(store docstore.Store, source *StaticSource) *Worker {
	engine := newTestEngine(stubJudge{boolean: true}, nil)
	return NewWorker(store, queue.NewMemory(8), engine, source, testutil.TestLogger(), 1)
}

func TestWorkerProcessSucceeds(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()

	require.NoError(t, store.UpsertTrace(ctx, model.Trace{
		TraceID:   "trace-1",
		ProjectID: "proj",
		Output:    &model.TraceText{Value: "Paris is the capital of France"},
	}))

	source := NewStaticSource([]model.CheckConfig{
		customConfig(model.CheckRule{
			Field: model.RuleFieldOutput,
			Rule:  model.RuleContains,
			Value: "paris",
		}),
	})
	w := newTestWorker(store, source)

	w.Process(ctx, model.CheckJob{
		CheckID:   "check-1",
		CheckType: model.CheckTypeCustom,
		CheckName: "custom",
		TraceID:   "trace-1",
		ProjectID: "proj",
	})

	result, err := store.GetCheck(ctx, "proj", "trace-1", "check-1")
	require.NoError(t, err)
	assert.Equal(t, model.CheckStatusSucceeded, result.Status)
	assert.Equal(t, "custom", result.CheckName)
	assert.NotZero(t, result.UpdatedAt)
}

func TestWorkerMissingTraceErrors(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	source := NewStaticSource([]model.CheckConfig{
		customConfig(model.CheckRule{Field: model.RuleFieldOutput, Rule: model.RuleContains, Value: "x"}),
	})
	w := newTestWorker(store, source)

	w.Process(ctx, model.CheckJob{
		CheckID:   "check-1",
		CheckType: model.CheckTypeCustom,
		TraceID:   "never-ingested",
		ProjectID: "proj",
	})

	result, err := store.GetCheck(ctx, "proj", "never-ingested", "check-1")
	require.NoError(t, err)
	assert.Equal(t, model.CheckStatusErrored, result.Status)
	assert.Equal(t, "trace not found", result.Error)
}

func TestWorkerUnknownConfigErrors(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	w := newTestWorker(store, NewStaticSource(nil))

	w.Process(ctx, model.CheckJob{
		CheckID:   "ghost",
		TraceID:   "trace-1",
		ProjectID: "proj",
	})

	result, err := store.GetCheck(ctx, "proj", "trace-1", "ghost")
	require.NoError(t, err)
	assert.Equal(t, model.CheckStatusErrored, result.Status)
}

func TestWorkerRunDrainsQueue(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	jobs := queue.NewMemory(8)

	require.NoError(t, store.UpsertTrace(ctx, model.Trace{
		TraceID:   "trace-1",
		ProjectID: "proj",
		Output:    &model.TraceText{Value: "hello world"},
	}))

	source := NewStaticSource([]model.CheckConfig{
		customConfig(model.CheckRule{Field: model.RuleFieldOutput, Rule: model.RuleContains, Value: "hello"}),
	})
	engine := newTestEngine(nil, nil)
	w := NewWorker(store, jobs, engine, source, testutil.TestLogger(), 2)

	require.NoError(t, jobs.Enqueue(ctx, model.CheckJob{
		CheckID: "check-1", CheckType: model.CheckTypeCustom, TraceID: "trace-1", ProjectID: "proj",
	}))
	require.NoError(t, jobs.Close())

	require.NoError(t, w.Run(ctx))

	result, err := store.GetCheck(ctx, "proj", "trace-1", "check-1")
	require.NoError(t, err)
	assert.Equal(t, model.CheckStatusSucceeded, result.Status)
}

func TestStaticSourceScoping(t *testing.T) {
	ctx := context.Background()
	source := NewStaticSource([]model.CheckConfig{
		{ID: "a", ProjectID: "proj-1", Type: model.CheckTypeCustom, Enabled: true},
		{ID: "b", ProjectID: "proj-2", Type: model.CheckTypeCustom, Enabled: true},
		{ID: "c", ProjectID: "", Type: model.CheckTypeCustom, Enabled: true},
		{ID: "d", ProjectID: "proj-1", Type: model.CheckTypeCustom, Enabled: false},
	})

	configs, err := source.EnabledChecks(ctx, "proj-1")
	require.NoError(t, err)
	ids := make([]string, 0, len(configs))
	for _, cfg := range configs {
		ids = append(ids, cfg.ID)
	}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)

	_, ok := source.Find(ctx, "proj-1", "b")
	assert.False(t, ok)
	_, ok = source.Find(ctx, "proj-1", "d")
	assert.True(t, ok)
}
