package docstore_test

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-ai/canopy/internal/docstore"
	"github.com/canopy-ai/canopy/internal/model"
	"github.com/canopy-ai/canopy/internal/testutil"
)

// testStore holds a shared test database connection for all tests in this package.
var testStore *docstore.Postgres

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()
	defer tc.Terminate()

	var err error
	testStore, err = tc.NewTestStore(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test store: %v\n", err)
		os.Exit(1)
	}
	defer testStore.Close()

	os.Exit(m.Run())
}

func TestPostgresTraceRoundTrip(t *testing.T) {
	ctx := context.Background()

	_, err := testStore.GetTrace(ctx, "proj-rt", "trace-1")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	score := 0.42
	trace := model.Trace{
		TraceID:   "trace-1",
		ProjectID: "proj-rt",
		Input: &model.TraceText{
			Value:             "hello",
			SatisfactionScore: &score,
		},
		Metadata:     model.TraceMetadata{Labels: []string{"prod"}},
		IndexingMD5s: []string{"abc123"},
	}
	require.NoError(t, testStore.UpsertTrace(ctx, trace))

	got, err := testStore.GetTrace(ctx, "proj-rt", "trace-1")
	require.NoError(t, err)
	assert.Equal(t, "trace-1", got.TraceID)
	require.NotNil(t, got.Input)
	assert.Equal(t, "hello", got.Input.Value)
	require.NotNil(t, got.Input.SatisfactionScore)
	assert.InDelta(t, 0.42, *got.Input.SatisfactionScore, 1e-9)
	assert.Equal(t, []string{"prod"}, got.Metadata.Labels)
	assert.Equal(t, []string{"abc123"}, got.IndexingMD5s)

	// Same key overwrites.
	trace.Input.Value = "goodbye"
	require.NoError(t, testStore.UpsertTrace(ctx, trace))
	got, err = testStore.GetTrace(ctx, "proj-rt", "trace-1")
	require.NoError(t, err)
	assert.Equal(t, "goodbye", got.Input.Value)
}

func TestPostgresSpansAndChecks(t *testing.T) {
	ctx := context.Background()

	spans, err := testStore.SpansByTrace(ctx, "proj-sc", "trace-1")
	require.NoError(t, err)
	assert.Empty(t, spans)

	tokens := 7
	span := &model.Span{
		SpanID:    "span-1",
		TraceID:   "trace-1",
		ProjectID: "proj-sc",
		Type:      model.SpanTypeLLM,
		Input:     &model.StoredValue{Type: model.ValueTypeText, Value: `"hello"`},
		Metrics:   &model.SpanMetrics{PromptTokens: &tokens},
	}
	require.NoError(t, testStore.UpsertSpan(ctx, span))
	require.NoError(t, testStore.UpsertSpan(ctx, &model.Span{
		SpanID:    "span-2",
		TraceID:   "trace-1",
		ProjectID: "proj-sc",
		Type:      model.SpanTypeRAG,
		Contexts: []model.RAGContext{
			{DocumentID: "doc-1", Content: "France is a country"},
		},
	}))

	spans, err = testStore.SpansByTrace(ctx, "proj-sc", "trace-1")
	require.NoError(t, err)
	require.Len(t, spans, 2)

	byID := map[string]*model.Span{}
	for _, s := range spans {
		byID[s.SpanID] = s
	}
	require.Contains(t, byID, "span-1")
	require.NotNil(t, byID["span-1"].Input)
	assert.Equal(t, `"hello"`, byID["span-1"].Input.Value)
	require.NotNil(t, byID["span-1"].Metrics.PromptTokens)
	assert.Equal(t, 7, *byID["span-1"].Metrics.PromptTokens)
	require.Contains(t, byID, "span-2")
	require.Len(t, byID["span-2"].Contexts, 1)
	assert.Equal(t, "doc-1", byID["span-2"].Contexts[0].DocumentID)

	require.NoError(t, testStore.UpsertCheck(ctx, model.CheckResult{
		ProjectID: "proj-sc",
		TraceID:   "trace-1",
		CheckID:   "check-1",
		Status:    model.CheckStatusFailed,
		Value:     0.9,
	}))
	check, err := testStore.GetCheck(ctx, "proj-sc", "trace-1", "check-1")
	require.NoError(t, err)
	assert.Equal(t, model.CheckStatusFailed, check.Status)

	results, err := testStore.ChecksByTrace(ctx, "proj-sc", "trace-1")
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestPostgresDeleteProjectTraces(t *testing.T) {
	ctx := context.Background()

	require.NoError(t, testStore.UpsertTrace(ctx, model.Trace{TraceID: "t1", ProjectID: "proj-del"}))
	require.NoError(t, testStore.UpsertSpan(ctx, &model.Span{
		SpanID: "s1", TraceID: "t1", ProjectID: "proj-del", Type: model.SpanTypeSpan,
	}))
	require.NoError(t, testStore.UpsertCheck(ctx, model.CheckResult{
		ProjectID: "proj-del", TraceID: "t1", CheckID: "c1",
	}))
	require.NoError(t, testStore.UpsertTrace(ctx, model.Trace{TraceID: "t1", ProjectID: "proj-keep"}))

	require.NoError(t, testStore.DeleteProjectTraces(ctx, "proj-del"))

	_, err := testStore.GetTrace(ctx, "proj-del", "t1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = testStore.GetCheck(ctx, "proj-del", "t1", "c1")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
	_, err = testStore.GetTrace(ctx, "proj-keep", "t1")
	assert.NoError(t, err)
}
