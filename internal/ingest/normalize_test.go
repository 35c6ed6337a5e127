package ingest

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canopy-ai/canopy/internal/model"
)

func chatInput(t *testing.T) *model.SpanValue {
	t.Helper()
	msgs := []model.ChatMessage{
		{Role: "system", Content: "you are a helpful assistant"},
		{Role: "user", Content: "hello"},
	}
	raw, err := json.Marshal(msgs)
	require.NoError(t, err)
	return &model.SpanValue{Type: model.ValueTypeChatMessages, Value: raw}
}

func textValue(s string) model.SpanValue {
	raw, _ := json.Marshal(s)
	return model.SpanValue{Type: model.ValueTypeText, Value: raw}
}

func TestNormalizeSpanLLM(t *testing.T) {
	raw := model.RawSpan{
		Type:    model.SpanTypeLLM,
		SpanID:  "span-1",
		TraceID: "trace-1",
		Input:   chatInput(t),
		Outputs: []model.SpanValue{textValue("world")},
		Timestamp: model.SpanTimestamps{
			StartedAt:  1706623872769,
			FinishedAt: 1706623872769 + 1244,
		},
		Vendor: "openai",
		Model:  "gpt-3.5-turbo",
	}

	span, err := NormalizeSpan(raw, "proj", 1706623900000)
	require.NoError(t, err)

	assert.Equal(t, "proj", span.ProjectID)
	assert.Equal(t, int64(1706623900000), span.Timestamp.InsertedAt)

	// Chat input persists as its compact JSON encoding.
	require.NotNil(t, span.Input)
	assert.Equal(t, model.ValueTypeChatMessages, span.Input.Type)
	assert.JSONEq(t,
		`[{"role":"system","content":"you are a helpful assistant"},{"role":"user","content":"hello"}]`,
		span.Input.Value)

	// Plain text persists quoted.
	require.Len(t, span.Outputs, 1)
	assert.Equal(t, model.ValueTypeText, span.Outputs[0].Type)
	assert.Equal(t, `"world"`, span.Outputs[0].Value)
}

func TestNormalizeSpanJSONValueCompacts(t *testing.T) {
	raw := model.RawSpan{
		Type:    model.SpanTypeTool,
		SpanID:  "span-1",
		TraceID: "trace-1",
		Input: &model.SpanValue{
			Type:  model.ValueTypeJSON,
			Value: json.RawMessage("{\n  \"a\": 1,\n  \"b\": [2, 3]\n}"),
		},
		Timestamp: model.SpanTimestamps{StartedAt: 1, FinishedAt: 2},
	}

	span, err := NormalizeSpan(raw, "proj", 10)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":[2,3]}`, span.Input.Value)
}

func TestNormalizeSpanUnknownTypeRejected(t *testing.T) {
	raw := model.RawSpan{
		Type:      "vector_db",
		SpanID:    "span-1",
		TraceID:   "trace-1",
		Timestamp: model.SpanTimestamps{StartedAt: 1, FinishedAt: 2},
	}

	_, err := NormalizeSpan(raw, "proj", 10)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "type", verr.Field)
}

func TestNormalizeContextsLegacyStrings(t *testing.T) {
	raw := model.RawSpan{
		Type:    model.SpanTypeRAG,
		SpanID:  "span-1",
		TraceID: "trace-1",
		Contexts: []json.RawMessage{
			json.RawMessage(`"France is a country in Europe"`),
			json.RawMessage(`"Paris is the capital of France"`),
		},
		Timestamp: model.SpanTimestamps{StartedAt: 1, FinishedAt: 2},
	}

	span, err := NormalizeSpan(raw, "proj", 10)
	require.NoError(t, err)
	require.Len(t, span.Contexts, 2)

	assert.Equal(t, "France is a country in Europe", span.Contexts[0].Content)
	assert.Equal(t, "Paris is the capital of France", span.Contexts[1].Content)

	// Legacy strings get synthesized, distinct document ids.
	assert.NotEmpty(t, span.Contexts[0].DocumentID)
	assert.NotEmpty(t, span.Contexts[1].DocumentID)
	assert.NotEqual(t, span.Contexts[0].DocumentID, span.Contexts[1].DocumentID)
}

func TestNormalizeContextsLegacyStringsStableAcrossIngests(t *testing.T) {
	raw := model.RawSpan{
		Type:    model.SpanTypeRAG,
		SpanID:  "span-1",
		TraceID: "trace-1",
		Contexts: []json.RawMessage{
			json.RawMessage(`"France is a country in Europe"`),
		},
		Timestamp: model.SpanTimestamps{StartedAt: 1, FinishedAt: 2},
	}

	first, err := NormalizeSpan(raw, "proj", 10)
	require.NoError(t, err)
	second, err := NormalizeSpan(raw, "proj", 20)
	require.NoError(t, err)

	// The synthesized document_id is derived from the content, so an
	// identical re-post normalizes to the same span and the same
	// fingerprint despite a later inserted_at.
	assert.Equal(t, first.Contexts[0].DocumentID, second.Contexts[0].DocumentID)
	assert.Equal(t, Fingerprint(&first), Fingerprint(&second))
}

func TestNormalizeContextsStructured(t *testing.T) {
	raw := model.RawSpan{
		Type:    model.SpanTypeRAG,
		SpanID:  "span-1",
		TraceID: "trace-1",
		Contexts: []json.RawMessage{
			json.RawMessage(`{"document_id":"doc-1","chunk_id":"0","content":"chunk a"}`),
			json.RawMessage(`{"document_id":"doc-1","chunk_id":1,"content":"chunk b"}`),
			json.RawMessage(`{"document_id":"doc-2","content":"chunk c"}`),
		},
		Timestamp: model.SpanTimestamps{StartedAt: 1, FinishedAt: 2},
	}

	span, err := NormalizeSpan(raw, "proj", 10)
	require.NoError(t, err)
	require.Len(t, span.Contexts, 3)

	require.NotNil(t, span.Contexts[0].ChunkID)
	assert.Equal(t, "0", *span.Contexts[0].ChunkID)

	// Numeric chunk ids are accepted and stringified.
	require.NotNil(t, span.Contexts[1].ChunkID)
	assert.Equal(t, "1", *span.Contexts[1].ChunkID)

	assert.Nil(t, span.Contexts[2].ChunkID)
}

func TestNormalizeContextsMissingDocumentID(t *testing.T) {
	raw := model.RawSpan{
		Type:    model.SpanTypeRAG,
		SpanID:  "span-1",
		TraceID: "trace-1",
		Contexts: []json.RawMessage{
			json.RawMessage(`{"content":"chunk a"}`),
		},
		Timestamp: model.SpanTimestamps{StartedAt: 1, FinishedAt: 2},
	}

	_, err := NormalizeSpan(raw, "proj", 10)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "contexts[0].document_id", verr.Field)
}

func TestTextOf(t *testing.T) {
	chat := model.StoredValue{
		Type:  model.ValueTypeChatMessages,
		Value: `[{"role":"system","content":"you are a helpful assistant"},{"role":"user","content":"hello"}]`,
	}
	assert.Equal(t, "hello", TextOf(&chat))

	text := model.StoredValue{Type: model.ValueTypeText, Value: `"world"`}
	assert.Equal(t, "world", TextOf(&text))

	jsonVal := model.StoredValue{Type: model.ValueTypeJSON, Value: `{"a":1}`}
	assert.Equal(t, `{"a":1}`, TextOf(&jsonVal))

	assert.Equal(t, "", TextOf(nil))
}

func TestSegmentsOf(t *testing.T) {
	chat := model.StoredValue{
		Type:  model.ValueTypeChatMessages,
		Value: `[{"role":"system","content":"you are a helpful assistant"},{"role":"user","content":"hello"}]`,
	}
	assert.Equal(t, []string{"you are a helpful assistant", "hello"}, SegmentsOf(&chat))

	text := model.StoredValue{Type: model.ValueTypeText, Value: `"world"`}
	assert.Equal(t, []string{"world"}, SegmentsOf(&text))
}
