// Package ingest implements the trace ingestion pipeline: span
// normalization, trace assembly, and the collector orchestrator that
// persists the resulting documents.
package ingest

import (
	"bytes"
	"crypto/md5" //nolint:gosec // document_id derivation, not integrity
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/canopy-ai/canopy/internal/model"
)

// NormalizeSpan validates a raw span against its declared type and
// converts it to the canonical stored form. Pure transformation: the
// only generated state is synthesized document_ids for legacy contexts.
func NormalizeSpan(raw model.RawSpan, projectID string, insertedAt int64) (model.Span, error) {
	if err := raw.Validate(); err != nil {
		return model.Span{}, err
	}

	span := model.Span{
		ProjectID: projectID,
		Type:      raw.Type,
		Name:      raw.Name,
		SpanID:    raw.SpanID,
		ParentID:  raw.ParentID,
		TraceID:   raw.TraceID,
		Error:     raw.Error,
		Timestamp: model.SpanTimestamps{
			StartedAt:  raw.Timestamp.StartedAt,
			FinishedAt: raw.Timestamp.FinishedAt,
			InsertedAt: insertedAt,
		},
		Vendor:  raw.Vendor,
		Model:   raw.Model,
		Params:  raw.Params,
		Metrics: raw.Metrics,
	}

	if raw.Input != nil {
		stored, err := storeValue(*raw.Input)
		if err != nil {
			return model.Span{}, &model.ValidationError{Field: "input.value", Message: err.Error()}
		}
		span.Input = &stored
	}

	span.Outputs = make([]model.StoredValue, 0, len(raw.Outputs))
	for i, out := range raw.Outputs {
		stored, err := storeValue(out)
		if err != nil {
			return model.Span{}, &model.ValidationError{Field: fmt.Sprintf("outputs[%d].value", i), Message: err.Error()}
		}
		span.Outputs = append(span.Outputs, stored)
	}

	if raw.Type == model.SpanTypeRAG {
		contexts, err := normalizeContexts(raw.Contexts)
		if err != nil {
			return model.Span{}, err
		}
		span.Contexts = contexts
	}

	return span, nil
}

// storeValue serializes a span value for storage. Structured values
// (chat_messages, json) become their compact JSON encoding; text and raw
// scalars become their JSON-string encoding (quoted), so the stored
// field is uniformly a string.
func storeValue(v model.SpanValue) (model.StoredValue, error) {
	switch v.Type {
	case model.ValueTypeText, model.ValueTypeRaw:
		var s string
		if err := json.Unmarshal(v.Value, &s); err != nil {
			return model.StoredValue{}, fmt.Errorf("decode text value: %w", err)
		}
		encoded, err := json.Marshal(s)
		if err != nil {
			return model.StoredValue{}, fmt.Errorf("encode text value: %w", err)
		}
		return model.StoredValue{Type: v.Type, Value: string(encoded)}, nil

	case model.ValueTypeChatMessages:
		var msgs []model.ChatMessage
		if err := json.Unmarshal(v.Value, &msgs); err != nil {
			return model.StoredValue{}, fmt.Errorf("decode chat messages: %w", err)
		}
		encoded, err := json.Marshal(msgs)
		if err != nil {
			return model.StoredValue{}, fmt.Errorf("encode chat messages: %w", err)
		}
		return model.StoredValue{Type: v.Type, Value: string(encoded)}, nil

	case model.ValueTypeJSON:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v.Value); err != nil {
			return model.StoredValue{}, fmt.Errorf("compact json value: %w", err)
		}
		return model.StoredValue{Type: v.Type, Value: buf.String()}, nil
	}
	return model.StoredValue{}, fmt.Errorf("unknown value type %q", v.Type)
}

// rawContext mirrors the structured context form with a chunk_id that
// tolerates both string and numeric encodings from older SDKs.
type rawContext struct {
	DocumentID string          `json:"document_id"`
	ChunkID    json.RawMessage `json:"chunk_id,omitempty"`
	Content    string          `json:"content"`
}

// normalizeContexts accepts either structured context objects or bare
// strings (legacy form). Legacy strings are assigned a document_id
// derived from their content, so re-posting the same payload produces
// the same normalized span; order is preserved.
func normalizeContexts(raws []json.RawMessage) ([]model.RAGContext, error) {
	contexts := make([]model.RAGContext, 0, len(raws))
	for i, raw := range raws {
		var legacy string
		if err := json.Unmarshal(raw, &legacy); err == nil {
			contexts = append(contexts, model.RAGContext{
				DocumentID: legacyDocumentID(legacy),
				Content:    legacy,
			})
			continue
		}

		var rc rawContext
		if err := json.Unmarshal(raw, &rc); err != nil {
			return nil, &model.ValidationError{
				Field:   fmt.Sprintf("contexts[%d]", i),
				Message: "must be a string or a {document_id, content} object",
			}
		}
		if rc.DocumentID == "" {
			return nil, &model.ValidationError{
				Field:   fmt.Sprintf("contexts[%d].document_id", i),
				Message: "must not be empty",
			}
		}
		ctx := model.RAGContext{DocumentID: rc.DocumentID, Content: rc.Content}
		if chunk := decodeChunkID(rc.ChunkID); chunk != "" {
			ctx.ChunkID = &chunk
		}
		contexts = append(contexts, ctx)
	}
	return contexts, nil
}

// legacyDocumentID derives a stable document_id for a bare-string
// context from its content.
func legacyDocumentID(content string) string {
	sum := md5.Sum([]byte(content)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

// decodeChunkID accepts a JSON string or number and returns its string
// form, or "" when absent.
func decodeChunkID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// TextOf extracts the human-readable text of a stored value: the scalar
// for text/raw values, the last message's content for chat messages, and
// the raw JSON for json values.
func TextOf(v *model.StoredValue) string {
	if v == nil {
		return ""
	}
	switch v.Type {
	case model.ValueTypeText, model.ValueTypeRaw:
		var s string
		if err := json.Unmarshal([]byte(v.Value), &s); err != nil {
			return v.Value
		}
		return s
	case model.ValueTypeChatMessages:
		var msgs []model.ChatMessage
		if err := json.Unmarshal([]byte(v.Value), &msgs); err != nil {
			return v.Value
		}
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Content != "" {
				return msgs[i].Content
			}
		}
		return ""
	case model.ValueTypeJSON:
		return v.Value
	}
	return v.Value
}

// SegmentsOf returns the text segments of a stored value for token
// estimation: one segment per chat message content, or the extracted
// text as a single segment.
func SegmentsOf(v *model.StoredValue) []string {
	if v == nil {
		return nil
	}
	if v.Type == model.ValueTypeChatMessages {
		var msgs []model.ChatMessage
		if err := json.Unmarshal([]byte(v.Value), &msgs); err == nil {
			segments := make([]string, 0, len(msgs))
			for _, m := range msgs {
				if m.Content != "" {
					segments = append(segments, m.Content)
				}
			}
			return segments
		}
	}
	if text := TextOf(v); text != "" {
		return []string{text}
	}
	return nil
}

// QuotedText builds a text-typed stored value from plain text.
func QuotedText(text string) model.StoredValue {
	encoded, _ := json.Marshal(text)
	return model.StoredValue{Type: model.ValueTypeText, Value: string(encoded)}
}
