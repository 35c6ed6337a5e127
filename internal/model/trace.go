package model

// Embeddings is a model-tagged embedding vector attached to a trace field.
type Embeddings struct {
	Embeddings []float32 `json:"embeddings"`
	Model      string    `json:"model"`
}

// TraceText is a derived trace input or output: the extracted text plus
// enrichment attributes computed from it.
type TraceText struct {
	Value             string      `json:"value"`
	SatisfactionScore *float64    `json:"satisfaction_score,omitempty"`
	Embeddings        *Embeddings `json:"embeddings,omitempty"`
}

// TraceMetrics are aggregates recomputed from the full span set on every
// write. TokensEstimated is set when any token count came from the
// estimator rather than a vendor report.
type TraceMetrics struct {
	FirstTokenMS     *int64   `json:"first_token_ms"`
	TotalTimeMS      *int64   `json:"total_time_ms"`
	PromptTokens     int      `json:"prompt_tokens"`
	CompletionTokens int      `json:"completion_tokens"`
	TotalCost        *float64 `json:"total_cost"`
	TokensEstimated  bool     `json:"tokens_estimated"`
}

// TraceMetadata is caller-supplied correlation metadata. Fields merge
// across repeated ingestion with first-non-null-wins semantics.
type TraceMetadata struct {
	ThreadID   *string  `json:"thread_id,omitempty"`
	UserID     *string  `json:"user_id,omitempty"`
	CustomerID *string  `json:"customer_id,omitempty"`
	Labels     []string `json:"labels,omitempty"`
}

// TraceTimestamps are epoch milliseconds.
type TraceTimestamps struct {
	StartedAt  int64 `json:"started_at"`
	InsertedAt int64 `json:"inserted_at"`
	UpdatedAt  int64 `json:"updated_at"`
}

// Trace is the aggregate document over all spans sharing a trace_id
// within a project. Exactly one exists per (project_id, trace_id).
type Trace struct {
	TraceID      string          `json:"trace_id"`
	ProjectID    string          `json:"project_id"`
	Metadata     TraceMetadata   `json:"metadata"`
	Timestamps   TraceTimestamps `json:"timestamps"`
	Input        *TraceText      `json:"input,omitempty"`
	Output       *TraceText      `json:"output,omitempty"`
	Metrics      TraceMetrics    `json:"metrics"`
	Error        *SpanError      `json:"error"`
	IndexingMD5s []string        `json:"indexing_md5s"`
}

// HasIndexedMD5 reports whether the given span fingerprint was already
// written in a previous ingestion of this trace.
func (t *Trace) HasIndexedMD5(md5 string) bool {
	for _, m := range t.IndexingMD5s {
		if m == md5 {
			return true
		}
	}
	return false
}

// MergeMetadata fills t's unset metadata fields from incoming. Fields
// already set on t keep their value, so across repeated ingestion the
// first non-null value per field wins.
func (t *Trace) MergeMetadata(incoming TraceMetadata) {
	if t.Metadata.ThreadID == nil {
		t.Metadata.ThreadID = incoming.ThreadID
	}
	if t.Metadata.UserID == nil {
		t.Metadata.UserID = incoming.UserID
	}
	if t.Metadata.CustomerID == nil {
		t.Metadata.CustomerID = incoming.CustomerID
	}
	if t.Metadata.Labels == nil {
		t.Metadata.Labels = incoming.Labels
	}
}
