package model

// CheckType identifies the evaluator backing a check configuration.
type CheckType string

const (
	CheckTypePII      CheckType = "pii_check"
	CheckTypeToxicity CheckType = "toxicity_check"
	CheckTypeCustom   CheckType = "custom"
)

// CheckStatus is the lifecycle state of a check evaluation.
// Errored (provider down, malformed rule, missing trace) is distinct from
// Failed (rule evaluated cleanly and the failure condition triggered).
type CheckStatus string

const (
	CheckStatusPending   CheckStatus = "pending"
	CheckStatusRunning   CheckStatus = "running"
	CheckStatusSucceeded CheckStatus = "succeeded"
	CheckStatusFailed    CheckStatus = "failed"
	CheckStatusErrored   CheckStatus = "errored"
)

// RuleField selects which derived trace field a rule evaluates.
type RuleField string

const (
	RuleFieldInput  RuleField = "input"
	RuleFieldOutput RuleField = "output"
)

// RuleKind is the closed set of rule evaluators.
type RuleKind string

const (
	RuleContains        RuleKind = "contains"
	RuleNotContains     RuleKind = "not_contains"
	RuleMatchesRegex    RuleKind = "matches_regex"
	RuleNotMatchesRegex RuleKind = "not_matches_regex"
	RuleIsSimilarTo     RuleKind = "is_similar_to"
	RuleLLMBoolean      RuleKind = "llm_boolean"
	RuleLLMScore        RuleKind = "llm_score"
)

// FailWhen encodes a failure predicate over a rule's numeric result: the
// check fails when `score <condition> amount` holds.
type FailWhen struct {
	Condition string  `json:"condition"` // one of > < >= <= ==
	Amount    float64 `json:"amount"`
}

// Holds reports whether the failure predicate triggers for score.
func (f FailWhen) Holds(score float64) (bool, bool) {
	switch f.Condition {
	case ">":
		return score > f.Amount, true
	case "<":
		return score < f.Amount, true
	case ">=":
		return score >= f.Amount, true
	case "<=":
		return score <= f.Amount, true
	case "==":
		return score == f.Amount, true
	}
	return false, false
}

// CheckRule is one rule inside a custom check. Value is the needle,
// pattern, reference text, or judge instruction depending on Rule.
// Embeddings caches the reference embedding for is_similar_to rules;
// when absent it is computed lazily at evaluation time.
type CheckRule struct {
	Field      RuleField `json:"field"`
	Rule       RuleKind  `json:"rule"`
	Value      string    `json:"value"`
	Model      string    `json:"model,omitempty"`
	Embeddings []float32 `json:"embeddings,omitempty"`
	FailWhen   *FailWhen `json:"fail_when,omitempty"`
}

// CheckPrecondition gates a check: when the condition does not hold the
// job is skipped without producing a result. Only the non-provider rule
// kinds plus threshold similarity are allowed here.
type CheckPrecondition struct {
	Field     RuleField `json:"field"`
	Rule      RuleKind  `json:"rule"`
	Value     string    `json:"value"`
	Threshold float64   `json:"threshold,omitempty"`
}

// PIIParams configures the pii_check evaluator.
type PIIParams struct {
	InfoTypes       map[string]bool `json:"info_types"`
	MinLikelihood   string          `json:"min_likelihood"` // POSSIBLE, LIKELY, VERY_LIKELY
	CheckPIIInSpans bool            `json:"check_pii_in_spans"`
}

// ToxicityParams configures the toxicity_check evaluator. Categories maps
// moderation category names to whether they are enforced.
type ToxicityParams struct {
	Categories map[string]bool `json:"categories"`
}

// CustomParams configures the custom rule-set evaluator.
type CustomParams struct {
	Rules []CheckRule `json:"rules"`
}

// CheckConfig is a configured automated evaluation for a project.
type CheckConfig struct {
	ID            string              `json:"id"`
	ProjectID     string              `json:"project_id"`
	Type          CheckType           `json:"type"`
	Name          string              `json:"name"`
	Enabled       bool                `json:"enabled"`
	Preconditions []CheckPrecondition `json:"preconditions,omitempty"`
	PII           *PIIParams          `json:"pii,omitempty"`
	Toxicity      *ToxicityParams     `json:"toxicity,omitempty"`
	Custom        *CustomParams       `json:"custom,omitempty"`
}

// CheckJob is a unit of work created when a trace finishes ingestion and
// the project has at least one enabled check. Consumed exactly once;
// retries belong to the external queue, not the core.
type CheckJob struct {
	CheckID   string        `json:"check_id"`
	CheckType CheckType     `json:"check_type"`
	CheckName string        `json:"check_name"`
	TraceID   string        `json:"trace_id"`
	ProjectID string        `json:"project_id"`
	Metadata  TraceMetadata `json:"metadata"`
}

// Money is a cost attributed to a check evaluation (embedding or judge
// calls). Amounts are computed with exact decimal arithmetic in the
// pricing package before being narrowed for storage.
type Money struct {
	Currency string  `json:"currency"`
	Amount   float64 `json:"amount"`
}

// CheckResult is the persisted outcome of one check evaluation for one
// trace. Immutable once written; a later evaluation for the same
// (trace, check) pair replaces it, last-write-wins.
type CheckResult struct {
	CheckID   string      `json:"check_id"`
	CheckType CheckType   `json:"check_type"`
	CheckName string      `json:"check_name"`
	TraceID   string      `json:"trace_id"`
	ProjectID string      `json:"project_id"`
	Status    CheckStatus `json:"status"`
	RawResult any         `json:"raw_result,omitempty"`
	Value     float64     `json:"value"`
	Costs     []Money     `json:"costs,omitempty"`
	Error     string      `json:"error,omitempty"`
	UpdatedAt int64       `json:"updated_at"`
}
