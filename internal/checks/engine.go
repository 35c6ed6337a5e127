// Package checks implements the automated evaluation engine: custom
// rule sets, PII detection, and toxicity moderation, evaluated against
// finished traces by a queue-fed worker.
package checks

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/canopy-ai/canopy/internal/embedding"
	"github.com/canopy-ai/canopy/internal/judge"
	"github.com/canopy-ai/canopy/internal/model"
	"github.com/canopy-ai/canopy/internal/pricing"
	"github.com/canopy-ai/canopy/internal/redact"
)

// Engine evaluates one check configuration against one trace.
type Engine struct {
	embedder embedding.Provider
	judge    judge.Provider
	detector redact.Detector
	prices   *pricing.Table
	logger   *slog.Logger
}

// NewEngine creates an Engine. judge may be nil when no LLM provider is
// configured; rules that need one then error rather than fail.
func NewEngine(embedder embedding.Provider, judgeProvider judge.Provider, detector redact.Detector, prices *pricing.Table, logger *slog.Logger) *Engine {
	return &Engine{
		embedder: embedder,
		judge:    judgeProvider,
		detector: detector,
		prices:   prices,
		logger:   logger,
	}
}

// outcome accumulates the evaluation of one check.
type outcome struct {
	failed    int
	evaluated int
	raw       []ruleOutcome
	costs     []model.Money
}

// ruleOutcome is the per-rule detail stored in raw_result.
type ruleOutcome struct {
	Field  model.RuleField `json:"field"`
	Rule   model.RuleKind  `json:"rule"`
	Passed bool            `json:"passed"`
	Score  *float64        `json:"score,omitempty"`
}

// Evaluate runs the configured evaluator and returns the terminal
// result fields (status, value, raw result, costs, error). The caller
// owns identity fields and timestamps.
func (e *Engine) Evaluate(ctx context.Context, cfg model.CheckConfig, trace model.Trace, spans []*model.Span) model.CheckResult {
	var result model.CheckResult
	var err error

	switch cfg.Type {
	case model.CheckTypeCustom:
		result, err = e.evaluateCustom(ctx, cfg, trace)
	case model.CheckTypePII:
		result, err = e.evaluatePII(ctx, cfg, trace, spans)
	case model.CheckTypeToxicity:
		result, err = e.evaluateToxicity(ctx, cfg, trace)
	default:
		err = fmt.Errorf("checks: unknown check type %q", cfg.Type)
	}

	if err != nil {
		return model.CheckResult{
			Status: model.CheckStatusErrored,
			Error:  err.Error(),
		}
	}
	return result
}

// evaluateCustom runs every rule and combines with AND: the check
// succeeds only when no rule failed. A rule that cannot be evaluated
// (invalid regex, provider down, malformed fail_when) errors the whole
// check; an error is never reported as a failure.
func (e *Engine) evaluateCustom(ctx context.Context, cfg model.CheckConfig, trace model.Trace) (model.CheckResult, error) {
	if cfg.Custom == nil || len(cfg.Custom.Rules) == 0 {
		return model.CheckResult{}, fmt.Errorf("checks: custom check %s has no rules", cfg.ID)
	}

	var out outcome
	for i := range cfg.Custom.Rules {
		rule := cfg.Custom.Rules[i]
		if err := e.evaluateRule(ctx, rule, trace, &out); err != nil {
			return model.CheckResult{}, err
		}
	}

	status := model.CheckStatusSucceeded
	if out.failed > 0 {
		status = model.CheckStatusFailed
	}
	return model.CheckResult{
		Status:    status,
		Value:     float64(out.failed),
		RawResult: out.raw,
		Costs:     out.costs,
	}, nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule model.CheckRule, trace model.Trace, out *outcome) error {
	text := fieldText(trace, rule.Field)
	out.evaluated++

	record := func(passed bool, score *float64) {
		if !passed {
			out.failed++
		}
		out.raw = append(out.raw, ruleOutcome{
			Field:  rule.Field,
			Rule:   rule.Rule,
			Passed: passed,
			Score:  score,
		})
	}

	switch rule.Rule {
	case model.RuleContains:
		record(strings.Contains(text, rule.Value), nil)
		return nil

	case model.RuleNotContains:
		record(!strings.Contains(text, rule.Value), nil)
		return nil

	case model.RuleMatchesRegex, model.RuleNotMatchesRegex:
		re, err := regexp.Compile(rule.Value)
		if err != nil {
			return fmt.Errorf("checks: invalid regex %q: %w", rule.Value, err)
		}
		matched := re.MatchString(text)
		if rule.Rule == model.RuleNotMatchesRegex {
			matched = !matched
		}
		record(matched, nil)
		return nil

	case model.RuleIsSimilarTo:
		score, err := e.similarity(ctx, rule, trace, text)
		if err != nil {
			return err
		}
		failed, ok := failWhenHolds(rule.FailWhen, score)
		if !ok {
			return fmt.Errorf("checks: is_similar_to rule needs a valid fail_when")
		}
		record(!failed, &score)
		return nil

	case model.RuleLLMBoolean:
		if e.judge == nil {
			return fmt.Errorf("checks: no judge provider configured for llm_boolean")
		}
		passed, usage, err := e.judge.JudgeBoolean(ctx, rule.Model, rule.Value, text)
		if err != nil {
			return fmt.Errorf("checks: llm_boolean: %w", err)
		}
		e.addCost(out, usage)
		record(passed, nil)
		return nil

	case model.RuleLLMScore:
		if e.judge == nil {
			return fmt.Errorf("checks: no judge provider configured for llm_score")
		}
		score, usage, err := e.judge.JudgeScore(ctx, rule.Model, rule.Value, text)
		if err != nil {
			return fmt.Errorf("checks: llm_score: %w", err)
		}
		e.addCost(out, usage)
		failed, ok := failWhenHolds(rule.FailWhen, score)
		if !ok {
			return fmt.Errorf("checks: llm_score rule needs a valid fail_when")
		}
		record(!failed, &score)
		return nil
	}
	return fmt.Errorf("checks: unknown rule kind %q", rule.Rule)
}

// similarity computes cosine similarity between the field text and the
// rule's reference. The reference embedding is cached on the rule when
// the config was saved; otherwise it is computed lazily here.
func (e *Engine) similarity(ctx context.Context, rule model.CheckRule, trace model.Trace, text string) (float64, error) {
	reference := rule.Embeddings
	if len(reference) == 0 {
		res, err := e.embedder.Embed(ctx, rule.Value)
		if err != nil {
			return 0, fmt.Errorf("checks: embed reference text: %w", err)
		}
		reference = res.Vector.Slice()
	}

	subject := fieldEmbedding(trace, rule.Field)
	if len(subject) == 0 {
		res, err := e.embedder.Embed(ctx, text)
		if err != nil {
			return 0, fmt.Errorf("checks: embed trace text: %w", err)
		}
		subject = res.Vector.Slice()
	}

	return embedding.Cosine(subject, reference), nil
}

// addCost prices a judge call and attaches it to the outcome.
func (e *Engine) addCost(out *outcome, usage judge.Usage) {
	cost := e.prices.Cost(usage.Vendor, usage.Model, usage.PromptTokens, usage.CompletionTokens)
	if cost == nil {
		return
	}
	amount, err := cost.Float64()
	if err != nil {
		return
	}
	out.costs = append(out.costs, model.Money{Currency: "USD", Amount: amount})
}

// failWhenHolds applies the failure predicate. The second return is
// false when the predicate is missing or its condition is unknown.
func failWhenHolds(fw *model.FailWhen, score float64) (bool, bool) {
	if fw == nil {
		return false, false
	}
	return fw.Holds(score)
}

func fieldText(trace model.Trace, field model.RuleField) string {
	switch field {
	case model.RuleFieldOutput:
		if trace.Output != nil {
			return trace.Output.Value
		}
	default:
		if trace.Input != nil {
			return trace.Input.Value
		}
	}
	return ""
}

func fieldEmbedding(trace model.Trace, field model.RuleField) []float32 {
	switch field {
	case model.RuleFieldOutput:
		if trace.Output != nil && trace.Output.Embeddings != nil {
			return trace.Output.Embeddings.Embeddings
		}
	default:
		if trace.Input != nil && trace.Input.Embeddings != nil {
			return trace.Input.Embeddings.Embeddings
		}
	}
	return nil
}
