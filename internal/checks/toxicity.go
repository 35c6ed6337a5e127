package checks

import (
	"context"
	"fmt"

	"github.com/canopy-ai/canopy/internal/model"
)

// toxicityThreshold is the moderation score above which a category
// counts as flagged.
const toxicityThreshold = 0.5

// categoryScore is the per-category detail stored in raw_result.
type categoryScore struct {
	Source   string  `json:"source"` // input or output
	Category string  `json:"category"`
	Score    float64 `json:"score"`
}

// evaluateToxicity moderates the trace's derived input and output. The
// check fails when any enforced category crosses the threshold; value
// is the highest enforced score seen.
func (e *Engine) evaluateToxicity(ctx context.Context, cfg model.CheckConfig, trace model.Trace) (model.CheckResult, error) {
	if e.judge == nil {
		return model.CheckResult{}, fmt.Errorf("checks: no moderation provider configured")
	}

	var categories map[string]bool
	if cfg.Toxicity != nil {
		categories = cfg.Toxicity.Categories
	}
	enforced := func(category string) bool {
		if len(categories) == 0 {
			return true
		}
		return categories[category]
	}

	var flagged []categoryScore
	maxScore := 0.0

	moderate := func(source, text string) error {
		if text == "" {
			return nil
		}
		scores, err := e.judge.Moderate(ctx, text)
		if err != nil {
			return fmt.Errorf("checks: moderation: %w", err)
		}
		for category, score := range scores {
			if !enforced(category) {
				continue
			}
			if score > maxScore {
				maxScore = score
			}
			if score >= toxicityThreshold {
				flagged = append(flagged, categoryScore{
					Source:   source,
					Category: category,
					Score:    score,
				})
			}
		}
		return nil
	}

	if trace.Input != nil {
		if err := moderate("input", trace.Input.Value); err != nil {
			return model.CheckResult{}, err
		}
	}
	if trace.Output != nil {
		if err := moderate("output", trace.Output.Value); err != nil {
			return model.CheckResult{}, err
		}
	}

	status := model.CheckStatusSucceeded
	if len(flagged) > 0 {
		status = model.CheckStatusFailed
	}
	return model.CheckResult{
		Status:    status,
		Value:     maxScore,
		RawResult: flagged,
	}, nil
}
