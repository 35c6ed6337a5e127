package checks

import (
	"context"
	"fmt"

	"github.com/canopy-ai/canopy/internal/model"
	"github.com/canopy-ai/canopy/internal/redact"
)

// piiFinding is the per-entity detail stored in raw_result. Offsets and
// matched text are deliberately omitted: the result document must not
// carry the PII it reports.
type piiFinding struct {
	Source     string `json:"source"` // input, output, or span_id
	InfoType   string `json:"info_type"`
	Likelihood string `json:"likelihood"`
}

// evaluatePII scans the trace's derived input and output, and
// optionally every span, for PII. The check fails when anything is
// found; value is the finding count.
func (e *Engine) evaluatePII(ctx context.Context, cfg model.CheckConfig, trace model.Trace, spans []*model.Span) (model.CheckResult, error) {
	if e.detector == nil {
		return model.CheckResult{}, fmt.Errorf("checks: no PII detector configured")
	}

	scanCfg := redact.DefaultConfig()
	checkSpans := false
	if cfg.PII != nil {
		scanCfg.InfoTypes = cfg.PII.InfoTypes
		scanCfg.MinLikelihood = redact.ParseLikelihood(cfg.PII.MinLikelihood)
		checkSpans = cfg.PII.CheckPIIInSpans
	}

	var findings []piiFinding

	scan := func(source, text string) error {
		if text == "" {
			return nil
		}
		entities, err := e.detector.Scan(ctx, text, scanCfg)
		if err != nil {
			return fmt.Errorf("checks: PII scan: %w", err)
		}
		for _, entity := range entities {
			if entity.Likelihood < scanCfg.MinLikelihood {
				continue
			}
			if len(scanCfg.InfoTypes) > 0 && !scanCfg.InfoTypes[entity.Type] {
				continue
			}
			findings = append(findings, piiFinding{
				Source:     source,
				InfoType:   entity.Type,
				Likelihood: likelihoodName(entity.Likelihood),
			})
		}
		return nil
	}

	if trace.Input != nil {
		if err := scan("input", trace.Input.Value); err != nil {
			return model.CheckResult{}, err
		}
	}
	if trace.Output != nil {
		if err := scan("output", trace.Output.Value); err != nil {
			return model.CheckResult{}, err
		}
	}
	if checkSpans {
		for _, span := range spans {
			for _, text := range spanTexts(span) {
				if err := scan(span.SpanID, text); err != nil {
					return model.CheckResult{}, err
				}
			}
		}
	}

	status := model.CheckStatusSucceeded
	if len(findings) > 0 {
		status = model.CheckStatusFailed
	}
	return model.CheckResult{
		Status:    status,
		Value:     float64(len(findings)),
		RawResult: findings,
	}, nil
}

// spanTexts collects the scannable strings of one span.
func spanTexts(span *model.Span) []string {
	var texts []string
	if span.Input != nil {
		texts = append(texts, span.Input.Value)
	}
	for i := range span.Outputs {
		texts = append(texts, span.Outputs[i].Value)
	}
	for i := range span.Contexts {
		texts = append(texts, span.Contexts[i].Content)
	}
	if span.Error != nil {
		texts = append(texts, span.Error.Message)
	}
	return texts
}

func likelihoodName(l redact.Likelihood) string {
	switch l {
	case redact.LikelihoodVeryLikely:
		return "VERY_LIKELY"
	case redact.LikelihoodLikely:
		return "LIKELY"
	default:
		return "POSSIBLE"
	}
}
