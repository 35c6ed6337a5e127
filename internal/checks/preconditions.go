package checks

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/canopy-ai/canopy/internal/embedding"
	"github.com/canopy-ai/canopy/internal/model"
)

// Preconditions gates check scheduling: a check whose preconditions do
// not hold for a trace is never enqueued and leaves no result.
type Preconditions struct {
	embedder embedding.Provider
	logger   *slog.Logger
}

// NewPreconditions creates a precondition gate. embedder is only used
// by is_similar_to preconditions.
func NewPreconditions(embedder embedding.Provider, logger *slog.Logger) *Preconditions {
	return &Preconditions{embedder: embedder, logger: logger}
}

// Met reports whether every precondition holds. An empty list always
// holds. A precondition that cannot be evaluated (bad regex, embedder
// down) counts as not met: scheduling errs on the side of skipping.
func (p *Preconditions) Met(ctx context.Context, trace model.Trace, precs []model.CheckPrecondition) bool {
	for _, prec := range precs {
		if !p.met(ctx, trace, prec) {
			return false
		}
	}
	return true
}

func (p *Preconditions) met(ctx context.Context, trace model.Trace, prec model.CheckPrecondition) bool {
	text := fieldText(trace, prec.Field)

	switch prec.Rule {
	case model.RuleContains:
		return strings.Contains(text, prec.Value)
	case model.RuleNotContains:
		return !strings.Contains(text, prec.Value)
	case model.RuleMatchesRegex, model.RuleNotMatchesRegex:
		re, err := regexp.Compile(prec.Value)
		if err != nil {
			p.logger.Warn("checks: invalid precondition regex", "pattern", prec.Value, "error", err)
			return false
		}
		matched := re.MatchString(text)
		if prec.Rule == model.RuleNotMatchesRegex {
			return !matched
		}
		return matched
	case model.RuleIsSimilarTo:
		subject := fieldEmbedding(trace, prec.Field)
		if len(subject) == 0 {
			res, err := p.embedder.Embed(ctx, text)
			if err != nil {
				p.logger.Warn("checks: precondition embedding failed", "error", err)
				return false
			}
			subject = res.Vector.Slice()
		}
		reference, err := p.embedder.Embed(ctx, prec.Value)
		if err != nil {
			p.logger.Warn("checks: precondition embedding failed", "error", err)
			return false
		}
		return embedding.Cosine(subject, reference.Vector.Slice()) >= prec.Threshold
	}

	p.logger.Warn("checks: unknown precondition rule", "rule", string(prec.Rule))
	return false
}
