// Package redact scans span text fields for PII and rewrites matches in
// place before persistence. The index never stores an unredacted value
// once redaction is enabled for a project.
package redact

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"

	"github.com/canopy-ai/canopy/internal/model"
)

// Marker replaces every detected substring.
const Marker = "[REDACTED]"

// Likelihood orders detector confidence levels.
type Likelihood int

const (
	LikelihoodPossible Likelihood = iota + 1
	LikelihoodLikely
	LikelihoodVeryLikely
)

// ParseLikelihood maps the wire form to a Likelihood; unknown values
// default to POSSIBLE (scan everything).
func ParseLikelihood(s string) Likelihood {
	switch s {
	case "VERY_LIKELY":
		return LikelihoodVeryLikely
	case "LIKELY":
		return LikelihoodLikely
	default:
		return LikelihoodPossible
	}
}

// Entity is one detected PII occurrence within a scanned string.
type Entity struct {
	Type       string     `json:"type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Likelihood Likelihood `json:"likelihood"`
}

// Config selects which entity classes to scan for and the minimum
// confidence at which a match is acted on.
type Config struct {
	InfoTypes     map[string]bool
	MinLikelihood Likelihood
}

// DefaultConfig scans for every built-in entity class at POSSIBLE.
func DefaultConfig() Config {
	return Config{MinLikelihood: LikelihoodPossible}
}

// enabled reports whether an entity class is in scope. An empty
// InfoTypes map means all classes.
func (c Config) enabled(infoType string) bool {
	if len(c.InfoTypes) == 0 {
		return true
	}
	return c.InfoTypes[infoType]
}

// Detector finds PII entities in a text. Implementations may call an
// external DLP service; the built-in RegexDetector runs locally.
type Detector interface {
	Scan(ctx context.Context, text string, cfg Config) ([]Entity, error)
}

// Redactor rewrites span text fields through a Detector. Detector
// failure degrades to pass-through: ingestion is never blocked by the
// detector being unavailable.
type Redactor struct {
	detector Detector
	logger   *slog.Logger
}

// New creates a Redactor.
func New(detector Detector, logger *slog.Logger) *Redactor {
	return &Redactor{detector: detector, logger: logger}
}

// RedactText replaces detected entities in a single string, preserving
// the surrounding text. The second return is the detection report.
func (r *Redactor) RedactText(ctx context.Context, text string, cfg Config) (string, []Entity) {
	if text == "" {
		return text, nil
	}
	entities, err := r.detector.Scan(ctx, text, cfg)
	if err != nil {
		r.logger.Warn("redact: detector unavailable, passing text through", "error", err)
		return text, nil
	}

	matched := entities[:0]
	for _, e := range entities {
		if e.Likelihood >= cfg.MinLikelihood && cfg.enabled(e.Type) {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return text, nil
	}

	// Detectors can report overlapping ranges for the same run of text
	// (a phone number inside a longer digit sequence). Keep the
	// earliest-starting, longest range per overlap group so the marker
	// is never spliced into itself.
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Start != matched[j].Start {
			return matched[i].Start < matched[j].Start
		}
		return matched[i].End > matched[j].End
	})
	ranges := make([]Entity, 0, len(matched))
	lastEnd := 0
	for _, e := range matched {
		if e.Start < 0 || e.End > len(text) || e.Start >= e.End {
			continue
		}
		if e.Start < lastEnd {
			continue
		}
		ranges = append(ranges, e)
		lastEnd = e.End
	}

	// Replace right-to-left so earlier offsets stay valid.
	out := []byte(text)
	for i := len(ranges) - 1; i >= 0; i-- {
		e := ranges[i]
		out = append(out[:e.Start], append([]byte(Marker), out[e.End:]...)...)
	}
	return string(out), matched
}

// RedactSpan rewrites every text-bearing field of a normalized span:
// chat message contents, plain text values, RAG context contents, and
// error messages. Returns all entities detected across the span.
func (r *Redactor) RedactSpan(ctx context.Context, span *model.Span, cfg Config) []Entity {
	var report []Entity

	if span.Input != nil {
		redacted, entities := r.redactStoredValue(ctx, *span.Input, cfg)
		span.Input = &redacted
		report = append(report, entities...)
	}
	for i := range span.Outputs {
		redacted, entities := r.redactStoredValue(ctx, span.Outputs[i], cfg)
		span.Outputs[i] = redacted
		report = append(report, entities...)
	}
	for i := range span.Contexts {
		text, entities := r.RedactText(ctx, span.Contexts[i].Content, cfg)
		span.Contexts[i].Content = text
		report = append(report, entities...)
	}
	if span.Error != nil {
		text, entities := r.RedactText(ctx, span.Error.Message, cfg)
		span.Error.Message = text
		report = append(report, entities...)
	}
	return report
}

// redactStoredValue decodes a stored value to its text-bearing parts,
// redacts each independently, and re-serializes, preserving the value's
// structure.
func (r *Redactor) redactStoredValue(ctx context.Context, v model.StoredValue, cfg Config) (model.StoredValue, []Entity) {
	switch v.Type {
	case model.ValueTypeText, model.ValueTypeRaw:
		var s string
		if err := json.Unmarshal([]byte(v.Value), &s); err != nil {
			return v, nil
		}
		redacted, entities := r.RedactText(ctx, s, cfg)
		encoded, err := json.Marshal(redacted)
		if err != nil {
			return v, nil
		}
		return model.StoredValue{Type: v.Type, Value: string(encoded)}, entities

	case model.ValueTypeChatMessages:
		var msgs []model.ChatMessage
		if err := json.Unmarshal([]byte(v.Value), &msgs); err != nil {
			return v, nil
		}
		var report []Entity
		for i := range msgs {
			text, entities := r.RedactText(ctx, msgs[i].Content, cfg)
			msgs[i].Content = text
			report = append(report, entities...)
		}
		encoded, err := json.Marshal(msgs)
		if err != nil {
			return v, nil
		}
		return model.StoredValue{Type: v.Type, Value: string(encoded)}, report

	case model.ValueTypeJSON:
		redacted, entities := r.RedactText(ctx, v.Value, cfg)
		if !json.Valid([]byte(redacted)) {
			// Redaction broke the JSON structure (match spanned syntax);
			// fall back to quoting the whole redacted text.
			encoded, _ := json.Marshal(redacted)
			return model.StoredValue{Type: model.ValueTypeText, Value: string(encoded)}, entities
		}
		return model.StoredValue{Type: v.Type, Value: redacted}, entities
	}
	return v, nil
}
