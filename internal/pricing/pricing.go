// Package pricing maps vendor/model pairs to per-token prices and
// estimates token counts when vendors do not report usage.
//
// Cost arithmetic uses arbitrary-precision decimals so that fractional
// cent amounts survive aggregation without float drift; results are
// narrowed to float64 only at the storage boundary.
package pricing

import (
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// ModelPrice holds USD prices per single token.
type ModelPrice struct {
	PromptPerToken     *apd.Decimal
	CompletionPerToken *apd.Decimal
}

// Table resolves model prices. The zero value is unusable; construct
// with NewTable (built-in prices) and inject into consumers so tests can
// substitute deterministic entries.
type Table struct {
	prices map[string]ModelPrice
}

func dec(s string) *apd.Decimal {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		panic("pricing: bad builtin price " + s)
	}
	return d
}

// NewTable creates a Table with the built-in price list.
func NewTable() *Table {
	return &Table{prices: map[string]ModelPrice{
		"gpt-3.5-turbo":     {PromptPerToken: dec("0.0000015"), CompletionPerToken: dec("0.000002")},
		"gpt-3.5-turbo-16k": {PromptPerToken: dec("0.000003"), CompletionPerToken: dec("0.000004")},
		"gpt-4":             {PromptPerToken: dec("0.00003"), CompletionPerToken: dec("0.00006")},
		"gpt-4-32k":         {PromptPerToken: dec("0.00006"), CompletionPerToken: dec("0.00012")},
		"gpt-4-turbo":       {PromptPerToken: dec("0.00001"), CompletionPerToken: dec("0.00003")},
		"claude-instant-1":  {PromptPerToken: dec("0.00000163"), CompletionPerToken: dec("0.00000551")},
		"claude-2":          {PromptPerToken: dec("0.00001102"), CompletionPerToken: dec("0.00003268")},
	}}
}

// Lookup returns the price entry for a model, trying the exact name
// first and then the name with any date/version suffix stripped
// (e.g. "gpt-3.5-turbo-0613" resolves to "gpt-3.5-turbo").
func (t *Table) Lookup(vendor, model string) (ModelPrice, bool) {
	if p, ok := t.prices[model]; ok {
		return p, true
	}
	// Longest-prefix match for dated snapshot names.
	best := ""
	for name := range t.prices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return t.prices[best], true
	}
	_ = vendor // prices are currently keyed by model name alone
	return ModelPrice{}, false
}

// Cost computes the USD cost for a token usage pair. Returns nil when
// the model is not in the table.
func (t *Table) Cost(vendor, model string, promptTokens, completionTokens int) *apd.Decimal {
	p, ok := t.Lookup(vendor, model)
	if !ok {
		return nil
	}
	ctx := apd.BaseContext.WithPrecision(30)
	prompt := new(apd.Decimal)
	completion := new(apd.Decimal)
	total := new(apd.Decimal)
	if _, err := ctx.Mul(prompt, p.PromptPerToken, apd.New(int64(promptTokens), 0)); err != nil {
		return nil
	}
	if _, err := ctx.Mul(completion, p.CompletionPerToken, apd.New(int64(completionTokens), 0)); err != nil {
		return nil
	}
	if _, err := ctx.Add(total, prompt, completion); err != nil {
		return nil
	}
	return total
}

// EstimateTokens approximates the token count of a single text segment
// as len/4, with a floor of one token for non-empty text. Used only when
// the vendor did not report usage; callers must flag the result as
// estimated.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateValueTokens sums segment estimates over the text segments of a
// stored value: each chat message content is one segment, a plain text
// value is one segment.
func EstimateValueTokens(segments []string) int {
	total := 0
	for _, s := range segments {
		total += EstimateTokens(s)
	}
	return total
}
