package ingest

import (
	"sort"

	"github.com/canopy-ai/canopy/internal/model"
	"github.com/canopy-ai/canopy/internal/pricing"
)

// spanTree is a parent→children index over one trace's span set, built
// once per assembly so the derivation walks never rescan the flat list.
type spanTree struct {
	spans    []*model.Span
	children map[string][]*model.Span
	roots    []*model.Span
}

// buildTree indexes spans by parent. A span whose declared parent is
// absent from the set is treated as a root. Parent cycles are rejected:
// they cannot occur under correct clients, but the walk must not loop
// forever on a maliciously constructed batch.
func buildTree(spans []*model.Span) (*spanTree, error) {
	byID := make(map[string]*model.Span, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = s
	}

	t := &spanTree{
		spans:    spans,
		children: make(map[string][]*model.Span),
	}
	for _, s := range spans {
		if s.ParentID == nil || byID[*s.ParentID] == nil {
			t.roots = append(t.roots, s)
			continue
		}
		t.children[*s.ParentID] = append(t.children[*s.ParentID], s)
	}

	// Reject parent cycles: every non-root must reach a root through the
	// parent chain without revisiting a span.
	for _, s := range spans {
		visited := map[string]bool{}
		cur := s
		for cur.ParentID != nil {
			parent := byID[*cur.ParentID]
			if parent == nil {
				break
			}
			if visited[cur.SpanID] {
				return nil, &model.ValidationError{Field: "parent_id", Message: "span parent chain forms a cycle"}
			}
			visited[cur.SpanID] = true
			cur = parent
		}
	}

	sortByStart(t.roots)
	for _, kids := range t.children {
		sortByStart(kids)
	}
	return t, nil
}

func sortByStart(spans []*model.Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		return spans[i].Timestamp.StartedAt < spans[j].Timestamp.StartedAt
	})
}

// descendants walks the subtree below a span depth-first,
// earliest-started-first, excluding the span itself.
func (t *spanTree) descendants(span *model.Span) []*model.Span {
	var out []*model.Span
	var walk func(s *model.Span)
	walk = func(s *model.Span) {
		for _, child := range t.children[s.SpanID] {
			out = append(out, child)
			walk(child)
		}
	}
	walk(span)
	return out
}

// ApplyRAGBorrowing fills missing input/output on RAG spans from their
// descendant LLM spans: a retrieval step that only records contexts still
// reports the underlying question and answer it served. Mutates spans in
// place; must run before fingerprinting and persistence.
func ApplyRAGBorrowing(spans []*model.Span) error {
	tree, err := buildTree(spans)
	if err != nil {
		return err
	}

	for _, s := range spans {
		if s.Type != model.SpanTypeRAG {
			continue
		}
		needInput := TextOf(s.Input) == ""
		needOutput := !hasUsableOutput(s)
		if !needInput && !needOutput {
			continue
		}
		for _, d := range tree.descendants(s) {
			if d.Type != model.SpanTypeLLM {
				continue
			}
			if needInput {
				if text := TextOf(d.Input); text != "" {
					v := QuotedText(text)
					s.Input = &v
					needInput = false
				}
			}
			if needOutput {
				if text := firstOutputText(d); text != "" {
					s.Outputs = []model.StoredValue{QuotedText(text)}
					needOutput = false
				}
			}
			if !needInput && !needOutput {
				break
			}
		}
	}
	return nil
}

func hasUsableOutput(s *model.Span) bool {
	return firstOutputText(s) != ""
}

func firstOutputText(s *model.Span) string {
	for i := range s.Outputs {
		if text := TextOf(&s.Outputs[i]); text != "" {
			return text
		}
	}
	return ""
}

// Derived holds the trace-level attributes recomputed from a full span
// set.
type Derived struct {
	Input     *string
	Output    *string
	StartedAt int64
	Metrics   model.TraceMetrics
	Error     *model.SpanError
}

// Assemble derives the trace-level attributes from the complete span set
// of one trace_id: the persisted spans plus the incoming batch. The
// price table supplies cost for vendor-reported or estimated token
// counts.
func Assemble(spans []*model.Span, table *pricing.Table) (*Derived, error) {
	tree, err := buildTree(spans)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return &Derived{}, nil
	}

	d := &Derived{}

	// Trace input: the earliest root span that has one.
	for _, root := range tree.roots {
		if text := TextOf(root.Input); text != "" {
			d.Input = &text
			break
		}
	}

	// Trace output: the last span (by finished_at) with a usable output.
	byFinish := make([]*model.Span, len(spans))
	copy(byFinish, spans)
	sort.SliceStable(byFinish, func(i, j int) bool {
		return byFinish[i].Timestamp.FinishedAt > byFinish[j].Timestamp.FinishedAt
	})
	for _, s := range byFinish {
		if text := firstOutputText(s); text != "" {
			d.Output = &text
			break
		}
	}

	minStart := spans[0].Timestamp.StartedAt
	maxFinish := spans[0].Timestamp.FinishedAt
	for _, s := range spans {
		if s.Timestamp.StartedAt < minStart {
			minStart = s.Timestamp.StartedAt
		}
		if s.Timestamp.FinishedAt > maxFinish {
			maxFinish = s.Timestamp.FinishedAt
		}
	}
	d.StartedAt = minStart
	total := maxFinish - minStart
	d.Metrics.TotalTimeMS = &total

	// First non-null span error, earliest-started-first.
	ordered := make([]*model.Span, len(spans))
	copy(ordered, spans)
	sortByStart(ordered)
	for _, s := range ordered {
		if s.Error != nil {
			d.Error = s.Error
			break
		}
	}

	aggregateUsage(ordered, table, d)
	return d, nil
}

// aggregateUsage sums token counts across LLM spans, estimating when the
// vendor did not report usage, and prices the total per span model.
func aggregateUsage(spans []*model.Span, table *pricing.Table, d *Derived) {
	var costTotal float64
	havePrice := false

	for _, s := range spans {
		if s.Type != model.SpanTypeLLM {
			continue
		}

		// first_token_ms passes through from the earliest span reporting it.
		if s.Metrics != nil && s.Metrics.FirstTokenMS != nil && d.Metrics.FirstTokenMS == nil {
			d.Metrics.FirstTokenMS = s.Metrics.FirstTokenMS
		}

		prompt := 0
		completion := 0
		if s.Metrics != nil && s.Metrics.PromptTokens != nil {
			prompt = *s.Metrics.PromptTokens
		} else {
			prompt = pricing.EstimateValueTokens(SegmentsOf(s.Input))
			d.Metrics.TokensEstimated = true
		}
		if s.Metrics != nil && s.Metrics.CompletionTokens != nil {
			completion = *s.Metrics.CompletionTokens
		} else {
			completion = estimateOutputTokens(s)
			d.Metrics.TokensEstimated = true
		}

		d.Metrics.PromptTokens += prompt
		d.Metrics.CompletionTokens += completion

		if cost := table.Cost(s.Vendor, s.Model, prompt, completion); cost != nil {
			if f, err := cost.Float64(); err == nil {
				costTotal += f
				havePrice = true
			}
		}
	}

	if havePrice {
		d.Metrics.TotalCost = &costTotal
	}
}

func estimateOutputTokens(s *model.Span) int {
	total := 0
	for i := range s.Outputs {
		total += pricing.EstimateValueTokens(SegmentsOf(&s.Outputs[i]))
	}
	return total
}
