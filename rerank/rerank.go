// Package rerank re-scores first-stage candidates with a cross-encoder and
// applies the quality floor and parent-diversity filter before selection.
package rerank

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/gweta-ai/gweta/llm"
	"github.com/gweta-ai/gweta/store"
)

const (
	// qualityFloor drops candidates whose normalized confidence falls
	// below this value.
	qualityFloor = 0.3

	// diversityCapRatio caps the share of results any single parent
	// document may contribute: ceil(ratio * topK).
	diversityCapRatio = 0.40
)

// MethodCrossEncoder and MethodFallback identify how a batch was ranked.
const (
	MethodCrossEncoder = "cross_encoder"
	MethodFallback     = "fallback_score_sort"
)

// Result is the outcome of one rerank invocation.
type Result struct {
	Results []store.RetrievalResult
	Method  string
}

// Reranker re-scores candidates against the query with a cross-encoder.
type Reranker struct {
	encoder llm.CrossEncoder
}

// New creates a reranker over the given cross-encoder.
func New(encoder llm.CrossEncoder) *Reranker {
	return &Reranker{encoder: encoder}
}

// Rerank evaluates the cross-encoder on every (query, candidate) pair,
// normalizes scores min-max within the batch into Confidence, applies the
// quality floor and the diversity filter, and truncates to topK. Native
// retriever scores are preserved unchanged.
//
// On encoder error it degrades to sorting by native score descending, with
// Method set to MethodFallback, and the pipeline continues.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []store.RetrievalResult, topK int) (*Result, error) {
	if len(candidates) == 0 {
		return &Result{Method: MethodCrossEncoder}, nil
	}

	start := time.Now()
	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Text
	}

	scores, err := r.encoder.Score(ctx, query, passages)
	if err != nil || len(scores) != len(candidates) {
		slog.Warn("rerank: cross-encoder failed, falling back to score sort", "error", err)
		return fallbackScoreSort(candidates, topK), nil
	}

	scored := make([]store.RetrievalResult, len(candidates))
	copy(scored, candidates)
	for i, conf := range normalizeMinMax(scores) {
		scored[i].Confidence = conf
	}

	// Quality floor.
	kept := scored[:0]
	for _, c := range scored {
		if c.Confidence >= qualityFloor {
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Confidence > kept[j].Confidence
	})

	selected := diversityFilter(kept, topK)

	slog.Debug("rerank: complete",
		"candidates", len(candidates), "above_floor", len(kept),
		"selected", len(selected), "elapsed", time.Since(start).Round(time.Millisecond))
	return &Result{Results: selected, Method: MethodCrossEncoder}, nil
}

func fallbackScoreSort(candidates []store.RetrievalResult, topK int) *Result {
	out := make([]store.RetrievalResult, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return &Result{Results: out, Method: MethodFallback}
}

// normalizeMinMax maps raw cross-encoder scores into [0,1] within the
// batch, preserving order. A constant batch maps to all 1.0.
func normalizeMinMax(scores []float64) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}

	out := make([]float64, len(scores))
	if hi == lo {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, s := range scores {
		out[i] = (s - lo) / (hi - lo)
	}
	return out
}

// diversityFilter caps per-parent contribution at ceil(ratio * topK) in a
// first pass, then backfills skipped candidates in original order until
// topK is reached.
func diversityFilter(sorted []store.RetrievalResult, topK int) []store.RetrievalResult {
	if topK <= 0 || len(sorted) == 0 {
		return nil
	}
	perParentCap := int(math.Ceil(diversityCapRatio * float64(topK)))

	perParent := make(map[string]int)
	taken := make([]bool, len(sorted))
	out := make([]store.RetrievalResult, 0, topK)

	for i, c := range sorted {
		if len(out) >= topK {
			break
		}
		if perParent[c.ParentDocID] >= perParentCap {
			continue
		}
		perParent[c.ParentDocID]++
		taken[i] = true
		out = append(out, c)
	}

	// Backfill with skipped candidates if the cap left slots open.
	for i, c := range sorted {
		if len(out) >= topK {
			break
		}
		if !taken[i] {
			out = append(out, c)
		}
	}
	return out
}
