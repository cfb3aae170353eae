package rerank

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/gweta-ai/gweta/store"
)

type fakeEncoder struct {
	scores []float64
	err    error
}

func (f *fakeEncoder) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.scores[:len(passages)], nil
}

func candidate(id, parent string, score float64) store.RetrievalResult {
	return store.RetrievalResult{
		Chunk: store.Chunk{ChunkID: id, ParentDocID: parent, Text: "text " + id, DocType: store.DocTypeAct},
		Score: score,
	}
}

func TestRerankOrdersByConfidence(t *testing.T) {
	candidates := []store.RetrievalResult{
		candidate("a", "p1", 1.0),
		candidate("b", "p2", 2.0),
		candidate("c", "p3", 3.0),
	}
	r := New(&fakeEncoder{scores: []float64{0.1, 0.9, 0.5}})

	res, err := r.Rerank(context.Background(), "q", candidates, 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if res.Method != MethodCrossEncoder {
		t.Errorf("method = %s", res.Method)
	}

	for i := 0; i+1 < len(res.Results); i++ {
		if res.Results[i].Confidence < res.Results[i+1].Confidence {
			t.Errorf("confidence not descending at %d: %f < %f",
				i, res.Results[i].Confidence, res.Results[i+1].Confidence)
		}
	}
	if res.Results[0].ChunkID != "b" {
		t.Errorf("highest scored candidate should rank first, got %s", res.Results[0].ChunkID)
	}
	// Native scores must be preserved unchanged.
	if res.Results[0].Score != 2.0 {
		t.Errorf("native score mutated: %f", res.Results[0].Score)
	}
}

func TestRerankQualityFloor(t *testing.T) {
	candidates := []store.RetrievalResult{
		candidate("a", "p1", 1.0),
		candidate("b", "p2", 1.0),
		candidate("c", "p3", 1.0),
	}
	// Min-max normalized: a=0.0, b=0.25, c=1.0 -> a and b fall below 0.3.
	r := New(&fakeEncoder{scores: []float64{0.0, 1.0, 4.0}})

	res, err := r.Rerank(context.Background(), "q", candidates, 3)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(res.Results) != 1 || res.Results[0].ChunkID != "c" {
		t.Errorf("quality floor not applied: %+v", res.Results)
	}
}

func TestRerankDiversityCap(t *testing.T) {
	// Ten candidates from the same parent plus two from others; with
	// topK=5 the cap is ceil(0.4*5)=2 per parent.
	var candidates []store.RetrievalResult
	scores := make([]float64, 0, 12)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, candidate(string(rune('a'+i)), "same", 1.0))
		scores = append(scores, float64(20-i))
	}
	candidates = append(candidates, candidate("x", "other1", 1.0), candidate("y", "other2", 1.0))
	scores = append(scores, 15.5, 14.5)

	r := New(&fakeEncoder{scores: scores})
	res, err := r.Rerank(context.Background(), "q", candidates, 5)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(res.Results) != 5 {
		t.Fatalf("expected 5 results, got %d", len(res.Results))
	}

	perParent := map[string]int{}
	for _, c := range res.Results {
		perParent[c.ParentDocID]++
	}
	// First-pass selection honors the per-parent cap of ceil(0.4*5)=2;
	// remaining slots are backfilled in original order.
	if perParent["other1"] != 1 || perParent["other2"] != 1 {
		t.Errorf("diverse parents should be selected: %v", perParent)
	}
	if perParent["same"] != 3 {
		// cap(2) + 1 backfill slot after other parents are exhausted
		t.Errorf("same-parent count = %d, want 3 (2 capped + 1 backfill)", perParent["same"])
	}
}

func TestRerankFallbackOnEncoderError(t *testing.T) {
	candidates := []store.RetrievalResult{
		candidate("a", "p1", 1.0),
		candidate("b", "p2", 3.0),
		candidate("c", "p3", 2.0),
	}
	r := New(&fakeEncoder{err: errors.New("encoder down")})

	res, err := r.Rerank(context.Background(), "q", candidates, 2)
	if err != nil {
		t.Fatalf("fallback must not fail the pipeline: %v", err)
	}
	if res.Method != MethodFallback {
		t.Errorf("method = %s, want %s", res.Method, MethodFallback)
	}
	if len(res.Results) != 2 {
		t.Fatalf("expected truncation to topK, got %d", len(res.Results))
	}
	if res.Results[0].ChunkID != "b" || res.Results[1].ChunkID != "c" {
		t.Errorf("fallback should sort by native score: %v", res.Results)
	}
}

func TestRerankEmptyInput(t *testing.T) {
	r := New(&fakeEncoder{})
	res, err := r.Rerank(context.Background(), "q", nil, 5)
	if err != nil {
		t.Fatalf("rerank: %v", err)
	}
	if len(res.Results) != 0 {
		t.Errorf("expected empty output, got %v", res.Results)
	}
}

func TestNormalizeMinMax(t *testing.T) {
	got := normalizeMinMax([]float64{2, 4, 6})
	want := []float64{0, 0.5, 1}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-9 {
			t.Errorf("index %d: %f != %f", i, got[i], want[i])
		}
	}

	// Constant batch maps to all ones.
	for _, v := range normalizeMinMax([]float64{3, 3, 3}) {
		if v != 1.0 {
			t.Errorf("constant batch should normalize to 1.0, got %f", v)
		}
	}
}
