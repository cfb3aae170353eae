package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/gweta-ai/gweta/store"
)

// fakeRetriever returns canned results or an error.
type fakeRetriever struct {
	name    string
	results []store.RetrievalResult
	err     error
}

func (f *fakeRetriever) Name() string { return f.name }

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, topK int) ([]store.RetrievalResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	if topK < len(f.results) {
		return f.results[:topK], nil
	}
	return f.results, nil
}

func rr(id string, parent string, score float64, retriever string) store.RetrievalResult {
	return store.RetrievalResult{
		Chunk:     store.Chunk{ChunkID: id, ParentDocID: parent, Text: "text " + id, DocType: store.DocTypeAct},
		Score:     score,
		Retriever: retriever,
	}
}

func TestMergeInterleavesByRank(t *testing.T) {
	lexical := []store.RetrievalResult{
		rr("a", "p1", 9.0, "lexical"),
		rr("b", "p1", 5.0, "lexical"),
	}
	dense := []store.RetrievalResult{
		rr("c", "p2", 0.9, "dense"),
		rr("d", "p2", 0.8, "dense"),
	}

	out := Merge(lexical, dense)
	want := []string{"a", "c", "b", "d"}
	if len(out) != 4 {
		t.Fatalf("expected 4 results, got %d", len(out))
	}
	for i, id := range want {
		if out[i].ChunkID != id {
			t.Errorf("position %d: got %s, want %s (lexical first on ties)", i, out[i].ChunkID, id)
		}
	}
}

func TestMergeDeduplicatesKeepingHigherScore(t *testing.T) {
	lexical := []store.RetrievalResult{rr("a", "p1", 3.0, "lexical")}
	dense := []store.RetrievalResult{rr("a", "p1", 7.0, "dense")}

	out := Merge(lexical, dense)
	if len(out) != 1 {
		t.Fatalf("expected 1 deduped result, got %d", len(out))
	}
	if out[0].Score != 7.0 {
		t.Errorf("expected higher native score kept, got %f", out[0].Score)
	}
	if !strings.Contains(out[0].Retriever, "lexical") || !strings.Contains(out[0].Retriever, "dense") {
		t.Errorf("expected both retriever tags, got %q", out[0].Retriever)
	}
}

func TestMergeCapsOutput(t *testing.T) {
	var lexical, dense []store.RetrievalResult
	for i := 0; i < 30; i++ {
		lexical = append(lexical, rr("l"+string(rune('a'+i)), "p1", float64(30-i), "lexical"))
		dense = append(dense, rr("d"+string(rune('a'+i)), "p2", float64(30-i), "dense"))
	}

	out := Merge(lexical, dense)
	if len(out) != 60 {
		t.Errorf("cap should be 2 x max side = 60, got %d", len(out))
	}
}

func TestHybridOneSideFails(t *testing.T) {
	h := &Hybrid{
		Lexical: &fakeRetriever{name: "lexical", err: ErrUnavailable},
		Dense:   &fakeRetriever{name: "dense", results: []store.RetrievalResult{rr("a", "p1", 0.9, "dense")}},
	}

	res, err := h.Search(context.Background(), "minimum wage", 10)
	if err != nil {
		t.Fatalf("expected merge to proceed with one side up: %v", err)
	}
	if len(res.DenseResults) != 1 {
		t.Errorf("dense results lost: %d", len(res.DenseResults))
	}
	if len(res.Warnings) != 1 || res.Warnings[0] != "retriever_failed:lexical" {
		t.Errorf("expected lexical failure warning, got %v", res.Warnings)
	}
}

func TestHybridBothFail(t *testing.T) {
	h := &Hybrid{
		Lexical: &fakeRetriever{name: "lexical", err: ErrUnavailable},
		Dense:   &fakeRetriever{name: "dense", err: ErrUnavailable},
	}

	_, err := h.Search(context.Background(), "minimum wage", 10)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"plain text", "unfair dismissal remedies"},
		{"special characters removed", `"section 12B" + (labour) - act*`},
		{"colons and carets", "title:labour category:act ^boost"},
		{"single word", "dismissal"},
		{"short words filtered", "a to be or not"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeFTSQuery(tt.input)
			for _, ch := range []string{"(", ")", "*", "+", "^", ":", "[", "]"} {
				if strings.Contains(result, ch) {
					t.Errorf("sanitized query %q still contains %q", result, ch)
				}
			}
			if result == "" {
				t.Error("sanitized query should not be empty")
			}
		})
	}
}

func TestTagAndCapKeepsRuneBoundaries(t *testing.T) {
	// Two-byte runes guarantee the byte cap lands mid-rune.
	long := strings.Repeat("é", store.MaxChunkTextChars)
	results := []store.RetrievalResult{
		{Chunk: store.Chunk{ChunkID: "c1", Text: long}},
	}

	tagged := tagAndCap(results, "lexical")
	if got := tagged[0].Text; !utf8.ValidString(got) {
		t.Error("capped text is not valid UTF-8")
	}
	if got := len(tagged[0].Text); got > store.MaxChunkTextChars {
		t.Errorf("capped text is %d bytes, cap is %d", got, store.MaxChunkTextChars)
	}
	if tagged[0].Retriever != "lexical" {
		t.Errorf("retriever tag = %s", tagged[0].Retriever)
	}
}

func TestBuildGapQuery(t *testing.T) {
	tests := []struct {
		name   string
		issues []string
		want   string // substring expected in the gap query
	}{
		{"missing case law", []string{"no supporting case law cited"}, "judgment"},
		{"missing constitutional basis", []string{"constitutional basis unsupported"}, "declaration of rights"},
		{"unrecognized issue", []string{"something else"}, ""},
	}

	base := "rights of arrested persons"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildGapQuery(base, tt.issues)
			if !strings.HasPrefix(got, base) {
				t.Errorf("gap query must retain the base query: %q", got)
			}
			if tt.want == "" {
				if got != base {
					t.Errorf("unrecognized issues should leave query unchanged, got %q", got)
				}
			} else if !strings.Contains(got, tt.want) {
				t.Errorf("gap query %q missing hint %q", got, tt.want)
			}
		})
	}
}

func TestGapSearchExcludesBundle(t *testing.T) {
	h := &Hybrid{
		Lexical: &fakeRetriever{name: "lexical", results: []store.RetrievalResult{
			rr("a", "p1", 2.0, "lexical"),
			rr("b", "p1", 1.0, "lexical"),
		}},
		Dense: &fakeRetriever{name: "dense", results: []store.RetrievalResult{
			rr("c", "p2", 0.8, "dense"),
		}},
	}

	fresh, err := GapSearch(context.Background(), h, "q", nil, 10, map[string]bool{"a": true})
	if err != nil {
		t.Fatalf("gap search: %v", err)
	}
	for _, r := range fresh {
		if r.ChunkID == "a" {
			t.Error("excluded chunk leaked through gap search")
		}
	}
	if len(fresh) != 2 {
		t.Errorf("expected 2 new chunks, got %d", len(fresh))
	}
}
