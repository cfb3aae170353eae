package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gweta-ai/gweta/store"
)

// gapTopKBoost widens the retrieval window for targeted gap retrieval.
const gapTopKBoost = 15

// gapHints maps quality-issue kinds to query expansion terms. Issue
// strings are matched by substring so checker wording can evolve.
var gapHints = []struct {
	marker string
	terms  string
}{
	{"case law", "judgment court held ZWSC ZWHC"},
	{"case_law", "judgment court held ZWSC ZWHC"},
	{"constitutional", "constitution section declaration of rights"},
	{"statutory", "act chapter statutory instrument section"},
	{"procedure", "procedure rules court application form"},
	{"definition", "means definition interpretation section"},
}

// BuildGapQuery derives a targeted follow-up query from the base query and
// the quality issues reported by the gate. Unrecognized issues fall back to
// the base query unchanged.
func BuildGapQuery(baseQuery string, issues []string) string {
	joined := strings.ToLower(strings.Join(issues, " "))

	var extra []string
	seen := make(map[string]bool)
	for _, hint := range gapHints {
		if strings.Contains(joined, hint.marker) && !seen[hint.terms] {
			seen[hint.terms] = true
			extra = append(extra, hint.terms)
		}
	}
	if len(extra) == 0 {
		return baseQuery
	}
	return baseQuery + " " + strings.Join(extra, " ")
}

// GapSearch runs both retrievers with a widened top-k and drops chunks
// already present in the bundle, returning only new candidates.
func GapSearch(ctx context.Context, h *Hybrid, baseQuery string, issues []string, topK int, exclude map[string]bool) ([]store.RetrievalResult, error) {
	gapQuery := BuildGapQuery(baseQuery, issues)

	res, err := h.Search(ctx, gapQuery, topK+gapTopKBoost)
	if err != nil {
		return nil, err
	}

	merged := Merge(res.LexicalResults, res.DenseResults)
	fresh := merged[:0]
	for _, r := range merged {
		if !exclude[r.ChunkID] {
			fresh = append(fresh, r)
		}
	}

	slog.Debug("retrieval: gap search complete",
		"gap_query_len", len(gapQuery), "candidates", len(merged), "new", len(fresh))
	return fresh, nil
}
