// Package quality gates synthesized answers: attribution, logical
// coherence, and source relevance are checked independently, aggregated
// into a weighted confidence, and turned into a routing decision.
package quality

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gweta-ai/gweta/synthesis"
)

// CheckResult is one checker's verdict.
type CheckResult struct {
	Score  float64
	Issues []string
}

// Checker scores one quality dimension of an answer against its bundle.
type Checker interface {
	Name() string
	Check(ctx context.Context, query string, answer *synthesis.Answer, bundle []synthesis.ContextItem) CheckResult
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]\s+`)

// stopWords excluded from overlap scoring.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"to": true, "in": true, "on": true, "for": true, "is": true, "are": true,
	"be": true, "by": true, "with": true, "that": true, "this": true,
	"it": true, "as": true, "at": true, "from": true, "under": true,
	"must": true, "may": true, "shall": true, "not": true, "any": true,
	"what": true, "which": true, "who": true, "does": true, "do": true,
}

func contentWords(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, `.,;:!?()"'`)
		if len(w) > 2 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

func overlapCount(words map[string]bool, text string) int {
	n := 0
	for w := range contentWords(text) {
		if words[w] {
			n++
		}
	}
	return n
}

// Attribution verifies that the body's factual statements trace back to
// the cited sources: each sentence must share vocabulary with at least one
// cited chunk.
type Attribution struct{}

func (Attribution) Name() string { return "attribution" }

func (Attribution) Check(ctx context.Context, query string, answer *synthesis.Answer, bundle []synthesis.ContextItem) CheckResult {
	if strings.TrimSpace(answer.Body) == "" {
		return CheckResult{Score: 0, Issues: []string{"attribution: empty body"}}
	}
	if len(answer.Citations) == 0 {
		return CheckResult{Score: 0.2, Issues: []string{"attribution: no citations for a factual answer"}}
	}

	cited := make(map[string]bool)
	for _, c := range answer.Citations {
		cited[c.ChunkID] = true
	}
	var sourceWords []map[string]bool
	for _, item := range bundle {
		if cited[item.Result.ChunkID] {
			sourceWords = append(sourceWords, contentWords(item.Result.Text))
		}
	}

	sentences := splitSentences(answer.Body)
	if len(sentences) == 0 {
		return CheckResult{Score: 0, Issues: []string{"attribution: empty body"}}
	}

	supported := 0
	var issues []string
	for _, sentence := range sentences {
		ok := false
		for _, words := range sourceWords {
			if overlapCount(words, sentence) >= 2 {
				ok = true
				break
			}
		}
		if ok {
			supported++
		} else {
			issues = append(issues, "attribution: unsupported statement: "+truncate(sentence, 80))
		}
	}
	return CheckResult{Score: float64(supported) / float64(len(sentences)), Issues: issues}
}

// Coherence checks the structural soundness of the answer: a single-
// sentence tldr, a substantive body, key points within bounds, and no
// duplicated points.
type Coherence struct{}

func (Coherence) Name() string { return "coherence" }

func (Coherence) Check(ctx context.Context, query string, answer *synthesis.Answer, bundle []synthesis.ContextItem) CheckResult {
	score := 1.0
	var issues []string

	if strings.TrimSpace(answer.TLDR) == "" {
		score -= 0.3
		issues = append(issues, "coherence: missing tldr")
	} else if len(sentenceSplitRe.FindAllString(answer.TLDR, -1)) > 1 {
		score -= 0.1
		issues = append(issues, "coherence: tldr is not a single sentence")
	}

	if len(strings.TrimSpace(answer.Body)) < 40 {
		score -= 0.3
		issues = append(issues, "coherence: body too short to be a reasoned answer")
	}

	if n := len(answer.KeyPoints); n < 3 || n > 7 {
		score -= 0.2
		issues = append(issues, fmt.Sprintf("coherence: %d key points, want 3-7", n))
	}
	seen := make(map[string]bool)
	for _, p := range answer.KeyPoints {
		norm := strings.ToLower(strings.TrimSpace(p))
		if seen[norm] {
			score -= 0.2
			issues = append(issues, "coherence: duplicated key point")
			break
		}
		seen[norm] = true
	}

	if score < 0 {
		score = 0
	}
	return CheckResult{Score: score, Issues: issues}
}

// Relevance checks that cited chunks materially relate to the query by
// vocabulary overlap; irrelevant chunks are reported individually.
type Relevance struct{}

func (Relevance) Name() string { return "relevance" }

func (Relevance) Check(ctx context.Context, query string, answer *synthesis.Answer, bundle []synthesis.ContextItem) CheckResult {
	if len(answer.Citations) == 0 {
		return CheckResult{Score: 0.2, Issues: []string{"relevance: no cited sources"}}
	}

	queryWords := contentWords(query)
	texts := make(map[string]string)
	for _, item := range bundle {
		texts[item.Result.ChunkID] = item.Result.Text
	}

	relevant := 0
	var issues []string
	for _, c := range answer.Citations {
		text, ok := texts[c.ChunkID]
		if !ok {
			issues = append(issues, "relevance: citation outside bundle: "+c.ChunkID)
			continue
		}
		if overlapCount(queryWords, text) >= 1 {
			relevant++
		} else {
			issues = append(issues, "relevance: irrelevant chunk: "+c.ChunkID)
		}
	}
	return CheckResult{Score: float64(relevant) / float64(len(answer.Citations)), Issues: issues}
}

func splitSentences(body string) []string {
	var out []string
	for _, s := range sentenceSplitRe.Split(body, -1) {
		if s = strings.TrimSpace(s); len(s) > 15 {
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back off to a rune boundary so issue strings stay valid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
