package synthesis

import (
	"fmt"
	"strings"
)

// extractiveSnippetChars bounds how much of each chunk the degraded
// extractive answer quotes.
const extractiveSnippetChars = 400

// extractiveMaxChunks bounds how many chunks the extractive answer uses.
const extractiveMaxChunks = 3

// Extractive composes a degraded answer directly from the highest-ranked
// chunks when no synthesis provider is reachable. Confidence is low and the
// degradation reason is surfaced as a warning.
func Extractive(query string, bundle []ContextItem, reason string) *Answer {
	if len(bundle) == 0 {
		return NoSources(query)
	}
	if len(bundle) > extractiveMaxChunks {
		bundle = bundle[:extractiveMaxChunks]
	}

	var body strings.Builder
	body.WriteString("The following passages are the most relevant sources found for this question. They are quoted directly because a full answer could not be generated.\n")
	var points []string
	var citations []Citation
	for _, item := range bundle {
		c := citationFor(item)
		citations = append(citations, c)
		points = append(points, fmt.Sprintf("%s (%s)", c.Title, c.DocType))
		fmt.Fprintf(&body, "\n%s:\n%s\n", c.Title, snippet(item.Result.Text))
	}

	return &Answer{
		TLDR:       clampTLDR(fmt.Sprintf("Relevant extracts from %s are quoted below; generated analysis was unavailable.", citations[0].Title)),
		KeyPoints:  points,
		Body:       body.String(),
		Citations:  citations,
		Confidence: 0.35,
		Source:     SourceExtractive,
		Warnings:   []string{reason},
	}
}

// NoSources composes the answer returned when retrieval found nothing
// usable.
func NoSources(query string) *Answer {
	return &Answer{
		TLDR:       "No supporting sources were found for this question in the indexed Zimbabwean legal corpus.",
		KeyPoints:  []string{"No statute, regulation, or judgment in the corpus matched the question."},
		Body: "No supporting sources were found, so an answer cannot be given with confidence. " +
			"Rephrasing the question, naming the relevant act or area of law, or asking about a more specific situation may help.",
		Confidence: 0.1,
		Source:     SourceNoSources,
		Warnings:   []string{"no_sources"},
	}
}

// Clarification is returned for empty or purely conversational input where
// retrieval is skipped entirely.
func Clarification() *Answer {
	return &Answer{
		TLDR: "Ask a question about Zimbabwean law to get started.",
		KeyPoints: []string{
			"Questions can cover statutes, the Constitution, case law, or legal procedures.",
			"Naming the act, section, or situation involved gives better answers.",
		},
		Body: "This service answers questions about Zimbabwean law, grounded in statutes, the Constitution, and court judgments. " +
			"For example: \"What is the minimum wage?\" or \"What are the rights of arrested persons?\"",
		Confidence: 1.0,
		Source:     SourceClarification,
	}
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= extractiveSnippetChars {
		return text
	}
	return text[:extractiveSnippetChars] + "..."
}
