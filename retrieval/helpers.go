package retrieval

import (
	"strings"
	"unicode/utf8"
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "was": true,
	"what": true, "when": true, "where": true, "which": true, "who": true,
	"how": true, "why": true, "can": true, "does": true, "did": true,
	"has": true, "have": true, "had": true, "with": true, "this": true,
	"that": true, "from": true, "into": true, "under": true, "about": true,
	"not": true, "its": true, "their": true, "there": true, "than": true,
	"any": true, "all": true,
}

func isStopWord(w string) bool {
	return stopWords[w]
}

// cutAtRune shortens s to at most max bytes without splitting a rune.
func cutAtRune(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

// sanitizeFTSQuery escapes special FTS5 syntax characters and builds a
// broadened OR query: the full phrase plus individual significant terms.
func sanitizeFTSQuery(query string) string {
	replacer := strings.NewReplacer(
		"\"", "", "*", "", "(", "", ")", "",
		"+", "", "-", "", "^", "", ":", "",
		"?", "", "[", "", "]", "", "{", "",
		"}", "", "!", "", ".", "", ",", "",
		";", "",
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return query
	}

	var parts []string
	if len(words) > 1 {
		parts = append(parts, "\""+strings.Join(words, " ")+"\"")
	}
	for _, w := range words {
		if len(w) > 2 && !isStopWord(strings.ToLower(w)) {
			parts = append(parts, w)
		}
	}

	if len(parts) == 0 {
		return strings.Join(words, " OR ")
	}
	return strings.Join(parts, " OR ")
}
