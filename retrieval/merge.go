package retrieval

import "github.com/gweta-ai/gweta/store"

// Merge combines the two ranked lists into one by interleaved reciprocal
// rank: lexical rank 1, dense rank 1, lexical rank 2, and so on, with the
// lexical side first on ties. Duplicates (same chunk ID) keep the entry
// with the higher native score and both retriever tags. Output is capped
// at 2 x max(len(lexical), len(dense)).
func Merge(lexical, dense []store.RetrievalResult) []store.RetrievalResult {
	maxLen := len(lexical)
	if len(dense) > maxLen {
		maxLen = len(dense)
	}
	capOut := 2 * maxLen

	best := make(map[string]store.RetrievalResult)
	order := make([]string, 0, len(lexical)+len(dense))

	add := func(r store.RetrievalResult) {
		prev, seen := best[r.ChunkID]
		if !seen {
			best[r.ChunkID] = r
			order = append(order, r.ChunkID)
			return
		}
		// Duplicate across retrievers: keep higher native score, merge tags.
		if r.Score > prev.Score {
			r.Retriever = prev.Retriever + "," + r.Retriever
			best[r.ChunkID] = r
		} else {
			prev.Retriever = prev.Retriever + "," + r.Retriever
			best[r.ChunkID] = prev
		}
	}

	for i := 0; i < maxLen; i++ {
		if i < len(lexical) {
			add(lexical[i])
		}
		if i < len(dense) {
			add(dense[i])
		}
	}

	out := make([]store.RetrievalResult, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
		if len(out) >= capOut {
			break
		}
	}
	return out
}
