package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// NormalizeText lowercases and collapses all whitespace runs to a single
// space. Applied before hashing so chunk identity survives reflows, and to
// queries before cache keying. Idempotent.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// ChunkID derives the 16-hex content hash that addresses a chunk. The same
// inputs always produce the same ID across runs and machines; ingestion and
// the query core must agree on this function.
func ChunkID(parentDocID, sectionPath string, startChar, endChar int, text string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", parentDocID, sectionPath, startChar, endChar, NormalizeText(text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
