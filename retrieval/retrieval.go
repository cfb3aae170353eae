// Package retrieval implements the hybrid first-stage retrievers: lexical
// search over the FTS5 index and dense search over the sqlite-vec index,
// invoked concurrently and merged by reciprocal rank.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gweta-ai/gweta/store"
)

// ErrUnavailable is returned when a retriever fails on transport or backend
// error. The merge step tolerates one side failing.
var ErrUnavailable = errors.New("retrieval: retriever unavailable")

// Retriever returns ranked candidate chunks for a query, sorted by the
// retriever's native score descending.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, query string, topK int) ([]store.RetrievalResult, error)
}

// Embedder produces dense vectors for texts. Satisfied by llm.Provider and
// by the cache-backed embedder; the dense retriever and the semantic cache
// must share one so stored vectors stay comparable.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Lexical is the BM25 retriever over the FTS5 chunk index.
type Lexical struct {
	store *store.Store
}

// NewLexical creates the lexical retriever.
func NewLexical(s *store.Store) *Lexical {
	return &Lexical{store: s}
}

func (l *Lexical) Name() string { return "lexical" }

func (l *Lexical) Retrieve(ctx context.Context, query string, topK int) ([]store.RetrievalResult, error) {
	results, err := l.store.FTSSearch(ctx, sanitizeFTSQuery(query), topK)
	if err != nil {
		return nil, fmt.Errorf("%w: fts: %v", ErrUnavailable, err)
	}
	return tagAndCap(results, "lexical"), nil
}

// Dense is the embedding-similarity retriever over the sqlite-vec index.
type Dense struct {
	store    *store.Store
	embedder Embedder
}

// NewDense creates the dense retriever.
func NewDense(s *store.Store, embedder Embedder) *Dense {
	return &Dense{store: s, embedder: embedder}
}

func (d *Dense) Name() string { return "dense" }

func (d *Dense) Retrieve(ctx context.Context, query string, topK int) ([]store.RetrievalResult, error) {
	embeddings, err := d.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %v", ErrUnavailable, err)
	}
	if len(embeddings) == 0 || len(embeddings[0]) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrUnavailable)
	}

	results, err := d.store.VectorSearch(ctx, embeddings[0], topK)
	if err != nil {
		return nil, fmt.Errorf("%w: vector: %v", ErrUnavailable, err)
	}
	return tagAndCap(results, "dense"), nil
}

// tagAndCap records the retriever name and enforces the corpus
// content-length cap on returned chunk text.
func tagAndCap(results []store.RetrievalResult, name string) []store.RetrievalResult {
	for i := range results {
		results[i].Retriever = name
		results[i].Text = cutAtRune(results[i].Text, store.MaxChunkTextChars)
	}
	return results
}

// Hybrid runs the lexical and dense retrievers concurrently with
// independent top-k and reports per-side failures.
type Hybrid struct {
	Lexical Retriever
	Dense   Retriever
}

// SearchResult carries both ranked lists plus warnings for degraded sides.
type SearchResult struct {
	LexicalResults []store.RetrievalResult
	DenseResults   []store.RetrievalResult
	Warnings       []string
}

// Search fans out to both retrievers. It fails with ErrUnavailable only
// when neither side produced a result; a single-sided failure is recorded
// as a warning and the pipeline continues.
func (h *Hybrid) Search(ctx context.Context, query string, topK int) (*SearchResult, error) {
	type side struct {
		name    string
		results []store.RetrievalResult
		err     error
	}

	start := time.Now()
	lexCh := make(chan side, 1)
	denCh := make(chan side, 1)

	go func() {
		r, err := h.Lexical.Retrieve(ctx, query, topK)
		lexCh <- side{h.Lexical.Name(), r, err}
	}()
	go func() {
		r, err := h.Dense.Retrieve(ctx, query, topK)
		denCh <- side{h.Dense.Name(), r, err}
	}()

	lex := <-lexCh
	den := <-denCh

	out := &SearchResult{LexicalResults: lex.results, DenseResults: den.results}
	for _, s := range []side{lex, den} {
		if s.err != nil {
			slog.Warn("retrieval: retriever failed", "retriever", s.name, "error", s.err)
			out.Warnings = append(out.Warnings, "retriever_failed:"+s.name)
		}
	}

	if len(lex.results) == 0 && len(den.results) == 0 && (lex.err != nil || den.err != nil) {
		if lex.err != nil {
			return nil, lex.err
		}
		return nil, den.err
	}

	slog.Debug("retrieval: hybrid search complete",
		"lexical", len(lex.results), "dense", len(den.results),
		"top_k", topK, "elapsed", time.Since(start).Round(time.Millisecond))
	return out, nil
}
