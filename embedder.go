package gweta

import (
	"context"

	"github.com/gweta-ai/gweta/cache"
	"github.com/gweta-ai/gweta/llm"
	"github.com/gweta-ai/gweta/retrieval"
)

// cachedEmbedder fronts the embedding provider with the embedding cache
// level. Dense retrieval and the semantic cache share it, which keeps
// stored vectors comparable to lookup vectors.
type cachedEmbedder struct {
	provider llm.Provider
	cache    *cache.Cache
}

func newCachedEmbedder(provider llm.Provider, c *cache.Cache) retrieval.Embedder {
	return &cachedEmbedder{provider: provider, cache: c}
}

func (e *cachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.cache == nil || len(texts) != 1 {
		// Batch calls come from ingestion-side tooling; only single-query
		// lookups benefit from the cache.
		return e.provider.Embed(ctx, texts)
	}

	if vec, ok := e.cache.GetEmbedding(ctx, texts[0]); ok {
		return [][]float32{vec}, nil
	}
	out, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(out) == 1 && len(out[0]) > 0 {
		e.cache.SetEmbedding(ctx, texts[0], out[0])
	}
	return out, nil
}
