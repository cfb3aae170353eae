package cache

import "sync/atomic"

// LevelStats counts hits and misses for one cache level.
type LevelStats struct {
	Hits   atomic.Int64
	Misses atomic.Int64
}

// HitRate is hits / lookups, 0 when no lookups were made.
func (l *LevelStats) HitRate() float64 {
	h, m := l.Hits.Load(), l.Misses.Load()
	if h+m == 0 {
		return 0
	}
	return float64(h) / float64(h+m)
}

// Stats aggregates per-level counters.
type Stats struct {
	Exact     LevelStats
	Semantic  LevelStats
	Intent    LevelStats
	Embedding LevelStats
}

func (s *Stats) hit(l *LevelStats)  { l.Hits.Add(1) }
func (s *Stats) miss(l *LevelStats) { l.Misses.Add(1) }

// StatsSnapshot is a point-in-time copy safe to serialize.
type StatsSnapshot struct {
	ExactHits       int64   `json:"exact_hits"`
	ExactMisses     int64   `json:"exact_misses"`
	ExactRate       float64 `json:"exact_hit_rate"`
	SemanticHits    int64   `json:"semantic_hits"`
	SemanticMisses  int64   `json:"semantic_misses"`
	SemanticRate    float64 `json:"semantic_hit_rate"`
	IntentHits      int64   `json:"intent_hits"`
	IntentMisses    int64   `json:"intent_misses"`
	IntentRate      float64 `json:"intent_hit_rate"`
	EmbeddingHits   int64   `json:"embedding_hits"`
	EmbeddingMisses int64   `json:"embedding_misses"`
	EmbeddingRate   float64 `json:"embedding_hit_rate"`

	// HitRate is (exact + semantic hits) / all response-level lookups.
	HitRate float64 `json:"hit_rate"`
}

// Stats returns a snapshot of the current counters.
func (c *Cache) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		ExactHits:       c.stats.Exact.Hits.Load(),
		ExactMisses:     c.stats.Exact.Misses.Load(),
		ExactRate:       c.stats.Exact.HitRate(),
		SemanticHits:    c.stats.Semantic.Hits.Load(),
		SemanticMisses:  c.stats.Semantic.Misses.Load(),
		SemanticRate:    c.stats.Semantic.HitRate(),
		IntentHits:      c.stats.Intent.Hits.Load(),
		IntentMisses:    c.stats.Intent.Misses.Load(),
		IntentRate:      c.stats.Intent.HitRate(),
		EmbeddingHits:   c.stats.Embedding.Hits.Load(),
		EmbeddingMisses: c.stats.Embedding.Misses.Load(),
		EmbeddingRate:   c.stats.Embedding.HitRate(),
	}
	if total := snap.ExactHits + snap.ExactMisses + snap.SemanticHits + snap.SemanticMisses; total > 0 {
		snap.HitRate = float64(snap.ExactHits+snap.SemanticHits) / float64(total)
	}
	return snap
}
