// Package cache is the multi-level Redis cache in front of the query
// pipeline: exact answer hits, semantic near-duplicate hits, intent
// classifications, and query embeddings. Redis failures are logged and
// behave as misses; the pipeline never fails on cache errors.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/store"
)

const (
	// SimilarityThreshold is the cosine similarity above which a cached
	// query is treated as equivalent to the incoming one.
	SimilarityThreshold = 0.95

	// semanticMaxEntries caps the per-user-type semantic candidate list.
	semanticMaxEntries = 256

	intentTTL    = 2 * time.Hour
	embeddingTTL = 1 * time.Hour

	// semanticSetTTL bounds the whole candidate list; it matches the
	// longest per-entry lifetime so Redis reclaims idle lists.
	semanticSetTTL = 2 * time.Hour
)

// Cache is a four-level cache over one Redis connection. All methods are
// safe for concurrent use.
type Cache struct {
	rdb    *redis.Client
	prefix string
	model  string // embedding model, namespaces the embedding level
	stats  Stats
}

// New creates a cache. model namespaces embedding keys so a model change
// never serves stale vectors.
func New(rdb *redis.Client, model string) *Cache {
	return &Cache{rdb: rdb, prefix: "gweta", model: model}
}

// complexityTTL maps answer complexity to exact-cache lifetime. More
// complex answers age out faster.
func complexityTTL(complexity string) time.Duration {
	switch complexity {
	case intent.ComplexitySimple:
		return 2 * time.Hour
	case intent.ComplexityComplex:
		return 30 * time.Minute
	case intent.ComplexityExpert:
		return 15 * time.Minute
	default:
		return 1 * time.Hour
	}
}

func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) exactKey(query, userType string) string {
	return fmt.Sprintf("%s:exact:%s", c.prefix, md5hex(store.NormalizeText(query)+"||"+userType))
}

func (c *Cache) semanticKey(userType string) string {
	return fmt.Sprintf("%s:sem:%s", c.prefix, userType)
}

func (c *Cache) intentKey(query, userType string) string {
	return fmt.Sprintf("%s:intent:%s:%s", c.prefix, userType, md5hex(store.NormalizeText(query)))
}

func (c *Cache) embeddingKey(text string) string {
	return fmt.Sprintf("%s:emb:%s:%s", c.prefix, c.model, md5hex(text))
}

// GetExact returns the cached answer payload for an identical normalized
// query from the same user type.
func (c *Cache) GetExact(ctx context.Context, query, userType string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, c.exactKey(query, userType)).Bytes()
	if err == redis.Nil {
		c.stats.miss(&c.stats.Exact)
		return nil, false
	}
	if err != nil {
		slog.Warn("cache: exact get failed", "error", err)
		c.stats.miss(&c.stats.Exact)
		return nil, false
	}
	c.stats.hit(&c.stats.Exact)
	return val, true
}

// SetExact stores an answer payload with a complexity-adaptive TTL.
func (c *Cache) SetExact(ctx context.Context, query, userType, complexity string, payload []byte) {
	if err := c.rdb.Set(ctx, c.exactKey(query, userType), payload, complexityTTL(complexity)).Err(); err != nil {
		slog.Warn("cache: exact set failed", "error", err)
	}
}

// semanticEntry is one stored (embedding, payload) pair in the per-user-type
// candidate list. Payload is []byte so any answer encoding round-trips.
// Each entry carries its own lifetime; Redis only expires the whole list.
type semanticEntry struct {
	Embedding []float32 `json:"embedding"`
	Payload   []byte    `json:"payload"`
	CreatedAt int64     `json:"created_at"`
	ExpiresAt int64     `json:"expires_at"`
}

func (e *semanticEntry) expired(now time.Time) bool {
	return e.ExpiresAt > 0 && now.Unix() >= e.ExpiresAt
}

// GetSemantic scans the user type's candidate list for a stored query
// whose embedding is cosine-similar above SimilarityThreshold, returning
// the best unexpired match. Expired entries behave as misses.
func (c *Cache) GetSemantic(ctx context.Context, embedding []float32, userType string) ([]byte, bool) {
	raw, err := c.rdb.LRange(ctx, c.semanticKey(userType), 0, semanticMaxEntries-1).Result()
	if err != nil && err != redis.Nil {
		slog.Warn("cache: semantic scan failed", "error", err)
		c.stats.miss(&c.stats.Semantic)
		return nil, false
	}

	now := time.Now()
	best := -1.0
	var payload []byte
	for _, item := range raw {
		var entry semanticEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			continue
		}
		if entry.expired(now) {
			continue
		}
		if sim := Cosine(embedding, entry.Embedding); sim >= SimilarityThreshold && sim > best {
			best = sim
			payload = entry.Payload
		}
	}
	if payload == nil {
		c.stats.miss(&c.stats.Semantic)
		return nil, false
	}
	c.stats.hit(&c.stats.Semantic)
	return payload, true
}

// SetSemantic pushes a (embedding, payload) entry onto the user type's
// candidate list, trimming it to semanticMaxEntries. The entry's lifetime
// follows the same complexity TTL as the exact level.
func (c *Cache) SetSemantic(ctx context.Context, embedding []float32, userType, complexity string, payload []byte) {
	now := time.Now()
	entry, err := json.Marshal(semanticEntry{
		Embedding: embedding,
		Payload:   payload,
		CreatedAt: now.Unix(),
		ExpiresAt: now.Add(complexityTTL(complexity)).Unix(),
	})
	if err != nil {
		slog.Warn("cache: semantic marshal failed", "error", err)
		return
	}
	key := c.semanticKey(userType)
	pipe := c.rdb.Pipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, semanticMaxEntries-1)
	pipe.Expire(ctx, key, semanticSetTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("cache: semantic set failed", "error", err)
	}
}

// GetIntent implements intent.Cache.
func (c *Cache) GetIntent(ctx context.Context, query, userType string) (*intent.Classification, bool) {
	val, err := c.rdb.Get(ctx, c.intentKey(query, userType)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache: intent get failed", "error", err)
		}
		c.stats.miss(&c.stats.Intent)
		return nil, false
	}
	var cls intent.Classification
	if err := json.Unmarshal(val, &cls); err != nil {
		c.stats.miss(&c.stats.Intent)
		return nil, false
	}
	c.stats.hit(&c.stats.Intent)
	return &cls, true
}

// SetIntent implements intent.Cache.
func (c *Cache) SetIntent(ctx context.Context, query, userType string, cls *intent.Classification) {
	payload, err := json.Marshal(cls)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.intentKey(query, userType), payload, intentTTL).Err(); err != nil {
		slog.Warn("cache: intent set failed", "error", err)
	}
}

// GetEmbedding returns a cached query embedding, keyed by exact text under
// the configured model namespace.
func (c *Cache) GetEmbedding(ctx context.Context, text string) ([]float32, bool) {
	val, err := c.rdb.Get(ctx, c.embeddingKey(text)).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("cache: embedding get failed", "error", err)
		}
		c.stats.miss(&c.stats.Embedding)
		return nil, false
	}
	vec := store.DeserializeFloat32(val)
	if len(vec) == 0 {
		c.stats.miss(&c.stats.Embedding)
		return nil, false
	}
	c.stats.hit(&c.stats.Embedding)
	return vec, true
}

// SetEmbedding stores a query embedding.
func (c *Cache) SetEmbedding(ctx context.Context, text string, vec []float32) {
	if err := c.rdb.Set(ctx, c.embeddingKey(text), store.SerializeFloat32(vec), embeddingTTL).Err(); err != nil {
		slog.Warn("cache: embedding set failed", "error", err)
	}
}

// Cosine computes cosine similarity between two vectors; mismatched or
// zero-norm inputs score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
