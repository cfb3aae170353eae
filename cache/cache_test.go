package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gweta-ai/gweta/intent"
)

func testCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(rdb, "test-embed-model"), mr
}

func TestExactRoundTrip(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	_, ok := c.GetExact(ctx, "What is the minimum wage?", "citizen")
	assert.False(t, ok)

	c.SetExact(ctx, "What is the minimum wage?", "citizen", intent.ComplexitySimple, []byte(`{"answer":"x"}`))

	got, ok := c.GetExact(ctx, "what is  the MINIMUM wage?", "citizen")
	require.True(t, ok, "normalization should make case and whitespace irrelevant")
	assert.Equal(t, []byte(`{"answer":"x"}`), got)

	// Same query from a different user type is a different entry.
	_, ok = c.GetExact(ctx, "What is the minimum wage?", "professional")
	assert.False(t, ok)
}

func TestExactTTLByComplexity(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	c.SetExact(ctx, "simple q", "citizen", intent.ComplexitySimple, []byte("a"))
	c.SetExact(ctx, "expert q", "citizen", intent.ComplexityExpert, []byte("b"))

	assert.Equal(t, 2*time.Hour, mr.TTL(c.exactKey("simple q", "citizen")))
	assert.Equal(t, 15*time.Minute, mr.TTL(c.exactKey("expert q", "citizen")))

	// Expert entries age out while simple ones survive.
	mr.FastForward(20 * time.Minute)
	_, ok := c.GetExact(ctx, "simple q", "citizen")
	assert.True(t, ok)
	_, ok = c.GetExact(ctx, "expert q", "citizen")
	assert.False(t, ok)
}

func TestSemanticMatch(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	stored := []float32{1, 0, 0, 0}
	c.SetSemantic(ctx, stored, "citizen", intent.ComplexitySimple, []byte(`{"answer":"cached"}`))

	// Nearly identical direction clears the 0.95 threshold.
	near := []float32{0.99, 0.05, 0, 0}
	got, ok := c.GetSemantic(ctx, near, "citizen")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"answer":"cached"}`), []byte(got))

	// Orthogonal query misses.
	_, ok = c.GetSemantic(ctx, []float32{0, 1, 0, 0}, "citizen")
	assert.False(t, ok)

	// Different user type never sees the entry.
	_, ok = c.GetSemantic(ctx, near, "professional")
	assert.False(t, ok)
}

func TestSemanticPicksBestMatch(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	// Raw non-JSON payloads must round-trip unchanged.
	c.SetSemantic(ctx, []float32{0.97, 0.24, 0, 0}, "citizen", intent.ComplexitySimple, []byte("close"))
	c.SetSemantic(ctx, []float32{1, 0, 0, 0}, "citizen", intent.ComplexitySimple, []byte("closest"))

	got, ok := c.GetSemantic(ctx, []float32{1, 0, 0, 0}, "citizen")
	require.True(t, ok)
	assert.Equal(t, []byte("closest"), []byte(got))
}

func TestSemanticEntryTTLByComplexity(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	c.SetSemantic(ctx, []float32{1, 0, 0, 0}, "citizen", intent.ComplexityComplex, []byte("a"))
	c.SetSemantic(ctx, []float32{0, 1, 0, 0}, "citizen", intent.ComplexityExpert, []byte("b"))

	raw, err := c.rdb.LRange(ctx, c.semanticKey("citizen"), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raw, 2)

	lifetimes := map[string]time.Duration{}
	for _, item := range raw {
		var entry semanticEntry
		require.NoError(t, json.Unmarshal([]byte(item), &entry))
		lifetimes[string(entry.Payload)] = time.Duration(entry.ExpiresAt-entry.CreatedAt) * time.Second
	}
	assert.Equal(t, 30*time.Minute, lifetimes["a"], "complex lifetime")
	assert.Equal(t, 15*time.Minute, lifetimes["b"], "expert lifetime")
}

func TestSemanticExpiredEntryIsMiss(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	past := time.Now().Add(-31 * time.Minute)
	entry, err := json.Marshal(semanticEntry{
		Embedding: []float32{1, 0, 0, 0},
		Payload:   []byte("stale"),
		CreatedAt: past.Unix(),
		ExpiresAt: past.Add(30 * time.Minute).Unix(),
	})
	require.NoError(t, err)
	require.NoError(t, c.rdb.LPush(ctx, c.semanticKey("citizen"), entry).Err())

	_, ok := c.GetSemantic(ctx, []float32{1, 0, 0, 0}, "citizen")
	assert.False(t, ok, "expired entries must behave as misses")

	// A live entry alongside the stale one still hits.
	c.SetSemantic(ctx, []float32{1, 0, 0, 0}, "citizen", intent.ComplexityComplex, []byte("fresh"))
	got, ok := c.GetSemantic(ctx, []float32{1, 0, 0, 0}, "citizen")
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), got)
}

func TestIntentRoundTrip(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	cls := &intent.Classification{
		Intent:     intent.IntentStatutory,
		Complexity: intent.ComplexityModerate,
		UserType:   intent.UserTypeCitizen,
		Confidence: 0.9,
		LegalAreas: []string{"labour"},
	}
	c.SetIntent(ctx, "dismissal notice period", "citizen", cls)

	got, ok := c.GetIntent(ctx, "Dismissal NOTICE period", "citizen")
	require.True(t, ok)
	assert.Equal(t, cls.Intent, got.Intent)
	assert.Equal(t, cls.LegalAreas, got.LegalAreas)

	_, ok = c.GetIntent(ctx, "dismissal notice period", "professional")
	assert.False(t, ok)
}

func TestEmbeddingRoundTrip(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()

	vec := []float32{0.1, -0.2, 0.3}
	c.SetEmbedding(ctx, "minimum wage", vec)

	got, ok := c.GetEmbedding(ctx, "minimum wage")
	require.True(t, ok)
	assert.Equal(t, vec, got)
	assert.Equal(t, 1*time.Hour, mr.TTL(c.embeddingKey("minimum wage")))

	_, ok = c.GetEmbedding(ctx, "different text")
	assert.False(t, ok)
}

func TestRedisDownBehavesAsMiss(t *testing.T) {
	c, mr := testCache(t)
	ctx := context.Background()
	mr.Close()

	_, ok := c.GetExact(ctx, "q", "citizen")
	assert.False(t, ok)
	_, ok = c.GetSemantic(ctx, []float32{1, 0}, "citizen")
	assert.False(t, ok)
	_, ok = c.GetIntent(ctx, "q", "citizen")
	assert.False(t, ok)
	_, ok = c.GetEmbedding(ctx, "q")
	assert.False(t, ok)

	// Writes must not panic either.
	c.SetExact(ctx, "q", "citizen", intent.ComplexitySimple, []byte("a"))
	c.SetEmbedding(ctx, "q", []float32{1})
}

func TestStats(t *testing.T) {
	c, _ := testCache(t)
	ctx := context.Background()

	c.GetExact(ctx, "q", "citizen") // miss
	c.SetExact(ctx, "q", "citizen", intent.ComplexitySimple, []byte("a"))
	c.GetExact(ctx, "q", "citizen") // hit

	snap := c.Stats()
	assert.Equal(t, int64(1), snap.ExactHits)
	assert.Equal(t, int64(1), snap.ExactMisses)
	assert.InDelta(t, 0.5, snap.ExactRate, 1e-9)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}), "mismatched dims")
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}), "zero norm")
}
