// Package gweta is a legal question-answering core for Zimbabwean law:
// agentic retrieval over a statute and case-law corpus, cross-encoder
// reranking, grounded synthesis with citation discipline, quality gating
// with bounded self-correction, multi-level caching, and conversation
// memory.
package gweta

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/gweta-ai/gweta/agent"
	"github.com/gweta-ai/gweta/cache"
	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/llm"
	"github.com/gweta-ai/gweta/memory"
	"github.com/gweta-ai/gweta/quality"
	"github.com/gweta-ai/gweta/rerank"
	"github.com/gweta-ai/gweta/retrieval"
	"github.com/gweta-ai/gweta/rewrite"
	"github.com/gweta-ai/gweta/store"
	"github.com/gweta-ai/gweta/synthesis"
)

// Engine is the main entry point for the query core.
type Engine interface {
	// RunQuery answers one query, blocking until the final response.
	RunQuery(ctx context.Context, req agent.Request) (*agent.Response, error)

	// StreamQuery answers one query as a typed event stream; the channel
	// closes after the final or error event.
	StreamQuery(ctx context.Context, req agent.Request) <-chan agent.Event

	// Store returns the underlying store for corpus loading and
	// diagnostic access.
	Store() *store.Store

	// CacheStats reports cache hit counters; zero value when caching is
	// disabled.
	CacheStats() cache.StatsSnapshot

	// Close cleanly shuts down the engine.
	Close() error
}

// Config wires the engine. LLM drives classification, rewriting, and
// synthesis; Embedding drives dense retrieval and the semantic cache and
// namespaces cached vectors; Rerank points at the cross-encoder service.
type Config struct {
	DBPath       string
	EmbeddingDim int

	LLM       llm.Config
	Embedding llm.Config
	Rerank    llm.Config

	// RedisAddr enables the response cache and short-term memory when
	// CacheEnabled is set.
	RedisAddr    string
	CacheEnabled bool

	Runtime agent.Config
}

// DefaultConfig returns production defaults. Provider credentials must
// still be filled in by the caller.
func DefaultConfig() Config {
	return Config{
		DBPath:       "gweta.db",
		EmbeddingDim: 768,
		RedisAddr:    "localhost:6379",
		CacheEnabled: true,
		Runtime:      agent.DefaultConfig(),
	}
}

type engine struct {
	runtime *agent.Runtime
	store   *store.Store
	cache   *cache.Cache
	rdb     *redis.Client
}

// New creates an engine from configuration.
func New(cfg Config) (Engine, error) {
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("gweta: embedding dimension must be positive, got %d", cfg.EmbeddingDim)
	}

	st, err := store.New(cfg.DBPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("gweta: opening store: %w", err)
	}

	chat, err := llm.NewProvider(cfg.LLM)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("gweta: chat provider: %w", err)
	}
	embedProvider, err := llm.NewProvider(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("gweta: embedding provider: %w", err)
	}

	e := &engine{store: st}

	var coordinator *memory.Coordinator
	if cfg.CacheEnabled && cfg.RedisAddr != "" {
		e.rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 20})
		e.cache = cache.New(e.rdb, cfg.Embedding.Model)
		coordinator = memory.NewCoordinator(memory.NewShortTerm(e.rdb), memory.NewLongTerm(st))
		slog.Info("gweta: cache and memory enabled", "redis", cfg.RedisAddr)
	} else {
		coordinator = memory.NewCoordinator(nil, memory.NewLongTerm(st))
		slog.Info("gweta: running without redis; long-term memory only")
	}

	embedder := newCachedEmbedder(embedProvider, e.cache)

	e.runtime = agent.NewRuntime(agent.Deps{
		Classifier:  intent.New(chat, e.intentCache()),
		Rewriter:    rewrite.New(chat),
		Hybrid:      &retrieval.Hybrid{Lexical: retrieval.NewLexical(st), Dense: retrieval.NewDense(st, embedder)},
		Reranker:    rerank.New(llm.NewCrossEncoder(cfg.Rerank)),
		Parents:     st,
		Synthesizer: synthesis.New(chat),
		Critic:      synthesis.NewCritic(chat),
		Gate:        quality.NewGate(),
		Embedder:    embedder,
		Cache:       e.cache,
		Memory:      coordinator,
		Log:         st,
	}, cfg.Runtime)

	return e, nil
}

// intentCache returns the cache as an intent.Cache, or nil when caching is
// disabled. A typed nil inside a non-nil interface would defeat the nil
// checks downstream.
func (e *engine) intentCache() intent.Cache {
	if e.cache == nil {
		return nil
	}
	return e.cache
}

func (e *engine) RunQuery(ctx context.Context, req agent.Request) (*agent.Response, error) {
	return e.runtime.RunQuery(ctx, req)
}

func (e *engine) StreamQuery(ctx context.Context, req agent.Request) <-chan agent.Event {
	return e.runtime.StreamQuery(ctx, req)
}

func (e *engine) Store() *store.Store { return e.store }

func (e *engine) CacheStats() cache.StatsSnapshot {
	if e.cache == nil {
		return cache.StatsSnapshot{}
	}
	return e.cache.Stats()
}

func (e *engine) Close() error {
	var firstErr error
	if e.rdb != nil {
		if err := e.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if err := e.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
