package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gweta-ai/gweta/cache"
	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/llm"
	"github.com/gweta-ai/gweta/memory"
	"github.com/gweta-ai/gweta/quality"
	"github.com/gweta-ai/gweta/rerank"
	"github.com/gweta-ai/gweta/retrieval"
	"github.com/gweta-ai/gweta/store"
	"github.com/gweta-ai/gweta/synthesis"
)

// Error kinds surfaced on the error terminal.
var (
	ErrInputInvalid   = errors.New("agent: invalid input")
	ErrRetrieversDown = errors.New("agent: all retrievers unavailable")
	ErrRequestAborted = errors.New("agent: request aborted")
)

// maxQueryChars caps raw input before any processing runs.
const maxQueryChars = 4000

// Classifier labels a query. Satisfied by *intent.Classifier.
type Classifier interface {
	Classify(ctx context.Context, query string, profile *store.UserProfile) *intent.Classification
}

// Rewriter resolves conversational references. Satisfied by
// *rewrite.Rewriter.
type Rewriter interface {
	Rewrite(ctx context.Context, query string, history []llm.Message) (string, bool)
}

// Reranker re-scores candidates. Satisfied by *rerank.Reranker.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []store.RetrievalResult, topK int) (*rerank.Result, error)
}

// Synthesizer generates grounded drafts. Satisfied by
// *synthesis.Synthesizer.
type Synthesizer interface {
	Synthesize(ctx context.Context, req synthesis.Request) (*synthesis.Answer, error)
}

// Critic produces refinement instructions. Satisfied by *synthesis.Critic.
type Critic interface {
	Critique(ctx context.Context, query string, draft *synthesis.Answer, issues []string) *synthesis.Critique
}

// ParentFetcher resolves parent documents. Satisfied by *store.Store.
type ParentFetcher interface {
	GetParent(ctx context.Context, parentDocID string) (*store.ParentDocument, error)
}

// QueryLogger records answered queries. Satisfied by *store.Store.
type QueryLogger interface {
	LogQuery(ctx context.Context, q store.QueryLog) error
}

// Deps are the runtime's collaborators. Cache, Memory, and Log may be nil;
// the corresponding stages are skipped.
type Deps struct {
	Classifier  Classifier
	Rewriter    Rewriter
	Hybrid      *retrieval.Hybrid
	Reranker    Reranker
	Parents     ParentFetcher
	Synthesizer Synthesizer
	Critic      Critic
	Gate        *quality.Gate
	Embedder    retrieval.Embedder
	Cache       *cache.Cache
	Memory      *memory.Coordinator
	Log         QueryLogger
}

// Runtime drives the query pipeline.
type Runtime struct {
	cfg  Config
	deps Deps
}

// NewRuntime creates a runtime over its collaborators.
func NewRuntime(deps Deps, cfg Config) *Runtime {
	return &Runtime{cfg: cfg.withDefaults(), deps: deps}
}

// RunQuery executes the pipeline and returns the final response. Events
// are discarded; use StreamQuery for the event stream.
func (r *Runtime) RunQuery(ctx context.Context, req Request) (*Response, error) {
	return r.execute(ctx, req, func(Event) {})
}

// StreamQuery executes the pipeline, delivering events on the returned
// channel. The channel closes after the final (or error) event. Closing
// ctx cancels in-flight work.
func (r *Runtime) StreamQuery(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 16)
	go func() {
		defer close(events)
		emit := func(e Event) {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}
		r.execute(ctx, req, emit)
	}()
	return events
}

func (r *Runtime) execute(ctx context.Context, req Request, emit func(Event)) (*Response, error) {
	start := time.Now()
	st := &State{
		RawQuery:  strings.TrimSpace(req.Text),
		SessionID: req.SessionID,
		UserID:    req.UserID,
		RequestID: uuid.NewString(),
		TraceID:   uuid.NewString(),
	}
	log := slog.With("request_id", st.RequestID, "trace_id", st.TraceID)

	if len(st.RawQuery) > maxQueryChars {
		err := fmt.Errorf("%w: query length %d exceeds %d", ErrInputInvalid, len(st.RawQuery), maxQueryChars)
		// The stream always opens with meta, even on the failure path.
		emit(metaEvent(st))
		emit(errorEvent(st, "InputInvalid", err))
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestDeadline)
	defer cancel()

	// memory_fetch: both tiers in parallel; failures yield empty context.
	st.MemoryContext = &memory.Context{}
	if r.deps.Memory != nil {
		st.MemoryContext = r.deps.Memory.Fetch(ctx, st.SessionID, st.UserID, r.cfg.MemoryTokenBudget)
	}

	// intent_classify.
	nodeStart := time.Now()
	st.Classification = r.deps.Classifier.Classify(ctx, st.RawQuery, st.MemoryContext.Profile)
	r.trace(st, "intent_classify", st.Classification.Intent, nodeStart, nil)
	emit(metaEvent(st))
	log.Info("agent: query classified",
		"intent", st.Classification.Intent, "complexity", st.Classification.Complexity,
		"user_type", st.Classification.UserType, "retrieval_top_k", st.Classification.RetrievalTopK)

	// Conversational and empty queries skip retrieval entirely.
	if st.RawQuery == "" || st.Classification.Intent == intent.IntentConversational {
		st.Synthesis = synthesis.Clarification()
		return r.composeFinal(ctx, st, emit, start, false)
	}

	// query_rewrite.
	nodeStart = time.Now()
	if rewritten, applied := r.deps.Rewriter.Rewrite(ctx, st.RawQuery, st.MemoryContext.History); applied {
		st.RewrittenQuery = rewritten
		r.trace(st, "query_rewrite", "applied", nodeStart, nil)
		log.Debug("agent: query rewritten")
	}
	query := st.effectiveQuery()

	// cache_lookup: exact, then semantic.
	var queryEmbedding []float32
	if r.deps.Cache != nil {
		if payload, ok := r.deps.Cache.GetExact(ctx, query, st.Classification.UserType); ok {
			if resp := r.cachedResponse(st, payload, synthesis.SourceCacheExact, start); resp != nil {
				emit(Event{Type: EventFinal, Final: resp})
				log.Info("agent: exact cache hit")
				return resp, nil
			}
		}
		queryEmbedding = r.queryEmbedding(ctx, query)
		if queryEmbedding != nil {
			if payload, ok := r.deps.Cache.GetSemantic(ctx, queryEmbedding, st.Classification.UserType); ok {
				if resp := r.cachedResponse(st, payload, synthesis.SourceCacheSemantic, start); resp != nil {
					emit(Event{Type: EventFinal, Final: resp})
					log.Info("agent: semantic cache hit")
					return resp, nil
				}
			}
		}
	}

	// retrieve_parallel + merge.
	nodeStart = time.Now()
	rctx, rcancel := context.WithTimeout(ctx, r.cfg.RetrievalTimeout)
	searched, err := r.deps.Hybrid.Search(rctx, query, st.Classification.RetrievalTopK)
	rcancel()
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrRetrieversDown, err)
		emit(errorEvent(st, "RetrieverUnavailable", err))
		log.Error("agent: retrieval failed on both sides", "error", err)
		return nil, err
	}
	st.Warnings = append(st.Warnings, searched.Warnings...)
	st.CombinedResults = retrieval.Merge(searched.LexicalResults, searched.DenseResults)
	r.trace(st, "retrieve", fmt.Sprintf("%d candidates", len(st.CombinedResults)), nodeStart, searched.Warnings)
	emit(retrievalEvent("retrieve", len(st.CombinedResults), searched.Warnings))

	// Zero candidates: skip rerank, answer low-confidence without sources.
	if len(st.CombinedResults) == 0 {
		st.Synthesis = synthesis.NoSources(query)
		return r.composeFinal(ctx, st, emit, start, false)
	}

	r.synthesisLoop(ctx, st, query, emit, log)
	if ctx.Err() != nil && st.Synthesis == nil {
		err := fmt.Errorf("%w: %v", ErrRequestAborted, ctx.Err())
		emit(errorEvent(st, "RequestAborted", err))
		return nil, err
	}
	return r.composeFinal(ctx, st, emit, start, queryEmbedding != nil)
}

// synthesisLoop runs rerank → parent_expand → synthesize → quality_gate
// with the two back-edges: refine_synthesis re-drafts over the same
// bundle, retrieve_more widens the candidate set and loops back to rerank.
func (r *Runtime) synthesisLoop(ctx context.Context, st *State, query string, emit func(Event), log *slog.Logger) {
	candidates := st.CombinedResults
	needRerank := true

	for {
		if needRerank {
			needRerank = false
			rerankStart := time.Now()
			rkctx, rkcancel := context.WithTimeout(ctx, r.cfg.RerankTimeout)
			ranked, err := r.deps.Reranker.Rerank(rkctx, query, candidates, st.Classification.RerankTopK)
			rkcancel()
			if err != nil {
				// Reranker contract degrades internally; an error here means
				// even the fallback could not run.
				st.Warnings = append(st.Warnings, "rerank_failed")
				ranked = &rerank.Result{Results: candidates, Method: "none"}
			}
			st.RerankedResults = ranked.Results
			st.RerankMethod = ranked.Method
			r.trace(st, "rerank", ranked.Method, rerankStart, nil)
			emit(retrievalEvent("rerank", len(st.RerankedResults), nil))

			st.BundledContext = r.expandParents(ctx, st.RerankedResults)
		}

		synthStart := time.Now()
		sctx, scancel := context.WithTimeout(ctx, r.cfg.SynthesisTimeout)
		answer, err := r.deps.Synthesizer.Synthesize(sctx, synthesis.Request{
			Query:          query,
			Classification: st.Classification,
			Context:        st.BundledContext,
			ProfileSummary: st.MemoryContext.ProfileSummary,
			Instructions:   st.Instructions,
		})
		scancel()
		if err != nil {
			if ctx.Err() != nil {
				// Request deadline or caller cancellation, not a provider
				// failure; the caller gets the abort terminal.
				return
			}
			log.Warn("agent: synthesis failed, composing extractive answer", "error", err)
			st.Synthesis = synthesis.Extractive(query, st.BundledContext, "llm_unavailable")
			st.Warnings = append(st.Warnings, st.Synthesis.Warnings...)
			return
		}
		st.Synthesis = answer
		r.trace(st, "synthesize", answer.Source, synthStart, nil)

		gateStart := time.Now()
		qctx, qcancel := context.WithTimeout(ctx, r.cfg.QualityTimeout)
		st.QualityReport = r.deps.Gate.Evaluate(qctx, query, answer, st.BundledContext)
		qcancel()
		st.QualityPassed = st.QualityReport.Passed
		st.QualityConfidence = st.QualityReport.Confidence
		st.QualityIssues = st.QualityReport.Issues

		decision := quality.Decide(st.QualityReport, answer, st.RefinementIteration, st.Classification.Complexity)
		r.trace(st, "quality_gate", decision, gateStart, st.QualityReport.Issues)
		log.Info("agent: quality gate decided",
			"decision", decision, "confidence", st.QualityConfidence,
			"iteration", st.RefinementIteration)

		switch decision {
		case quality.DecisionPass:
			return

		case quality.DecisionFail:
			st.Warnings = append(st.Warnings, "quality_below_threshold")
			return

		case quality.DecisionRefine:
			st.RefinementIteration++
			critique := r.deps.Critic.Critique(ctx, query, answer, st.QualityReport.Issues)
			st.Instructions = append(critique.RefinementInstructions, critique.PriorityFixes...)

		case quality.DecisionRetrieveMore:
			st.RefinementIteration++
			exclude := make(map[string]bool, len(st.BundledContext))
			for _, item := range st.BundledContext {
				exclude[item.Result.ChunkID] = true
			}
			fresh, err := retrieval.GapSearch(ctx, r.deps.Hybrid, query, st.QualityReport.Issues,
				st.Classification.RetrievalTopK, exclude)
			if err != nil {
				log.Warn("agent: gap retrieval failed, refining instead", "error", err)
				critique := r.deps.Critic.Critique(ctx, query, answer, st.QualityReport.Issues)
				st.Instructions = append(critique.RefinementInstructions, critique.PriorityFixes...)
				continue
			}
			emit(retrievalEvent("gap_retrieve", len(fresh), nil))
			candidates = appendUnique(candidates, fresh)
			needRerank = true
		}
	}
}

// trace appends a node record when tracing is enabled.
func (r *Runtime) trace(st *State, node, action string, start time.Time, issues []string) {
	if !r.cfg.TraceEnabled {
		return
	}
	st.Trace = append(st.Trace, TraceStep{
		Node:      node,
		Action:    action,
		ElapsedMs: time.Since(start).Milliseconds(),
		Issues:    issues,
	})
}

// expandParents attaches parent documents to selected chunks with bounded
// parallelism and a per-fetch timeout. A missing parent keeps the chunk
// with Parent nil.
func (r *Runtime) expandParents(ctx context.Context, selected []store.RetrievalResult) []synthesis.ContextItem {
	items := make([]synthesis.ContextItem, len(selected))
	sem := make(chan struct{}, r.cfg.ParentFetchConcurrency)
	done := make(chan struct{})

	for i, res := range selected {
		go func(i int, res store.RetrievalResult) {
			defer func() { done <- struct{}{} }()
			sem <- struct{}{}
			defer func() { <-sem }()

			items[i].Result = res
			fctx, fcancel := context.WithTimeout(ctx, r.cfg.ParentExpandTimeout)
			defer fcancel()
			parent, err := r.deps.Parents.GetParent(fctx, res.ParentDocID)
			if err != nil {
				if !errors.Is(err, store.ErrParentNotFound) {
					slog.Warn("agent: parent fetch failed", "parent_doc_id", res.ParentDocID, "error", err)
				}
				return
			}
			items[i].Parent = parent
		}(i, res)
	}
	for range selected {
		<-done
	}
	return items
}

// queryEmbedding returns the query vector for semantic cache lookup,
// consulting the embedding cache first.
func (r *Runtime) queryEmbedding(ctx context.Context, query string) []float32 {
	if r.deps.Embedder == nil {
		return nil
	}
	if vec, ok := r.deps.Cache.GetEmbedding(ctx, query); ok {
		return vec
	}
	vecs, err := r.deps.Embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 || len(vecs[0]) == 0 {
		if err != nil {
			slog.Warn("agent: query embedding failed, skipping semantic cache", "error", err)
		}
		return nil
	}
	r.deps.Cache.SetEmbedding(ctx, query, vecs[0])
	return vecs[0]
}

// cachedResponse rebuilds a response from a cached answer payload. A
// corrupt payload behaves as a miss.
func (r *Runtime) cachedResponse(st *State, payload []byte, source string, start time.Time) *Response {
	var answer synthesis.Answer
	if err := json.Unmarshal(payload, &answer); err != nil {
		slog.Warn("agent: corrupt cache payload, treating as miss", "error", err)
		return nil
	}
	return &Response{
		TLDR:             answer.TLDR,
		KeyPoints:        answer.KeyPoints,
		Body:             answer.Body,
		Citations:        answer.Citations,
		Confidence:       answer.Confidence,
		Source:           source,
		RequestID:        st.RequestID,
		TraceID:          st.TraceID,
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		Tokens:           answer.Tokens,
	}
}

// composeFinal emits tokens, citations, and the final event, then performs
// the post-answer writes (cache_store, memory_update, query log).
func (r *Runtime) composeFinal(ctx context.Context, st *State, emit func(Event), start time.Time, embeddable bool) (*Response, error) {
	answer := st.Synthesis
	resp := &Response{
		TLDR:              answer.TLDR,
		KeyPoints:         answer.KeyPoints,
		Body:              answer.Body,
		Citations:         answer.Citations,
		Confidence:        answer.Confidence,
		QualityConfidence: st.QualityConfidence,
		Source:            answer.Source,
		RequestID:         st.RequestID,
		TraceID:           st.TraceID,
		Tokens:            answer.Tokens,
		Warnings:          dedupeStrings(append(st.Warnings, answer.Warnings...)),
		Trace:             st.Trace,
	}

	for _, token := range tokenize(answer.Body, r.cfg.StreamTokenChunk) {
		emit(Event{Type: EventToken, Token: token})
	}
	for i := range answer.Citations {
		emit(Event{Type: EventCitation, Citation: &answer.Citations[i]})
	}
	resp.ProcessingTimeMS = time.Since(start).Milliseconds()
	emit(Event{Type: EventFinal, Final: resp})

	r.afterAnswer(ctx, st, answer, resp, embeddable)
	return resp, nil
}

// afterAnswer stores the answer in the caches, folds the exchange into
// memory, and logs the query. All best-effort.
func (r *Runtime) afterAnswer(ctx context.Context, st *State, answer *synthesis.Answer, resp *Response, embeddable bool) {
	query := st.effectiveQuery()

	// Only grounded, gate-passing answers are worth replaying to others.
	if r.deps.Cache != nil && answer.Source == synthesis.SourceSynthesis && st.QualityPassed {
		if payload, err := json.Marshal(answer); err == nil {
			r.deps.Cache.SetExact(ctx, query, st.Classification.UserType, st.Classification.Complexity, payload)
			if embeddable {
				if vec := r.queryEmbedding(ctx, query); vec != nil {
					r.deps.Cache.SetSemantic(ctx, vec, st.Classification.UserType, st.Classification.Complexity, payload)
				}
			}
		}
	}

	if r.deps.Memory != nil && answer.Source != synthesis.SourceClarification {
		recorded := answer.TLDR
		if recorded == "" {
			recorded = answer.Body
		}
		r.deps.Memory.Record(st.SessionID, st.UserID, st.RawQuery, recorded, st.Classification)
	}

	if r.deps.Log != nil {
		entry := store.QueryLog{
			RequestID:        st.RequestID,
			TraceID:          st.TraceID,
			Query:            st.RawQuery,
			RewrittenQuery:   st.RewrittenQuery,
			Intent:           st.Classification.Intent,
			Complexity:       st.Classification.Complexity,
			UserType:         st.Classification.UserType,
			TLDR:             answer.TLDR,
			Confidence:       answer.Confidence,
			Source:           answer.Source,
			Citations:        answer.Citations,
			PromptTokens:     answer.Tokens.Prompt,
			CompletionTokens: answer.Tokens.Completion,
			TotalTokens:      answer.Tokens.Total,
			ElapsedMs:        resp.ProcessingTimeMS,
		}
		if err := r.deps.Log.LogQuery(ctx, entry); err != nil {
			slog.Warn("agent: query log write failed", "error", err)
		}
	}
}

// tokenize splits the body into fixed-size rune chunks for token events.
func tokenize(body string, chunk int) []string {
	runes := []rune(body)
	var out []string
	for len(runes) > 0 {
		n := chunk
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

func appendUnique(existing, fresh []store.RetrievalResult) []store.RetrievalResult {
	seen := make(map[string]bool, len(existing))
	for _, c := range existing {
		seen[c.ChunkID] = true
	}
	for _, c := range fresh {
		if !seen[c.ChunkID] {
			seen[c.ChunkID] = true
			existing = append(existing, c)
		}
	}
	return existing
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
