// Package agent is the graph runtime: it owns the per-request state, runs
// the pipeline nodes in order, and drives the two conditional back-edges
// (refined synthesis and gap retrieval) under one iteration cap.
package agent

import (
	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/memory"
	"github.com/gweta-ai/gweta/quality"
	"github.com/gweta-ai/gweta/store"
	"github.com/gweta-ai/gweta/synthesis"
)

// Request is the caller-facing query input.
type Request struct {
	Text      string `json:"text"`
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Channel   string `json:"channel,omitempty"`
	LangHint  string `json:"lang_hint,omitempty"`
	DateCtx   string `json:"date_ctx,omitempty"`
}

// Response is the caller-facing answer.
type Response struct {
	TLDR              string               `json:"tldr"`
	KeyPoints         []string             `json:"key_points"`
	Body              string               `json:"body"`
	Citations         []synthesis.Citation `json:"citations"`
	Confidence        float64              `json:"confidence"`
	QualityConfidence float64              `json:"quality_confidence,omitempty"`
	Source            string               `json:"source"`
	RequestID         string               `json:"request_id"`
	TraceID           string               `json:"trace_id"`
	ProcessingTimeMS  int64                `json:"processing_time_ms"`
	Tokens            synthesis.TokenUsage `json:"tokens"`
	Warnings          []string             `json:"warnings,omitempty"`
	Trace             []TraceStep          `json:"trace,omitempty"`
}

// TraceStep is one pipeline node's record, populated when tracing is
// enabled on the runtime config.
type TraceStep struct {
	Node      string   `json:"node"`
	Action    string   `json:"action"`
	ElapsedMs int64    `json:"elapsed_ms"`
	Issues    []string `json:"issues,omitempty"`
}

// State is the per-request pipeline state. The runtime is its single
// writer; it is never shared across concurrent requests.
type State struct {
	RawQuery       string `json:"raw_query"`
	RewrittenQuery string `json:"rewritten_query,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
	RequestID      string `json:"request_id"`
	TraceID        string `json:"trace_id"`

	Classification *intent.Classification `json:"classification,omitempty"`
	MemoryContext  *memory.Context        `json:"-"`

	CombinedResults []store.RetrievalResult `json:"combined_results,omitempty"`
	RerankedResults []store.RetrievalResult `json:"reranked_results,omitempty"`
	RerankMethod    string                  `json:"rerank_method,omitempty"`
	BundledContext  []synthesis.ContextItem `json:"-"`

	Synthesis           *synthesis.Answer `json:"synthesis,omitempty"`
	QualityReport       *quality.Report   `json:"-"`
	QualityPassed       bool              `json:"quality_passed"`
	QualityConfidence   float64           `json:"quality_confidence"`
	QualityIssues       []string          `json:"quality_issues,omitempty"`
	RefinementIteration int               `json:"refinement_iteration"`
	Instructions        []string          `json:"refinement_instructions,omitempty"`

	Warnings []string    `json:"warnings,omitempty"`
	Trace    []TraceStep `json:"-"`
}

// effectiveQuery is the query the retrieval stages operate on.
func (s *State) effectiveQuery() string {
	if s.RewrittenQuery != "" {
		return s.RewrittenQuery
	}
	return s.RawQuery
}
