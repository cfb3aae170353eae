// Package intent labels incoming queries: intent class, complexity tier,
// user type, and legal areas. A heuristic pass handles the common cases;
// an LLM fallback is consulted only when heuristic confidence is low.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gweta-ai/gweta/llm"
	"github.com/gweta-ai/gweta/store"
)

// Intent classes.
const (
	IntentConstitutional = "constitutional"
	IntentStatutory      = "statutory"
	IntentCaseLaw        = "case_law"
	IntentProcedural     = "procedural"
	IntentRights         = "rights"
	IntentConversational = "conversational"
	IntentSummarization  = "summarization"
)

// Complexity tiers.
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
	ComplexityExpert   = "expert"
)

// User types.
const (
	UserTypeCitizen      = "citizen"
	UserTypeProfessional = "professional"
)

// llmFallbackThreshold: heuristic classifications below this confidence are
// re-done by the LLM.
const llmFallbackThreshold = 0.8

// profileStabilityMin is the query count after which a stored expertise
// level is considered stable enough to bias classification.
const profileStabilityMin = 5

// Classification is the labelling contract consumed by retrieval and
// synthesis. RetrievalTopK/RerankTopK follow the adaptive top-k policy and
// must be honored downstream.
type Classification struct {
	Intent             string   `json:"intent"`
	Complexity         string   `json:"complexity"`
	UserType           string   `json:"user_type"`
	Confidence         float64  `json:"confidence"`
	LegalAreas         []string `json:"legal_areas,omitempty"`
	ReasoningFramework string   `json:"reasoning_framework,omitempty"`
	RetrievalTopK      int      `json:"retrieval_top_k"`
	RerankTopK         int      `json:"rerank_top_k"`
}

// Cache stores LLM fallback classifications under an intent-only key,
// scoped per user type. Implemented by the cache package; failures are
// treated as misses.
type Cache interface {
	GetIntent(ctx context.Context, query, userType string) (*Classification, bool)
	SetIntent(ctx context.Context, query, userType string, c *Classification)
}

// Classifier runs the two-tier classification.
type Classifier struct {
	chat  llm.Provider
	cache Cache
}

// New creates a classifier. chat may be nil to disable the LLM fallback;
// cache may be nil to disable fallback caching.
func New(chat llm.Provider, cache Cache) *Classifier {
	return &Classifier{chat: chat, cache: cache}
}

// Classify labels the query. profile is the caller's long-term memory view
// and may be nil for anonymous or first-time users.
func (c *Classifier) Classify(ctx context.Context, query string, profile *store.UserProfile) *Classification {
	result := classifyHeuristic(query)
	applyProfileBias(result, profile)

	if result.Confidence < llmFallbackThreshold && c.chat != nil && strings.TrimSpace(query) != "" {
		if fromLLM := c.classifyLLM(ctx, query, result.UserType); fromLLM != nil {
			result = fromLLM
			applyProfileBias(result, profile)
		}
	}

	result.RetrievalTopK, result.RerankTopK = TopK(result.Complexity)
	return result
}

// applyProfileBias biases user type and default complexity for returning
// users with a stable expertise level.
func applyProfileBias(c *Classification, profile *store.UserProfile) {
	if profile == nil || profile.QueryCount < profileStabilityMin {
		return
	}
	// A stable professional profile upgrades the user type; a citizen
	// profile never downgrades a query with professional cues.
	if profile.ExpertiseLevel == UserTypeProfessional {
		c.UserType = UserTypeProfessional
	}
	if profile.TypicalComplexity != "" && c.Confidence < llmFallbackThreshold {
		c.Complexity = profile.TypicalComplexity
	}
}

const classifyPrompt = `Classify this Zimbabwean legal question. Respond with JSON only:
{"intent": one of [constitutional, statutory, case_law, procedural, rights, conversational, summarization],
 "complexity": one of [simple, moderate, complex, expert],
 "user_type": one of [citizen, professional],
 "confidence": 0.0-1.0,
 "legal_areas": [list of areas such as labour, constitutional, criminal, family, company, land, tax],
 "reasoning_framework": short label such as "statutory interpretation" or "constitutional analysis"}

Question: %s`

// classifyLLM consults the fallback model, caching its output under an
// intent-only key per user type. Returns nil on any failure so the caller
// keeps the heuristic result.
func (c *Classifier) classifyLLM(ctx context.Context, query, userType string) *Classification {
	if c.cache != nil {
		if cached, ok := c.cache.GetIntent(ctx, query, userType); ok {
			return cached
		}
	}

	resp, err := c.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You are a legal query classifier. Output JSON only."},
			{Role: "user", Content: fmt.Sprintf(classifyPrompt, query)},
		},
		Temperature:    0,
		MaxTokens:      300,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("intent: llm fallback failed, keeping heuristic result", "error", err)
		return nil
	}

	var parsed Classification
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil {
		slog.Warn("intent: unparseable llm classification", "error", err)
		return nil
	}
	if !validIntent(parsed.Intent) || !validComplexity(parsed.Complexity) {
		slog.Warn("intent: llm returned out-of-schema labels",
			"intent", parsed.Intent, "complexity", parsed.Complexity)
		return nil
	}
	if parsed.UserType != UserTypeProfessional {
		parsed.UserType = UserTypeCitizen
	}

	if c.cache != nil {
		c.cache.SetIntent(ctx, query, userType, &parsed)
	}
	return &parsed
}

func validIntent(s string) bool {
	switch s {
	case IntentConstitutional, IntentStatutory, IntentCaseLaw, IntentProcedural,
		IntentRights, IntentConversational, IntentSummarization:
		return true
	}
	return false
}

func validComplexity(s string) bool {
	switch s {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityExpert:
		return true
	}
	return false
}

// extractJSON strips markdown fences some models wrap around JSON output.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}
