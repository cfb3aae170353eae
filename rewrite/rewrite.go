// Package rewrite makes follow-up queries self-contained: pronouns and
// elliptical references are resolved against recent conversation turns so
// retrieval sees a standalone question.
package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gweta-ai/gweta/llm"
)

// maxHistoryTurns bounds how much conversation the rewriter sees.
const maxHistoryTurns = 5

// maxGrowthFactor rejects rewrites that balloon far beyond the original,
// a sign the model answered instead of rewriting.
const maxGrowthFactor = 4

const rewritePrompt = `Rewrite the user's latest question so it is fully self-contained, resolving pronouns and references using the conversation. Rules:
- Keep the user's meaning exactly; do not answer the question.
- Do not introduce entities, statutes, or facts absent from the conversation.
- If the question is already self-contained, return it unchanged.
Return only the rewritten question, nothing else.

Conversation:
%s

Latest question: %s`

// Rewriter resolves conversational references with an LLM.
type Rewriter struct {
	chat llm.Provider
}

// New creates a rewriter. chat may be nil, in which case every query passes
// through unchanged.
func New(chat llm.Provider) *Rewriter {
	return &Rewriter{chat: chat}
}

// Rewrite returns the standalone form of query given recent history, and
// whether a rewrite was applied. With empty history the query is returned
// unchanged, so rewriting is idempotent on context-free queries. Any LLM
// failure also passes the original through.
func (r *Rewriter) Rewrite(ctx context.Context, query string, history []llm.Message) (string, bool) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" || len(history) == 0 || r.chat == nil {
		return query, false
	}

	resp, err := r.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "You rewrite follow-up questions into standalone questions. Output only the rewritten question."},
			{Role: "user", Content: fmt.Sprintf(rewritePrompt, formatHistory(history), trimmed)},
		},
		Temperature: 0,
		MaxTokens:   200,
	})
	if err != nil {
		slog.Warn("rewrite: llm failed, using original query", "error", err)
		return query, false
	}

	rewritten := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Content), `"`))
	if rewritten == "" || len(rewritten) > maxGrowthFactor*len(trimmed)+80 {
		slog.Warn("rewrite: implausible output discarded", "original_len", len(trimmed), "rewritten_len", len(rewritten))
		return query, false
	}
	if rewritten == trimmed {
		return query, false
	}

	slog.Debug("rewrite: query rewritten", "original_len", len(trimmed), "rewritten_len", len(rewritten))
	return rewritten, true
}

// formatHistory renders the last turns oldest-first as "role: content"
// lines for the prompt.
func formatHistory(history []llm.Message) string {
	if len(history) > maxHistoryTurns*2 {
		history = history[len(history)-maxHistoryTurns*2:]
	}
	var b strings.Builder
	for _, m := range history {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
