package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gweta-ai/gweta/llm"
)

// Critique is the self-critic's output, consumed by refined synthesis.
type Critique struct {
	RefinementInstructions []string `json:"refinement_instructions"`
	PriorityFixes          []string `json:"priority_fixes"`
	SuggestedAdditions     []string `json:"suggested_additions"`
}

// genericCritique is the fallback when the critic's output cannot be
// parsed.
var genericCritique = Critique{
	RefinementInstructions: []string{
		"strengthen citations for every factual statement",
		"address all unsupported statements from the quality report",
	},
	PriorityFixes: []string{"remove or ground unsupported claims"},
}

const criticSystem = `You review a draft legal answer against its quality report. Output JSON only:
{"refinement_instructions": ["specific edits to make"],
 "priority_fixes": ["most important problems first"],
 "suggested_additions": ["missing authorities or angles worth adding"]}`

// Critic produces targeted revision instructions from a draft and the
// quality issues raised against it.
type Critic struct {
	chat llm.Provider
}

// NewCritic creates a self-critic over the chat provider.
func NewCritic(chat llm.Provider) *Critic {
	return &Critic{chat: chat}
}

// Critique reviews the draft. It never fails: provider or parse errors
// fall back to the generic instruction set.
func (c *Critic) Critique(ctx context.Context, query string, draft *Answer, issues []string) *Critique {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Question: %s\n\nDraft tldr: %s\n\nDraft body:\n%s\n\nQuality issues:\n", query, draft.TLDR, draft.Body)
	for _, issue := range issues {
		prompt.WriteString("- " + issue + "\n")
	}

	resp, err := c.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: criticSystem},
			{Role: "user", Content: prompt.String()},
		},
		Temperature:    0,
		MaxTokens:      400,
		ResponseFormat: "json_object",
	})
	if err != nil {
		slog.Warn("synthesis: critic failed, using generic instructions", "error", err)
		out := genericCritique
		return &out
	}

	var parsed Critique
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &parsed); err != nil || len(parsed.RefinementInstructions) == 0 {
		slog.Warn("synthesis: unparseable critique, using generic instructions", "error", err)
		out := genericCritique
		return &out
	}
	return &parsed
}
