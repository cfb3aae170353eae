// Package synthesis turns a retrieved context bundle into a structured,
// cited answer. Every citation must point back into the bundle; claims the
// model cannot ground are dropped or lower the answer's confidence.
package synthesis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/llm"
	"github.com/gweta-ai/gweta/store"
)

// Answer source labels.
const (
	SourceSynthesis     = "synthesis"
	SourceCacheExact    = "cache:exact"
	SourceCacheSemantic = "cache:semantic"
	SourceExtractive    = "extractive"
	SourceNoSources     = "no_sources"
	SourceClarification = "clarification"
)

// tldrMaxChars caps the one-sentence summary.
const tldrMaxChars = 220

// maxKeyPoints caps the key point list; the model is asked for 3-7.
const maxKeyPoints = 7

// ContextItem is one bundle entry: a selected chunk plus its parent
// document. Parent is nil when the blob fetch missed; such chunks may not
// be cited as primary authority.
type ContextItem struct {
	Result store.RetrievalResult
	Parent *store.ParentDocument
}

// Citation points a claim back at a bundle chunk.
type Citation struct {
	ChunkID     string `json:"chunk_id"`
	ParentDocID string `json:"parent_doc_id"`
	Title       string `json:"title"`
	Section     string `json:"section,omitempty"`
	DocType     string `json:"doc_type"`
	SourceURL   string `json:"source_url,omitempty"`
}

// TokenUsage accumulates provider token counts across synthesis calls.
type TokenUsage struct {
	Prompt     int `json:"prompt_tokens"`
	Completion int `json:"completion_tokens"`
	Total      int `json:"total_tokens"`
}

func (t *TokenUsage) add(r *llm.ChatResponse) {
	t.Prompt += r.PromptTokens
	t.Completion += r.CompletionTokens
	t.Total += r.TotalTokens
}

// Answer is the structured synthesis output.
type Answer struct {
	TLDR       string     `json:"tldr"`
	KeyPoints  []string   `json:"key_points"`
	Body       string     `json:"body"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source"`
	Tokens     TokenUsage `json:"tokens"`
	Warnings   []string   `json:"warnings,omitempty"`
}

// Request carries everything synthesis needs for one draft.
type Request struct {
	Query          string
	Classification *intent.Classification
	Context        []ContextItem
	ProfileSummary string
	// Instructions is non-empty on refined synthesis passes.
	Instructions []string
}

// Synthesizer generates grounded answers through a chat provider.
type Synthesizer struct {
	chat llm.Provider
}

// New creates a synthesizer.
func New(chat llm.Provider) *Synthesizer {
	return &Synthesizer{chat: chat}
}

// tokenBudget scales generation length with complexity.
func tokenBudget(complexity string) int {
	switch complexity {
	case intent.ComplexitySimple:
		return 500
	case intent.ComplexityComplex:
		return 1500
	case intent.ComplexityExpert:
		return 2500
	default:
		return 900
	}
}

const synthesisSystem = `You are Gweta, a Zimbabwean legal information assistant. Answer only from the numbered sources provided. Cite sources by number. If the sources do not support a claim, omit it. Output JSON only:
{"tldr": "one sentence, max 220 characters",
 "key_points": ["3 to 7 short points"],
 "body": "the full answer",
 "citations": [source numbers actually used],
 "confidence": 0.0-1.0}`

const iracInstruction = "Structure the body in IRAC form: Issue, Rule, Application, Conclusion, with precise statutory and case citations."
const citizenInstruction = "Write the body in plain language a non-lawyer can follow. Explain legal terms when they are unavoidable."

// Synthesize produces one grounded draft. It fails only when the provider
// fails; citation discipline violations are repaired locally by dropping
// out-of-bundle references.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Answer, error) {
	start := time.Now()
	cls := req.Classification

	var prompt strings.Builder
	if req.ProfileSummary != "" {
		fmt.Fprintf(&prompt, "About the user: %s\n\n", req.ProfileSummary)
	}
	prompt.WriteString("Sources:\n")
	prompt.WriteString(renderSources(req.Context))
	fmt.Fprintf(&prompt, "\nQuestion: %s\n", req.Query)
	fmt.Fprintf(&prompt, "Reasoning framework: %s\n", cls.ReasoningFramework)
	if cls.UserType == intent.UserTypeProfessional {
		prompt.WriteString(iracInstruction + "\n")
	} else {
		prompt.WriteString(citizenInstruction + "\n")
	}
	for _, inst := range req.Instructions {
		prompt.WriteString("Revision instruction: " + inst + "\n")
	}

	resp, err := s.chat.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: synthesisSystem},
			{Role: "user", Content: prompt.String()},
		},
		Temperature:    0.2,
		MaxTokens:      tokenBudget(cls.Complexity),
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis: provider: %w", err)
	}

	answer := parseDraft(resp.Content, req.Context)
	answer.Source = SourceSynthesis
	answer.Tokens.add(resp)

	slog.Debug("synthesis: draft complete",
		"citations", len(answer.Citations), "tokens", answer.Tokens.Total,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return answer, nil
}

// draft is the raw model output shape.
type draft struct {
	TLDR       string   `json:"tldr"`
	KeyPoints  []string `json:"key_points"`
	Body       string   `json:"body"`
	Citations  []int    `json:"citations"`
	Confidence float64  `json:"confidence"`
}

// parseDraft decodes the model output and enforces the structural
// contract: tldr length, key point count, and citations restricted to the
// bundle. Unparseable output degrades to a low-confidence answer carrying
// the raw text as body.
func parseDraft(content string, bundle []ContextItem) *Answer {
	var d draft
	if err := json.Unmarshal([]byte(extractJSON(content)), &d); err != nil {
		slog.Warn("synthesis: unparseable draft, degrading", "error", err)
		return &Answer{
			TLDR:       clampTLDR(content),
			Body:       content,
			Confidence: 0.3,
			Warnings:   []string{"unstructured_synthesis_output"},
		}
	}

	a := &Answer{
		TLDR:       clampTLDR(d.TLDR),
		KeyPoints:  d.KeyPoints,
		Body:       d.Body,
		Confidence: d.Confidence,
	}
	if len(a.KeyPoints) > maxKeyPoints {
		a.KeyPoints = a.KeyPoints[:maxKeyPoints]
	}
	if a.Confidence < 0 || a.Confidence > 1 {
		a.Confidence = 0.5
	}

	seen := make(map[string]bool)
	for _, n := range d.Citations {
		idx := n - 1 // sources are numbered from 1 in the prompt
		if idx < 0 || idx >= len(bundle) {
			continue
		}
		c := citationFor(bundle[idx])
		if seen[c.ChunkID] {
			continue
		}
		seen[c.ChunkID] = true
		a.Citations = append(a.Citations, c)
	}
	return a
}

func citationFor(item ContextItem) Citation {
	c := Citation{
		ChunkID:     item.Result.ChunkID,
		ParentDocID: item.Result.ParentDocID,
		Section:     item.Result.SectionPath,
		DocType:     item.Result.DocType,
		SourceURL:   item.Result.SourceURL,
	}
	if item.Parent != nil {
		c.Title = item.Parent.Title
		if c.SourceURL == "" {
			c.SourceURL = item.Parent.SourceURL
		}
	} else {
		c.Title = item.Result.SectionPath
	}
	return c
}

// renderSources numbers the bundle for the prompt. Chunks without a parent
// are flagged so the model does not lean on them as primary authority.
func renderSources(bundle []ContextItem) string {
	var b strings.Builder
	for i, item := range bundle {
		title := item.Result.SectionPath
		note := ""
		if item.Parent != nil {
			title = item.Parent.Title + " - " + item.Result.SectionPath
		} else {
			note = " (parent document unavailable; secondary support only)"
		}
		fmt.Fprintf(&b, "[%d] %s (%s)%s\n%s\n\n", i+1, title, item.Result.DocType, note, item.Result.Text)
	}
	return b.String()
}

func clampTLDR(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= tldrMaxChars {
		return s
	}
	return s[:tldrMaxChars-3] + "..."
}

func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "{"); i >= 0 {
		if j := strings.LastIndex(s, "}"); j > i {
			return s[i : j+1]
		}
	}
	return s
}
