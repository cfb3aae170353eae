package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/gweta-ai/gweta/intent"
	"github.com/gweta-ai/gweta/llm"
	"github.com/gweta-ai/gweta/store"
)

// Token budget split between the tiers: recent conversation gets the
// larger share, the profile summary the remainder.
const (
	shortTermShare = 0.7

	// updateTimeout bounds the detached post-answer profile write.
	updateTimeout = 5 * time.Second
)

// Context is the assembled memory view handed to rewrite and synthesis.
type Context struct {
	History        []llm.Message
	Profile        *store.UserProfile
	ProfileSummary string
}

// Coordinator fetches both memory tiers in parallel and folds answered
// queries back into them.
type Coordinator struct {
	short *ShortTerm
	long  *LongTerm
}

// NewCoordinator wires the two tiers. Either may be nil when the deployment
// runs without that tier.
func NewCoordinator(short *ShortTerm, long *LongTerm) *Coordinator {
	return &Coordinator{short: short, long: long}
}

// Fetch assembles the memory context within maxTokens. The tiers are
// fetched concurrently; a failing tier contributes nothing rather than
// failing the query.
func (c *Coordinator) Fetch(ctx context.Context, conversationID, userID string, maxTokens int) *Context {
	out := &Context{}
	shortBudget := int(float64(maxTokens) * shortTermShare)

	historyCh := make(chan []llm.Message, 1)
	profileCh := make(chan *store.UserProfile, 1)

	go func() {
		if c.short == nil || conversationID == "" {
			historyCh <- nil
			return
		}
		historyCh <- c.short.Context(ctx, conversationID, ShortTermWindow, shortBudget)
	}()
	go func() {
		if c.long == nil || userID == "" {
			profileCh <- nil
			return
		}
		p, err := c.long.Profile(ctx, userID)
		if err != nil {
			slog.Warn("memory: profile fetch failed, proceeding without", "error", err)
			profileCh <- nil
			return
		}
		profileCh <- p
	}()

	out.History = <-historyCh
	out.Profile = <-profileCh

	if out.Profile != nil {
		summary := Summary(out.Profile)
		// The summary gets the remaining share of the budget.
		if limit := (maxTokens - shortBudget) * charsPerToken; len(summary) > limit {
			summary = summary[:limit]
		}
		out.ProfileSummary = summary
	}
	return out
}

// Record folds an answered exchange back into both tiers. The write is
// detached from the request: it runs on a fresh bounded context so a slow
// store never delays the response, and failures are only logged.
func (c *Coordinator) Record(conversationID, userID, query, answer string, cls *intent.Classification) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
		defer cancel()

		if c.short != nil && conversationID != "" {
			if err := c.short.Append(ctx, conversationID, "user", query); err != nil {
				slog.Warn("memory: short-term user append failed", "error", err)
			}
			if err := c.short.Append(ctx, conversationID, "assistant", answer); err != nil {
				slog.Warn("memory: short-term assistant append failed", "error", err)
			}
		}
		if c.long != nil && userID != "" && cls != nil {
			if err := c.long.Observe(ctx, userID, cls); err != nil {
				slog.Warn("memory: profile update failed", "error", err)
			}
		}
	}()
}
