// Package memory holds the two conversation memory tiers: a short-term
// Redis message window per conversation and a long-term SQLite user
// profile, plus the coordinator that assembles both into prompt context.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gweta-ai/gweta/llm"
)

const (
	// ShortTermWindow is the number of messages kept per conversation.
	ShortTermWindow = 20

	// shortTermTTL expires idle conversations.
	shortTermTTL = 24 * time.Hour

	// charsPerToken is the approximation used for context budgeting.
	charsPerToken = 4
)

// StoredMessage is one conversation turn as kept in Redis.
type StoredMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ShortTerm is the per-conversation rolling message window. Redis failures
// degrade to empty context; they never fail the pipeline.
type ShortTerm struct {
	rdb    *redis.Client
	prefix string
}

// NewShortTerm creates the short-term tier over a Redis connection.
func NewShortTerm(rdb *redis.Client) *ShortTerm {
	return &ShortTerm{rdb: rdb, prefix: "gweta:stm"}
}

func (s *ShortTerm) key(conversationID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, conversationID)
}

// Append records a turn, trims the window to ShortTermWindow messages, and
// refreshes the conversation TTL.
func (s *ShortTerm) Append(ctx context.Context, conversationID, role, content string) error {
	payload, err := json.Marshal(StoredMessage{Role: role, Content: content, Timestamp: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("memory: marshal message: %w", err)
	}

	key := s.key(conversationID)
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -ShortTermWindow, -1)
	pipe.Expire(ctx, key, shortTermTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("memory: append: %w", err)
	}
	return nil
}

// Context returns the most recent turns honoring both bounds: at most
// maxMessages turns, within maxTokens, oldest first. maxMessages <= 0
// means the full stored window. Token usage is approximated at
// charsPerToken characters per token.
func (s *ShortTerm) Context(ctx context.Context, conversationID string, maxMessages, maxTokens int) []llm.Message {
	raw, err := s.rdb.LRange(ctx, s.key(conversationID), 0, -1).Result()
	if err != nil && err != redis.Nil {
		slog.Warn("memory: short-term fetch failed, using empty context", "error", err)
		return nil
	}
	if maxMessages <= 0 || maxMessages > ShortTermWindow {
		maxMessages = ShortTermWindow
	}

	// Walk newest to oldest, then reverse so output is oldest first.
	var picked []llm.Message
	budget := maxTokens
	for i := len(raw) - 1; i >= 0 && len(picked) < maxMessages; i-- {
		var m StoredMessage
		if err := json.Unmarshal([]byte(raw[i]), &m); err != nil {
			continue
		}
		cost := (len(m.Content) + charsPerToken - 1) / charsPerToken
		if cost > budget {
			break
		}
		budget -= cost
		picked = append(picked, llm.Message{Role: m.Role, Content: m.Content})
	}

	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

// Clear drops a conversation's window.
func (s *ShortTerm) Clear(ctx context.Context, conversationID string) error {
	return s.rdb.Del(ctx, s.key(conversationID)).Err()
}
