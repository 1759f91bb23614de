package core

import (
	"slices"
	"unicode/utf8"
)

// Budget tracks context-window accounting for one request.
// It is recorded in the session trace so callers can see what was kept.
type Budget struct {
	Limit          int `json:"limit"`
	EstimatedUsed  int `json:"estimated_used"`
	MessagesKept   int `json:"messages_kept"`
	MessagesPruned int `json:"messages_pruned"`
}

// EstimateTokens provides a rough token count.
// Rune count divided by 2 is a conservative estimate that works for both
// English (~4 chars/token) and CJK (~1.5 chars/token) text.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}

// EstimateMessagesTokens estimates total tokens across messages.
func EstimateMessagesTokens(msgs []Message) int {
	total := 0
	for _, msg := range msgs {
		total += EstimateTokens(msg.Content)
	}
	return total
}

// TruncateHistory removes oldest messages to fit within the budget.
// A leading system message is always preserved; the newest messages are kept
// in chronological order. Returns the kept messages and the accounting record.
func TruncateHistory(msgs []Message, limit int) ([]Message, Budget) {
	budget := Budget{Limit: limit}
	if len(msgs) == 0 {
		return msgs, budget
	}

	current := EstimateMessagesTokens(msgs)
	if limit <= 0 || current <= limit {
		budget.EstimatedUsed = current
		budget.MessagesKept = len(msgs)
		return msgs, budget
	}

	result := make([]Message, 0, len(msgs))
	startIdx := 0
	if msgs[0].Role == RoleSystem {
		result = append(result, msgs[0])
		startIdx = 1
	}

	// Walk newest to oldest until the budget is exhausted, then restore
	// chronological order.
	remaining := limit - EstimateMessagesTokens(result)
	kept := make([]Message, 0)
	for i := len(msgs) - 1; i >= startIdx; i-- {
		tokens := EstimateTokens(msgs[i].Content)
		if remaining < tokens {
			break
		}
		kept = append(kept, msgs[i])
		remaining -= tokens
	}
	slices.Reverse(kept)
	result = append(result, kept...)

	budget.EstimatedUsed = limit - remaining
	budget.MessagesKept = len(result)
	budget.MessagesPruned = len(msgs) - len(result)
	return result, budget
}
