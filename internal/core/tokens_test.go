package core

import (
	"strings"
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"ascii", "abcdefgh", 4},
		{"cjk runes count once", "你好世界", 2},
		{"odd length rounds down", "abc", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestTruncateHistoryUnderBudget(t *testing.T) {
	msgs := []Message{
		SystemMessage("be helpful"),
		UserMessage("hi"),
		AssistantMessage("hello"),
	}

	kept, budget := TruncateHistory(msgs, 1000)
	if len(kept) != 3 {
		t.Fatalf("kept %d messages, want all 3", len(kept))
	}
	if budget.MessagesKept != 3 || budget.MessagesPruned != 0 {
		t.Errorf("Budget = %+v, want 3 kept, 0 pruned", budget)
	}
	if budget.EstimatedUsed != EstimateMessagesTokens(msgs) {
		t.Errorf("EstimatedUsed = %d, want %d", budget.EstimatedUsed, EstimateMessagesTokens(msgs))
	}
}

func TestTruncateHistoryDropsOldest(t *testing.T) {
	long := strings.Repeat("x", 200) // 100 tokens
	msgs := []Message{
		UserMessage(long),
		AssistantMessage(long),
		UserMessage("newest question"),
	}

	kept, budget := TruncateHistory(msgs, 50)
	if len(kept) != 1 {
		t.Fatalf("kept %d messages, want only the newest", len(kept))
	}
	if kept[0].Content != "newest question" {
		t.Errorf("kept[0] = %q, want the newest message", kept[0].Content)
	}
	if budget.MessagesPruned != 2 {
		t.Errorf("MessagesPruned = %d, want 2", budget.MessagesPruned)
	}
}

func TestTruncateHistoryPreservesSystemMessage(t *testing.T) {
	long := strings.Repeat("x", 200)
	msgs := []Message{
		SystemMessage("be terse"), // 4 tokens
		UserMessage(long),
		AssistantMessage(long),
		UserMessage("latest"),
	}

	kept, _ := TruncateHistory(msgs, 20)
	if len(kept) != 2 {
		t.Fatalf("kept %d messages, want system plus newest", len(kept))
	}
	if kept[0].Role != RoleSystem {
		t.Errorf("kept[0].Role = %q, want the system message first", kept[0].Role)
	}
	if kept[1].Content != "latest" {
		t.Errorf("kept[1] = %q, want the newest user message", kept[1].Content)
	}
}

func TestTruncateHistoryKeepsChronologicalOrder(t *testing.T) {
	msgs := []Message{
		UserMessage(strings.Repeat("a", 200)),
		UserMessage("second"),
		AssistantMessage("third"),
		UserMessage("fourth"),
	}

	kept, _ := TruncateHistory(msgs, 20)
	want := []string{"second", "third", "fourth"}
	if len(kept) != len(want) {
		t.Fatalf("kept %d messages, want %d", len(kept), len(want))
	}
	for i, content := range want {
		if kept[i].Content != content {
			t.Errorf("kept[%d] = %q, want %q", i, kept[i].Content, content)
		}
	}
}

func TestTruncateHistoryNoLimit(t *testing.T) {
	msgs := []Message{UserMessage(strings.Repeat("x", 10_000))}
	kept, budget := TruncateHistory(msgs, 0)
	if len(kept) != 1 || budget.MessagesPruned != 0 {
		t.Errorf("limit 0 must disable truncation, got %d kept, %d pruned",
			len(kept), budget.MessagesPruned)
	}
}

func TestTruncateHistoryEmpty(t *testing.T) {
	kept, budget := TruncateHistory(nil, 100)
	if len(kept) != 0 || budget.MessagesKept != 0 {
		t.Errorf("got %d kept messages, want none", len(kept))
	}
}
