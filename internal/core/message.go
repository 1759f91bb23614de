// Package core holds the conversation types shared by the planner, retrieval
// strategies, and the session orchestrator.
package core

import "strings"

// Role identifies the author of a conversation message.
type Role string

// Conversation roles.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation. The orchestrator never mutates past
// turns; history is append-only.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// UserMessage builds a user-role message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// AssistantMessage builds an assistant-role message.
func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// SystemMessage builds a system-role message.
func SystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// LastUser returns the content of the final message when it is a user turn,
// and reports whether it was one.
func LastUser(msgs []Message) (string, bool) {
	if len(msgs) == 0 {
		return "", false
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleUser {
		return "", false
	}
	return strings.TrimSpace(last.Content), true
}

// RecentTurns returns at most n trailing messages, preserving order.
// Used to cap what is forwarded to the knowledge agent.
func RecentTurns(msgs []Message, n int) []Message {
	if n <= 0 || len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
