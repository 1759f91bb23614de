// Package testutil provides shared fakes for unit tests: a scriptable
// completion client and scriptable retrieval backends. Everything here is
// safe for concurrent use so streaming and orchestration tests can exercise
// real goroutines.
package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/llm"
	"github.com/finchlabs/finch/internal/retrieval"
)

// MockLLM is a scriptable llm.Client. Responses match on substrings of the
// latest user message, checked in registration order; Default answers
// anything unmatched.
type MockLLM struct {
	mu       sync.Mutex
	rules    []rule
	Default  string
	Err      error
	nextID   int
	Requests []llm.Request
}

type rule struct {
	substr string
	text   string
}

// NewMockLLM creates a mock that answers everything with defaultText.
func NewMockLLM(defaultText string) *MockLLM {
	return &MockLLM{Default: defaultText}
}

// Respond registers a canned response for prompts containing substr.
func (m *MockLLM) Respond(substr, text string) *MockLLM {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, rule{substr: substr, text: text})
	return m
}

// Complete implements llm.Client.
func (m *MockLLM) Complete(_ context.Context, req llm.Request) (*llm.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}

	prompt := lastUserContent(req.Messages)
	text := m.Default
	for _, r := range m.rules {
		if strings.Contains(prompt, r.substr) {
			text = r.text
			break
		}
	}

	m.nextID++
	return &llm.Completion{
		Text: text,
		ID:   fmt.Sprintf("resp-%d", m.nextID),
		Usage: llm.Usage{
			InputTokens:  len(prompt) / 4,
			OutputTokens: len(text) / 4,
		},
	}, nil
}

// CallCount returns how many completions were requested.
func (m *MockLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// LastRequest returns the most recent request, or a zero request.
func (m *MockLLM) LastRequest() llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Requests) == 0 {
		return llm.Request{}
	}
	return m.Requests[len(m.Requests)-1]
}

func lastUserContent(messages []core.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == core.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// Ref builds a minimal reference for test fixtures.
func Ref(id, content string, score float64) retrieval.Reference {
	return retrieval.Reference{ID: id, Title: id, Content: content, Score: score}
}

// Refs builds n references with sequential IDs and the given score.
func Refs(n int, score float64) []retrieval.Reference {
	out := make([]retrieval.Reference, 0, n)
	for i := range n {
		out = append(out, Ref(fmt.Sprintf("doc-%d", i+1), fmt.Sprintf("content %d", i+1), score))
	}
	return out
}
