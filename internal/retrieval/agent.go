package retrieval

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/log"
)

// AgentStrategy invokes the managed knowledge agent with the recent
// conversation. The agent performs internal query decomposition and returns
// synthesized grounding plus a free-text answer.
//
// An AgentStrategy is constructed per request: it carries the conversation
// and the skip latch for that request only.
type AgentStrategy struct {
	backend  AgentBackend
	messages []core.Message
	maxTurns int
	filter   string
	minDocs  int
	logger   log.Logger

	// skipped latches after an invocation failure. An agent that errors out
	// once this request is unlikely to recover within the same request's
	// retry budget, so later attempts route straight to the fallback ladder.
	mu      sync.Mutex
	skipped bool
}

// ErrAgentSkipped is returned when a prior invocation failure latched the
// agent off for the remainder of the request.
var ErrAgentSkipped = fmt.Errorf("knowledge agent skipped after invocation failure")

// NewAgentStrategy creates a per-request knowledge-agent strategy.
// minDocs decides when a successful invocation still counts as partial.
func NewAgentStrategy(backend AgentBackend, messages []core.Message, maxTurns, minDocs int, filter string, logger log.Logger) *AgentStrategy {
	return &AgentStrategy{
		backend:  backend,
		messages: messages,
		maxTurns: maxTurns,
		filter:   filter,
		minDocs:  minDocs,
		logger:   logger,
	}
}

// Kind returns KindAgent.
func (s *AgentStrategy) Kind() Kind { return KindAgent }

// Skipped reports whether the agent has been latched off for this request.
func (s *AgentStrategy) Skipped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Retrieve invokes the knowledge agent once. The query text is unused; the
// agent consumes the capped conversation directly.
//
// Failure phases:
//   - invocation: the call failed; the error carries the correlation ID and
//     the agent is latched off for this request.
//   - zero_results / partial_results: quality signals on the returned
//     Outcome, not errors.
func (s *AgentStrategy) Retrieve(ctx context.Context, _ Query) (*Outcome, error) {
	s.mu.Lock()
	if s.skipped {
		s.mu.Unlock()
		return nil, ErrAgentSkipped
	}
	s.mu.Unlock()

	correlationID := uuid.NewString()
	capped := core.RecentTurns(s.messages, s.maxTurns)

	result, err := s.backend.Invoke(ctx, capped, AgentOptions{
		Filter:        s.filter,
		CorrelationID: correlationID,
	})
	if err != nil {
		s.mu.Lock()
		s.skipped = true
		s.mu.Unlock()
		s.logger.Warn("knowledge agent invocation failed",
			"correlation_id", correlationID,
			"error", err)
		return nil, fmt.Errorf("knowledge agent invoke (correlation_id=%s): %w", correlationID, err)
	}

	out := &Outcome{
		References:    result.References,
		SummaryAnswer: result.Answer,
		Diagnostics: Diagnostics{
			Strategy:      KindAgent.String(),
			CorrelationID: result.CorrelationID,
		},
	}
	if out.Diagnostics.CorrelationID == "" {
		out.Diagnostics.CorrelationID = correlationID
	}

	switch {
	case len(result.References) == 0:
		out.Diagnostics.FailurePhase = FailurePhaseZeroResults
		out.AddStep("knowledge_agent", "knowledge agent returned no grounding")
	case len(result.References) < s.minDocs:
		out.Diagnostics.FailurePhase = FailurePhasePartialResults
		out.AddStep("knowledge_agent", fmt.Sprintf(
			"knowledge agent returned partial grounding (%d of %d minimum)",
			len(result.References), s.minDocs))
	default:
		out.AddStep("knowledge_agent", fmt.Sprintf(
			"knowledge agent returned %d grounding references", len(result.References)))
	}

	return out, nil
}
