// Package retrieval implements the evidence-gathering side of finch: the
// interchangeable retrieval strategies (hybrid search, vector search,
// knowledge agent, federated search) and the fallback ladder that degrades
// through them until a minimum evidence count is met.
package retrieval

import (
	"strconv"
	"time"
)

// Kind identifies a retrieval strategy. The set is closed: strategies are
// selected by this enum, never by structural typing.
type Kind int

// Strategy kinds.
const (
	KindHybrid Kind = iota
	KindVector
	KindAgent
	KindFederated
)

// String returns the strategy name used in activity steps and diagnostics.
func (k Kind) String() string {
	switch k {
	case KindHybrid:
		return "hybrid_search"
	case KindVector:
		return "vector_search"
	case KindAgent:
		return "knowledge_agent"
	case KindFederated:
		return "federated_search"
	default:
		return "unknown"
	}
}

// Reference is one piece of retrieved evidence. Created per-request and never
// persisted beyond the response and telemetry record.
type Reference struct {
	ID         string            `json:"id"`
	Title      string            `json:"title,omitempty"`
	Content    string            `json:"content,omitempty"`
	URL        string            `json:"url,omitempty"`
	PageNumber int               `json:"page_number,omitempty"`
	Score      float64           `json:"score,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// ActivityStep is one entry in the append-only audit trail of what the
// pipeline did during a request. Steps are never mutated, only appended.
type ActivityStep struct {
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// FailurePhase classifies where a knowledge-agent attempt went wrong.
type FailurePhase string

// Knowledge-agent failure phases.
const (
	// FailurePhaseInvocation: the call itself failed. The agent is skipped
	// for the rest of the request; it is unlikely to recover within one
	// request's retry budget.
	FailurePhaseInvocation FailurePhase = "invocation"

	// FailurePhaseZeroResults: the call succeeded but returned nothing.
	FailurePhaseZeroResults FailurePhase = "zero_results"

	// FailurePhasePartialResults: fewer results than the minimum; the partial
	// set is merged into later ladder stages rather than discarded.
	FailurePhasePartialResults FailurePhase = "partial_results"
)

// Diagnostics carries machine-readable details of one retrieval run.
type Diagnostics struct {
	Strategy      string       `json:"strategy"`
	Coverage      float64      `json:"coverage,omitempty"`
	FailurePhase  FailurePhase `json:"failure_phase,omitempty"`
	CorrelationID string       `json:"correlation_id,omitempty"`
	StatusCode    int          `json:"status_code,omitempty"`
	AgentSkipped  bool         `json:"agent_skipped,omitempty"`
}

// Outcome is the uniform return shape every retrieval strategy converges to.
type Outcome struct {
	References        []Reference    `json:"references"`
	Activity          []ActivityStep `json:"activity"`
	FallbackTriggered bool           `json:"fallback_triggered"`
	FallbackAttempts  int            `json:"fallback_attempts"`
	Diagnostics       Diagnostics    `json:"diagnostics"`

	// SummaryAnswer is the knowledge agent's free-text answer. It is discarded
	// whenever the fallback ladder triggered: degraded evidence must not also
	// claim a confident upstream summary.
	SummaryAnswer string `json:"summary_answer,omitempty"`
}

// AddStep appends one activity step with the current timestamp.
func (o *Outcome) AddStep(stepType, description string) {
	o.Activity = append(o.Activity, ActivityStep{
		Type:        stepType,
		Description: description,
		Timestamp:   time.Now(),
	})
}

// Normalize enforces the cross-field invariants before the outcome leaves the
// retrieval layer.
func (o *Outcome) Normalize() {
	if o.FallbackTriggered {
		o.SummaryAnswer = ""
	}
	if o.References == nil {
		o.References = []Reference{}
	}
}

// Query is the input to a retrieval strategy.
type Query struct {
	Text              string
	Top               int
	Filter            string
	RerankerThreshold float64
}

// dedupKey returns the merge key for a reference: the id when present, else
// URL, page, and a content prefix.
func dedupKey(r Reference) string {
	if r.ID != "" {
		return r.ID
	}
	prefix := r.Content
	if len(prefix) > 64 {
		prefix = prefix[:64]
	}
	return r.URL + "|" + strconv.Itoa(r.PageNumber) + "|" + prefix
}

// Merge produces the deduplicating union of reference lists, preserving the
// order of earlier lists. Merging a list with itself yields the original list.
func Merge(lists ...[]Reference) []Reference {
	seen := make(map[string]struct{})
	var merged []Reference
	for _, list := range lists {
		for _, ref := range list {
			key := dedupKey(ref)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, ref)
		}
	}
	return merged
}
