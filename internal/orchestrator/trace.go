package orchestrator

import (
	"time"

	"github.com/google/uuid"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/critic"
	"github.com/finchlabs/finch/internal/planner"
	"github.com/finchlabs/finch/internal/retrieval"
)

// RetrievalMeta summarizes what the retrieval layer did for one request.
type RetrievalMeta struct {
	FallbackTriggered bool                  `json:"fallback_triggered"`
	FallbackAttempts  int                   `json:"fallback_attempts"`
	ReferenceCount    int                   `json:"reference_count"`
	WebResultCount    int                   `json:"web_result_count"`
	Diagnostics       retrieval.Diagnostics `json:"diagnostics"`
}

// SessionTrace is the aggregate record of one request. It is owned
// exclusively by the session orchestrator for the duration of the request,
// finalized on success or failure, then handed to the session store.
type SessionTrace struct {
	SessionID   uuid.UUID         `json:"session_id"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Plan        planner.Plan      `json:"plan"`
	Retrieval   RetrievalMeta     `json:"retrieval"`
	Critiques   []critic.Critique `json:"critiques"`
	Budget      core.Budget       `json:"budget"`
	Features    map[string]bool   `json:"features"`
	Events      []string          `json:"events"`
	Failed      bool              `json:"failed"`
	Error       string            `json:"error,omitempty"`
}

// newTrace starts the trace for one request.
func newTrace(sessionID uuid.UUID) *SessionTrace {
	return &SessionTrace{
		SessionID: sessionID,
		StartedAt: time.Now(),
	}
}

// finalize closes the trace. Idempotent: only the first call sets the
// completion time.
func (t *SessionTrace) finalize(err error) {
	if !t.CompletedAt.IsZero() {
		return
	}
	t.CompletedAt = time.Now()
	if err != nil {
		t.Failed = true
		t.Error = err.Error()
	}
}

// Metadata is everything a caller needs to reconstruct what happened without
// re-deriving it.
type Metadata struct {
	Plan              planner.Plan      `json:"plan"`
	Retrieval         RetrievalMeta     `json:"retrieval"`
	Critiques         []critic.Critique `json:"critiques"`
	Budget            core.Budget       `json:"budget"`
	Features          map[string]bool   `json:"features"`
	SynthesisAttempts int               `json:"synthesis_attempts"`
}

// Result is the uniform response shape for sync and streaming callers.
type Result struct {
	Answer    string                   `json:"answer"`
	Citations []retrieval.Reference    `json:"citations"`
	Activity  []retrieval.ActivityStep `json:"activity"`
	Metadata  Metadata                 `json:"metadata"`
}
