package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/orchestrator"
	"github.com/finchlabs/finch/internal/retrieval"
	"github.com/finchlabs/finch/internal/websearch"
)

// SearchCall records one backend invocation for assertions.
type SearchCall struct {
	Op    string // "hybrid", "vector", or the federated index name
	Query retrieval.Query
}

// MockBackend is a scriptable retrieval.Backend. Hybrid responses are
// consumed in order, one per call, so tests can script a fallback ladder
// stage by stage; Vector serves the same fixed response on every call.
type MockBackend struct {
	mu sync.Mutex

	HybridResponses []*retrieval.SearchResult
	HybridErrs      []error

	VectorResponse *retrieval.SearchResult
	VectorErr      error

	Calls []SearchCall

	hybridCalls int
}

// HybridSearch implements retrieval.Backend.
func (m *MockBackend) HybridSearch(_ context.Context, q retrieval.Query) (*retrieval.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, SearchCall{Op: "hybrid", Query: q})
	i := m.hybridCalls
	m.hybridCalls++

	if i < len(m.HybridErrs) && m.HybridErrs[i] != nil {
		return nil, m.HybridErrs[i]
	}
	if i < len(m.HybridResponses) {
		return m.HybridResponses[i], nil
	}
	return &retrieval.SearchResult{}, nil
}

// VectorSearch implements retrieval.Backend.
func (m *MockBackend) VectorSearch(_ context.Context, q retrieval.Query) (*retrieval.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, SearchCall{Op: "vector", Query: q})
	if m.VectorErr != nil {
		return nil, m.VectorErr
	}
	if m.VectorResponse != nil {
		return m.VectorResponse, nil
	}
	return &retrieval.SearchResult{}, nil
}

// CallOps returns the operation names in invocation order.
func (m *MockBackend) CallOps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, 0, len(m.Calls))
	for _, c := range m.Calls {
		ops = append(ops, c.Op)
	}
	return ops
}

// MockAgent is a scriptable retrieval.AgentBackend.
type MockAgent struct {
	mu sync.Mutex

	Result *retrieval.AgentResult
	Err    error

	Calls int
}

// Invoke implements retrieval.AgentBackend.
func (m *MockAgent) Invoke(_ context.Context, _ []core.Message, opts retrieval.AgentOptions) (*retrieval.AgentResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result == nil {
		return &retrieval.AgentResult{CorrelationID: opts.CorrelationID}, nil
	}
	res := *m.Result
	if res.CorrelationID == "" {
		res.CorrelationID = opts.CorrelationID
	}
	return &res, nil
}

// CallCount returns how many times the agent was invoked.
func (m *MockAgent) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}

// MockFederated is a scriptable retrieval.FederatedBackend keyed by index.
type MockFederated struct {
	mu sync.Mutex

	Responses map[string]*retrieval.SearchResult
	Errs      map[string]error

	Calls []SearchCall
}

// SearchIndex implements retrieval.FederatedBackend.
func (m *MockFederated) SearchIndex(_ context.Context, index string, q retrieval.Query) (*retrieval.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, SearchCall{Op: index, Query: q})
	if err := m.Errs[index]; err != nil {
		return nil, err
	}
	if res := m.Responses[index]; res != nil {
		return res, nil
	}
	return &retrieval.SearchResult{}, nil
}

// MockSearcher is a scriptable websearch.Searcher.
type MockSearcher struct {
	Results []websearch.Result
	Err     error
}

// Search implements websearch.Searcher.
func (m *MockSearcher) Search(context.Context, string, int) ([]websearch.Result, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Results, nil
}

// MockStore is an in-memory orchestrator.Store.
type MockStore struct {
	mu sync.Mutex

	Features    map[uuid.UUID]map[string]bool
	Transcripts map[uuid.UUID][]core.Message
	Traces      []*orchestrator.SessionTrace

	LoadErr error
}

// NewMockStore creates an empty store.
func NewMockStore() *MockStore {
	return &MockStore{
		Features:    map[uuid.UUID]map[string]bool{},
		Transcripts: map[uuid.UUID][]core.Message{},
	}
}

// LoadFeatures implements orchestrator.Store.
func (m *MockStore) LoadFeatures(_ context.Context, sessionID uuid.UUID) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.Features[sessionID], nil
}

// SaveFeatures implements orchestrator.Store.
func (m *MockStore) SaveFeatures(_ context.Context, sessionID uuid.UUID, overrides map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := m.Features[sessionID]
	if saved == nil {
		saved = map[string]bool{}
		m.Features[sessionID] = saved
	}
	for name, v := range overrides {
		saved[name] = v
	}
	return nil
}

// SaveTranscript implements orchestrator.Store.
func (m *MockStore) SaveTranscript(_ context.Context, sessionID uuid.UUID, messages []core.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Transcripts[sessionID] = messages
	return nil
}

// SaveTrace implements orchestrator.Store.
func (m *MockStore) SaveTrace(_ context.Context, trace *orchestrator.SessionTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Traces = append(m.Traces, trace)
	return nil
}

// TraceCount returns how many traces were saved.
func (m *MockStore) TraceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Traces)
}

// LastTrace returns the most recently saved trace, or nil.
func (m *MockStore) LastTrace() *orchestrator.SessionTrace {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Traces) == 0 {
		return nil
	}
	return m.Traces[len(m.Traces)-1]
}

// Transcript returns the saved transcript for a session.
func (m *MockStore) Transcript(sessionID uuid.UUID) []core.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Transcripts[sessionID]
}

// FeatureSet returns the saved feature overrides for a session.
func (m *MockStore) FeatureSet(sessionID uuid.UUID) map[string]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Features[sessionID]
}

// RecordedEvent is one event captured by RecordingSink.
type RecordedEvent struct {
	Type    orchestrator.EventType
	Payload any
}

// RecordingSink captures emitted events in order.
type RecordingSink struct {
	mu     sync.Mutex
	Events []RecordedEvent
}

// Emit implements orchestrator.Sink.
func (s *RecordingSink) Emit(event orchestrator.EventType, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, RecordedEvent{Type: event, Payload: payload})
}

// Types returns the event types in emission order.
func (s *RecordingSink) Types() []orchestrator.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]orchestrator.EventType, 0, len(s.Events))
	for _, e := range s.Events {
		types = append(types, e.Type)
	}
	return types
}

// Count returns how many events of the given type were emitted.
func (s *RecordingSink) Count(event orchestrator.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.Events {
		if e.Type == event {
			n++
		}
	}
	return n
}
