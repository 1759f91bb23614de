package retrieval

import (
	"context"

	"github.com/finchlabs/finch/internal/core"
)

// SearchResult is what the managed search service returns for one query.
type SearchResult struct {
	References []Reference
	// Coverage is the backend's estimate (0..1) of how well the result set
	// covers the query. Used to detect thin result sets even above the
	// reranker threshold.
	Coverage float64
}

// Backend is the direct-search surface of the managed search service.
// Defined by the consumer; implemented by searchapi.Client and the local
// vector mirror.
type Backend interface {
	// HybridSearch combines vector, keyword, and semantic reranking.
	// Results below q.RerankerThreshold are dropped.
	HybridSearch(ctx context.Context, q Query) (*SearchResult, error)

	// VectorSearch is pure embedding similarity with no reranker dependency,
	// so it fails differently than hybrid search.
	VectorSearch(ctx context.Context, q Query) (*SearchResult, error)
}

// FederatedBackend searches one named index; the federated strategy fans a
// query out across all configured indexes.
type FederatedBackend interface {
	SearchIndex(ctx context.Context, index string, q Query) (*SearchResult, error)
}

// AgentOptions parameterize one knowledge-agent invocation.
type AgentOptions struct {
	Filter        string
	CorrelationID string
}

// AgentResult is the knowledge agent's synthesized grounding.
type AgentResult struct {
	References    []Reference
	Answer        string
	CorrelationID string
	RequestID     string
}

// AgentBackend invokes the managed agentic-retrieval endpoint, which performs
// internal query decomposition over the recent conversation.
type AgentBackend interface {
	Invoke(ctx context.Context, messages []core.Message, opts AgentOptions) (*AgentResult, error)
}

// Strategy is one interchangeable evidence source. Every implementation
// converges to the uniform Outcome shape.
type Strategy interface {
	Kind() Kind
	Retrieve(ctx context.Context, q Query) (*Outcome, error)
}
