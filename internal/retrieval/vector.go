package retrieval

import (
	"context"
	"fmt"

	"github.com/finchlabs/finch/internal/log"
)

// VectorStrategy is pure embedding similarity. It is the last rung of the
// fallback ladder because it has no reranker dependency and therefore fails
// independently of hybrid search.
type VectorStrategy struct {
	backend Backend
	logger  log.Logger
}

// NewVectorStrategy creates the vector-only strategy.
func NewVectorStrategy(backend Backend, logger log.Logger) *VectorStrategy {
	return &VectorStrategy{backend: backend, logger: logger}
}

// Kind returns KindVector.
func (s *VectorStrategy) Kind() Kind { return KindVector }

// Retrieve runs one vector search. The reranker threshold in q is ignored.
func (s *VectorStrategy) Retrieve(ctx context.Context, q Query) (*Outcome, error) {
	result, err := s.backend.VectorSearch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := &Outcome{
		References:  result.References,
		Diagnostics: Diagnostics{Strategy: KindVector.String()},
	}
	out.AddStep("vector_search", fmt.Sprintf("vector search returned %d results", len(result.References)))
	return out, nil
}
