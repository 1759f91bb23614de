package retrieval

import (
	"context"
	"fmt"

	"github.com/finchlabs/finch/internal/log"
)

// HybridStrategy retrieves evidence through the managed hybrid search path:
// vector similarity + keyword + semantic reranker.
type HybridStrategy struct {
	backend Backend
	// coverageFloor marks the result set as thin even when every reference
	// cleared the reranker threshold.
	coverageFloor float64
	logger        log.Logger
}

// NewHybridStrategy creates the hybrid search strategy.
func NewHybridStrategy(backend Backend, coverageFloor float64, logger log.Logger) *HybridStrategy {
	return &HybridStrategy{backend: backend, coverageFloor: coverageFloor, logger: logger}
}

// Kind returns KindHybrid.
func (s *HybridStrategy) Kind() Kind { return KindHybrid }

// Retrieve runs one hybrid search and converts the result to an Outcome.
// References below the reranker threshold are dropped even if the backend
// returned them.
func (s *HybridStrategy) Retrieve(ctx context.Context, q Query) (*Outcome, error) {
	result, err := s.backend.HybridSearch(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("hybrid search: %w", err)
	}

	refs := make([]Reference, 0, len(result.References))
	dropped := 0
	for _, ref := range result.References {
		if q.RerankerThreshold > 0 && ref.Score < q.RerankerThreshold {
			dropped++
			continue
		}
		refs = append(refs, ref)
	}

	out := &Outcome{
		References: refs,
		Diagnostics: Diagnostics{
			Strategy: KindHybrid.String(),
			Coverage: result.Coverage,
		},
	}
	out.AddStep("hybrid_search", fmt.Sprintf(
		"hybrid search returned %d results (%d below threshold %.2f, coverage %.2f)",
		len(refs), dropped, q.RerankerThreshold, result.Coverage))

	if result.Coverage > 0 && result.Coverage < s.coverageFloor {
		s.logger.Debug("thin hybrid result set",
			"coverage", result.Coverage,
			"floor", s.coverageFloor,
			"results", len(refs))
	}

	return out, nil
}
