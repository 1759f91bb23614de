package retrieval

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/finchlabs/finch/internal/log"
)

// FederatedStrategy fans one query out to multiple indexes concurrently and
// merges the results. It is a cheap first attempt when enabled and sits
// outside the fallback ladder.
type FederatedStrategy struct {
	backend FederatedBackend
	indexes []string
	logger  log.Logger
}

// NewFederatedStrategy creates the federated strategy over the given indexes.
func NewFederatedStrategy(backend FederatedBackend, indexes []string, logger log.Logger) *FederatedStrategy {
	return &FederatedStrategy{backend: backend, indexes: indexes, logger: logger}
}

// Kind returns KindFederated.
func (s *FederatedStrategy) Kind() Kind { return KindFederated }

// Retrieve queries every configured index concurrently. Per-index failures
// are logged and tolerated as long as at least one index responds; merge
// order follows index configuration order so results stay deterministic.
func (s *FederatedStrategy) Retrieve(ctx context.Context, q Query) (*Outcome, error) {
	if len(s.indexes) == 0 {
		return nil, fmt.Errorf("federated search: no indexes configured")
	}

	perIndex := make([][]Reference, len(s.indexes))
	var mu sync.Mutex
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for i, index := range s.indexes {
		g.Go(func() error {
			result, err := s.backend.SearchIndex(gctx, index, q)
			if err != nil {
				s.logger.Warn("federated index search failed", "index", index, "error", err)
				mu.Lock()
				failures++
				mu.Unlock()
				return nil // tolerate partial fan-out failure
			}
			mu.Lock()
			perIndex[i] = result.References
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("federated search: %w", err)
	}
	if failures == len(s.indexes) {
		return nil, fmt.Errorf("federated search: all %d indexes failed", len(s.indexes))
	}

	merged := Merge(perIndex...)
	if q.Top > 0 && len(merged) > q.Top {
		merged = merged[:q.Top]
	}

	out := &Outcome{
		References:  merged,
		Diagnostics: Diagnostics{Strategy: KindFederated.String()},
	}
	out.AddStep("federated_search", fmt.Sprintf(
		"federated search over %d indexes returned %d results (%d indexes failed)",
		len(s.indexes), len(merged), failures))
	return out, nil
}
