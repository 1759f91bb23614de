package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/finchlabs/finch/internal/log"
)

type fakeFederatedBackend struct {
	mu        sync.Mutex
	responses map[string]*SearchResult
	errs      map[string]error
	calls     []string
}

func (f *fakeFederatedBackend) SearchIndex(_ context.Context, index string, _ Query) (*SearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, index)
	f.mu.Unlock()

	if err := f.errs[index]; err != nil {
		return nil, err
	}
	if res := f.responses[index]; res != nil {
		return res, nil
	}
	return &SearchResult{}, nil
}

func TestFederatedStrategyMergesInConfigOrder(t *testing.T) {
	backend := &fakeFederatedBackend{
		responses: map[string]*SearchResult{
			"idx-a": {References: []Reference{{ID: "a-1"}, {ID: "shared"}}},
			"idx-b": {References: []Reference{{ID: "shared"}, {ID: "b-1"}}},
		},
	}
	strat := NewFederatedStrategy(backend, []string{"idx-a", "idx-b"}, log.NewNop())

	out, err := strat.Retrieve(context.Background(), Query{Text: "q", Top: 10})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}

	wantIDs := []string{"a-1", "shared", "b-1"}
	if len(out.References) != len(wantIDs) {
		t.Fatalf("got %d references, want %d", len(out.References), len(wantIDs))
	}
	for i, want := range wantIDs {
		if out.References[i].ID != want {
			t.Errorf("References[%d].ID = %q, want %q (config order, deduplicated)",
				i, out.References[i].ID, want)
		}
	}
}

func TestFederatedStrategyToleratesPartialFailure(t *testing.T) {
	backend := &fakeFederatedBackend{
		responses: map[string]*SearchResult{
			"idx-a": {References: []Reference{{ID: "a-1"}}},
		},
		errs: map[string]error{"idx-b": errors.New("index unreachable")},
	}
	strat := NewFederatedStrategy(backend, []string{"idx-a", "idx-b"}, log.NewNop())

	out, err := strat.Retrieve(context.Background(), Query{Text: "q"})
	if err != nil {
		t.Fatalf("Retrieve() error = %v, want partial success", err)
	}
	if len(out.References) != 1 {
		t.Errorf("got %d references, want 1", len(out.References))
	}
}

func TestFederatedStrategyAllIndexesFailed(t *testing.T) {
	down := errors.New("index unreachable")
	backend := &fakeFederatedBackend{errs: map[string]error{"idx-a": down, "idx-b": down}}
	strat := NewFederatedStrategy(backend, []string{"idx-a", "idx-b"}, log.NewNop())

	if _, err := strat.Retrieve(context.Background(), Query{Text: "q"}); err == nil {
		t.Error("Retrieve() error = nil, want error when every index failed")
	}
}

func TestFederatedStrategyTruncatesToTop(t *testing.T) {
	backend := &fakeFederatedBackend{
		responses: map[string]*SearchResult{
			"idx-a": {References: refsN("a", 4)},
		},
	}
	strat := NewFederatedStrategy(backend, []string{"idx-a"}, log.NewNop())

	out, err := strat.Retrieve(context.Background(), Query{Text: "q", Top: 2})
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if len(out.References) != 2 {
		t.Errorf("got %d references, want 2 (truncated to top)", len(out.References))
	}
}

func TestFederatedStrategyNoIndexes(t *testing.T) {
	strat := NewFederatedStrategy(&fakeFederatedBackend{}, nil, log.NewNop())
	if _, err := strat.Retrieve(context.Background(), Query{Text: "q"}); err == nil {
		t.Error("Retrieve() error = nil, want error without configured indexes")
	}
}
