package retrieval

import (
	"context"
	"fmt"

	"github.com/finchlabs/finch/internal/log"
)

// thresholdFloor is the near-zero reranker threshold used by the
// recall-maximizing ladder stage.
const thresholdFloor = 0.01

// PipelineConfig tunes the fallback ladder.
type PipelineConfig struct {
	MinDocs           int
	Top               int
	RerankerThreshold float64
	FallbackThreshold float64
}

// Pipeline is the retrieval degradation ladder. Given an initial strategy's
// output it retries with progressively relaxed parameters and finally
// escalates to pure vector search, guaranteeing the caller at least MinDocs
// references if any stage can produce them.
//
// Stage order is strict, and each stage only runs when the previous one
// yielded fewer than MinDocs references:
//  1. laddered strategy at the configured reranker threshold
//  2. same strategy at the relaxed fallback threshold
//  3. same strategy, threshold floored near zero, top doubled
//  4. pure vector search at the original top
type Pipeline struct {
	ladder     Strategy // threshold-aware strategy (hybrid search)
	lastResort Strategy // vector search, no reranker dependency
	cfg        PipelineConfig
	logger     log.Logger
}

// NewPipeline creates the fallback pipeline.
func NewPipeline(ladder, lastResort Strategy, cfg PipelineConfig, logger log.Logger) *Pipeline {
	return &Pipeline{ladder: ladder, lastResort: lastResort, cfg: cfg, logger: logger}
}

// stage is one rung of the ladder.
type stage struct {
	strategy  Strategy
	threshold float64
	top       int
	label     string
}

// Run executes the ladder for the query.
//
// prior carries the preferred strategy's partial outcome (normally the
// knowledge agent's): its references are merged with, not discarded by, later
// stages, its activity and diagnostics are preserved, and every ladder stage
// then counts as a fallback attempt. With a nil prior the first stage is the
// primary attempt and does not count.
//
// A stage error is itself a degradation signal: it is recorded and the ladder
// moves on. Run only returns an error when every stage failed and no
// references were gathered at all; the outer caller then performs exactly
// one direct vector-search attempt as the ultimate safety net.
func (p *Pipeline) Run(ctx context.Context, text, filter string, prior *Outcome) (*Outcome, error) {
	out := &Outcome{}
	if prior != nil {
		out.References = append(out.References, prior.References...)
		out.Activity = append(out.Activity, prior.Activity...)
		out.Diagnostics = prior.Diagnostics
		out.SummaryAnswer = prior.SummaryAnswer
	}

	if len(out.References) >= p.cfg.MinDocs {
		out.Normalize()
		return out, nil
	}

	stages := []stage{
		{p.ladder, p.cfg.RerankerThreshold, p.cfg.Top, "configured threshold"},
		{p.ladder, p.cfg.FallbackThreshold, p.cfg.Top, "lowered threshold"},
		{p.ladder, thresholdFloor, p.cfg.Top * 2, "threshold floor, expanded top"},
		{p.lastResort, 0, p.cfg.Top, "vector last resort"},
	}

	var lastErr error
	succeeded := false

	for i, st := range stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fallback pipeline canceled: %w", err)
		}

		// With a prior partial outcome the whole ladder is already fallback
		// territory; otherwise the first stage is the primary attempt.
		isFallback := prior != nil || i > 0

		q := Query{
			Text:              text,
			Top:               st.top,
			Filter:            filter,
			RerankerThreshold: st.threshold,
		}

		stageOut, err := st.strategy.Retrieve(ctx, q)
		if err != nil {
			lastErr = err
			p.logger.Warn("fallback stage failed",
				"stage", i+1,
				"strategy", st.strategy.Kind().String(),
				"error", err)
			if isFallback {
				out.FallbackTriggered = true
				out.FallbackAttempts++
			}
			out.AddStep("fallback_search_error", fmt.Sprintf(
				"stage %d (%s, %s) failed: %v", i+1, st.strategy.Kind(), st.label, err))
			continue
		}

		succeeded = true
		before := len(out.References)
		out.References = Merge(out.References, stageOut.References)

		stepType := "primary_search"
		if isFallback {
			stepType = "fallback_search"
			out.FallbackTriggered = true
			out.FallbackAttempts++
		}
		out.AddStep(stepType, fmt.Sprintf(
			"stage %d (%s, %s) returned %d results (%d new, %d total)",
			i+1, st.strategy.Kind(), st.label,
			len(stageOut.References), len(out.References)-before, len(out.References)))

		if out.Diagnostics.Strategy == "" {
			out.Diagnostics.Strategy = stageOut.Diagnostics.Strategy
		}
		if stageOut.Diagnostics.Coverage > 0 {
			out.Diagnostics.Coverage = stageOut.Diagnostics.Coverage
		}

		if len(out.References) >= p.cfg.MinDocs {
			break
		}
	}

	if !succeeded && len(out.References) == 0 {
		return nil, fmt.Errorf("fallback pipeline exhausted: %w", lastErr)
	}

	out.Normalize()
	return out, nil
}
