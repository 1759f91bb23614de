// Package orchestrator implements runSession: the top-level state machine
// that sequences intent planning, retrieval with fallback, answer synthesis,
// and the critic revision loop, identically for synchronous and streaming
// callers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/critic"
	"github.com/finchlabs/finch/internal/feature"
	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/planner"
	"github.com/finchlabs/finch/internal/retrieval"
	"github.com/finchlabs/finch/internal/synth"
	"github.com/finchlabs/finch/internal/websearch"
)

// persistTimeout bounds fire-and-forget persistence writes detached from the
// request context.
const persistTimeout = 5 * time.Second

// Store is the session persistence seam. All calls are fire-and-forget from
// the orchestrator's perspective: a response is never blocked on persistence.
type Store interface {
	LoadFeatures(ctx context.Context, sessionID uuid.UUID) (map[string]bool, error)
	SaveFeatures(ctx context.Context, sessionID uuid.UUID, overrides map[string]bool) error
	SaveTranscript(ctx context.Context, sessionID uuid.UUID, messages []core.Message) error
	SaveTrace(ctx context.Context, trace *SessionTrace) error
}

// Config tunes the orchestrator.
type Config struct {
	// Retrieval ladder tuning.
	MinDocs           int
	Top               int
	RerankerThreshold float64
	FallbackThreshold float64
	CoverageFloor     float64
	AgentMaxTurns     int
	Filter            string
	FederatedIndexes  []string

	// Critic loop bound: at most CriticMaxRetries+1 synthesis attempts.
	CriticMaxRetries int

	// StoreResponses gates previous_response_id chaining between revision
	// passes. Mirrors the completion client's setting.
	StoreResponses bool

	// MaxHistoryTokens is the conversation context budget.
	MaxHistoryTokens int

	// WebSearchCount is how many open-web results to request.
	WebSearchCount int

	// FeatureDefaults is the lowest tier of feature resolution.
	FeatureDefaults map[string]bool
}

// Request is one runSession invocation.
type Request struct {
	Messages  []core.Message
	SessionID uuid.UUID

	// FeatureOverrides is the per-request (highest) override tier.
	FeatureOverrides map[string]bool

	// PersistedFeatures is the per-session middle tier. When nil and a store
	// is configured, the orchestrator loads it.
	PersistedFeatures map[string]bool

	// Sink receives live events. Nil means sync mode (no-op sink).
	Sink Sink
}

// Orchestrator coordinates one session at a time per request. Safe for
// concurrent use: all per-request state lives in the request's trace.
type Orchestrator struct {
	planner     *planner.Planner
	synthesizer *synth.Synthesizer
	reviewer    *critic.Critic

	backend   retrieval.Backend
	agent     retrieval.AgentBackend     // nil disables the agent path
	federated retrieval.FederatedBackend // nil disables federated search
	safetyNet retrieval.Backend          // last-resort vector backend; nil falls back to backend
	web       websearch.Searcher         // nil disables web search

	store  Store // nil disables persistence
	cfg    Config
	logger log.Logger
}

// New creates the orchestrator.
func New(
	p *planner.Planner,
	s *synth.Synthesizer,
	c *critic.Critic,
	backend retrieval.Backend,
	agent retrieval.AgentBackend,
	federated retrieval.FederatedBackend,
	safetyNet retrieval.Backend,
	web websearch.Searcher,
	store Store,
	cfg Config,
	logger log.Logger,
) (*Orchestrator, error) {
	if p == nil || s == nil {
		return nil, errors.New("planner and synthesizer are required")
	}
	if backend == nil {
		return nil, errors.New("search backend is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.MinDocs <= 0 {
		cfg.MinDocs = 3
	}
	if cfg.Top <= 0 {
		cfg.Top = 5
	}
	if safetyNet == nil {
		safetyNet = backend
	}

	return &Orchestrator{
		planner:     p,
		synthesizer: s,
		reviewer:    c,
		backend:     backend,
		agent:       agent,
		federated:   federated,
		safetyNet:   safetyNet,
		web:         web,
		store:       store,
		cfg:         cfg,
		logger:      logger,
	}, nil
}

// Run executes one session. The caller's context cancellation propagates into
// every outbound call, so a disconnect aborts in-flight work promptly.
//
// Quality failures (no evidence, failed citation validation) still return a
// well-formed Result; only a synthesis failure is fatal, and even then the
// trace is finalized before the error is returned.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	sink := req.Sink
	if sink == nil {
		sink = NopSink{}
	}
	trace := newTrace(req.SessionID)
	emit := func(event EventType, payload any) {
		trace.Events = append(trace.Events, string(event))
		sink.Emit(event, payload)
	}

	// routing: resolve the effective feature set and the context budget.
	emit(EventState, StatePayload{State: StateRouting})
	features := o.resolveFeatures(ctx, req)
	trace.Features = features.Map()

	history, budget := core.TruncateHistory(req.Messages, o.cfg.MaxHistoryTokens)
	trace.Budget = budget

	// planning
	emit(EventState, StatePayload{State: StatePlanning})
	plan := o.planner.Decide(ctx, history)
	trace.Plan = plan
	emit(EventPlan, plan)

	question, _ := core.LastUser(history)

	// dispatching
	emit(EventState, StatePayload{State: StateDispatching})
	outcome, webResults := o.dispatch(ctx, history, question, plan, features)
	trace.Retrieval = RetrievalMeta{
		FallbackTriggered: outcome.FallbackTriggered,
		FallbackAttempts:  outcome.FallbackAttempts,
		ReferenceCount:    len(outcome.References),
		WebResultCount:    len(webResults),
		Diagnostics:       outcome.Diagnostics,
	}
	emit(EventRetrieval, trace.Retrieval)

	// synthesizing + critiquing: bounded revision loop.
	result, err := o.synthesizeLoop(ctx, question, outcome, features, trace, emit)
	if err != nil {
		// Fatal: finalize the trace so failed sessions stay observable. The
		// terminal event must be recorded before the trace is handed to the
		// persistence goroutine; nothing may write to it after that.
		trace.finalize(err)
		emit(EventError, ErrorPayload{Message: err.Error()})
		o.persistTrace(trace)
		return nil, err
	}

	// finalizing
	emit(EventState, StatePayload{State: StateFinalizing})
	result.Activity = outcome.Activity
	result.Metadata.Plan = plan
	result.Metadata.Retrieval = trace.Retrieval
	result.Metadata.Budget = budget
	result.Metadata.Features = features.Map()

	trace.finalize(nil)
	emit(EventDone, result)

	// The trace is quiescent from here on; the persistence goroutine is the
	// only remaining reader.
	o.persist(req, result, trace)
	return result, nil
}

// resolveFeatures merges the three override tiers, loading the persisted tier
// when the caller did not supply it. Persistence failures degrade to defaults.
func (o *Orchestrator) resolveFeatures(ctx context.Context, req Request) *feature.Resolution {
	persisted := req.PersistedFeatures
	if persisted == nil && o.store != nil && req.SessionID != uuid.Nil {
		loaded, err := o.store.LoadFeatures(ctx, req.SessionID)
		if err != nil {
			o.logger.Warn("loading persisted features failed, using defaults",
				"session_id", req.SessionID, "error", err)
		} else {
			persisted = loaded
		}
	}
	return feature.Resolve(o.cfg.FeatureDefaults, persisted, req.FeatureOverrides)
}

// dispatch runs the retrieval side of the plan. It never fails the request:
// an empty outcome is a quality signal for the critic, not an error.
func (o *Orchestrator) dispatch(
	ctx context.Context,
	history []core.Message,
	question string,
	plan planner.Plan,
	features *feature.Resolution,
) (*retrieval.Outcome, []websearch.Result) {
	empty := &retrieval.Outcome{References: []retrieval.Reference{}}
	if question == "" || plan.Action == planner.ActionAnswer {
		return empty, nil
	}

	webEnabled := features.Enabled(feature.WebSearch) && o.web != nil
	wantWeb := plan.Action == planner.ActionWebSearch
	wantKB := plan.Action == planner.ActionRetrieve

	// Low plan confidence means the planner is unsure which source is
	// authoritative: run both and merge instead of choosing.
	if o.planner.DualRetrieval(plan) && webEnabled && wantKB {
		wantWeb = true
	}
	if wantWeb && !webEnabled {
		wantWeb = false
		wantKB = true // degrade to knowledge base rather than retrieving nothing
	}

	var (
		outcome    *retrieval.Outcome
		webResults []websearch.Result
	)

	g, gctx := errgroup.WithContext(ctx)
	if wantKB {
		g.Go(func() error {
			outcome = o.retrieveKB(gctx, history, question, features)
			return nil
		})
	}
	if wantWeb {
		g.Go(func() error {
			results, err := o.web.Search(gctx, question, o.cfg.WebSearchCount)
			if err != nil {
				o.logger.Warn("web search failed", "error", err)
				return nil
			}
			webResults = results
			return nil
		})
	}
	_ = g.Wait() // goroutines above never return errors

	if outcome == nil {
		outcome = empty
	}
	if len(webResults) > 0 {
		// Web evidence augments the final outcome but never re-enters the
		// fallback ladder: it cannot stand in for knowledge-base grounding.
		outcome.References = retrieval.Merge(outcome.References, websearch.ToReferences(webResults))
		outcome.AddStep("web_search", fmt.Sprintf("web search returned %d results", len(webResults)))
	}

	outcome.Normalize()
	return outcome, webResults
}

// retrieveKB runs the knowledge-base side: optional federated first attempt,
// optional knowledge agent, then the fallback ladder, and finally the single
// vector safety net when the whole ladder throws.
func (o *Orchestrator) retrieveKB(
	ctx context.Context,
	history []core.Message,
	question string,
	features *feature.Resolution,
) *retrieval.Outcome {
	var prior *retrieval.Outcome

	// Federated fan-out is a cheap first attempt, independent of the ladder.
	if features.Enabled(feature.Federated) && o.federated != nil && len(o.cfg.FederatedIndexes) > 0 {
		fed := retrieval.NewFederatedStrategy(o.federated, o.cfg.FederatedIndexes, o.logger)
		out, err := fed.Retrieve(ctx, retrieval.Query{
			Text:              question,
			Top:               o.cfg.Top,
			Filter:            o.cfg.Filter,
			RerankerThreshold: o.cfg.RerankerThreshold,
		})
		switch {
		case err != nil:
			o.logger.Warn("federated search failed", "error", err)
		case len(out.References) >= o.cfg.MinDocs:
			out.Normalize()
			return out
		default:
			prior = out
		}
	}

	// Knowledge agent as the preferred strategy.
	if features.Enabled(feature.KnowledgeAgent) && o.agent != nil {
		agentStrat := retrieval.NewAgentStrategy(
			o.agent, history, o.cfg.AgentMaxTurns, o.cfg.MinDocs, o.cfg.Filter, o.logger)
		out, err := agentStrat.Retrieve(ctx, retrieval.Query{})
		switch {
		case err != nil:
			// Structural failure: straight to the direct-search ladder. The
			// step records the degradation for the activity trail.
			failed := &retrieval.Outcome{}
			failed.AddStep("knowledge_agent_fallback",
				fmt.Sprintf("knowledge agent failed, falling back to direct search: %v", err))
			failed.Diagnostics = retrieval.Diagnostics{
				Strategy:     retrieval.KindAgent.String(),
				FailurePhase: retrieval.FailurePhaseInvocation,
				AgentSkipped: true,
			}
			failed.FallbackTriggered = true
			prior = mergePrior(prior, failed)
		case len(out.References) >= o.cfg.MinDocs && prior == nil:
			out.Normalize()
			return out
		default:
			prior = mergePrior(prior, out)
			if len(prior.References) >= o.cfg.MinDocs {
				prior.Normalize()
				return prior
			}
		}
	}

	hybrid := retrieval.NewHybridStrategy(o.backend, o.cfg.CoverageFloor, o.logger)
	vector := retrieval.NewVectorStrategy(o.backend, o.logger)
	pipe := retrieval.NewPipeline(hybrid, vector, retrieval.PipelineConfig{
		MinDocs:           o.cfg.MinDocs,
		Top:               o.cfg.Top,
		RerankerThreshold: o.cfg.RerankerThreshold,
		FallbackThreshold: o.cfg.FallbackThreshold,
	}, o.logger)

	out, err := pipe.Run(ctx, question, o.cfg.Filter, prior)
	if err == nil {
		return out
	}

	// Ultimate safety net: exactly one direct vector attempt against the
	// mirror backend. Fewer than MinDocs results, even zero, is acceptable
	// here; it is a quality signal, never a fatal error.
	o.logger.Warn("fallback pipeline exhausted, trying vector safety net", "error", err)
	safety := retrieval.NewVectorStrategy(o.safetyNet, o.logger)
	netOut, netErr := safety.Retrieve(ctx, retrieval.Query{
		Text: question,
		Top:  o.cfg.Top,
	})
	if netErr != nil {
		o.logger.Error("vector safety net failed", "error", netErr)
		degraded := &retrieval.Outcome{FallbackTriggered: true}
		degraded.AddStep("fallback_search_error",
			fmt.Sprintf("all retrieval paths failed: %v", netErr))
		degraded.Normalize()
		return degraded
	}
	netOut.FallbackTriggered = true
	netOut.FallbackAttempts++
	netOut.AddStep("fallback_search", fmt.Sprintf(
		"vector safety net returned %d results", len(netOut.References)))
	netOut.Normalize()
	return netOut
}

// mergePrior folds a later partial outcome into the accumulated prior,
// keeping earlier references first.
func mergePrior(prior, next *retrieval.Outcome) *retrieval.Outcome {
	if prior == nil {
		return next
	}
	prior.References = retrieval.Merge(prior.References, next.References)
	prior.Activity = append(prior.Activity, next.Activity...)
	prior.FallbackTriggered = prior.FallbackTriggered || next.FallbackTriggered
	prior.FallbackAttempts += next.FallbackAttempts
	if next.Diagnostics.FailurePhase != "" {
		prior.Diagnostics.FailurePhase = next.Diagnostics.FailurePhase
	}
	if next.Diagnostics.CorrelationID != "" {
		prior.Diagnostics.CorrelationID = next.Diagnostics.CorrelationID
	}
	if prior.Diagnostics.Strategy == "" {
		prior.Diagnostics.Strategy = next.Diagnostics.Strategy
	}
	prior.Diagnostics.AgentSkipped = prior.Diagnostics.AgentSkipped || next.Diagnostics.AgentSkipped
	return prior
}

// synthesizeLoop is the bounded draft/critique/revise loop: at most
// CriticMaxRetries+1 synthesis attempts regardless of the final verdict.
func (o *Orchestrator) synthesizeLoop(
	ctx context.Context,
	question string,
	outcome *retrieval.Outcome,
	features *feature.Resolution,
	trace *SessionTrace,
	emit func(EventType, any),
) (*Result, error) {
	var (
		revisionNotes []string
		prevID        string
		draft         *synth.Draft
		attempts      int
	)

	criticEnabled := features.Enabled(feature.Critic) && o.reviewer != nil

	for i := 0; i <= o.cfg.CriticMaxRetries; i++ {
		emit(EventState, StatePayload{State: StateSynthesizing})

		d, err := o.synthesizer.Synthesize(ctx, synth.Request{
			Question:           question,
			References:         outcome.References,
			RevisionNotes:      revisionNotes,
			PreviousResponseID: prevID,
		})
		if err != nil {
			return nil, fmt.Errorf("synthesis attempt %d: %w", i+1, err)
		}
		draft = d
		attempts++

		emitChunks(emit, d.Answer, i)

		if !criticEnabled {
			break
		}

		emit(EventState, StatePayload{State: StateCritiquing})
		cr := o.reviewer.Review(ctx, d.Answer, question, outcome.References)
		trace.Critiques = append(trace.Critiques, cr)
		emit(EventCritique, cr)

		if cr.Action == critic.VerdictAccept {
			break
		}

		revisionNotes = cr.Suggestions
		if len(revisionNotes) == 0 {
			revisionNotes = []string{cr.Reasoning}
		}
		// Chain onto the stored draft only when upstream persistence is on;
		// the API rejects previous_response_id otherwise.
		if o.cfg.StoreResponses {
			prevID = d.ResponseID
		}
	}

	return &Result{
		Answer:    draft.Answer,
		Citations: draft.Citations,
		Metadata: Metadata{
			Critiques:         trace.Critiques,
			SynthesisAttempts: attempts,
		},
	}, nil
}

// chunkSize is the streamed answer delta size in runes.
const chunkSize = 48

// emitChunks streams the draft answer as deltas. They always follow the
// plan/retrieval events of the same attempt because emission is synchronous
// and ordered.
func emitChunks(emit func(EventType, any), answer string, attempt int) {
	runes := []rune(answer)
	for start := 0; start < len(runes); start += chunkSize {
		end := min(start+chunkSize, len(runes))
		emit(EventChunk, ChunkPayload{Text: string(runes[start:end]), Attempt: attempt})
	}
}

// persist saves the transcript, features, and trace without blocking the
// response. Failures are logged, never surfaced.
func (o *Orchestrator) persist(req Request, result *Result, trace *SessionTrace) {
	if o.store == nil || req.SessionID == uuid.Nil {
		return
	}

	transcript := make([]core.Message, 0, len(req.Messages)+1)
	transcript = append(transcript, req.Messages...)
	transcript = append(transcript, core.AssistantMessage(result.Answer))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()

		if err := o.store.SaveTranscript(ctx, req.SessionID, transcript); err != nil {
			o.logger.Warn("saving transcript failed", "session_id", req.SessionID, "error", err)
		}
		if len(req.FeatureOverrides) > 0 {
			if err := o.store.SaveFeatures(ctx, req.SessionID, req.FeatureOverrides); err != nil {
				o.logger.Warn("saving features failed", "session_id", req.SessionID, "error", err)
			}
		}
		if err := o.store.SaveTrace(ctx, trace); err != nil {
			o.logger.Warn("saving trace failed", "session_id", req.SessionID, "error", err)
		}
	}()
}

// persistTrace records a failed session without blocking the error path.
func (o *Orchestrator) persistTrace(trace *SessionTrace) {
	if o.store == nil || trace.SessionID == uuid.Nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := o.store.SaveTrace(ctx, trace); err != nil {
			o.logger.Warn("saving failed-session trace failed", "error", err)
		}
	}()
}
