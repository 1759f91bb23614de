package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/critic"
	"github.com/finchlabs/finch/internal/feature"
	"github.com/finchlabs/finch/internal/llm"
	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/orchestrator"
	"github.com/finchlabs/finch/internal/planner"
	"github.com/finchlabs/finch/internal/retrieval"
	"github.com/finchlabs/finch/internal/synth"
	"github.com/finchlabs/finch/internal/testutil"
	"github.com/finchlabs/finch/internal/websearch"
)

// Persistence is fire-and-forget; every test that configures a store must
// wait for it before returning so no goroutine outlives its test.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	question   = "what is the return policy"
	answerText = "The policy allows returns within 30 days [1]."

	planRetrieve = `{"action":"retrieve","reasoning":"needs grounding","confidence":0.9}`
	planAnswer   = `{"action":"answer","reasoning":"conversational turn","confidence":0.9}`
	planUnsure   = `{"action":"retrieve","reasoning":"unclear source","confidence":0.3}`

	criticAccept = `{"score":0.95,"reasoning":"well grounded","action":"accept"}`
	criticRevise = `{"score":0.2,"reasoning":"weak grounding","action":"revise","suggestions":["add citations"]}`
)

// newMock scripts the three completion roles sharing one client. The critic
// prompt is the only one carrying a draft, and the synthesis prompt is the
// only remaining one carrying a sources-then-question block; everything else
// is the intent classifier.
func newMock(plan, critique string) *testutil.MockLLM {
	m := testutil.NewMockLLM(plan)
	m.Respond("Draft answer:", critique)
	m.Respond("Question: ", answerText)
	return m
}

type deps struct {
	mock      *testutil.MockLLM
	backend   *testutil.MockBackend
	agent     retrieval.AgentBackend
	federated retrieval.FederatedBackend
	safetyNet retrieval.Backend
	web       websearch.Searcher
	store     orchestrator.Store
	cfg       orchestrator.Config
}

func newOrchestrator(t *testing.T, d deps) *orchestrator.Orchestrator {
	t.Helper()
	nop := log.NewNop()

	p := planner.New(d.mock, planner.Config{UseLLM: true, DualRetrievalThreshold: 0.5}, nop)
	s, err := synth.New(d.mock, 0.3, 512, nop)
	if err != nil {
		t.Fatalf("synth.New() error = %v", err)
	}
	c, err := critic.New(d.mock, critic.Config{AcceptThreshold: 0.8}, nop)
	if err != nil {
		t.Fatalf("critic.New() error = %v", err)
	}

	if d.cfg.FeatureDefaults == nil {
		d.cfg.FeatureDefaults = map[string]bool{feature.Critic: true}
	}
	o, err := orchestrator.New(p, s, c,
		d.backend, d.agent, d.federated, d.safetyNet, d.web, d.store, d.cfg, nop)
	if err != nil {
		t.Fatalf("orchestrator.New() error = %v", err)
	}
	return o
}

func primaryBackend(refs int) *testutil.MockBackend {
	return &testutil.MockBackend{
		HybridResponses: []*retrieval.SearchResult{
			{References: testutil.Refs(refs, 2.5), Coverage: 0.9},
		},
	}
}

func userTurn(text string) []core.Message {
	return []core.Message{core.UserMessage(text)}
}

// synthRequests filters the completion calls down to synthesis attempts: the
// synthesis prompt names the question but never embeds a draft for review.
func synthRequests(m *testutil.MockLLM) []llm.Request {
	var out []llm.Request
	for _, req := range m.Requests {
		prompt := ""
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == core.RoleUser {
				prompt = req.Messages[i].Content
				break
			}
		}
		if strings.Contains(prompt, "Question: ") && !strings.Contains(prompt, "Draft answer:") {
			out = append(out, req)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRunEventOrdering(t *testing.T) {
	sink := &testutil.RecordingSink{}
	o := newOrchestrator(t, deps{
		mock:    newMock(planRetrieve, criticAccept),
		backend: primaryBackend(3),
		cfg:     orchestrator.Config{CriticMaxRetries: 2},
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages: userTurn(question),
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantTypes := []orchestrator.EventType{
		orchestrator.EventState, // routing
		orchestrator.EventState, // planning
		orchestrator.EventPlan,
		orchestrator.EventState, // dispatching
		orchestrator.EventRetrieval,
		orchestrator.EventState, // synthesizing
		orchestrator.EventChunk,
		orchestrator.EventState, // critiquing
		orchestrator.EventCritique,
		orchestrator.EventState, // finalizing
		orchestrator.EventDone,
	}
	if got := sink.Types(); !slices.Equal(got, wantTypes) {
		t.Errorf("event sequence = %v, want %v", got, wantTypes)
	}

	wantStates := []orchestrator.State{
		orchestrator.StateRouting,
		orchestrator.StatePlanning,
		orchestrator.StateDispatching,
		orchestrator.StateSynthesizing,
		orchestrator.StateCritiquing,
		orchestrator.StateFinalizing,
	}
	var gotStates []orchestrator.State
	for _, e := range sink.Events {
		if e.Type == orchestrator.EventState {
			gotStates = append(gotStates, e.Payload.(orchestrator.StatePayload).State)
		}
	}
	if !slices.Equal(gotStates, wantStates) {
		t.Errorf("state sequence = %v, want %v", gotStates, wantStates)
	}

	if result.Answer != answerText {
		t.Errorf("Answer = %q, want %q", result.Answer, answerText)
	}
	if len(result.Citations) != 3 {
		t.Errorf("Citations = %d, want 3", len(result.Citations))
	}
	if result.Metadata.SynthesisAttempts != 1 {
		t.Errorf("SynthesisAttempts = %d, want 1", result.Metadata.SynthesisAttempts)
	}
	if result.Metadata.Retrieval.FallbackTriggered {
		t.Error("FallbackTriggered = true for a successful primary search")
	}
}

func TestRunSyncMatchesStreaming(t *testing.T) {
	run := func(sink orchestrator.Sink) *orchestrator.Result {
		o := newOrchestrator(t, deps{
			mock:    newMock(planRetrieve, criticAccept),
			backend: primaryBackend(3),
			cfg:     orchestrator.Config{CriticMaxRetries: 2},
		})
		result, err := o.Run(context.Background(), orchestrator.Request{
			Messages: userTurn(question),
			Sink:     sink,
		})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return result
	}

	sync := run(nil)
	streamed := run(&testutil.RecordingSink{})

	if sync.Answer != streamed.Answer {
		t.Errorf("sync answer %q differs from streamed %q", sync.Answer, streamed.Answer)
	}
	if len(sync.Citations) != len(streamed.Citations) {
		t.Errorf("sync citations %d differ from streamed %d",
			len(sync.Citations), len(streamed.Citations))
	}
	if sync.Metadata.SynthesisAttempts != streamed.Metadata.SynthesisAttempts {
		t.Error("synthesis attempt counts diverge between sync and streaming")
	}
}

func TestRunCriticLoopBound(t *testing.T) {
	sink := &testutil.RecordingSink{}
	o := newOrchestrator(t, deps{
		mock:    newMock(planRetrieve, criticRevise),
		backend: primaryBackend(3),
		cfg:     orchestrator.Config{CriticMaxRetries: 2},
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages: userTurn(question),
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Metadata.SynthesisAttempts != 3 {
		t.Errorf("SynthesisAttempts = %d, want 3 (1 draft + 2 retries)",
			result.Metadata.SynthesisAttempts)
	}
	if len(result.Metadata.Critiques) != 3 {
		t.Errorf("Critiques = %d, want one per attempt", len(result.Metadata.Critiques))
	}
	if sink.Count(orchestrator.EventCritique) != 3 {
		t.Errorf("critique events = %d, want 3", sink.Count(orchestrator.EventCritique))
	}
	// The loop is bounded, never verdict-driven: the final draft ships even
	// though the critic still wanted another revision.
	if result.Answer != answerText {
		t.Errorf("Answer = %q, want the last draft", result.Answer)
	}
}

func TestRunRevisionChaining(t *testing.T) {
	t.Run("chained when responses are stored", func(t *testing.T) {
		mock := newMock(planRetrieve, criticRevise)
		o := newOrchestrator(t, deps{
			mock:    mock,
			backend: primaryBackend(3),
			cfg:     orchestrator.Config{CriticMaxRetries: 1, StoreResponses: true},
		})

		if _, err := o.Run(context.Background(), orchestrator.Request{
			Messages: userTurn(question),
		}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		reqs := synthRequests(mock)
		if len(reqs) != 2 {
			t.Fatalf("synthesis calls = %d, want 2", len(reqs))
		}
		if reqs[0].PreviousResponseID != "" {
			t.Errorf("first draft PreviousResponseID = %q, want empty", reqs[0].PreviousResponseID)
		}
		// Calls: classifier, draft, critique, revision. The revision chains
		// onto the draft's completion ID.
		if reqs[1].PreviousResponseID != "resp-2" {
			t.Errorf("revision PreviousResponseID = %q, want resp-2", reqs[1].PreviousResponseID)
		}
	})

	t.Run("unchained otherwise", func(t *testing.T) {
		mock := newMock(planRetrieve, criticRevise)
		o := newOrchestrator(t, deps{
			mock:    mock,
			backend: primaryBackend(3),
			cfg:     orchestrator.Config{CriticMaxRetries: 1},
		})

		if _, err := o.Run(context.Background(), orchestrator.Request{
			Messages: userTurn(question),
		}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		for i, req := range synthRequests(mock) {
			if req.PreviousResponseID != "" {
				t.Errorf("synthesis call %d PreviousResponseID = %q, want empty", i, req.PreviousResponseID)
			}
		}
	})
}

func TestRunDirectAnswerSkipsRetrieval(t *testing.T) {
	backend := &testutil.MockBackend{}
	o := newOrchestrator(t, deps{
		mock:    newMock(planAnswer, criticAccept),
		backend: backend,
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages: userTurn("thanks for your help"),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(backend.Calls) != 0 {
		t.Errorf("backend called %d times for a direct answer, want 0", len(backend.Calls))
	}
	if result.Metadata.Retrieval.ReferenceCount != 0 {
		t.Errorf("ReferenceCount = %d, want 0", result.Metadata.Retrieval.ReferenceCount)
	}
	if result.Answer == "" {
		t.Error("Answer is empty, want a synthesized reply without evidence")
	}
}

func TestRunAgentFailureFallsBackToLadder(t *testing.T) {
	agent := &testutil.MockAgent{Err: errors.New("agent endpoint returned 500")}
	o := newOrchestrator(t, deps{
		mock:    newMock(planRetrieve, criticAccept),
		backend: primaryBackend(3),
		agent:   agent,
		cfg: orchestrator.Config{
			FeatureDefaults: map[string]bool{
				feature.Critic:         true,
				feature.KnowledgeAgent: true,
			},
		},
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages: userTurn(question),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if agent.CallCount() != 1 {
		t.Errorf("agent invoked %d times, want 1", agent.CallCount())
	}
	meta := result.Metadata.Retrieval
	if !meta.FallbackTriggered {
		t.Error("FallbackTriggered = false after an agent invocation failure")
	}
	if meta.Diagnostics.FailurePhase != retrieval.FailurePhaseInvocation {
		t.Errorf("FailurePhase = %q, want invocation", meta.Diagnostics.FailurePhase)
	}
	if !meta.Diagnostics.AgentSkipped {
		t.Error("AgentSkipped = false, want true")
	}
	if meta.ReferenceCount != 3 {
		t.Errorf("ReferenceCount = %d, want the ladder's 3", meta.ReferenceCount)
	}
}

func TestRunVectorSafetyNet(t *testing.T) {
	stageErr := errors.New("search service 503")
	backend := &testutil.MockBackend{
		HybridErrs: []error{stageErr, stageErr, stageErr},
		VectorErr:  stageErr,
	}
	safetyNet := &testutil.MockBackend{
		VectorResponse: &retrieval.SearchResult{References: testutil.Refs(1, 0.8)},
	}

	o := newOrchestrator(t, deps{
		mock:      newMock(planRetrieve, criticAccept),
		backend:   backend,
		safetyNet: safetyNet,
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages: userTurn(question),
	})
	if err != nil {
		t.Fatalf("Run() error = %v, the safety net must keep the session alive", err)
	}

	wantOps := []string{"hybrid", "hybrid", "hybrid", "vector"}
	if got := backend.CallOps(); !slices.Equal(got, wantOps) {
		t.Errorf("primary backend ops = %v, want the full ladder %v", got, wantOps)
	}
	if got := safetyNet.CallOps(); !slices.Equal(got, []string{"vector"}) {
		t.Errorf("safety net ops = %v, want exactly one vector attempt", got)
	}
	if !result.Metadata.Retrieval.FallbackTriggered {
		t.Error("FallbackTriggered = false, want true")
	}
	if result.Metadata.Retrieval.ReferenceCount != 1 {
		t.Errorf("ReferenceCount = %d, want the safety net's 1", result.Metadata.Retrieval.ReferenceCount)
	}
}

func TestRunDualRetrievalMergesWebEvidence(t *testing.T) {
	web := &testutil.MockSearcher{Results: []websearch.Result{
		{Title: "Release notes", URL: "https://example.com/notes", Snippet: "fresh", Rank: 1},
		{Title: "Blog", URL: "https://example.com/blog", Snippet: "fresher", Rank: 2},
	}}

	o := newOrchestrator(t, deps{
		mock:    newMock(planUnsure, criticAccept),
		backend: primaryBackend(3),
		web:     web,
		cfg: orchestrator.Config{
			WebSearchCount: 3,
			FeatureDefaults: map[string]bool{
				feature.Critic:    true,
				feature.WebSearch: true,
			},
		},
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages: userTurn(question),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	meta := result.Metadata.Retrieval
	if meta.WebResultCount != 2 {
		t.Errorf("WebResultCount = %d, want 2", meta.WebResultCount)
	}
	if meta.ReferenceCount != 5 {
		t.Errorf("ReferenceCount = %d, want 3 knowledge-base + 2 web", meta.ReferenceCount)
	}
	// Web evidence is appended after the knowledge-base references, never
	// interleaved into the ladder's ordering.
	if got := result.Citations[3].ID; got != "web-1" {
		t.Errorf("Citations[3].ID = %q, want web-1", got)
	}

	var hasWebStep bool
	for _, step := range result.Activity {
		if step.Type == "web_search" {
			hasWebStep = true
		}
	}
	if !hasWebStep {
		t.Error("activity trail has no web_search step")
	}
}

func TestRunSynthesisFailureIsFatal(t *testing.T) {
	mock := newMock(planRetrieve, criticAccept)
	mock.Err = errors.New("completion backend down")

	store := testutil.NewMockStore()
	sink := &testutil.RecordingSink{}
	sessionID := uuid.New()

	o := newOrchestrator(t, deps{
		mock:    mock,
		backend: primaryBackend(3),
		store:   store,
	})

	_, err := o.Run(context.Background(), orchestrator.Request{
		Messages:  userTurn(question + "?"),
		SessionID: sessionID,
		Sink:      sink,
	})
	if err == nil {
		t.Fatal("Run() error = nil, want the synthesis failure surfaced")
	}
	if !strings.Contains(err.Error(), "synthesis attempt 1") {
		t.Errorf("Run() error = %v, want the failing attempt named", err)
	}
	if sink.Count(orchestrator.EventError) != 1 {
		t.Errorf("error events = %d, want 1", sink.Count(orchestrator.EventError))
	}
	if sink.Count(orchestrator.EventDone) != 0 {
		t.Error("done event emitted for a failed session")
	}

	waitFor(t, "failed trace persisted", func() bool { return store.TraceCount() == 1 })
	trace := store.LastTrace()
	if !trace.Failed {
		t.Error("trace.Failed = false, want true")
	}
	if trace.Error == "" {
		t.Error("trace.Error is empty")
	}
}

func TestRunPersistsSessionState(t *testing.T) {
	store := testutil.NewMockStore()
	sessionID := uuid.New()

	o := newOrchestrator(t, deps{
		mock:    newMock(planRetrieve, criticAccept),
		backend: primaryBackend(3),
		store:   store,
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages:         userTurn(question),
		SessionID:        sessionID,
		FeatureOverrides: map[string]bool{feature.WebSearch: false},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	waitFor(t, "trace persisted", func() bool { return store.TraceCount() == 1 })

	trace := store.LastTrace()
	if trace.Failed {
		t.Errorf("trace.Failed = true for a successful session: %s", trace.Error)
	}
	if trace.SessionID != sessionID {
		t.Errorf("trace.SessionID = %v, want %v", trace.SessionID, sessionID)
	}

	transcript := store.Transcript(sessionID)
	if len(transcript) != 2 {
		t.Fatalf("transcript has %d messages, want the user turn plus the answer", len(transcript))
	}
	last := transcript[len(transcript)-1]
	if last.Role != core.RoleAssistant || last.Content != result.Answer {
		t.Errorf("transcript tail = %+v, want the assistant answer", last)
	}

	saved := store.FeatureSet(sessionID)
	if v, ok := saved[feature.WebSearch]; !ok || v {
		t.Errorf("saved features = %v, want the web_search override persisted", saved)
	}
}

func TestRunLoadsPersistedFeatures(t *testing.T) {
	store := testutil.NewMockStore()
	sessionID := uuid.New()
	store.Features[sessionID] = map[string]bool{feature.Critic: false}

	sink := &testutil.RecordingSink{}
	o := newOrchestrator(t, deps{
		mock:    newMock(planRetrieve, criticRevise),
		backend: primaryBackend(3),
		store:   store,
		cfg:     orchestrator.Config{CriticMaxRetries: 2},
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages:  userTurn(question),
		SessionID: sessionID,
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// The persisted tier disabled the critic, overriding the config default.
	if sink.Count(orchestrator.EventCritique) != 0 {
		t.Errorf("critique events = %d, want 0 with the critic disabled", sink.Count(orchestrator.EventCritique))
	}
	if result.Metadata.SynthesisAttempts != 1 {
		t.Errorf("SynthesisAttempts = %d, want 1", result.Metadata.SynthesisAttempts)
	}
	if result.Metadata.Features[feature.Critic] {
		t.Error("effective features report the critic on, want the persisted false")
	}

	waitFor(t, "trace persisted", func() bool { return store.TraceCount() == 1 })
}

func TestRunFeatureLoadFailureDegradesToDefaults(t *testing.T) {
	store := testutil.NewMockStore()
	store.LoadErr = errors.New("database unavailable")
	sessionID := uuid.New()

	sink := &testutil.RecordingSink{}
	o := newOrchestrator(t, deps{
		mock:    newMock(planRetrieve, criticAccept),
		backend: primaryBackend(3),
		store:   store,
	})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages:  userTurn(question),
		SessionID: sessionID,
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("Run() error = %v, feature loading must never fail a session", err)
	}
	if !result.Metadata.Features[feature.Critic] {
		t.Error("config default lost when the persisted tier failed to load")
	}

	waitFor(t, "trace persisted", func() bool { return store.TraceCount() == 1 })
}

// marshalingStore serializes every saved trace, the way the pgx-backed store
// does. Saving happens on the persistence goroutine, so marshaling here reads
// the whole trace concurrently with the caller.
type marshalingStore struct {
	*testutil.MockStore
}

func (s *marshalingStore) SaveTrace(ctx context.Context, trace *orchestrator.SessionTrace) error {
	if _, err := json.Marshal(trace); err != nil {
		return err
	}
	return s.MockStore.SaveTrace(ctx, trace)
}

func TestRunPersistedTraceIncludesTerminalEvent(t *testing.T) {
	t.Run("completed session", func(t *testing.T) {
		store := &marshalingStore{MockStore: testutil.NewMockStore()}
		o := newOrchestrator(t, deps{
			mock:    newMock(planRetrieve, criticAccept),
			backend: primaryBackend(3),
			store:   store,
		})

		if _, err := o.Run(context.Background(), orchestrator.Request{
			Messages:  userTurn(question),
			SessionID: uuid.New(),
			Sink:      &testutil.RecordingSink{},
		}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		waitFor(t, "trace persisted", func() bool { return store.TraceCount() == 1 })
		events := store.LastTrace().Events
		if len(events) == 0 || events[len(events)-1] != string(orchestrator.EventDone) {
			t.Errorf("persisted trace events = %v, want %q last", events, orchestrator.EventDone)
		}
	})

	t.Run("failed session", func(t *testing.T) {
		mock := newMock(planRetrieve, criticAccept)
		mock.Err = errors.New("completion backend down")
		store := &marshalingStore{MockStore: testutil.NewMockStore()}
		o := newOrchestrator(t, deps{
			mock:    mock,
			backend: primaryBackend(3),
			store:   store,
		})

		if _, err := o.Run(context.Background(), orchestrator.Request{
			Messages:  userTurn(question + "?"),
			SessionID: uuid.New(),
			Sink:      &testutil.RecordingSink{},
		}); err == nil {
			t.Fatal("Run() error = nil, want the synthesis failure surfaced")
		}

		waitFor(t, "failed trace persisted", func() bool { return store.TraceCount() == 1 })
		events := store.LastTrace().Events
		if len(events) == 0 || events[len(events)-1] != string(orchestrator.EventError) {
			t.Errorf("persisted trace events = %v, want %q last", events, orchestrator.EventError)
		}
	})
}

func TestRunChunksLongAnswer(t *testing.T) {
	long := strings.Repeat("All evidence points the same way [1]. ", 4) // > one chunk
	mock := testutil.NewMockLLM(planRetrieve)
	mock.Respond("Draft answer:", criticAccept)
	mock.Respond("Question: ", long)

	sink := &testutil.RecordingSink{}
	o := newOrchestrator(t, deps{mock: mock, backend: primaryBackend(3)})

	result, err := o.Run(context.Background(), orchestrator.Request{
		Messages: userTurn(question),
		Sink:     sink,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var rebuilt strings.Builder
	for _, e := range sink.Events {
		if e.Type == orchestrator.EventChunk {
			rebuilt.WriteString(e.Payload.(orchestrator.ChunkPayload).Text)
		}
	}
	if sink.Count(orchestrator.EventChunk) < 2 {
		t.Errorf("chunk events = %d, want the answer split across several", sink.Count(orchestrator.EventChunk))
	}
	if rebuilt.String() != result.Answer {
		t.Errorf("concatenated chunks = %q, want the full answer %q", rebuilt.String(), result.Answer)
	}
}
