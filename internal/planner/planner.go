// Package planner classifies a conversation turn into an action: answer
// directly, retrieve from the knowledge base, or search the web.
//
// Planning must never hard-fail a request: the LLM classifier degrades to the
// pure heuristic on any call or parse failure.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/llm"
	"github.com/finchlabs/finch/internal/log"
)

// Action is the planned next step for a conversation turn.
type Action string

// Plan actions.
const (
	ActionAnswer    Action = "answer"
	ActionRetrieve  Action = "retrieve"
	ActionWebSearch Action = "web_search"
)

// Plan is the planner's decision for one conversation turn.
type Plan struct {
	Action     Action  `json:"action"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// questionLengthThreshold: inputs longer than this are assumed to need
// grounding even without an explicit question mark.
const questionLengthThreshold = 120

// interrogativePrefixes mark question-like input.
var interrogativePrefixes = []string{
	"what", "who", "where", "when", "why", "how",
	"which", "can", "could", "should", "would", "is", "are", "does", "do",
}

// recencyTerms mark queries that need fresh open-web evidence.
var recencyTerms = []string{"latest", "current", "today", "recent", "news", "this week"}

// Config configures the planner.
type Config struct {
	// UseLLM enables the structured-output classifier; the heuristic is
	// always the fallback.
	UseLLM bool

	// DualRetrievalThreshold: confidence below this triggers concurrent
	// knowledge-base and web retrieval.
	DualRetrievalThreshold float64
}

// Planner decides the action for a conversation turn.
type Planner struct {
	client llm.Client
	cfg    Config
	logger log.Logger

	schema *jsonschema.Schema
}

// New creates a planner. client may be nil when UseLLM is false.
func New(client llm.Client, cfg Config, logger log.Logger) *Planner {
	return &Planner{
		client: client,
		cfg:    cfg,
		logger: logger,
		schema: planSchema(),
	}
}

// planSchema is the strict output schema for the LLM classifier.
func planSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"action": {
				Type: "string",
				Enum: []any{string(ActionAnswer), string(ActionRetrieve), string(ActionWebSearch)},
			},
			"reasoning":  {Type: "string"},
			"confidence": {Type: "number", Minimum: ptr(0.0), Maximum: ptr(1.0)},
		},
		Required:             []string{"action", "reasoning", "confidence"},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func ptr(f float64) *float64 { return &f }

// Decide produces the plan for the conversation. It never returns an error.
func (p *Planner) Decide(ctx context.Context, messages []core.Message) Plan {
	question, ok := core.LastUser(messages)
	if !ok || question == "" {
		// Nothing to retrieve for.
		return Plan{Action: ActionAnswer, Reasoning: "no user turn to ground", Confidence: 1}
	}

	if p.cfg.UseLLM && p.client != nil {
		if plan, err := p.classify(ctx, question); err == nil {
			return plan
		} else {
			p.logger.Warn("LLM intent classification failed, using heuristic", "error", err)
		}
	}

	return p.heuristic(question)
}

// DualRetrieval reports whether the plan's confidence is low enough that
// knowledge-base and web retrieval should run concurrently and merge: an
// unsure planner should not pick a single authoritative source.
func (p *Planner) DualRetrieval(plan Plan) bool {
	return plan.Action != ActionAnswer && plan.Confidence < p.cfg.DualRetrievalThreshold
}

// classify routes the question through the completion backend with a strict
// JSON schema.
func (p *Planner) classify(ctx context.Context, question string) (Plan, error) {
	resp, err := p.client.Complete(ctx, llm.Request{
		Messages: []core.Message{
			core.SystemMessage("Classify the user's message into an action: " +
				"\"retrieve\" when it needs knowledge-base evidence, " +
				"\"web_search\" when it needs fresh open-web information, " +
				"\"answer\" when it can be answered directly. " +
				"Return JSON with action, reasoning, and confidence in [0,1]."),
			core.UserMessage(question),
		},
		Temperature: 0,
		Schema:      p.schema,
		SchemaName:  "plan",
	})
	if err != nil {
		return Plan{}, err
	}

	var plan Plan
	if err := json.Unmarshal([]byte(resp.Text), &plan); err != nil {
		return Plan{}, fmt.Errorf("parse plan JSON: %w", err)
	}
	switch plan.Action {
	case ActionAnswer, ActionRetrieve, ActionWebSearch:
	default:
		return Plan{}, fmt.Errorf("unknown plan action %q", plan.Action)
	}
	if plan.Confidence < 0 || plan.Confidence > 1 {
		return Plan{}, fmt.Errorf("plan confidence %.2f out of range", plan.Confidence)
	}
	return plan, nil
}

// heuristic is the pure-rule classifier, also the degradation target when
// the LLM path fails.
func (p *Planner) heuristic(question string) Plan {
	lower := strings.ToLower(question)

	for _, term := range recencyTerms {
		if strings.Contains(lower, term) {
			return Plan{
				Action:     ActionWebSearch,
				Reasoning:  fmt.Sprintf("recency language (%q) suggests fresh web evidence", term),
				Confidence: 0.7,
			}
		}
	}

	if strings.Contains(question, "?") || len(question) > questionLengthThreshold {
		return Plan{
			Action:     ActionRetrieve,
			Reasoning:  "question-like input benefits from knowledge-base grounding",
			Confidence: 0.7,
		}
	}
	firstWord := lower
	if i := strings.IndexByte(lower, ' '); i > 0 {
		firstWord = lower[:i]
	}
	for _, prefix := range interrogativePrefixes {
		if firstWord == prefix {
			return Plan{
				Action:     ActionRetrieve,
				Reasoning:  "interrogative prefix suggests a question needing grounding",
				Confidence: 0.6,
			}
		}
	}

	return Plan{
		Action:     ActionAnswer,
		Reasoning:  "no retrieval signal detected",
		Confidence: 0.6,
	}
}
