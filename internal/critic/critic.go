// Package critic scores a draft answer against its evidence and either
// accepts it or requests a bounded revision.
//
// A broken critic must never block an otherwise-valid answer: call or parse
// failures become automatic accepts with a reasoning note.
package critic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/llm"
	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/retrieval"
)

// Verdict is the critic's decision on a draft.
type Verdict string

// Verdicts.
const (
	VerdictAccept Verdict = "accept"
	VerdictRevise Verdict = "revise"
)

// Critique is one evaluation of a draft answer.
type Critique struct {
	Score       float64  `json:"score"`
	Reasoning   string   `json:"reasoning"`
	Action      Verdict  `json:"action"`
	Suggestions []string `json:"suggestions,omitempty"`
}

// Config configures the critic.
type Config struct {
	// AcceptThreshold: a score at or above it counts as an accept even when
	// the model's verbal verdict says revise. Both signals are honored so a
	// well-reasoned high score overrides an inconsistent verdict.
	AcceptThreshold float64
}

// Critic evaluates drafts through the completion backend.
type Critic struct {
	client llm.Client
	cfg    Config
	logger log.Logger
	schema *jsonschema.Schema
}

// New creates a critic.
func New(client llm.Client, cfg Config, logger log.Logger) (*Critic, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Critic{client: client, cfg: cfg, logger: logger, schema: critiqueSchema()}, nil
}

func critiqueSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"score":     {Type: "number", Minimum: ptr(0.0), Maximum: ptr(1.0)},
			"reasoning": {Type: "string"},
			"action": {
				Type: "string",
				Enum: []any{string(VerdictAccept), string(VerdictRevise)},
			},
			"suggestions": {
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
		},
		Required:             []string{"score", "reasoning", "action"},
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func ptr(f float64) *float64 { return &f }

// Review scores the draft against the evidence. It never returns an error:
// failures degrade to an automatic accept.
func (c *Critic) Review(ctx context.Context, draft, question string, references []retrieval.Reference) Critique {
	resp, err := c.client.Complete(ctx, llm.Request{
		Messages: []core.Message{
			core.SystemMessage("You are a strict reviewer of grounded answers. " +
				"Score the draft in [0,1] for faithfulness to the numbered sources, " +
				"citation correctness, and completeness. " +
				"Return JSON with score, reasoning, action (accept|revise), and suggestions."),
			core.UserMessage(reviewPrompt(draft, question, references)),
		},
		Temperature: 0,
		Schema:      c.schema,
		SchemaName:  "critique",
	})
	if err != nil {
		c.logger.Warn("critic call failed, auto-accepting draft", "error", err)
		return Critique{
			Score:     0,
			Reasoning: fmt.Sprintf("critic unavailable, auto-accepted: %v", err),
			Action:    VerdictAccept,
		}
	}

	var critique Critique
	if err := json.Unmarshal([]byte(resp.Text), &critique); err != nil {
		c.logger.Warn("critic returned malformed JSON, auto-accepting draft", "error", err)
		return Critique{
			Score:     0,
			Reasoning: fmt.Sprintf("critic output unparsable, auto-accepted: %v", err),
			Action:    VerdictAccept,
		}
	}

	// OR-combination acceptance: explicit accept OR score over threshold.
	if critique.Action != VerdictAccept && critique.Score >= c.cfg.AcceptThreshold {
		c.logger.Debug("score overrides revise verdict",
			"score", critique.Score,
			"threshold", c.cfg.AcceptThreshold)
		critique.Action = VerdictAccept
	}
	if critique.Action != VerdictAccept && critique.Action != VerdictRevise {
		critique.Action = VerdictAccept
	}

	return critique
}

func reviewPrompt(draft, question string, references []retrieval.Reference) string {
	var b strings.Builder
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n\nSources:\n")
	for i, ref := range references {
		fmt.Fprintf(&b, "[%d] %s %s\n", i+1, ref.Title, ref.Content)
	}
	b.WriteString("\nDraft answer:\n")
	b.WriteString(draft)
	return b.String()
}
