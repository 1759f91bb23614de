// Package synth turns retrieved evidence and a question into a cited
// natural-language answer, enforcing citation integrity: an answer that cites
// nothing, or cites references that were never supplied, is replaced
// wholesale with the "I do not know" sentinel.
package synth

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/llm"
	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/retrieval"
)

// UnknownSentinel is the fixed answer used when grounding fails.
// A machine-readable reason suffix is appended in parentheses.
const UnknownSentinel = "I do not know."

// Citation-failure reasons appended to the sentinel.
const (
	ReasonNoCitations     = "No citations in answer"
	ReasonInvalidCitation = "Citation validation failed"
)

const systemPrompt = `You are a grounded assistant. Answer the question using ONLY the numbered sources provided.
Cite every claim inline with the source number in square brackets, e.g. [1].
If the sources do not contain the answer, reply exactly: "I do not know."`

// citationPattern matches inline numeric citations like [3].
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// Request is one synthesis call.
type Request struct {
	Question   string
	References []retrieval.Reference

	// RevisionNotes carries the critic's suggestions on a revision pass.
	// They are appended as numbered guidance, never replacing the prompt.
	RevisionNotes []string

	// PreviousResponseID chains onto the prior draft when response storage
	// is enabled upstream.
	PreviousResponseID string
}

// Draft is one synthesized answer.
type Draft struct {
	Answer     string
	Citations  []retrieval.Reference
	ResponseID string
	Usage      llm.Usage
}

// Synthesizer produces cited answers through the completion backend.
type Synthesizer struct {
	client      llm.Client
	temperature float32
	maxTokens   int
	logger      log.Logger
}

// New creates a synthesizer.
func New(client llm.Client, temperature float32, maxTokens int, logger log.Logger) (*Synthesizer, error) {
	if client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Synthesizer{client: client, temperature: temperature, maxTokens: maxTokens, logger: logger}, nil
}

// Synthesize produces a draft answer. A completion failure propagates: there
// is no meaningful answer without synthesis.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) (*Draft, error) {
	prompt := buildUserPrompt(req)

	resp, err := s.client.Complete(ctx, llm.Request{
		Messages: []core.Message{
			core.SystemMessage(systemPrompt),
			core.UserMessage(prompt),
		},
		Temperature:        s.temperature,
		MaxTokens:          s.maxTokens,
		PreviousResponseID: req.PreviousResponseID,
	})
	if err != nil {
		return nil, fmt.Errorf("answer synthesis: %w", err)
	}

	answer := strings.TrimSpace(resp.Text)
	if reason, ok := validateCitations(answer, len(req.References)); !ok {
		s.logger.Warn("citation integrity check failed, replacing answer",
			"reason", reason,
			"references", len(req.References))
		answer = fmt.Sprintf("%s (%s)", UnknownSentinel, reason)
	}

	return &Draft{
		Answer:     answer,
		Citations:  req.References,
		ResponseID: resp.ID,
		Usage:      resp.Usage,
	}, nil
}

// buildUserPrompt assembles the evidence block, the question, and any
// revision guidance.
func buildUserPrompt(req Request) string {
	var b strings.Builder

	if len(req.References) > 0 {
		b.WriteString("Sources:\n")
		for i, ref := range req.References {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, referenceText(ref))
		}
		b.WriteString("\n")
	}

	b.WriteString("Question: ")
	b.WriteString(req.Question)

	if len(req.RevisionNotes) > 0 {
		b.WriteString("\n\nRevise your previous answer following this guidance:\n")
		for i, note := range req.RevisionNotes {
			fmt.Fprintf(&b, "%d. %s\n", i+1, note)
		}
	}

	return b.String()
}

// referenceText renders one reference for the prompt.
func referenceText(ref retrieval.Reference) string {
	var parts []string
	if ref.Title != "" {
		parts = append(parts, ref.Title)
	}
	if ref.Content != "" {
		parts = append(parts, ref.Content)
	}
	if len(parts) == 0 && ref.URL != "" {
		parts = append(parts, ref.URL)
	}
	return strings.Join(parts, ": ")
}

// validateCitations enforces grounding integrity. With supplied references
// the answer must carry at least one [n] marker, and every marker must point
// into the reference list. The sentinel itself is always valid.
func validateCitations(answer string, refCount int) (reason string, ok bool) {
	if refCount == 0 {
		return "", true
	}
	if strings.HasPrefix(answer, UnknownSentinel) {
		return "", true
	}

	markers := citationPattern.FindAllStringSubmatch(answer, -1)
	if len(markers) == 0 {
		return ReasonNoCitations, false
	}
	for _, m := range markers {
		n, err := strconv.Atoi(m[1])
		if err != nil || n < 1 || n > refCount {
			return ReasonInvalidCitation, false
		}
	}
	return "", true
}
