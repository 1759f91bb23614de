// Package llm is the hosted completion backend client. It supports free-text
// mode for answer synthesis and a strict-JSON-schema output mode for the
// planner and critic.
package llm

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/finchlabs/finch/internal/core"
)

// Request is one completion call.
type Request struct {
	Messages    []core.Message
	Temperature float32
	MaxTokens   int

	// Schema switches the call to strict-JSON-schema output mode.
	// SchemaName names the schema for the upstream API.
	Schema     *jsonschema.Schema
	SchemaName string

	// PreviousResponseID chains onto an earlier stored response. It is only
	// sent when response storage is enabled on the client; the upstream API
	// rejects it otherwise.
	PreviousResponseID string
}

// Usage is the upstream token accounting for one completion.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Completion is the result of one completion call.
type Completion struct {
	Text  string
	ID    string
	Usage Usage
}

// Client is the completion backend seam consumed by the planner, synthesizer,
// and critic.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// TokenSource supplies a bearer credential when no static API key is
// configured. Implemented by auth.TokenCache.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
