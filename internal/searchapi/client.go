// Package searchapi is the REST client for the managed search service. It
// implements the retrieval backend seams: hybrid search, vector search,
// per-index federated search, and knowledge-agent invocation.
//
// Failures surface HTTP status codes and correlation IDs so they are
// traceable across systems.
package searchapi

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/finchlabs/finch/internal/core"
	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/retrieval"
	"github.com/finchlabs/finch/internal/retry"
)

// Config configures the search service client.
type Config struct {
	Endpoint string
	APIKey   string
	Index    string
	Agent    string

	// SearchTimeout bounds one direct-search attempt; AgentTimeout is tuned
	// higher because the agent performs internal multi-step orchestration.
	SearchTimeout time.Duration
	AgentTimeout  time.Duration

	// MaxRetries for direct search calls. Agent invocations are never
	// retried: an agent that errors out is handled by the fallback ladder.
	MaxRetries int
}

// Error is a failed search service call with its tracing identifiers.
type Error struct {
	Operation     string
	StatusCode    int
	CorrelationID string
	Message       string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("search service %s failed: status=%d correlation_id=%s: %s",
		e.Operation, e.StatusCode, e.CorrelationID, e.Message)
}

// Client talks to the managed search service. Safe for concurrent use.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger log.Logger
}

// New creates a search service client.
func New(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("search endpoint is required")
	}
	if cfg.Index == "" {
		return nil, fmt.Errorf("search index is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	http := resty.New().
		SetBaseURL(cfg.Endpoint).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0) // retry policy lives in internal/retry, not resty
	if cfg.APIKey != "" {
		http.SetHeader("api-key", cfg.APIKey)
	}

	return &Client{http: http, cfg: cfg, logger: logger}, nil
}

// searchRequest is the wire shape of a direct search call.
type searchRequest struct {
	Query             string  `json:"query"`
	Top               int     `json:"top"`
	Filter            string  `json:"filter,omitempty"`
	QueryType         string  `json:"query_type"`
	RerankerThreshold float64 `json:"reranker_threshold,omitempty"`
}

// searchResponse is the wire shape of a direct search result.
type searchResponse struct {
	Results []struct {
		ID         string            `json:"id"`
		Title      string            `json:"title"`
		Content    string            `json:"content"`
		URL        string            `json:"url"`
		PageNumber int               `json:"page_number"`
		Score      float64           `json:"score"`
		Metadata   map[string]string `json:"metadata"`
	} `json:"results"`
	Coverage float64 `json:"coverage"`
}

// HybridSearch implements retrieval.Backend.
func (c *Client) HybridSearch(ctx context.Context, q retrieval.Query) (*retrieval.SearchResult, error) {
	return c.search(ctx, c.cfg.Index, "hybrid_semantic", q)
}

// VectorSearch implements retrieval.Backend.
func (c *Client) VectorSearch(ctx context.Context, q retrieval.Query) (*retrieval.SearchResult, error) {
	q.RerankerThreshold = 0 // vector mode has no reranker
	return c.search(ctx, c.cfg.Index, "vector", q)
}

// SearchIndex implements retrieval.FederatedBackend.
func (c *Client) SearchIndex(ctx context.Context, index string, q retrieval.Query) (*retrieval.SearchResult, error) {
	return c.search(ctx, index, "hybrid_semantic", q)
}

func (c *Client) search(ctx context.Context, index, queryType string, q retrieval.Query) (*retrieval.SearchResult, error) {
	opts := retry.DefaultOptions()
	opts.MaxRetries = c.cfg.MaxRetries
	opts.AttemptTimeout = c.cfg.SearchTimeout

	parsed, err := retry.Do(ctx, queryType+" search", opts,
		func(attemptCtx context.Context, _ int) (*searchResponse, error) {
			var body searchResponse
			resp, err := c.http.R().
				SetContext(attemptCtx).
				SetBody(searchRequest{
					Query:             q.Text,
					Top:               q.Top,
					Filter:            q.Filter,
					QueryType:         queryType,
					RerankerThreshold: q.RerankerThreshold,
				}).
				SetResult(&body).
				Post(fmt.Sprintf("/indexes/%s/search", index))
			if err != nil {
				return nil, fmt.Errorf("search request (%s): %w", queryType, err)
			}
			if resp.IsError() {
				return nil, &Error{
					Operation:     queryType + " search",
					StatusCode:    resp.StatusCode(),
					CorrelationID: resp.Header().Get("x-correlation-id"),
					Message:       truncate(resp.String(), 256),
				}
			}
			return &body, nil
		})
	if err != nil {
		return nil, err
	}

	refs := make([]retrieval.Reference, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		refs = append(refs, retrieval.Reference{
			ID:         r.ID,
			Title:      r.Title,
			Content:    r.Content,
			URL:        r.URL,
			PageNumber: r.PageNumber,
			Score:      r.Score,
			Metadata:   r.Metadata,
		})
	}
	return &retrieval.SearchResult{References: refs, Coverage: parsed.Coverage}, nil
}

// agentRequest is the wire shape of a knowledge-agent invocation.
type agentRequest struct {
	Messages []core.Message `json:"messages"`
	Filter   string         `json:"filter,omitempty"`
}

// agentResponse is the wire shape of a knowledge-agent result.
type agentResponse struct {
	References []struct {
		ID         string  `json:"id"`
		Title      string  `json:"title"`
		Content    string  `json:"content"`
		URL        string  `json:"url"`
		PageNumber int     `json:"page_number"`
		Score      float64 `json:"score"`
	} `json:"references"`
	Answer    string `json:"answer"`
	RequestID string `json:"request_id"`
}

// Invoke implements retrieval.AgentBackend. The correlation ID travels on the
// request and is echoed into the error path; invocations are never retried
// here. A failing agent is a structural failure handled by the ladder.
func (c *Client) Invoke(ctx context.Context, messages []core.Message, opts retrieval.AgentOptions) (*retrieval.AgentResult, error) {
	if c.cfg.Agent == "" {
		return nil, fmt.Errorf("no knowledge agent configured")
	}

	callCtx := ctx
	if c.cfg.AgentTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.AgentTimeout)
		defer cancel()
	}

	var parsed agentResponse
	resp, err := c.http.R().
		SetContext(callCtx).
		SetHeader("x-correlation-id", opts.CorrelationID).
		SetBody(agentRequest{Messages: messages, Filter: opts.Filter}).
		SetResult(&parsed).
		Post(fmt.Sprintf("/agents/%s:invoke", c.cfg.Agent))
	if err != nil {
		return nil, fmt.Errorf("agent invoke (correlation_id=%s): %w", opts.CorrelationID, err)
	}
	if resp.IsError() {
		return nil, &Error{
			Operation:     "agent invoke",
			StatusCode:    resp.StatusCode(),
			CorrelationID: opts.CorrelationID,
			Message:       truncate(resp.String(), 256),
		}
	}

	refs := make([]retrieval.Reference, 0, len(parsed.References))
	for _, r := range parsed.References {
		refs = append(refs, retrieval.Reference{
			ID:         r.ID,
			Title:      r.Title,
			Content:    r.Content,
			URL:        r.URL,
			PageNumber: r.PageNumber,
			Score:      r.Score,
		})
	}
	return &retrieval.AgentResult{
		References:    refs,
		Answer:        parsed.Answer,
		CorrelationID: opts.CorrelationID,
		RequestID:     parsed.RequestID,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
