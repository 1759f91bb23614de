// Package websearch queries a SearXNG-style metasearch JSON API for open-web
// evidence. Web results complement, never replace, knowledge-base grounding.
package websearch

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/retrieval"
	"github.com/finchlabs/finch/internal/retry"
)

// Result is one web search hit.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Rank    int    `json:"rank"`
}

// Searcher is the web-search seam consumed by the orchestrator.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]Result, error)
}

// Config configures the web search client.
type Config struct {
	BaseURL        string
	AttemptTimeout time.Duration
	MaxRetries     int
}

// Client queries the metasearch instance. Safe for concurrent use.
type Client struct {
	http   *resty.Client
	cfg    Config
	logger log.Logger
}

// New creates a web search client.
func New(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("web search base URL is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}

	return &Client{
		http:   resty.New().SetBaseURL(cfg.BaseURL).SetRetryCount(0),
		cfg:    cfg,
		logger: logger,
	}, nil
}

// searxResponse is the SearXNG JSON API result shape.
type searxResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// Search implements Searcher.
func (c *Client) Search(ctx context.Context, query string, count int) ([]Result, error) {
	if count <= 0 {
		count = 5
	}

	opts := retry.DefaultOptions()
	opts.MaxRetries = c.cfg.MaxRetries
	opts.AttemptTimeout = c.cfg.AttemptTimeout

	parsed, err := retry.Do(ctx, "web search", opts,
		func(attemptCtx context.Context, _ int) (*searxResponse, error) {
			var body searxResponse
			resp, err := c.http.R().
				SetContext(attemptCtx).
				SetQueryParams(map[string]string{
					"q":      query,
					"format": "json",
				}).
				SetResult(&body).
				Get("/search")
			if err != nil {
				return nil, fmt.Errorf("web search request: %w", err)
			}
			if resp.IsError() {
				return nil, fmt.Errorf("web search status %d", resp.StatusCode())
			}
			return &body, nil
		})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, count)
	for i, r := range parsed.Results {
		if i >= count {
			break
		}
		results = append(results, Result{
			Title:   r.Title,
			URL:     r.URL,
			Snippet: r.Content,
			Rank:    i + 1,
		})
	}

	c.logger.Debug("web search completed", "query_length", len(query), "results", len(results))
	return results, nil
}

// ToReferences converts web results into citation references so they merge
// uniformly with knowledge-base evidence.
func ToReferences(results []Result) []retrieval.Reference {
	refs := make([]retrieval.Reference, 0, len(results))
	for _, r := range results {
		refs = append(refs, retrieval.Reference{
			ID:      "web-" + strconv.Itoa(r.Rank),
			Title:   r.Title,
			URL:     r.URL,
			Content: r.Snippet,
			Metadata: map[string]string{
				"source": "web",
			},
		})
	}
	return refs
}
