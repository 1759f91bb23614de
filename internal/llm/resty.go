package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/retry"
)

// Config configures the REST completion client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string

	// StoreResponses enables upstream response persistence. Gates whether
	// previous_response_id may appear in outbound requests at all.
	StoreResponses bool

	AttemptTimeout time.Duration
	MaxRetries     int

	// RateLimiter is applied before every attempt. Nil uses the default
	// (10 req/s sustained, burst 30).
	RateLimiter *rate.Limiter

	// Breaker guards the backend. Nil uses default breaker settings.
	Breaker *retry.Breaker

	// Tokens supplies bearer credentials when APIKey is empty.
	Tokens TokenSource
}

// RestClient is the resty-backed completion client. Safe for concurrent use.
type RestClient struct {
	http    *resty.Client
	cfg     Config
	limiter *rate.Limiter
	breaker *retry.Breaker
	logger  log.Logger
}

// NewRestClient creates the completion client.
func NewRestClient(cfg Config, logger log.Logger) (*RestClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("completion base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("completion model is required")
	}
	if cfg.APIKey == "" && cfg.Tokens == nil {
		return nil, fmt.Errorf("either an API key or a token source is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = retry.NewBreaker(retry.DefaultBreakerConfig())
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)

	return &RestClient{
		http:    http,
		cfg:     cfg,
		limiter: limiter,
		breaker: breaker,
		logger:  logger,
	}, nil
}

// completionResponse is the wire shape of a completion result.
type completionResponse struct {
	ID         string `json:"id"`
	OutputText string `json:"output_text"`
	Usage      Usage  `json:"usage"`
	Error      *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete implements Client. Each attempt is rate-limited, the breaker is
// consulted before the call, and transient upstream errors are retried with
// backoff.
func (c *RestClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	if err := c.breaker.Allow(); err != nil {
		c.logger.Warn("completion circuit breaker open, rejecting request",
			"state", c.breaker.State().String())
		return nil, fmt.Errorf("completion backend unavailable: %w", err)
	}

	body, err := c.buildBody(req)
	if err != nil {
		return nil, err
	}

	opts := retry.DefaultOptions()
	opts.MaxRetries = c.cfg.MaxRetries
	opts.AttemptTimeout = c.cfg.AttemptTimeout

	result, err := retry.Do(ctx, "completion", opts,
		func(attemptCtx context.Context, attempt int) (*Completion, error) {
			// Rate limit each attempt, not just the first.
			if err := c.limiter.Wait(attemptCtx); err != nil {
				return nil, fmt.Errorf("rate limit wait: %w", err)
			}

			r := c.http.R().SetContext(attemptCtx).SetBody(body)
			if err := c.authorize(attemptCtx, r); err != nil {
				return nil, err
			}

			var parsed completionResponse
			resp, err := r.SetResult(&parsed).SetError(&parsed).Post("/responses")
			if err != nil {
				return nil, fmt.Errorf("completion request: %w", err)
			}
			if resp.IsError() {
				msg := resp.Status()
				if parsed.Error != nil {
					msg = parsed.Error.Message
				}
				return nil, fmt.Errorf("completion status %d: %s", resp.StatusCode(), msg)
			}
			if parsed.OutputText == "" {
				return nil, fmt.Errorf("completion returned empty output (id=%s)", parsed.ID)
			}
			return &Completion{Text: parsed.OutputText, ID: parsed.ID, Usage: parsed.Usage}, nil
		})
	if err != nil {
		c.breaker.Failure()
		return nil, err
	}

	c.breaker.Success()
	return result, nil
}

// buildBody assembles the outbound request. previous_response_id is an
// absent key, never null or empty, unless response storage is enabled.
func (c *RestClient) buildBody(req Request) (map[string]any, error) {
	body := map[string]any{
		"model": c.cfg.Model,
		"input": req.Messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_output_tokens"] = req.MaxTokens
	}
	if c.cfg.StoreResponses {
		body["store"] = true
		if req.PreviousResponseID != "" {
			body["previous_response_id"] = req.PreviousResponseID
		}
	}
	if req.Schema != nil {
		schemaJSON, err := json.Marshal(req.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal output schema: %w", err)
		}
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		body["text"] = map[string]any{
			"format": map[string]any{
				"type":   "json_schema",
				"name":   name,
				"schema": json.RawMessage(schemaJSON),
				"strict": true,
			},
		}
	}
	return body, nil
}

// authorize attaches the bearer credential: the static API key when
// configured, otherwise a token from the token source.
func (c *RestClient) authorize(ctx context.Context, r *resty.Request) error {
	if c.cfg.APIKey != "" {
		r.SetAuthToken(c.cfg.APIKey)
		return nil
	}
	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("acquire bearer token: %w", err)
	}
	r.SetAuthToken(token)
	return nil
}
