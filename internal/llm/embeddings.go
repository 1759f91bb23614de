package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/finchlabs/finch/internal/log"
	"github.com/finchlabs/finch/internal/retry"
)

// EmbeddingConfig configures the embedding client.
type EmbeddingConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	AttemptTimeout time.Duration
	MaxRetries     int

	// Tokens supplies bearer credentials when APIKey is empty.
	Tokens TokenSource
}

// EmbeddingClient generates embedding vectors over the REST API. Safe for
// concurrent use.
type EmbeddingClient struct {
	http   *resty.Client
	cfg    EmbeddingConfig
	logger log.Logger
}

// NewEmbeddingClient creates the embedding client.
func NewEmbeddingClient(cfg EmbeddingConfig, logger log.Logger) (*EmbeddingClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("embedding base URL is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.APIKey == "" && cfg.Tokens == nil {
		return nil, fmt.Errorf("either an API key or a token source is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(0)

	return &EmbeddingClient{http: http, cfg: cfg, logger: logger}, nil
}

// embeddingResponse is the wire shape of an embedding result.
type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Embed returns the embedding vector for one text.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	opts := retry.DefaultOptions()
	opts.MaxRetries = c.cfg.MaxRetries
	opts.AttemptTimeout = c.cfg.AttemptTimeout

	return retry.Do(ctx, "embedding", opts,
		func(attemptCtx context.Context, _ int) ([]float32, error) {
			r := c.http.R().SetContext(attemptCtx).SetBody(map[string]any{
				"model": c.cfg.Model,
				"input": text,
			})
			if err := c.authorizeEmbed(attemptCtx, r); err != nil {
				return nil, err
			}

			var parsed embeddingResponse
			resp, err := r.SetResult(&parsed).SetError(&parsed).Post("/embeddings")
			if err != nil {
				return nil, fmt.Errorf("embedding request: %w", err)
			}
			if resp.IsError() {
				msg := resp.Status()
				if parsed.Error != nil {
					msg = parsed.Error.Message
				}
				return nil, fmt.Errorf("embedding status %d: %s", resp.StatusCode(), msg)
			}
			if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
				return nil, fmt.Errorf("embedding response is empty")
			}
			return parsed.Data[0].Embedding, nil
		})
}

func (c *EmbeddingClient) authorizeEmbed(ctx context.Context, r *resty.Request) error {
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
