package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the configuration for out-of-range or inconsistent values.
// It is called by Load immediately after unmarshalling (fail-fast) and may be
// called again on programmatically constructed configs.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.Completion.Model) == "" {
		return fmt.Errorf("%w: model must not be empty", ErrInvalidModelName)
	}
	if c.Completion.Temperature < 0 || c.Completion.Temperature > 2 {
		return fmt.Errorf("%w: %.2f not in [0, 2]", ErrInvalidTemperature, c.Completion.Temperature)
	}
	if err := validateEndpoint("completion.base_url", c.Completion.BaseURL, true); err != nil {
		return err
	}
	if c.Completion.APIKey == "" && c.Completion.TokenURL == "" {
		return fmt.Errorf("%w: set completion.api_key or completion.token_url", ErrMissingCompletionKey)
	}
	if err := validateEndpoint("completion.token_url", c.Completion.TokenURL, false); err != nil {
		return err
	}

	if err := validateEndpoint("search.endpoint", c.Search.Endpoint, false); err != nil {
		return err
	}
	if c.Search.TopK <= 0 || c.Search.TopK > MaxTopK {
		return fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidTopK, c.Search.TopK, MaxTopK)
	}
	if c.Search.MinDocs <= 0 || c.Search.MinDocs > c.Search.TopK {
		return fmt.Errorf("%w: %d not in [1, top_k=%d]", ErrInvalidMinDocs, c.Search.MinDocs, c.Search.TopK)
	}
	if c.Search.RerankerThreshold < 0 || c.Search.FallbackThreshold < 0 {
		return fmt.Errorf("%w: reranker thresholds must be non-negative", ErrInvalidThreshold)
	}
	if c.Search.FallbackThreshold > c.Search.RerankerThreshold {
		return fmt.Errorf("%w: fallback_threshold %.2f exceeds reranker_threshold %.2f",
			ErrInvalidThreshold, c.Search.FallbackThreshold, c.Search.RerankerThreshold)
	}
	if c.Search.CoverageFloor < 0 || c.Search.CoverageFloor > 1 {
		return fmt.Errorf("%w: coverage_floor %.2f not in [0, 1]", ErrInvalidThreshold, c.Search.CoverageFloor)
	}

	if c.Planner.DualRetrievalThreshold < 0 || c.Planner.DualRetrievalThreshold > 1 {
		return fmt.Errorf("%w: dual_retrieval_threshold %.2f not in [0, 1]",
			ErrInvalidThreshold, c.Planner.DualRetrievalThreshold)
	}

	if c.Critic.MaxRetries < 0 || c.Critic.MaxRetries > MaxCriticRetries {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrInvalidCriticRetries, c.Critic.MaxRetries, MaxCriticRetries)
	}
	if c.Critic.AcceptThreshold < 0 || c.Critic.AcceptThreshold > 1 {
		return fmt.Errorf("%w: accept_threshold %.2f not in [0, 1]", ErrInvalidThreshold, c.Critic.AcceptThreshold)
	}

	if c.PostgresPort <= 0 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}

	return nil
}

// validateEndpoint checks that an endpoint is an absolute http(s) URL.
// Optional endpoints (empty string) pass when required is false.
func validateEndpoint(field, raw string, required bool) error {
	if raw == "" {
		if required {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidEndpoint, field)
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s %q", ErrInvalidEndpoint, field, raw)
	}
	return nil
}
