package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/finchlabs/finch/internal/log"
)

// ClientCredentialsConfig configures the token exchange against an OAuth2
// client-credentials endpoint.
type ClientCredentialsConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string

	// Scope is forwarded verbatim when non-empty.
	Scope string
}

// tokenResponse is the wire shape of a token endpoint reply.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
}

// ClientCredentials returns a RefreshFunc performing the client-credentials
// exchange. Pair it with a TokenCache so concurrent callers coalesce onto one
// exchange instead of hammering the identity provider.
func ClientCredentials(cfg ClientCredentialsConfig, logger log.Logger) (RefreshFunc, error) {
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client credentials are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	http := resty.New().SetRetryCount(0)

	return func(ctx context.Context) (Token, error) {
		form := map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     cfg.ClientID,
			"client_secret": cfg.ClientSecret,
		}
		if cfg.Scope != "" {
			form["scope"] = cfg.Scope
		}

		var parsed tokenResponse
		resp, err := http.R().
			SetContext(ctx).
			SetFormData(form).
			SetResult(&parsed).
			SetError(&parsed).
			Post(cfg.TokenURL)
		if err != nil {
			return Token{}, fmt.Errorf("token endpoint request: %w", err)
		}
		if resp.IsError() {
			msg := resp.Status()
			if parsed.Error != "" {
				msg = parsed.Error
			}
			return Token{}, fmt.Errorf("token endpoint status %d: %s", resp.StatusCode(), msg)
		}
		if parsed.AccessToken == "" {
			return Token{}, fmt.Errorf("token endpoint returned an empty access token")
		}

		expiresAt := time.Now().Add(time.Duration(parsed.ExpiresIn) * time.Second)
		logger.Debug("exchanged client credentials", "expires_in_seconds", parsed.ExpiresIn)
		return Token{Value: parsed.AccessToken, ExpiresAt: expiresAt}, nil
	}, nil
}
