package config

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func validConfig() *Config {
	return &Config{
		Completion: CompletionConfig{
			BaseURL:     "https://api.openai.com/v1",
			APIKey:      "sk-test-key",
			Model:       "gpt-4.1-mini",
			Temperature: 0.3,
		},
		Search: SearchConfig{
			Endpoint:          "https://search.example.com",
			TopK:              5,
			MinDocs:           3,
			RerankerThreshold: 2.0,
			FallbackThreshold: 1.0,
			CoverageFloor:     0.4,
		},
		Planner:      PlannerConfig{DualRetrievalThreshold: 0.5},
		Critic:       CriticConfig{MaxRetries: 2, AcceptThreshold: 0.8},
		PostgresPort: 5432,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"valid", func(*Config) {}, nil},
		{"empty model", func(c *Config) { c.Completion.Model = "  " }, ErrInvalidModelName},
		{"temperature too high", func(c *Config) { c.Completion.Temperature = 2.5 }, ErrInvalidTemperature},
		{"negative temperature", func(c *Config) { c.Completion.Temperature = -0.1 }, ErrInvalidTemperature},
		{"missing completion URL", func(c *Config) { c.Completion.BaseURL = "" }, ErrInvalidEndpoint},
		{"non-http completion URL", func(c *Config) { c.Completion.BaseURL = "ftp://api" }, ErrInvalidEndpoint},
		{"no completion credentials", func(c *Config) { c.Completion.APIKey = "" }, ErrMissingCompletionKey},
		{
			"token URL instead of API key",
			func(c *Config) {
				c.Completion.APIKey = ""
				c.Completion.TokenURL = "https://login.example.com/oauth2/token"
			},
			nil,
		},
		{"malformed token URL", func(c *Config) { c.Completion.TokenURL = "://nope" }, ErrInvalidEndpoint},
		{"malformed search endpoint", func(c *Config) { c.Search.Endpoint = "://nope" }, ErrInvalidEndpoint},
		{"zero top_k", func(c *Config) { c.Search.TopK = 0 }, ErrInvalidTopK},
		{"top_k over cap", func(c *Config) { c.Search.TopK = MaxTopK + 1 }, ErrInvalidTopK},
		{"min_docs over top_k", func(c *Config) { c.Search.MinDocs = 6 }, ErrInvalidMinDocs},
		{"zero min_docs", func(c *Config) { c.Search.MinDocs = 0 }, ErrInvalidMinDocs},
		{"negative reranker threshold", func(c *Config) { c.Search.RerankerThreshold = -1 }, ErrInvalidThreshold},
		{
			"fallback above primary threshold",
			func(c *Config) { c.Search.FallbackThreshold = 3.0 },
			ErrInvalidThreshold,
		},
		{"coverage floor over 1", func(c *Config) { c.Search.CoverageFloor = 1.5 }, ErrInvalidThreshold},
		{"dual retrieval threshold over 1", func(c *Config) { c.Planner.DualRetrievalThreshold = 1.1 }, ErrInvalidThreshold},
		{"negative critic retries", func(c *Config) { c.Critic.MaxRetries = -1 }, ErrInvalidCriticRetries},
		{"critic retries over cap", func(c *Config) { c.Critic.MaxRetries = MaxCriticRetries + 1 }, ErrInvalidCriticRetries},
		{"critic threshold over 1", func(c *Config) { c.Critic.AcceptThreshold = 1.2 }, ErrInvalidThreshold},
		{"postgres port out of range", func(c *Config) { c.PostgresPort = 70000 }, ErrInvalidPostgresPort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNil(t *testing.T) {
	var cfg *Config
	if err := cfg.Validate(); !errors.Is(err, ErrConfigNil) {
		t.Errorf("Validate() error = %v, want ErrConfigNil", err)
	}
}

func TestValidateOptionalSearchEndpoint(t *testing.T) {
	cfg := validConfig()
	cfg.Search.Endpoint = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want an empty search endpoint allowed", err)
	}
}

func TestMarshalJSONMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Completion.APIKey = "sk-very-secret-completion-key"
	cfg.Search.APIKey = "short"
	cfg.PostgresPassword = "finch_dev_password"

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	out := string(data)

	for _, secret := range []string{"very-secret-completion", "finch_dev_password"} {
		if strings.Contains(out, secret) {
			t.Errorf("marshalled config leaks %q", secret)
		}
	}
	// Short secrets are fully masked, no edge characters kept.
	if strings.Contains(out, "short") {
		t.Error("marshalled config leaks the short API key")
	}
	if !strings.Contains(out, maskedValue) {
		t.Error("marshalled config has no masking placeholder")
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Completion.APIKey = "sk-very-secret-completion-key"
	if s := cfg.String(); strings.Contains(s, "very-secret") {
		t.Error("String() leaks the completion API key")
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in       string
		wantFull bool // fully masked, no plaintext characters
	}{
		{"", true},
		{"tiny", true},
		{"exactly8", true},
		{"sk-live-abcdef123456", false},
	}
	for _, tt := range tests {
		got := maskSecret(tt.in)
		if tt.in == "" {
			if got != "" {
				t.Errorf("maskSecret(%q) = %q, want empty", tt.in, got)
			}
			continue
		}
		if got == tt.in {
			t.Errorf("maskSecret(%q) returned the input unchanged", tt.in)
		}
		if tt.wantFull && got != maskedValue {
			t.Errorf("maskSecret(%q) = %q, want the full mask", tt.in, got)
		}
		if !tt.wantFull && (!strings.HasPrefix(got, tt.in[:2]) || !strings.HasSuffix(got, tt.in[len(tt.in)-2:])) {
			t.Errorf("maskSecret(%q) = %q, want two plaintext characters on each end", tt.in, got)
		}
	}
}
