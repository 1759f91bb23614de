// Package config provides application configuration management with multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.finch/config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Completion: hosted LLM endpoint, model, temperature, response storage
//   - Search: managed search service, reranker thresholds, fallback ladder tuning
//   - Critic: revision budget and acceptance threshold
//   - Planner: classifier mode and dual-retrieval confidence gate
//   - Storage: PostgreSQL connection for transcripts and the local vector mirror
//   - Observability: OTLP trace exporter
//
// Security: sensitive values (API keys, passwords) are masked in MarshalJSON
// and never logged. Validation is fail-fast with sentinel errors usable
// through errors.Is().
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingCompletionKey indicates neither a completion API key nor a
	// token endpoint is configured.
	ErrMissingCompletionKey = errors.New("missing completion credentials")

	// ErrInvalidModelName indicates the model name is empty or malformed.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidThreshold indicates a reranker or acceptance threshold is out of range.
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidMinDocs indicates the minimum document count is out of range.
	ErrInvalidMinDocs = errors.New("invalid min docs")

	// ErrInvalidCriticRetries indicates the critic revision budget is out of range.
	ErrInvalidCriticRetries = errors.New("invalid critic max retries")

	// ErrInvalidEndpoint indicates a service endpoint URL is malformed.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")
)

// Retrieval tuning bounds enforced by Validate.
const (
	// MaxTopK is the absolute maximum retrieval fan-out, preventing runaway
	// recall-maximizing stages from requesting unbounded result sets.
	MaxTopK = 200

	// MaxCriticRetries caps the critic revision budget so the loop bound stays
	// small regardless of configuration.
	MaxCriticRetries = 5
)

// CompletionConfig configures the hosted LLM endpoint.
type CompletionConfig struct {
	BaseURL     string  `mapstructure:"base_url" json:"base_url"`
	APIKey      string  `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	Model       string  `mapstructure:"model" json:"model"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// TokenURL enables managed-identity credentials when APIKey is empty:
	// bearer tokens come from a client-credentials exchange against this
	// endpoint, cached and refreshed process-wide.
	TokenURL     string `mapstructure:"token_url" json:"token_url"`
	ClientID     string `mapstructure:"client_id" json:"client_id"`
	ClientSecret string `mapstructure:"client_secret" json:"client_secret"` // SENSITIVE: masked in MarshalJSON

	// StoreResponses enables upstream response persistence. Only when this is
	// on may previous_response_id be sent on follow-up completions; the API
	// rejects it otherwise.
	StoreResponses bool `mapstructure:"store_responses" json:"store_responses"`

	// TimeoutSeconds bounds a single completion attempt.
	TimeoutSeconds int `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

// SearchConfig configures the managed search service and the fallback ladder.
type SearchConfig struct {
	Endpoint string `mapstructure:"endpoint" json:"endpoint"`
	APIKey   string `mapstructure:"api_key" json:"api_key"` // SENSITIVE: masked in MarshalJSON
	Index    string `mapstructure:"index" json:"index"`

	// Agent is the managed knowledge-agent name. Empty disables the agent path.
	Agent string `mapstructure:"agent" json:"agent"`

	// FederatedIndexes lists additional indexes for federated fan-out search.
	FederatedIndexes []string `mapstructure:"federated_indexes" json:"federated_indexes"`

	TopK    int `mapstructure:"top_k" json:"top_k"`
	MinDocs int `mapstructure:"min_docs" json:"min_docs"`

	// RerankerThreshold is the primary relevance cutoff; FallbackThreshold is
	// the relaxed cutoff used by the second ladder stage.
	RerankerThreshold float64 `mapstructure:"reranker_threshold" json:"reranker_threshold"`
	FallbackThreshold float64 `mapstructure:"fallback_threshold" json:"fallback_threshold"`

	// CoverageFloor marks a result set as thin even above the reranker
	// threshold when the backend's coverage signal falls below it.
	CoverageFloor float64 `mapstructure:"coverage_floor" json:"coverage_floor"`

	// AgentMaxTurns caps how many recent conversation turns are forwarded to
	// the knowledge agent.
	AgentMaxTurns int `mapstructure:"agent_max_turns" json:"agent_max_turns"`

	// TimeoutSeconds bounds direct search calls; AgentTimeoutSeconds is tuned
	// higher because the agent orchestrates internally.
	TimeoutSeconds      int `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	AgentTimeoutSeconds int `mapstructure:"agent_timeout_seconds" json:"agent_timeout_seconds"`
}

// PlannerConfig configures intent routing.
type PlannerConfig struct {
	// UseLLM routes classification through the completion backend with a
	// strict JSON schema; on failure the heuristic always takes over.
	UseLLM bool `mapstructure:"use_llm" json:"use_llm"`

	// DualRetrievalThreshold: plans below this confidence run knowledge-base
	// and web retrieval concurrently and merge the results.
	DualRetrievalThreshold float64 `mapstructure:"dual_retrieval_threshold" json:"dual_retrieval_threshold"`
}

// CriticConfig configures the revision loop.
type CriticConfig struct {
	MaxRetries      int     `mapstructure:"max_retries" json:"max_retries"`
	AcceptThreshold float64 `mapstructure:"accept_threshold" json:"accept_threshold"`
}

// WebSearchConfig configures the open-web search client.
type WebSearchConfig struct {
	BaseURL string `mapstructure:"base_url" json:"base_url"`
	Count   int    `mapstructure:"count" json:"count"`
}

// ObservabilityConfig configures the OTLP trace exporter.
type ObservabilityConfig struct {
	Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	Completion CompletionConfig    `mapstructure:"completion" json:"completion"`
	Search     SearchConfig        `mapstructure:"search" json:"search"`
	Planner    PlannerConfig       `mapstructure:"planner" json:"planner"`
	Critic     CriticConfig        `mapstructure:"critic" json:"critic"`
	WebSearch  WebSearchConfig     `mapstructure:"web_search" json:"web_search"`
	Otel       ObservabilityConfig `mapstructure:"otel" json:"otel"`

	// Feature defaults: the lowest tier of the three-tier feature resolution.
	Features map[string]bool `mapstructure:"features" json:"features"`

	// Context budget (rune-estimated tokens) for conversation history.
	MaxHistoryTokens int `mapstructure:"max_history_tokens" json:"max_history_tokens"`

	// Storage configuration for transcripts and the local vector mirror.
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// HTTP server address for serve mode.
	Addr string `mapstructure:"addr" json:"addr"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".finch")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults() {
	// Completion defaults
	viper.SetDefault("completion.base_url", "https://api.openai.com/v1")
	viper.SetDefault("completion.model", "gpt-4.1-mini")
	viper.SetDefault("completion.temperature", 0.3)
	viper.SetDefault("completion.max_tokens", 1024)
	viper.SetDefault("completion.store_responses", false)
	viper.SetDefault("completion.timeout_seconds", 60)

	// Search defaults
	viper.SetDefault("search.index", "finch-index")
	viper.SetDefault("search.top_k", 5)
	viper.SetDefault("search.min_docs", 3)
	viper.SetDefault("search.reranker_threshold", 2.0)
	viper.SetDefault("search.fallback_threshold", 1.0)
	viper.SetDefault("search.coverage_floor", 0.4)
	viper.SetDefault("search.agent_max_turns", 10)
	viper.SetDefault("search.timeout_seconds", 15)
	viper.SetDefault("search.agent_timeout_seconds", 60)

	// Planner defaults
	viper.SetDefault("planner.use_llm", true)
	viper.SetDefault("planner.dual_retrieval_threshold", 0.5)

	// Critic defaults
	viper.SetDefault("critic.max_retries", 2)
	viper.SetDefault("critic.accept_threshold", 0.8)

	// Web search defaults (SearXNG-style JSON API)
	viper.SetDefault("web_search.base_url", "http://localhost:8888")
	viper.SetDefault("web_search.count", 5)

	// Feature defaults (lowest resolution tier)
	viper.SetDefault("features", map[string]bool{
		"knowledge_agent": true,
		"federated":       false,
		"web_search":      true,
		"critic":          true,
		"llm_planner":     true,
	})

	// Context budget
	viper.SetDefault("max_history_tokens", 8000)

	// PostgreSQL defaults (matching docker-compose.yml)
	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "finch")
	viper.SetDefault("postgres_password", "finch_dev_password")
	viper.SetDefault("postgres_db_name", "finch")
	viper.SetDefault("postgres_ssl_mode", "disable")

	// Server defaults
	viper.SetDefault("addr", "localhost:8080")

	// Observability defaults
	viper.SetDefault("otel.endpoint", "localhost:4318")
	viper.SetDefault("otel.environment", "dev")
	viper.SetDefault("otel.service_name", "finch")
}

// bindEnvVariables binds environment variables explicitly.
// Secrets are only ever read from the environment, never from the config file
// checked into a home directory.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("completion.api_key", "FINCH_COMPLETION_API_KEY")
	mustBind("completion.base_url", "FINCH_COMPLETION_BASE_URL")
	mustBind("completion.model", "FINCH_MODEL")
	mustBind("completion.token_url", "FINCH_COMPLETION_TOKEN_URL")
	mustBind("completion.client_id", "FINCH_COMPLETION_CLIENT_ID")
	mustBind("completion.client_secret", "FINCH_COMPLETION_CLIENT_SECRET")
	mustBind("search.api_key", "FINCH_SEARCH_API_KEY")
	mustBind("search.endpoint", "FINCH_SEARCH_ENDPOINT")
	mustBind("search.agent", "FINCH_SEARCH_AGENT")
	mustBind("web_search.base_url", "FINCH_WEB_SEARCH_URL")
	mustBind("otel.endpoint", "FINCH_OTLP_ENDPOINT")
	mustBind("addr", "FINCH_ADDR")
}

// parseDatabaseURL applies DATABASE_URL on top of the individual Postgres
// fields when set. The URL form wins because it is the deployment-level knob.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported DATABASE_URL scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_URL port %q: %w", p, err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := filepath.Base(u.Path); db != "." && db != "/" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// SearchTimeout returns the direct-search attempt timeout.
func (c *Config) SearchTimeout() time.Duration {
	return time.Duration(c.Search.TimeoutSeconds) * time.Second
}

// AgentTimeout returns the knowledge-agent attempt timeout.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Search.AgentTimeoutSeconds) * time.Second
}

// CompletionTimeout returns the completion attempt timeout.
func (c *Config) CompletionTimeout() time.Duration {
	return time.Duration(c.Completion.TimeoutSeconds) * time.Second
}

// maskedValue is the placeholder for masked sensitive data.
// Full-width blocks avoid accidental substring matches against real secrets.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging.
// Short secrets are fully masked; longer ones keep two characters on each end
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.Completion.APIKey = maskSecret(a.Completion.APIKey)
	a.Completion.ClientSecret = maskSecret(a.Completion.ClientSecret)
	a.Search.APIKey = maskSecret(a.Search.APIKey)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
